package sim

import (
	"math"

	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

var stakeholderByCategory = map[domain.Category]domain.MetricKey{
	domain.SelfServeFeature:  domain.CEOSentiment,
	domain.EnterpriseFeature: domain.SalesSentiment,
	domain.TechDebtReduction: domain.CTOSentiment,
	domain.UXImprovement:     domain.TeamSentiment,
	domain.Infrastructure:    domain.CTOSentiment,
	domain.Monetization:      domain.CEOSentiment,
	domain.SalesRequest:      domain.SalesSentiment,
	domain.Moonshot:          domain.CEOSentiment,
}

var catastropheSpillover = []domain.MetricKey{
	domain.SalesSentiment,
	domain.CTOSentiment,
	domain.SelfServeGrowth,
	domain.EnterpriseGrowth,
	domain.NPS,
}

// Stakeholder returns the sentiment metric that reacts to a category's work.
func Stakeholder(c domain.Category) domain.MetricKey {
	if k, ok := stakeholderByCategory[c]; ok {
		return k
	}
	return domain.CEOSentiment
}

// ApplyOutcome converts a resolved outcome into metric mutations. It returns
// the updated metrics and the requested (pre-clamp) delta per metric.
func ApplyOutcome(r *rng.Rand, m domain.Metrics, t domain.TicketTemplate, o domain.Outcome) (domain.Metrics, map[domain.MetricKey]int) {
	updated := m
	deltas := make(map[domain.MetricKey]int)
	apply := func(k domain.MetricKey, delta int) {
		if delta == 0 || k == "" {
			return
		}
		updated.Add(k, delta)
		deltas[k] += delta
	}

	impactScale := clampFloat(1+(r.Next()*0.6-0.3), 0.7, 1.5)
	wildScale := impactScale + 0.1
	failureScale := impactScale + 0.2
	scaled := func(delta int, scale float64) int { return round(float64(delta) * scale) }
	stakeholder := Stakeholder(t.Category)

	switch o {
	case domain.ClearSuccess, domain.PartialSuccess:
		apply(t.PrimaryMetric, scaled(drawRange(r, t.PrimaryImpact.For(o)), impactScale))
		if t.SecondaryMetric != "" {
			apply(t.SecondaryMetric, scaled(drawRange(r, t.SecondaryImpact.For(o)), impactScale))
		}
		if t.TradeoffMetric != "" {
			tradeoff := drawRange(r, t.TradeoffImpact.For(o))
			apply(t.TradeoffMetric, round(float64(tradeoff)*(1+float64(t.Effort)/10)*impactScale))
		}
		var bonus int
		if o == domain.ClearSuccess {
			bonus = r.Int(4, 8)
		} else {
			bonus = r.Int(2, 4)
		}
		apply(stakeholder, scaled(bonus, math.Max(1, impactScale-0.05)))

	case domain.UnexpectedImpact:
		apply(t.PrimaryMetric, scaled(r.Int(-4, 6), wildScale))
		others := make([]domain.MetricKey, 0, len(domain.BoundedKeys))
		for _, k := range domain.BoundedKeys {
			if k != t.PrimaryMetric {
				others = append(others, k)
			}
		}
		other, _ := rng.Pick(r, others)
		var swing int
		if r.Next() < 0.5 {
			swing = r.Int(6, 14)
		} else {
			swing = r.Int(-14, -6)
		}
		apply(other, scaled(swing, wildScale))
		if t.TradeoffMetric != "" {
			apply(t.TradeoffMetric, scaled(r.Int(-5, -2), wildScale))
		}

	case domain.SoftFailure:
		apply(t.PrimaryMetric, scaled(r.Int(-6, -2), failureScale))
		apply(domain.TeamSentiment, scaled(r.Int(-9, -5), failureScale))
		apply(domain.TechDebt, scaled(r.Int(2, 5), failureScale))
		if stakeholder != domain.TeamSentiment {
			apply(stakeholder, scaled(r.Int(-4, -2), failureScale))
		}

	case domain.Catastrophe:
		apply(t.PrimaryMetric, scaled(r.Int(-18, -10), failureScale))
		apply(domain.TeamSentiment, scaled(r.Int(-16, -8), failureScale))
		apply(domain.CEOSentiment, scaled(r.Int(-12, -6), failureScale))
		apply(domain.TechDebt, scaled(r.Int(5, 10), failureScale))
		other, _ := rng.Pick(r, catastropheSpillover)
		apply(other, scaled(r.Int(-10, -5), failureScale))
		if stakeholder != domain.TeamSentiment && stakeholder != domain.CEOSentiment {
			apply(stakeholder, scaled(r.Int(-8, -4), failureScale))
		}
	}
	return updated, deltas
}

// drawRange consumes a draw only when the range has width.
func drawRange(r *rng.Rand, rg *domain.Range) int {
	if rg == nil {
		return 0
	}
	if rg[0] == rg[1] {
		return rg[0]
	}
	return r.Int(rg[0], rg[1])
}
