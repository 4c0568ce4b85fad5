package sim

import (
	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

// BacklogSize is the number of tickets offered in a sprint. Later quarters
// offer a wider choice.
func BacklogSize(quarter, sprint int) int {
	switch {
	case quarter <= 1:
		return 8
	case quarter == 2:
		return 9
	default:
		return 10
	}
}

type categoryWeight struct {
	category domain.Category
	weight   int
}

// GenerateBacklog draws up to count unique tickets, biased toward categories
// whose metrics need attention and balanced across effort bands.
func GenerateBacklog(templates []domain.TicketTemplate, m domain.Metrics, r *rng.Rand, count int) []domain.TicketInstance {
	byCategory := make(map[domain.Category][]domain.TicketTemplate)
	var categories []domain.Category
	for _, t := range templates {
		if _, ok := byCategory[t.Category]; !ok {
			categories = append(categories, t.Category)
		}
		byCategory[t.Category] = append(byCategory[t.Category], t)
	}
	if len(categories) == 0 {
		return nil
	}

	weights := make([]categoryWeight, 0, len(categories))
	for _, c := range categories {
		weights = append(weights, categoryWeight{category: c, weight: 1})
	}
	bump := func(c domain.Category, n int) {
		for i := range weights {
			if weights[i].category == c {
				weights[i].weight += n
				return
			}
		}
		weights = append(weights, categoryWeight{category: c, weight: n})
	}
	if m.SalesSentiment < 45 {
		bump(domain.SalesRequest, 2)
	}
	if m.TechDebt > 55 {
		bump(domain.TechDebtReduction, 2)
	}
	if m.EnterpriseGrowth < 45 {
		bump(domain.EnterpriseFeature, 2)
	}
	if m.SelfServeGrowth < 45 {
		bump(domain.SelfServeFeature, 2)
	}
	if m.NPS < 45 {
		bump(domain.UXImprovement, 1)
	}

	pickCategory := func() domain.Category {
		total := 0
		for _, w := range weights {
			total += w.weight
		}
		roll := r.Next() * float64(total)
		for _, w := range weights {
			roll -= float64(w.weight)
			if roll <= 0 {
				return w.category
			}
		}
		return categories[0]
	}

	var selected []domain.TicketTemplate
	used := make(map[string]bool)
	take := func(t domain.TicketTemplate) {
		used[t.ID] = true
		selected = append(selected, t)
	}

	// A category absent from the catalog falls back to the whole catalog.
	pickUnique := func(c domain.Category) (domain.TicketTemplate, bool) {
		pool, ok := byCategory[c]
		if !ok {
			pool = templates
		}
		candidate, ok := rng.Pick(r, pool)
		if !ok {
			return domain.TicketTemplate{}, false
		}
		for guard := 0; used[candidate.ID] && guard < 5; guard++ {
			candidate, _ = rng.Pick(r, pool)
		}
		if used[candidate.ID] {
			for _, t := range pool {
				if !used[t.ID] {
					return t, true
				}
			}
			return domain.TicketTemplate{}, false
		}
		return candidate, true
	}

	var guaranteed []domain.Category
	if m.SelfServeGrowth < 45 {
		guaranteed = append(guaranteed, domain.SelfServeFeature)
	}
	if m.EnterpriseGrowth < 45 {
		guaranteed = append(guaranteed, domain.EnterpriseFeature)
	}
	if m.TechDebt > 55 {
		guaranteed = append(guaranteed, domain.TechDebtReduction)
	}
	if m.SalesSentiment < 40 {
		guaranteed = append(guaranteed, domain.SalesRequest)
	}
	if m.NPS < 45 {
		guaranteed = append(guaranteed, domain.UXImprovement)
	}
	for _, c := range guaranteed {
		if len(selected) >= count {
			break
		}
		if t, ok := pickUnique(c); ok {
			take(t)
		}
	}

	pickBySize := func(band domain.SizeBand) (domain.TicketTemplate, bool) {
		var pool []domain.TicketTemplate
		for _, t := range templates {
			if !used[t.ID] && t.Size() == band {
				pool = append(pool, t)
			}
		}
		return rng.Pick(r, pool)
	}

	small := r.Int(1, 2)
	medium := r.Int(2, 3)
	large := r.Int(1, 2)
	targets := []struct {
		band   domain.SizeBand
		target int
	}{
		{domain.SizeSmall, small},
		{domain.SizeMedium, medium},
		{domain.SizeLarge, large},
	}
	counts := make(map[domain.SizeBand]int)
	for _, t := range selected {
		counts[t.Size()]++
	}
	for _, tg := range targets {
		for counts[tg.band] < tg.target && len(selected) < count {
			t, ok := pickBySize(tg.band)
			if !ok {
				break
			}
			take(t)
			counts[tg.band]++
		}
	}

	for len(selected) < count {
		t, ok := pickUnique(pickCategory())
		if !ok {
			break
		}
		take(t)
	}

	out := make([]domain.TicketInstance, 0, len(selected))
	for _, t := range selected {
		out = append(out, domain.TicketInstance{TicketTemplate: t})
	}
	return out
}
