package sim

import (
	"math"

	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

var baseMetrics = map[domain.Difficulty]domain.Metrics{
	domain.Easy: {
		TeamSentiment: 70, CEOSentiment: 60, SalesSentiment: 60, CTOSentiment: 60,
		SelfServeGrowth: 50, EnterpriseGrowth: 50, TechDebt: 25, NPS: 60, Velocity: 20,
	},
	domain.Normal: {
		TeamSentiment: 60, CEOSentiment: 50, SalesSentiment: 50, CTOSentiment: 50,
		SelfServeGrowth: 40, EnterpriseGrowth: 40, TechDebt: 35, NPS: 55, Velocity: 20,
	},
	domain.Hard: {
		TeamSentiment: 55, CEOSentiment: 45, SalesSentiment: 45, CTOSentiment: 48,
		SelfServeGrowth: 32, EnterpriseGrowth: 32, TechDebt: 45, NPS: 48, Velocity: 20,
	},
}

var metricTargets = map[domain.Difficulty]domain.MetricTargets{
	domain.Easy: {
		TeamSentiment: 65, CEOSentiment: 65, SalesSentiment: 60, CTOSentiment: 60,
		SelfServeGrowth: 60, EnterpriseGrowth: 60, TechDebt: 35, NPS: 60,
	},
	domain.Normal: {
		TeamSentiment: 60, CEOSentiment: 60, SalesSentiment: 55, CTOSentiment: 55,
		SelfServeGrowth: 55, EnterpriseGrowth: 55, TechDebt: 40, NPS: 55,
	},
	domain.Hard: {
		TeamSentiment: 55, CEOSentiment: 55, SalesSentiment: 50, CTOSentiment: 50,
		SelfServeGrowth: 50, EnterpriseGrowth: 50, TechDebt: 45, NPS: 50,
	},
}

var stretchTargets = map[domain.Difficulty]domain.MetricTargets{
	domain.Easy: {
		TeamSentiment: 75, CEOSentiment: 75, SalesSentiment: 75, CTOSentiment: 75,
		SelfServeGrowth: 70, EnterpriseGrowth: 70, TechDebt: 25, NPS: 70,
	},
	domain.Normal: {
		TeamSentiment: 70, CEOSentiment: 70, SalesSentiment: 70, CTOSentiment: 70,
		SelfServeGrowth: 65, EnterpriseGrowth: 65, TechDebt: 30, NPS: 65,
	},
	domain.Hard: {
		TeamSentiment: 65, CEOSentiment: 65, SalesSentiment: 65, CTOSentiment: 65,
		SelfServeGrowth: 60, EnterpriseGrowth: 60, TechDebt: 35, NPS: 60,
	},
}

const (
	startVariance     = 0.25
	startTolerance    = 0.25
	maxStartAttempts  = 100
	startingVelocity  = 20
	startingQuarter   = 1
	startingSprintNum = 1
)

// BaseMetrics returns the unrandomized starting vector for d.
func BaseMetrics(d domain.Difficulty) domain.Metrics {
	if m, ok := baseMetrics[d]; ok {
		return m
	}
	return baseMetrics[domain.Normal]
}

// Targets returns the goal and stretch targets for d.
func Targets(d domain.Difficulty) (domain.MetricTargets, domain.MetricTargets) {
	if _, ok := metricTargets[d]; !ok {
		d = domain.Normal
	}
	return metricTargets[d], stretchTargets[d]
}

// balanceScore sums the gauges with tech debt inverted.
func balanceScore(m domain.Metrics) int {
	return m.TeamSentiment + m.CEOSentiment + m.SalesSentiment + m.CTOSentiment +
		m.SelfServeGrowth + m.EnterpriseGrowth + (100 - m.TechDebt) + m.NPS + m.Velocity
}

// InitialMetrics jitters each bounded gauge of the base vector by ±25%,
// retrying until the total stays within 25% of the base balance.
func InitialMetrics(d domain.Difficulty, r *rng.Rand) domain.Metrics {
	base := BaseMetrics(d)
	target := balanceScore(base)
	tolerance := float64(target) * startTolerance

	jitter := func(v int) int {
		lo := int(math.Floor(float64(v) * (1 - startVariance)))
		hi := int(math.Ceil(float64(v) * (1 + startVariance)))
		return r.Int(lo, hi)
	}

	var out domain.Metrics
	for attempt := 0; attempt < maxStartAttempts; attempt++ {
		out = domain.Metrics{
			TeamSentiment:    jitter(base.TeamSentiment),
			CEOSentiment:     jitter(base.CEOSentiment),
			SalesSentiment:   jitter(base.SalesSentiment),
			CTOSentiment:     jitter(base.CTOSentiment),
			SelfServeGrowth:  jitter(base.SelfServeGrowth),
			EnterpriseGrowth: jitter(base.EnterpriseGrowth),
			TechDebt:         jitter(base.TechDebt),
			NPS:              jitter(base.NPS),
			Velocity:         startingVelocity,
		}
		if math.Abs(float64(balanceScore(out)-target)) <= tolerance {
			break
		}
	}
	return out.Clamped()
}

// NewGameOptions configures NewGame.
type NewGameOptions struct {
	ID             string
	PlayerID       string
	Difficulty     domain.Difficulty
	Seed           int32
	RandomizeStart bool
	Now            string
}

// NewGame builds a fresh game and its first sprint. The seed drives every
// draw, starting metrics included.
func NewGame(opts NewGameOptions, cat Catalog) (domain.Game, domain.Sprint) {
	d := opts.Difficulty
	if d == "" {
		d = domain.Normal
	}
	r := rng.New(opts.Seed)

	metrics := BaseMetrics(d)
	if opts.RandomizeStart {
		metrics = InitialMetrics(d, &r)
	}
	targets, stretch := Targets(d)

	g := domain.Game{
		ID:              opts.ID,
		PlayerID:        opts.PlayerID,
		Difficulty:      d,
		Quarter:         startingQuarter,
		Sprint:          startingSprintNum,
		Status:          domain.GameInProgress,
		Metrics:         metrics,
		Targets:         targets,
		StretchTargets:  stretch,
		Seed:            opts.Seed,
		Log:             []domain.LogEntry{},
		QuarterlyScores: []int{},
		CreatedAt:       opts.Now,
		UpdatedAt:       opts.Now,
	}
	g.CeoFocus = SelectCeoFocus(g.Metrics, &r)

	sprint, _ := buildSprint(&g, cat, &r, startingQuarter, startingSprintNum)
	sprint.CreatedAt = opts.Now
	g.RNGState = r.State()
	return g, sprint
}
