package sim

import (
	"math"

	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

const (
	minOutcomeWeight  = 2
	maxFailureSurplus = 6
)

var baseWeights = OutcomeWeights{
	domain.ClearSuccess:     22,
	domain.PartialSuccess:   50,
	domain.UnexpectedImpact: 9,
	domain.SoftFailure:      15,
	domain.Catastrophe:      4,
}

// OutcomeContext carries the signals that bias a ticket's resolution.
type OutcomeContext struct {
	TechDebt          int
	TeamSentiment     int
	OverbookFraction  float64
	UnderbookFraction float64
	Moonshot          bool
	CeoAligned        bool
	Difficulty        domain.Difficulty
}

// OutcomeWeights maps each outcome to its roulette weight.
type OutcomeWeights map[domain.Outcome]float64

// Total sums the weights.
func (w OutcomeWeights) Total() float64 {
	total := 0.0
	for _, o := range domain.Outcomes {
		total += w[o]
	}
	return total
}

func (w OutcomeWeights) shift(clear, partial, unexpected, soft, cat float64) {
	w[domain.ClearSuccess] += clear
	w[domain.PartialSuccess] += partial
	w[domain.UnexpectedImpact] += unexpected
	w[domain.SoftFailure] += soft
	w[domain.Catastrophe] += cat
}

// Weights computes the final outcome weights for ctx. Every weight is at
// least 2 and soft failure plus catastrophe never exceed their base weights
// by more than 6 combined.
func Weights(ctx OutcomeContext) OutcomeWeights {
	w := OutcomeWeights{}
	for o, v := range baseWeights {
		w[o] = v
	}
	if ctx.CeoAligned {
		w.shift(10, 6, 0, -8, -2)
	}
	switch {
	case ctx.TechDebt > 80:
		w.shift(0, 0, 0, 4, 3)
	case ctx.TechDebt > 65:
		w.shift(0, 0, 0, 3, 2)
	}
	switch {
	case ctx.TeamSentiment < 30:
		w.shift(0, 0, 0, 3, 1)
	case ctx.TeamSentiment > 75:
		w.shift(5, 3, 0, -5, -3)
	}
	if f := clampFloat(ctx.OverbookFraction, 0, 1); f > 0 {
		w.shift(-4*f, -2*f, 0, 5*f, 2*f)
	}
	if u := clampFloat(ctx.UnderbookFraction, 0, 0.5); u > 0 {
		w.shift(6*u, 3*u, 0, -4*u, -2*u)
	}
	if ctx.Moonshot {
		w.shift(-8, 3, 0, 3, 2)
	}
	switch ctx.Difficulty {
	case domain.Easy:
		w.shift(5, 3, 0, -5, -3)
	case domain.Hard:
		w.shift(-5, 0, 0, 3, 2)
	}

	baseSoft, baseCat := baseWeights[domain.SoftFailure], baseWeights[domain.Catastrophe]
	softDelta := w[domain.SoftFailure] - baseSoft
	catDelta := w[domain.Catastrophe] - baseCat
	softPos, catPos := math.Max(0, softDelta), math.Max(0, catDelta)
	if surplus := softPos + catPos; surplus > maxFailureSurplus {
		scale := maxFailureSurplus / surplus
		w[domain.SoftFailure] = baseSoft + math.Min(0, softDelta) + softPos*scale
		w[domain.Catastrophe] = baseCat + math.Min(0, catDelta) + catPos*scale
	}

	for _, o := range domain.Outcomes {
		w[o] = math.Max(minOutcomeWeight, w[o])
	}
	return w
}

// RollOutcome draws one outcome with a single generator step.
func RollOutcome(r *rng.Rand, ctx OutcomeContext) domain.Outcome {
	w := Weights(ctx)
	roll := r.Next() * w.Total()
	acc := 0.0
	for _, o := range domain.Outcomes {
		acc += w[o]
		if roll <= acc {
			return o
		}
	}
	return domain.PartialSuccess
}

// BookingFractions measures how far a commitment sits above capacity, toward
// the stretch ceiling, or below it.
func BookingFractions(effort, capacity, stretch int) (over, under float64) {
	switch {
	case effort > capacity:
		if stretch <= capacity {
			return 1, 0
		}
		return clampFloat(float64(effort-capacity)/float64(stretch-capacity), 0, 1), 0
	case effort < capacity && capacity > 0:
		return 0, clampFloat(float64(capacity-effort)/float64(capacity), 0, 0.5)
	}
	return 0, 0
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round matches half-up rounding toward positive infinity.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
