package sim

import (
	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

// SelectCeoFocus rolls the quarter's alignment target, favoring whichever
// area is in a needs-attention band.
func SelectCeoFocus(m domain.Metrics, r *rng.Rand) domain.CeoFocus {
	weights := map[domain.CeoFocus]int{
		domain.FocusSelfServe:  35,
		domain.FocusEnterprise: 35,
		domain.FocusTechDebt:   30,
	}
	if m.SelfServeGrowth < 35 {
		weights[domain.FocusSelfServe] += 20
	}
	if m.EnterpriseGrowth < 35 {
		weights[domain.FocusEnterprise] += 20
	}
	if m.TechDebt > 65 {
		weights[domain.FocusTechDebt] += 20
	}
	total := 0
	for _, f := range domain.Focuses {
		total += weights[f]
	}
	roll := r.Next() * float64(total)
	for _, f := range domain.Focuses {
		roll -= float64(weights[f])
		if roll <= 0 {
			return f
		}
	}
	return domain.FocusSelfServe
}

// FocusCategory is the primary ticket category of a focus.
func FocusCategory(f domain.CeoFocus) domain.Category {
	switch f {
	case domain.FocusEnterprise:
		return domain.EnterpriseFeature
	case domain.FocusTechDebt:
		return domain.TechDebtReduction
	default:
		return domain.SelfServeFeature
	}
}

// IsCeoAligned reports whether work in category c serves focus f.
func IsCeoAligned(f domain.CeoFocus, c domain.Category) bool {
	switch {
	case f == domain.FocusEnterprise && c == domain.SalesRequest:
		return true
	case f == domain.FocusTechDebt && c == domain.Infrastructure:
		return true
	}
	return c == FocusCategory(f)
}

// ShouldShiftFocus is the per-sprint chance that focus drifts mid-quarter.
func ShouldShiftFocus(r *rng.Rand, d domain.Difficulty) bool {
	chance := 0.1
	switch d {
	case domain.Easy:
		chance = 0.05
	case domain.Hard:
		chance = 0.15
	}
	return r.Next() < chance
}

func markAligned(backlog []domain.TicketInstance, f domain.CeoFocus) {
	for i := range backlog {
		backlog[i].CeoAligned = IsCeoAligned(f, backlog[i].Category)
	}
}
