package sim

import (
	"fmt"
	"math"
	"strings"

	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

// DeriveProductPulse reads churn, support load and customer sentiment off the
// metrics and the quarter's signals.
func DeriveProductPulse(m domain.Metrics, hasCatastrophe, uxSuccess bool) domain.ProductPulse {
	churn := domain.PulseMixed
	switch {
	case m.NPS > 60 && (m.SelfServeGrowth > 50 || m.EnterpriseGrowth > 50):
		churn = domain.PulsePositive
	case m.NPS < 35 || (m.SelfServeGrowth < 30 && m.EnterpriseGrowth < 30):
		churn = domain.PulseConcerning
	}
	support := domain.PulseMixed
	switch {
	case m.TechDebt < 40 && !hasCatastrophe:
		support = domain.PulsePositive
	case m.TechDebt > 65 || hasCatastrophe:
		support = domain.PulseConcerning
	}
	sentiment := domain.PulseMixed
	switch {
	case m.NPS > 60 && uxSuccess:
		sentiment = domain.PulsePositive
	case m.NPS < 35:
		sentiment = domain.PulseConcerning
	}
	return domain.ProductPulse{
		Churn:             churn,
		SupportLoad:       support,
		CustomerSentiment: sentiment,
		Narrative:         fmt.Sprintf("Churn looks %s. Support load is %s. Customer sentiment feels %s.", churn, support, sentiment),
	}
}

// QuarterlyReview scores a finished quarter.
func QuarterlyReview(quarter int, m domain.Metrics, pulse domain.ProductPulse, stats domain.QuarterStats) domain.QuarterlyReview {
	ceo := 6
	switch {
	case m.CEOSentiment > 70:
		ceo = 38
	case m.CEOSentiment >= 50:
		ceo = 27
	case m.CEOSentiment >= 30:
		ceo = 14
	}

	growth := 8
	switch {
	case m.SelfServeGrowth > 55 && m.EnterpriseGrowth > 55:
		growth = 18
	case m.SelfServeGrowth > 55 || m.EnterpriseGrowth > 55:
		growth = 13
	case m.SelfServeGrowth < 35 || m.EnterpriseGrowth < 35:
		growth = 3
	}

	stability := 5
	switch stats.Catastrophes {
	case 0:
		stability = 18
	case 1:
		stability = 12
	}

	pulseScore := 10
	switch {
	case pulse.Churn == domain.PulsePositive && pulse.SupportLoad == domain.PulsePositive && pulse.CustomerSentiment == domain.PulsePositive:
		pulseScore = 19
	case pulse.Churn == domain.PulseConcerning || pulse.SupportLoad == domain.PulseConcerning || pulse.CustomerSentiment == domain.PulseConcerning:
		pulseScore = 5
	}

	ratio := stats.AlignmentRatio()
	alignment := 0
	switch {
	case ratio >= 0.6:
		alignment = 5
	case ratio >= 0.45:
		alignment = 3
	case ratio >= 0.3:
		alignment = 1
	}

	morale := 0
	if stats.LowTeamSprints >= 2 {
		morale = -5
	}

	debt := 0
	switch {
	case m.TechDebt < 30:
		debt = 5
	case m.TechDebt > 75:
		debt = -8
	case m.TechDebt > 65:
		debt = -5
	case m.TechDebt > 50:
		debt = -2
	}

	team := 0
	switch {
	case m.TeamSentiment > 70:
		team = 5
	case m.TeamSentiment > 60:
		team = 3
	case m.TeamSentiment < 35:
		team = -5
	case m.TeamSentiment < 45:
		team = -3
	}

	cto := stakeholderBonus(m.CTOSentiment)
	sales := stakeholderBonus(m.SalesSentiment)

	unhappy := 0
	for _, v := range []int{m.TeamSentiment, m.CEOSentiment, m.SalesSentiment, m.CTOSentiment} {
		if v < 40 {
			unhappy++
		}
	}
	crisis := 0
	switch {
	case unhappy >= 3:
		crisis = -15
	case unhappy >= 2:
		crisis = -10
	}

	raw := clampInt(ceo+growth+stability+pulseScore+alignment+morale+debt+team+cto+sales+crisis, 0, 100)

	rating := domain.RatingBelowExpectations
	switch {
	case raw >= 80:
		rating = domain.RatingStrong
	case raw >= 65:
		rating = domain.RatingSolid
	case raw >= 45:
		rating = domain.RatingMixed
	}
	switch {
	case unhappy >= 2:
		rating = domain.RatingBelowExpectations
	case m.TechDebt > 75 && m.TeamSentiment < 40:
		if rating == domain.RatingStrong || rating == domain.RatingSolid {
			rating = domain.RatingMixed
		}
	}

	verdict := "inconsistent"
	if raw >= 60 {
		verdict = "adequate"
	}
	return domain.QuarterlyReview{
		Quarter:   quarter,
		RawScore:  raw,
		Rating:    rating,
		Narrative: fmt.Sprintf("Quarter %d review: %s. Alignment and growth were %s.", quarter, strings.ReplaceAll(string(rating), "_", " "), verdict),
		Factors: map[string]float64{
			"ceo_alignment_score":        float64(ceo),
			"growth_trajectory_score":    float64(growth),
			"stability_score":            float64(stability),
			"pulse_health_score":         float64(pulseScore),
			"alignment_bonus":            float64(alignment),
			"morale_penalty":             float64(morale),
			"alignment_ratio":            math.Round(ratio*100) / 100,
			"tech_debt_bonus":            float64(debt),
			"team_bonus":                 float64(team),
			"cto_bonus":                  float64(cto),
			"sales_bonus":                float64(sales),
			"stakeholder_crisis_penalty": float64(crisis),
		},
		Pulse: &pulse,
	}
}

func stakeholderBonus(v int) int {
	switch {
	case v > 70:
		return 4
	case v > 60:
		return 2
	case v < 35:
		return -6
	case v < 45:
		return -3
	}
	return 0
}

// CollapseReview is the forced review issued when capacity collapses.
func CollapseReview(quarter, rawCapacity int) domain.QuarterlyReview {
	return domain.QuarterlyReview{
		Quarter:   quarter,
		RawScore:  0,
		Rating:    domain.RatingBelowExpectations,
		Narrative: fmt.Sprintf("Quarter %d review: below expectations. The team could no longer hold a sprint together.", quarter),
		Factors:   map[string]float64{"raw_capacity": float64(rawCapacity)},
		Forced:    true,
	}
}

// YearEndReview combines the quarterly scores with a calibration draw.
// Missing quarters count as 50.
func YearEndReview(d domain.Difficulty, quarterly []int, r *rng.Rand) domain.YearEndReview {
	scores := make([]int, 0, 4)
	for i := 0; i < len(quarterly) && i < 4; i++ {
		scores = append(scores, quarterly[i])
	}
	for len(scores) < 4 {
		scores = append(scores, 50)
	}

	sum, lo, hi := 0, scores[0], scores[0]
	for _, s := range scores {
		sum += s
		lo = min(lo, s)
		hi = max(hi, s)
	}
	avg := float64(sum) / float64(len(scores))
	spread := hi - lo
	improving := scores[0] < scores[1] && scores[1] < scores[2] && scores[2] < scores[3]
	declining := scores[0] > scores[1] && scores[1] > scores[2] && scores[2] > scores[3]

	trajectory := 50
	switch {
	case improving:
		trajectory = 90
	case declining:
		trajectory = 10
	case spread <= 10:
		trajectory = 50
	case scores[3] > scores[0]:
		trajectory = 70
	case scores[3] < scores[0]:
		trajectory = 30
	}

	consistency := 55
	switch {
	case spread <= 15:
		consistency = 85
	case spread > 25:
		consistency = 20
	}

	composite := avg*0.5 + float64(trajectory)*0.25 + float64(consistency)*0.25

	lower, upper := -10, 10
	switch d {
	case domain.Easy:
		lower, upper = -5, 8
	case domain.Hard:
		lower, upper = -12, 8
	}
	modifier := r.Int(lower, upper)
	switch {
	case composite >= 90:
		modifier = max(modifier, -3)
	case composite >= 80:
		modifier = max(modifier, -6)
	}
	final := clampInt(round(composite+float64(modifier)), 0, 100)

	rating := domain.DoesNotMeetExpectations
	switch {
	case final >= 85:
		rating = domain.ExceedsExpectations
	case final >= 70:
		rating = domain.MeetsExpectationsStrong
	case final >= 45:
		rating = domain.MeetsExpectations
	case final >= 25:
		rating = domain.NeedsImprovement
	}

	return domain.YearEndReview{
		QuarterlyScores:     scores,
		RawComposite:        round(composite),
		CalibrationModifier: modifier,
		FinalScore:          final,
		FinalRating:         rating,
		Narrative:           fmt.Sprintf("Year-end review: %s. Calibration applied.", strings.ReplaceAll(string(rating), "_", " ")),
	}
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
