package domain

// ProductPulse summarizes customer-facing health at a quarter boundary.
type ProductPulse struct {
	Churn             PulseLevel `json:"churn" enum:"positive,mixed,concerning"`
	SupportLoad       PulseLevel `json:"support_load" enum:"positive,mixed,concerning"`
	CustomerSentiment PulseLevel `json:"customer_sentiment" enum:"positive,mixed,concerning"`
	Narrative         string     `json:"narrative"`
}

type QuarterlyReview struct {
	Quarter   int                `json:"quarter"`
	RawScore  int                `json:"raw_score"`
	Rating    Rating             `json:"rating" enum:"strong,solid,mixed,below_expectations"`
	Narrative string             `json:"narrative"`
	Factors   map[string]float64 `json:"factors"`
	Pulse     *ProductPulse      `json:"product_pulse,omitempty"`
	Forced    bool               `json:"forced,omitempty"`
}

type YearEndReview struct {
	QuarterlyScores     []int       `json:"quarterly_scores"`
	RawComposite        int         `json:"raw_composite"`
	CalibrationModifier int         `json:"calibration_modifier"`
	FinalScore          int         `json:"final_score"`
	FinalRating         FinalRating `json:"final_rating" enum:"exceeds_expectations,meets_expectations_strong,meets_expectations,needs_improvement,does_not_meet_expectations"`
	Narrative           string      `json:"narrative"`
}

// QuarterStats accumulates per-quarter signals consumed by the review scorer.
type QuarterStats struct {
	Committed      int  `json:"committed"`
	Aligned        int  `json:"aligned"`
	Catastrophes   int  `json:"catastrophes"`
	LowTeamSprints int  `json:"low_team_sprints"`
	UXSuccess      bool `json:"ux_success"`
}

// AlignmentRatio is the share of committed tickets that matched the CEO focus.
func (s QuarterStats) AlignmentRatio() float64 {
	if s.Committed == 0 {
		return 0
	}
	return float64(s.Aligned) / float64(s.Committed)
}
