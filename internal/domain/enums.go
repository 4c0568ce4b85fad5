package domain

import "fmt"

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Normal Difficulty = "normal"
	Hard   Difficulty = "hard"
)

// ParseDifficulty maps a user string to a Difficulty. Empty means normal.
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(s) {
	case "":
		return Normal, nil
	case Easy, Normal, Hard:
		return Difficulty(s), nil
	}
	return "", fmt.Errorf("invalid difficulty %q (want easy, normal or hard)", s)
}

type Category string

const (
	SelfServeFeature  Category = "self_serve_feature"
	EnterpriseFeature Category = "enterprise_feature"
	SalesRequest      Category = "sales_request"
	TechDebtReduction Category = "tech_debt_reduction"
	Infrastructure    Category = "infrastructure"
	UXImprovement     Category = "ux_improvement"
	Monetization      Category = "monetization"
	Moonshot          Category = "moonshot"
)

var Categories = []Category{
	SelfServeFeature,
	EnterpriseFeature,
	SalesRequest,
	TechDebtReduction,
	Infrastructure,
	UXImprovement,
	Monetization,
	Moonshot,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Outcome is the resolution of one committed ticket.
type Outcome string

const (
	ClearSuccess     Outcome = "clear_success"
	PartialSuccess   Outcome = "partial_success"
	UnexpectedImpact Outcome = "unexpected_impact"
	SoftFailure      Outcome = "soft_failure"
	Catastrophe      Outcome = "catastrophe"
)

// Outcomes is the roulette order used when drawing an outcome.
var Outcomes = []Outcome{ClearSuccess, PartialSuccess, UnexpectedImpact, SoftFailure, Catastrophe}

// IsSuccessLike reports whether the ticket landed with some constructive impact.
func (o Outcome) IsSuccessLike() bool {
	switch o {
	case ClearSuccess, PartialSuccess, UnexpectedImpact:
		return true
	}
	return false
}

func (o Outcome) IsFailure() bool {
	return o == SoftFailure || o == Catastrophe
}

type CeoFocus string

const (
	FocusSelfServe  CeoFocus = "self_serve"
	FocusEnterprise CeoFocus = "enterprise"
	FocusTechDebt   CeoFocus = "tech_debt"
)

var Focuses = []CeoFocus{FocusSelfServe, FocusEnterprise, FocusTechDebt}

func (f CeoFocus) Valid() bool {
	return f == FocusSelfServe || f == FocusEnterprise || f == FocusTechDebt
}

// Rating is the coarse quarterly outcome.
type Rating string

const (
	RatingStrong            Rating = "strong"
	RatingSolid             Rating = "solid"
	RatingMixed             Rating = "mixed"
	RatingBelowExpectations Rating = "below_expectations"
)

// FinalRating is the five-tier year-end outcome.
type FinalRating string

const (
	ExceedsExpectations     FinalRating = "exceeds_expectations"
	MeetsExpectationsStrong FinalRating = "meets_expectations_strong"
	MeetsExpectations       FinalRating = "meets_expectations"
	NeedsImprovement        FinalRating = "needs_improvement"
	DoesNotMeetExpectations FinalRating = "does_not_meet_expectations"
)

type PulseLevel string

const (
	PulsePositive   PulseLevel = "positive"
	PulseMixed      PulseLevel = "mixed"
	PulseConcerning PulseLevel = "concerning"
)

type GameStatus string

const (
	GameInProgress GameStatus = "in_progress"
	GameCompleted  GameStatus = "completed"
	GameCollapsed  GameStatus = "collapsed"
)

// Finished reports whether no further commits are accepted.
func (s GameStatus) Finished() bool {
	return s == GameCompleted || s == GameCollapsed
}

// LogKind tags entries of the in-game event log.
type LogKind string

const (
	LogEvent            LogKind = "event"
	LogCapacityModifier LogKind = "capacity_modifier"
	LogForcedTicket     LogKind = "forced_ticket"
	LogFocusShift       LogKind = "focus_shift"
	LogHijack           LogKind = "hijack"
	LogQuarterReview    LogKind = "quarter_review"
	LogCapacityCollapse LogKind = "capacity_collapse"
)
