package domain

// Range is an inclusive [min,max] delta range.
type Range [2]int

// ImpactRange gives the delta ranges applied on clear and partial success.
type ImpactRange struct {
	Success *Range `json:"success,omitempty"`
	Partial *Range `json:"partial,omitempty"`
}

// For returns the range matching a success-like outcome.
func (r *ImpactRange) For(o Outcome) *Range {
	if r == nil {
		return nil
	}
	if o == ClearSuccess {
		return r.Success
	}
	return r.Partial
}

// TicketTemplate is an immutable catalog entry.
type TicketTemplate struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Category        Category           `json:"category"`
	Effort          int                `json:"effort"`
	PrimaryMetric   MetricKey          `json:"primary_metric"`
	PrimaryImpact   *ImpactRange       `json:"primary_impact,omitempty"`
	SecondaryMetric MetricKey          `json:"secondary_metric,omitempty"`
	SecondaryImpact *ImpactRange       `json:"secondary_impact,omitempty"`
	TradeoffMetric  MetricKey          `json:"tradeoff_metric,omitempty"`
	TradeoffImpact  *ImpactRange       `json:"tradeoff_impact,omitempty"`
	Outcomes        map[Outcome]string `json:"outcomes,omitempty"`
}

// TicketInstance is a template placed into a sprint backlog.
type TicketInstance struct {
	TicketTemplate
	CeoAligned       bool              `json:"ceo_aligned"`
	IsMandatory      bool              `json:"is_mandatory"`
	Outcome          Outcome           `json:"outcome,omitempty"`
	OutcomeNarrative string            `json:"outcome_narrative,omitempty"`
	MetricImpacts    map[MetricKey]int `json:"metric_impacts,omitempty"`
}

// SizeBand buckets tickets by effort for backlog balancing.
type SizeBand string

const (
	SizeSmall  SizeBand = "small"
	SizeMedium SizeBand = "medium"
	SizeLarge  SizeBand = "large"
)

func (t TicketTemplate) Size() SizeBand {
	switch {
	case t.Effort <= 3:
		return SizeSmall
	case t.Effort <= 6:
		return SizeMedium
	default:
		return SizeLarge
	}
}
