package domain

import "sort"

// CapacityKey is the reserved effects key that denotes a temporary capacity
// delta instead of a metric mutation.
const CapacityKey = "capacity"

// FocusShiftRandom asks the scheduler to re-roll the CEO focus.
const FocusShiftRandom = "random"

// Event groups partition the event catalog.
const (
	GroupRandom     = "random_events"
	GroupThreshold  = "threshold_events"
	GroupFocusShift = "ceo_focus_shifts"
)

// CatalogEvent is a scripted event as stored in the catalog.
type CatalogEvent struct {
	ID                   string         `json:"id"`
	Group                string         `json:"group"`
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	Quarters             []int          `json:"quarters,omitempty"`
	Probability          float64        `json:"probability,omitempty"`
	Condition            string         `json:"condition,omitempty"`
	EffectMap            map[string]int `json:"effects,omitempty"`
	ForcedTicketCategory Category       `json:"forced_ticket_category,omitempty"`
	CeoFocusShift        string         `json:"ceo_focus_shift,omitempty"`
	Duration             int            `json:"duration,omitempty"`
	Focus                CeoFocus       `json:"focus,omitempty"`
}

// IsRandom reports whether the event fires on a per-sprint probability.
func (e CatalogEvent) IsRandom() bool {
	return e.Probability > 0
}

// IsThreshold reports whether the event is gated only by its condition.
func (e CatalogEvent) IsThreshold() bool {
	return e.Probability <= 0 && e.Condition != ""
}

// AllowedIn reports whether the event may fire in quarter q.
func (e CatalogEvent) AllowedIn(q int) bool {
	if len(e.Quarters) == 0 {
		return true
	}
	for _, allowed := range e.Quarters {
		if allowed == q {
			return true
		}
	}
	return false
}

// Lifetime is the number of sprints a modifier or directive stays active.
func (e CatalogEvent) Lifetime() int {
	if e.Duration > 0 {
		return e.Duration
	}
	return 1
}

// Effect is one consequence of a fired event.
type Effect interface {
	effect()
}

type MetricEffect struct {
	Metric MetricKey
	Delta  int
}

type CapacityEffect struct {
	Delta    int
	Duration int
}

type ForcedTicketEffect struct {
	Category Category
	Duration int
}

// FocusShiftEffect sets the CEO focus; Random re-rolls it instead.
type FocusShiftEffect struct {
	Random bool
	Focus  CeoFocus
}

func (MetricEffect) effect()       {}
func (CapacityEffect) effect()     {}
func (ForcedTicketEffect) effect() {}
func (FocusShiftEffect) effect()   {}

// Effects decodes the loosely typed catalog fields into tagged variants.
// Metric effects come first in canonical metric order; unknown effect keys
// are dropped.
func (e CatalogEvent) Effects() []Effect {
	var out []Effect
	keys := make([]string, 0, len(e.EffectMap))
	for k := range e.EffectMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := metricRank(keys[i]), metricRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		delta := e.EffectMap[k]
		if delta == 0 || k == CapacityKey {
			continue
		}
		mk := MetricKey(k)
		if !mk.Valid() {
			continue
		}
		out = append(out, MetricEffect{Metric: mk, Delta: delta})
	}
	if delta := e.EffectMap[CapacityKey]; delta != 0 {
		out = append(out, CapacityEffect{Delta: delta, Duration: e.Lifetime()})
	}
	if e.ForcedTicketCategory != "" {
		out = append(out, ForcedTicketEffect{Category: e.ForcedTicketCategory, Duration: e.Lifetime()})
	}
	switch {
	case e.CeoFocusShift == FocusShiftRandom:
		out = append(out, FocusShiftEffect{Random: true})
	case CeoFocus(e.CeoFocusShift).Valid():
		out = append(out, FocusShiftEffect{Focus: CeoFocus(e.CeoFocusShift)})
	}
	return out
}

func metricRank(k string) int {
	for i, b := range BoundedKeys {
		if string(b) == k {
			return i
		}
	}
	if MetricKey(k) == Velocity {
		return len(BoundedKeys)
	}
	return len(BoundedKeys) + 1
}

// NarrativeTemplate is a retro or review summary keyed by coarse conditions.
type NarrativeTemplate struct {
	ID             string `json:"id"`
	Group          string `json:"group"`
	SuccessBucket  string `json:"success_bucket,omitempty" enum:"all,most,some,none"`
	HasCatastrophe *bool  `json:"has_catastrophe,omitempty"`
	Overbooked     *bool  `json:"overbooked,omitempty"`
	Text           string `json:"text"`
}

// Narrative groups.
const (
	GroupSprintRetro = "sprint_retro"
)

// LogEntry is an append-only record of something that happened in a game.
// Capacity modifiers and forced tickets count down Remaining as sprints are
// generated.
type LogEntry struct {
	Kind          LogKind           `json:"kind"`
	Quarter       int               `json:"quarter"`
	Sprint        int               `json:"sprint"`
	EventID       string            `json:"event_id,omitempty"`
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	Effects       map[MetricKey]int `json:"effects,omitempty"`
	CapacityDelta int               `json:"capacity_delta,omitempty"`
	Category      Category          `json:"category,omitempty"`
	Remaining     int               `json:"remaining,omitempty"`
	FocusFrom     CeoFocus          `json:"focus_from,omitempty"`
	FocusTo       CeoFocus          `json:"focus_to,omitempty"`
}

// Active reports whether a time-limited entry still applies.
func (l LogEntry) Active() bool {
	return (l.Kind == LogCapacityModifier || l.Kind == LogForcedTicket) && l.Remaining > 0
}
