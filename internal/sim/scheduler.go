package sim

import (
	"sort"

	"pmsim/internal/condition"
	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

// RunSprintEvents fires at most one random and one threshold event after a
// sprint resolves. It mutates g's metrics, focus and log and returns the
// entries it appended.
func RunSprintEvents(g *domain.Game, cat Catalog, r *rng.Rand) []domain.LogEntry {
	start := len(g.Log)

	for _, e := range cat.eventsIn(domain.GroupRandom) {
		if !e.IsRandom() || !e.AllowedIn(g.Quarter) {
			continue
		}
		if e.Condition != "" && !condition.Evaluate(e.Condition, g.Metrics.Lookup) {
			continue
		}
		if r.Next() < e.Probability {
			fireEvent(g, cat, r, e)
			break
		}
	}

	for _, e := range cat.eventsIn(domain.GroupThreshold) {
		if !e.IsThreshold() || !e.AllowedIn(g.Quarter) || g.FiredBefore(e.ID) {
			continue
		}
		if condition.Evaluate(e.Condition, g.Metrics.Lookup) {
			fireEvent(g, cat, r, e)
			break
		}
	}

	return append([]domain.LogEntry(nil), g.Log[start:]...)
}

func fireEvent(g *domain.Game, cat Catalog, r *rng.Rand, e domain.CatalogEvent) {
	entry := domain.LogEntry{
		Kind:        domain.LogEvent,
		Quarter:     g.Quarter,
		Sprint:      g.Sprint,
		EventID:     e.ID,
		Title:       e.Title,
		Description: e.Description,
	}
	var followups []domain.LogEntry
	for _, eff := range e.Effects() {
		switch v := eff.(type) {
		case domain.MetricEffect:
			if entry.Effects == nil {
				entry.Effects = make(map[domain.MetricKey]int)
			}
			entry.Effects[v.Metric] += v.Delta
			g.Metrics.Add(v.Metric, v.Delta)
		case domain.CapacityEffect:
			followups = append(followups, domain.LogEntry{
				Kind:          domain.LogCapacityModifier,
				Quarter:       g.Quarter,
				Sprint:        g.Sprint,
				EventID:       e.ID,
				Title:         e.Title,
				CapacityDelta: v.Delta,
				Remaining:     v.Duration,
			})
		case domain.ForcedTicketEffect:
			followups = append(followups, domain.LogEntry{
				Kind:      domain.LogForcedTicket,
				Quarter:   g.Quarter,
				Sprint:    g.Sprint,
				EventID:   e.ID,
				Title:     e.Title,
				Category:  v.Category,
				Remaining: v.Duration,
			})
		case domain.FocusShiftEffect:
			next := v.Focus
			if v.Random {
				next = SelectCeoFocus(g.Metrics, r)
			}
			if shift, ok := shiftFocus(g, cat, r, next); ok {
				shift.EventID = e.ID
				followups = append(followups, shift)
			}
		}
	}
	g.Log = append(g.Log, entry)
	g.Log = append(g.Log, followups...)
}

// shiftFocus moves g to focus next and builds the log entry describing it.
// It reports false when the focus did not change.
func shiftFocus(g *domain.Game, cat Catalog, r *rng.Rand, next domain.CeoFocus) (domain.LogEntry, bool) {
	prev := g.CeoFocus
	if next == prev || !next.Valid() {
		return domain.LogEntry{}, false
	}
	g.CeoFocus = next
	title, desc := focusShiftNarrative(cat, r, next)
	return domain.LogEntry{
		Kind:        domain.LogFocusShift,
		Quarter:     g.Quarter,
		Sprint:      g.Sprint,
		Title:       title,
		Description: desc,
		FocusFrom:   prev,
		FocusTo:     next,
	}, true
}

func focusShiftNarrative(cat Catalog, r *rng.Rand, focus domain.CeoFocus) (string, string) {
	pool := cat.eventsIn(domain.GroupFocusShift)
	var matching []domain.CatalogEvent
	for _, e := range pool {
		if e.Focus == focus {
			matching = append(matching, e)
		}
	}
	if len(matching) == 0 {
		matching = pool
	}
	if e, ok := rng.Pick(r, matching); ok {
		return e.Title, e.Description
	}
	return "CEO focus shift", "The CEO is now prioritizing " + Label(string(focus)) + "."
}

// ActiveModifiers sums the live capacity modifiers and collects the live
// forced-ticket categories, in log order.
func ActiveModifiers(log []domain.LogEntry) (capacity int, forced []domain.Category) {
	for _, e := range log {
		if !e.Active() {
			continue
		}
		switch e.Kind {
		case domain.LogCapacityModifier:
			capacity += e.CapacityDelta
		case domain.LogForcedTicket:
			forced = append(forced, e.Category)
		}
	}
	return capacity, forced
}

// TickModifiers consumes one sprint of every active modifier and directive.
func TickModifiers(log []domain.LogEntry) {
	for i := range log {
		if log[i].Active() {
			log[i].Remaining--
		}
	}
}

type hijackRule struct {
	metric    domain.MetricKey
	threshold int
	chance    float64
	category  func(domain.CeoFocus) domain.Category
}

var hijackRules = []hijackRule{
	{domain.SalesSentiment, 25, 0.4, func(domain.CeoFocus) domain.Category { return domain.SalesRequest }},
	{domain.CTOSentiment, 25, 0.5, func(domain.CeoFocus) domain.Category { return domain.TechDebtReduction }},
	{domain.CEOSentiment, 30, 0.2, FocusCategory},
}

// Hijack is a stakeholder forcing work onto the roadmap.
type Hijack struct {
	Stakeholder domain.MetricKey
	Category    domain.Category
}

// RollHijacks gives up to the two unhappiest stakeholders below their
// thresholds an independent chance to force a ticket.
func RollHijacks(m domain.Metrics, focus domain.CeoFocus, r *rng.Rand) []Hijack {
	type candidate struct {
		rule  hijackRule
		value int
	}
	var candidates []candidate
	for _, rule := range hijackRules {
		v, _ := m.Get(rule.metric)
		if v < rule.threshold {
			candidates = append(candidates, candidate{rule: rule, value: v})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].value < candidates[j].value
	})
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}
	var out []Hijack
	for _, c := range candidates {
		if r.Next() < c.rule.chance {
			out = append(out, Hijack{Stakeholder: c.rule.metric, Category: c.rule.category(focus)})
		}
	}
	return out
}
