package sim

import "pmsim/internal/domain"

// Catalog is the read-only content a game is played against.
type Catalog struct {
	Tickets    []domain.TicketTemplate
	Events     []domain.CatalogEvent
	Narratives []domain.NarrativeTemplate
}

func (c Catalog) eventsIn(group string) []domain.CatalogEvent {
	var out []domain.CatalogEvent
	for _, e := range c.Events {
		if e.Group == group {
			out = append(out, e)
		}
	}
	return out
}

func (c Catalog) narrativesIn(group string) []domain.NarrativeTemplate {
	var out []domain.NarrativeTemplate
	for _, n := range c.Narratives {
		if n.Group == group {
			out = append(out, n)
		}
	}
	return out
}

func (c Catalog) ticketsIn(category domain.Category) []domain.TicketTemplate {
	var out []domain.TicketTemplate
	for _, t := range c.Tickets {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}
