package domain

// Game is the persisted progression state of one playthrough.
type Game struct {
	ID              string         `json:"id"`
	PlayerID        string         `json:"player_id"`
	Difficulty      Difficulty     `json:"difficulty" enum:"easy,normal,hard"`
	Quarter         int            `json:"current_quarter"`
	Sprint          int            `json:"current_sprint"`
	Status          GameStatus     `json:"state" enum:"in_progress,completed,collapsed"`
	Metrics         Metrics        `json:"metrics_state"`
	Targets         MetricTargets  `json:"metric_targets"`
	StretchTargets  MetricTargets  `json:"stretch_targets"`
	Seed            int32          `json:"seed"`
	RNGState        int32          `json:"rng_seed"`
	CeoFocus        CeoFocus       `json:"ceo_focus" enum:"self_serve,enterprise,tech_debt"`
	Log             []LogEntry     `json:"events_log"`
	Stats           QuarterStats   `json:"quarter_stats"`
	QuarterlyScores []int          `json:"quarterly_scores"`
	YearEnd         *YearEndReview `json:"year_end_review,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

// FiredBefore reports whether a catalog event already appears in the log.
func (g Game) FiredBefore(eventID string) bool {
	for _, e := range g.Log {
		if e.Kind == LogEvent && e.EventID == eventID {
			return true
		}
	}
	return false
}

// Sprint is one turn: a backlog offered against a capacity budget.
type Sprint struct {
	GameID            string           `json:"game_id"`
	Quarter           int              `json:"quarter"`
	Number            int              `json:"number"`
	EffectiveCapacity int              `json:"effective_capacity"`
	RawCapacity       int              `json:"raw_capacity"`
	StretchCapacity   int              `json:"stretch_capacity"`
	CapacityModifier  int              `json:"capacity_modifier"`
	CeoFocus          CeoFocus         `json:"ceo_focus"`
	Backlog           []TicketInstance `json:"backlog"`
	Committed         []TicketInstance `json:"committed"`
	Retro             *Retro           `json:"retro,omitempty"`
	CreatedAt         string           `json:"created_at,omitempty" format:"date-time"`
}

// Resolved reports whether the sprint has been committed.
func (s Sprint) Resolved() bool {
	return s.Retro != nil
}

// MandatoryEffort sums the effort of tickets the player cannot drop.
func (s Sprint) MandatoryEffort() int {
	total := 0
	for _, t := range s.Backlog {
		if t.IsMandatory {
			total += t.Effort
		}
	}
	return total
}

type Retro struct {
	SprintNumber   int               `json:"sprint_number"`
	TicketOutcomes []TicketInstance  `json:"ticket_outcomes"`
	MetricDeltas   map[MetricKey]int `json:"metric_deltas"`
	Narrative      string            `json:"narrative"`
	Events         []LogEntry        `json:"events,omitempty"`
	TotalEffort    int               `json:"total_effort"`
	Overbooked     bool              `json:"overbooked"`
}

type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is an entry of the service audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GameID     string `json:"game_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}
