package sim

import (
	"fmt"

	"pmsim/internal/domain"
	"pmsim/internal/rng"
)

const (
	sprintsPerQuarter = 3
	quartersPerYear   = 4
	overbookPenalty   = 5
)

const missingNarrative = "Outcome recorded without narrative."

// CommitRequest selects tickets from the current backlog. Zero coordinates
// mean "the game's current sprint".
type CommitRequest struct {
	Quarter   int
	Sprint    int
	TicketIDs []string
}

// CommitResult is the state after one commit. Sprint is the resolved sprint
// with its retro; NextSprint is nil once the game has ended.
type CommitResult struct {
	Game            domain.Game
	Sprint          domain.Sprint
	NextSprint      *domain.Sprint
	QuarterlyReview *domain.QuarterlyReview
	YearEndReview   *domain.YearEndReview
	Collapsed       bool
}

// Commit resolves the selected tickets of sprint s and advances g. It never
// mutates its arguments; an *InputError means nothing happened.
func Commit(g domain.Game, s domain.Sprint, req CommitRequest, cat Catalog) (CommitResult, error) {
	if g.Status.Finished() {
		return CommitResult{}, inputErr(CodeGameFinished, "game %s is %s", g.ID, g.Status)
	}
	if s.Quarter != g.Quarter || s.Number != g.Sprint || s.Resolved() {
		return CommitResult{}, inputErr(CodeSprintMismatch, "sprint Q%dS%d is not the open sprint", s.Quarter, s.Number)
	}
	if (req.Quarter != 0 && req.Quarter != g.Quarter) || (req.Sprint != 0 && req.Sprint != g.Sprint) {
		return CommitResult{}, inputErr(CodeSprintMismatch, "game is at Q%dS%d, not Q%dS%d", g.Quarter, g.Sprint, req.Quarter, req.Sprint)
	}

	selected, requested := selectTickets(s.Backlog, req.TicketIDs)
	if requested == 0 {
		return CommitResult{}, inputErr(CodeNoTickets, "no valid tickets selected")
	}
	capacity := s.EffectiveCapacity
	stretch := s.StretchCapacity
	if stretch == 0 {
		stretch = StretchCapacity(capacity)
	}
	effort := 0
	for _, t := range selected {
		effort += t.Effort
	}
	if effort > stretch {
		return CommitResult{}, inputErr(CodeOverCapacity, "selected effort %d exceeds max capacity %d", effort, stretch)
	}

	g.Log = append([]domain.LogEntry(nil), g.Log...)
	g.QuarterlyScores = append([]int(nil), g.QuarterlyScores...)
	r := rng.New(g.RNGState)

	over, under := BookingFractions(effort, capacity, stretch)
	overbooked := effort > capacity
	deltas := make(map[domain.MetricKey]int)
	successes, failed, catastrophe := 0, false, false
	velocity := 0

	for i := range selected {
		t := &selected[i]
		o := RollOutcome(&r, OutcomeContext{
			TechDebt:          g.Metrics.TechDebt,
			TeamSentiment:     g.Metrics.TeamSentiment,
			OverbookFraction:  over,
			UnderbookFraction: under,
			Moonshot:          t.Category == domain.Moonshot,
			CeoAligned:        t.CeoAligned,
			Difficulty:        g.Difficulty,
		})
		var d map[domain.MetricKey]int
		g.Metrics, d = ApplyOutcome(&r, g.Metrics, t.TicketTemplate, o)
		for k, v := range d {
			deltas[k] += v
		}
		t.Outcome = o
		t.MetricImpacts = d
		t.OutcomeNarrative = missingNarrative
		if text, ok := t.Outcomes[o]; ok && text != "" {
			t.OutcomeNarrative = text
		}

		g.Stats.Committed++
		if t.CeoAligned {
			g.Stats.Aligned++
		}
		switch {
		case o.IsSuccessLike():
			successes++
			velocity += t.Effort
			if t.Category == domain.UXImprovement {
				g.Stats.UXSuccess = true
			}
		case o == domain.Catastrophe:
			g.Stats.Catastrophes++
			catastrophe = true
			failed = true
		default:
			failed = true
		}
	}

	if overbooked {
		g.Metrics.Add(domain.TeamSentiment, -overbookPenalty)
		deltas[domain.TeamSentiment] -= overbookPenalty
		if failed {
			g.Metrics.Add(domain.TeamSentiment, -overbookPenalty)
			deltas[domain.TeamSentiment] -= overbookPenalty
		}
	}
	if velocity > 0 {
		g.Metrics.Add(domain.Velocity, velocity)
		deltas[domain.Velocity] += velocity
	}
	if g.Metrics.TeamSentiment < 30 {
		g.Stats.LowTeamSprints++
	}

	retro := domain.Retro{
		SprintNumber:   s.Number,
		TicketOutcomes: selected,
		MetricDeltas:   deltas,
		Narrative:      RetroNarrative(cat, &r, successes, len(selected), catastrophe, overbooked),
		TotalEffort:    effort,
		Overbooked:     overbooked,
	}
	retro.Events = RunSprintEvents(&g, cat, &r)
	s.Committed = selected
	s.Retro = &retro

	res := CommitResult{}
	switch {
	case g.Sprint < sprintsPerQuarter:
		g.Sprint++
		driftFocus(&g, cat, &r)
		next, collapsed := buildSprint(&g, cat, &r, g.Quarter, g.Sprint)
		if collapsed {
			collapse(&g, &res, s, next.RawCapacity)
			break
		}
		res.NextSprint = &next

	case g.Quarter < quartersPerYear:
		modifier, _ := ActiveModifiers(g.Log)
		if raw := RawCapacity(g.Metrics, modifier); Collapsed(raw) {
			collapse(&g, &res, s, raw)
			break
		}
		review := closeQuarter(&g)
		res.QuarterlyReview = &review
		g.Quarter++
		g.Sprint = 1
		g.Stats = domain.QuarterStats{}
		if shift, ok := shiftFocus(&g, cat, &r, SelectCeoFocus(g.Metrics, &r)); ok {
			g.Log = append(g.Log, shift)
		}
		next, _ := buildSprint(&g, cat, &r, g.Quarter, g.Sprint)
		res.NextSprint = &next

	default:
		review := closeQuarter(&g)
		res.QuarterlyReview = &review
		year := YearEndReview(g.Difficulty, g.QuarterlyScores, &r)
		g.YearEnd = &year
		g.Status = domain.GameCompleted
		res.YearEndReview = &year
	}

	g.RNGState = r.State()
	res.Game = g
	res.Sprint = s
	return res, nil
}

// selectTickets resolves ids against the backlog in request order, drops
// duplicates and unknown ids, then appends mandatory tickets the player left
// out. requested counts the valid ids the caller asked for.
func selectTickets(backlog []domain.TicketInstance, ids []string) (selected []domain.TicketInstance, requested int) {
	index := make(map[string]int, len(backlog))
	for i, t := range backlog {
		index[t.ID] = i
	}
	taken := make(map[string]bool, len(ids))
	for _, id := range ids {
		i, ok := index[id]
		if !ok || taken[id] {
			continue
		}
		taken[id] = true
		selected = append(selected, backlog[i])
		requested++
	}
	for _, t := range backlog {
		if t.IsMandatory && !taken[t.ID] {
			taken[t.ID] = true
			selected = append(selected, t)
		}
	}
	return selected, requested
}

func driftFocus(g *domain.Game, cat Catalog, r *rng.Rand) {
	if !ShouldShiftFocus(r, g.Difficulty) {
		return
	}
	if shift, ok := shiftFocus(g, cat, r, SelectCeoFocus(g.Metrics, r)); ok {
		g.Log = append(g.Log, shift)
	}
}

func closeQuarter(g *domain.Game) domain.QuarterlyReview {
	pulse := DeriveProductPulse(g.Metrics, g.Stats.Catastrophes > 0, g.Stats.UXSuccess)
	review := QuarterlyReview(g.Quarter, g.Metrics, pulse, g.Stats)
	g.QuarterlyScores = append(g.QuarterlyScores, review.RawScore)
	g.Log = append(g.Log, domain.LogEntry{
		Kind:        domain.LogQuarterReview,
		Quarter:     g.Quarter,
		Sprint:      g.Sprint,
		Title:       Label(string(review.Rating)),
		Description: review.Narrative,
	})
	return review
}

// collapse ends the game on the sprint just played.
func collapse(g *domain.Game, res *CommitResult, played domain.Sprint, raw int) {
	g.Quarter, g.Sprint = played.Quarter, played.Number
	review := CollapseReview(g.Quarter, raw)
	g.QuarterlyScores = append(g.QuarterlyScores, review.RawScore)
	g.Log = append(g.Log, domain.LogEntry{
		Kind:        domain.LogCapacityCollapse,
		Quarter:     g.Quarter,
		Sprint:      g.Sprint,
		Title:       "Capacity collapse",
		Description: fmt.Sprintf("Raw capacity fell to %d. The team can no longer run a sprint.", raw),
	})
	g.Status = domain.GameCollapsed
	res.QuarterlyReview = &review
	res.Collapsed = true
}

// buildSprint opens sprint number of quarter. Active modifiers are applied and
// consumed first; a collapsed raw capacity returns before any backlog draw.
func buildSprint(g *domain.Game, cat Catalog, r *rng.Rand, quarter, number int) (domain.Sprint, bool) {
	modifier, forced := ActiveModifiers(g.Log)
	TickModifiers(g.Log)
	raw := RawCapacity(g.Metrics, modifier)
	s := domain.Sprint{
		GameID:           g.ID,
		Quarter:          quarter,
		Number:           number,
		RawCapacity:      raw,
		CapacityModifier: modifier,
		CeoFocus:         g.CeoFocus,
		Committed:        []domain.TicketInstance{},
	}
	if Collapsed(raw) {
		return s, true
	}
	s.EffectiveCapacity = floorCapacity(raw)
	s.StretchCapacity = StretchCapacity(s.EffectiveCapacity)
	s.Backlog = GenerateBacklog(cat.Tickets, g.Metrics, r, BacklogSize(quarter, number))

	for _, c := range forced {
		forceTicket(&s, cat, r, c)
	}
	for _, h := range RollHijacks(g.Metrics, g.CeoFocus, r) {
		if !forceTicket(&s, cat, r, h.Category) {
			continue
		}
		g.Log = append(g.Log, domain.LogEntry{
			Kind:        domain.LogHijack,
			Quarter:     quarter,
			Sprint:      number,
			Title:       "Roadmap hijack",
			Description: fmt.Sprintf("%s forced %s work onto the roadmap.", Label(string(h.Stakeholder)), Label(string(h.Category))),
			Category:    h.Category,
		})
	}
	markAligned(s.Backlog, g.CeoFocus)
	return s, false
}

// forceTicket makes one ticket of category c mandatory, reusing a backlog
// ticket when possible. Mandatory effort never exceeds effective capacity.
func forceTicket(s *domain.Sprint, cat Catalog, r *rng.Rand, c domain.Category) bool {
	budget := s.EffectiveCapacity - s.MandatoryEffort()
	present := make(map[string]bool, len(s.Backlog))
	for i := range s.Backlog {
		t := &s.Backlog[i]
		present[t.ID] = true
		if t.Category == c && !t.IsMandatory && t.Effort <= budget {
			t.IsMandatory = true
			return true
		}
	}
	var pool []domain.TicketTemplate
	for _, t := range cat.ticketsIn(c) {
		if !present[t.ID] && t.Effort <= budget {
			pool = append(pool, t)
		}
	}
	t, ok := rng.Pick(r, pool)
	if !ok {
		return false
	}
	s.Backlog = append(s.Backlog, domain.TicketInstance{TicketTemplate: t, IsMandatory: true})
	return true
}
