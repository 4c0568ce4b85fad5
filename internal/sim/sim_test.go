package sim_test

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"pmsim/internal/domain"
	"pmsim/internal/rng"
	"pmsim/internal/sim"
)

func rangeOf(lo, hi int) *domain.Range {
	r := domain.Range{lo, hi}
	return &r
}

func testTickets() []domain.TicketTemplate {
	primary := map[domain.Category]domain.MetricKey{
		domain.SelfServeFeature:  domain.SelfServeGrowth,
		domain.EnterpriseFeature: domain.EnterpriseGrowth,
		domain.SalesRequest:      domain.SalesSentiment,
		domain.TechDebtReduction: domain.TechDebt,
		domain.Infrastructure:    domain.TechDebt,
		domain.UXImprovement:     domain.NPS,
		domain.Monetization:      domain.CEOSentiment,
		domain.Moonshot:          domain.SelfServeGrowth,
	}
	var out []domain.TicketTemplate
	for _, c := range domain.Categories {
		for i, effort := range []int{2, 5, 8} {
			t := domain.TicketTemplate{
				ID:            fmt.Sprintf("%s_%d", c, i),
				Title:         fmt.Sprintf("%s %d", c, i),
				Category:      c,
				Effort:        effort,
				PrimaryMetric: primary[c],
				PrimaryImpact: &domain.ImpactRange{Success: rangeOf(4, 8), Partial: rangeOf(1, 3)},
				Outcomes: map[domain.Outcome]string{
					domain.ClearSuccess: "Shipped cleanly.",
				},
			}
			if primary[c] == domain.TechDebt {
				t.PrimaryImpact = &domain.ImpactRange{Success: rangeOf(-8, -4), Partial: rangeOf(-3, -1)}
			}
			if effort == 8 {
				t.TradeoffMetric = domain.TeamSentiment
				t.TradeoffImpact = &domain.ImpactRange{Success: rangeOf(-3, -1), Partial: rangeOf(-2, -1)}
			}
			out = append(out, t)
		}
	}
	return out
}

func testCatalog() sim.Catalog {
	return sim.Catalog{Tickets: testTickets()}
}

func TestCapacityExamples(t *testing.T) {
	cases := []struct {
		name string
		m    domain.Metrics
		want int
	}{
		{"neutral", domain.Metrics{TeamSentiment: 40, TechDebt: 20, CTOSentiment: 50}, 20},
		// team 60 sits in the +1 band
		{"normal defaults", sim.BaseMetrics(domain.Normal), 21},
		{"all bonuses", domain.Metrics{TeamSentiment: 80, TechDebt: 10, CTOSentiment: 85}, 30},
		{"mid team", domain.Metrics{TeamSentiment: 60, TechDebt: 35, CTOSentiment: 50}, 21},
		{"worst bands", domain.Metrics{TeamSentiment: 10, TechDebt: 90, CTOSentiment: 10}, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := sim.EffectiveCapacity(tc.m)
			if got != tc.want {
				t.Fatalf("capacity = %d, want %d", got, tc.want)
			}
			if again := sim.EffectiveCapacity(tc.m); again != got {
				t.Fatalf("capacity not idempotent: %d then %d", got, again)
			}
		})
	}
}

func TestRawCapacityCollapse(t *testing.T) {
	m := domain.Metrics{TeamSentiment: 10, TechDebt: 90}
	if raw := sim.RawCapacity(m, -3); raw != 6 || sim.Collapsed(raw) {
		t.Fatalf("raw = %d collapsed=%v, want 6 and not collapsed", raw, sim.Collapsed(raw))
	}
	if raw := sim.RawCapacity(m, -4); raw != 5 || !sim.Collapsed(raw) {
		t.Fatalf("raw = %d, want 5 and collapsed", raw)
	}
	if got := sim.StretchCapacity(21); got != 26 {
		t.Fatalf("stretch(21) = %d, want 26", got)
	}
}

func TestWeightsFloorAndFailureCap(t *testing.T) {
	difficulties := []domain.Difficulty{domain.Easy, domain.Normal, domain.Hard}
	for _, d := range difficulties {
		for _, debt := range []int{0, 66, 90} {
			for _, team := range []int{10, 50, 90} {
				for _, over := range []float64{0, 0.5, 1} {
					for _, flags := range []struct{ moon, aligned bool }{{false, false}, {true, false}, {false, true}, {true, true}} {
						ctx := sim.OutcomeContext{
							TechDebt:          debt,
							TeamSentiment:     team,
							OverbookFraction:  over,
							UnderbookFraction: 0.5 - over/2,
							Moonshot:          flags.moon,
							CeoAligned:        flags.aligned,
							Difficulty:        d,
						}
						w := sim.Weights(ctx)
						if w.Total() <= 0 {
							t.Fatalf("non-positive total for %+v", ctx)
						}
						for _, o := range domain.Outcomes {
							if w[o] < 2 {
								t.Fatalf("weight %s = %v < 2 for %+v", o, w[o], ctx)
							}
						}
						excess := math.Max(0, w[domain.SoftFailure]-15) + math.Max(0, w[domain.Catastrophe]-4)
						if excess > 6+1e-9 {
							t.Fatalf("failure excursion %v > 6 for %+v", excess, ctx)
						}
					}
				}
			}
		}
	}
}

func TestWeightsRescaleFailureSurplus(t *testing.T) {
	w := sim.Weights(sim.OutcomeContext{TechDebt: 90, TeamSentiment: 10, OverbookFraction: 1, Difficulty: domain.Hard})
	// soft +4+3+5+3 = +15, catastrophe +3+1+2+2 = +8, scaled to 6 total.
	if got := w[domain.SoftFailure]; math.Abs(got-(15+15*6.0/23)) > 1e-9 {
		t.Fatalf("soft failure = %v", got)
	}
	if got := w[domain.Catastrophe]; math.Abs(got-(4+8*6.0/23)) > 1e-9 {
		t.Fatalf("catastrophe = %v", got)
	}
	if got := w[domain.ClearSuccess]; got != 13 {
		t.Fatalf("clear success = %v, want 13", got)
	}
}

func TestBookingFractions(t *testing.T) {
	over, under := sim.BookingFractions(25, 20, 25)
	if over != 1 || under != 0 {
		t.Fatalf("full overbook = %v/%v", over, under)
	}
	over, under = sim.BookingFractions(5, 20, 25)
	if over != 0 || under != 0.5 {
		t.Fatalf("underbook = %v/%v, want 0/0.5", over, under)
	}
	over, _ = sim.BookingFractions(9, 8, 8)
	if over != 1 {
		t.Fatalf("degenerate stretch overbook = %v, want 1", over)
	}
}

func TestRollOutcomeDeterministic(t *testing.T) {
	ctx := sim.OutcomeContext{TechDebt: 40, TeamSentiment: 60, Difficulty: domain.Normal}
	a, b := rng.New(7), rng.New(7)
	for i := 0; i < 200; i++ {
		if x, y := sim.RollOutcome(&a, ctx), sim.RollOutcome(&b, ctx); x != y {
			t.Fatalf("draw %d diverged: %s vs %s", i, x, y)
		}
	}
	if a.State() != b.State() {
		t.Fatalf("states diverged")
	}
}

func TestGenerateBacklogUnique(t *testing.T) {
	tickets := testTickets()
	for seed := int32(0); seed < 200; seed++ {
		r := rng.New(seed)
		m := sim.BaseMetrics(domain.Hard)
		backlog := sim.GenerateBacklog(tickets, m, &r, 8)
		if len(backlog) == 0 || len(backlog) > 8 {
			t.Fatalf("seed %d: backlog size %d", seed, len(backlog))
		}
		seen := map[string]bool{}
		for _, tk := range backlog {
			if seen[tk.ID] {
				t.Fatalf("seed %d: duplicate ticket %s", seed, tk.ID)
			}
			seen[tk.ID] = true
		}
	}
}

func TestGenerateBacklogGuarantees(t *testing.T) {
	r := rng.New(99)
	m := domain.Metrics{TeamSentiment: 60, CEOSentiment: 60, SalesSentiment: 30, CTOSentiment: 60,
		SelfServeGrowth: 30, EnterpriseGrowth: 30, TechDebt: 70, NPS: 30}
	backlog := sim.GenerateBacklog(testTickets(), m, &r, 8)
	want := []domain.Category{domain.SelfServeFeature, domain.EnterpriseFeature, domain.TechDebtReduction, domain.SalesRequest, domain.UXImprovement}
	for i, c := range want {
		if backlog[i].Category != c {
			t.Fatalf("backlog[%d] = %s, want %s", i, backlog[i].Category, c)
		}
	}
}

func TestGenerateBacklogEmptyCatalog(t *testing.T) {
	r := rng.New(1)
	if got := sim.GenerateBacklog(nil, sim.BaseMetrics(domain.Normal), &r, 8); len(got) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(got))
	}
	if r.State() != 1 {
		t.Fatalf("empty catalog consumed draws")
	}
}

func TestApplyOutcomeKeepsBounds(t *testing.T) {
	r := rng.New(2024)
	m := sim.BaseMetrics(domain.Normal)
	tickets := testTickets()
	wild := domain.TicketTemplate{
		ID: "wild", Category: domain.Moonshot, Effort: 10,
		PrimaryMetric:   domain.NPS,
		PrimaryImpact:   &domain.ImpactRange{Success: rangeOf(80, 200), Partial: rangeOf(-200, -80)},
		TradeoffMetric:  domain.TechDebt,
		TradeoffImpact:  &domain.ImpactRange{Success: rangeOf(50, 90), Partial: rangeOf(50, 90)},
		SecondaryMetric: domain.CEOSentiment,
		SecondaryImpact: &domain.ImpactRange{Success: rangeOf(-150, 150)},
	}
	tickets = append(tickets, wild)
	for i := 0; i < 5000; i++ {
		tk, _ := rng.Pick(&r, tickets)
		o, _ := rng.Pick(&r, domain.Outcomes)
		m, _ = sim.ApplyOutcome(&r, m, tk, o)
		for _, k := range domain.BoundedKeys {
			v, _ := m.Get(k)
			if v < 0 || v > 100 {
				t.Fatalf("iteration %d: %s = %d out of range", i, k, v)
			}
		}
	}
}

func TestApplyOutcomeReportsRequestedDelta(t *testing.T) {
	r := rng.New(5)
	m := domain.Metrics{TeamSentiment: 50, CEOSentiment: 98, NPS: 98}
	tk := domain.TicketTemplate{ID: "x", Category: domain.SelfServeFeature, Effort: 2,
		PrimaryMetric: domain.NPS, PrimaryImpact: &domain.ImpactRange{Success: rangeOf(10, 10)}}
	out, deltas := sim.ApplyOutcome(&r, m, tk, domain.ClearSuccess)
	if out.NPS != 100 {
		t.Fatalf("nps = %d, want clamped 100", out.NPS)
	}
	if deltas[domain.NPS] < 7 {
		t.Fatalf("nps delta = %d, want the requested pre-clamp value", deltas[domain.NPS])
	}
	if _, ok := deltas[domain.CEOSentiment]; !ok {
		t.Fatalf("expected a stakeholder bonus for ceo sentiment, got %v", deltas)
	}
}

func TestCeoFocus(t *testing.T) {
	if !sim.IsCeoAligned(domain.FocusEnterprise, domain.SalesRequest) {
		t.Fatalf("sales requests should align with enterprise")
	}
	if !sim.IsCeoAligned(domain.FocusTechDebt, domain.Infrastructure) {
		t.Fatalf("infrastructure should align with tech debt")
	}
	if sim.IsCeoAligned(domain.FocusSelfServe, domain.Monetization) {
		t.Fatalf("monetization should not align with self serve")
	}
	counts := map[domain.CeoFocus]int{}
	m := domain.Metrics{SelfServeGrowth: 60, EnterpriseGrowth: 60, TechDebt: 80}
	r := rng.New(3)
	for i := 0; i < 3000; i++ {
		counts[sim.SelectCeoFocus(m, &r)]++
	}
	if counts[domain.FocusTechDebt] <= counts[domain.FocusSelfServe] {
		t.Fatalf("high tech debt should favor the tech debt focus: %v", counts)
	}
}

func TestShouldShiftFocusRates(t *testing.T) {
	rates := map[domain.Difficulty]float64{domain.Easy: 0.05, domain.Normal: 0.1, domain.Hard: 0.15}
	for d, want := range rates {
		r := rng.New(11)
		hits := 0
		const n = 20000
		for i := 0; i < n; i++ {
			if sim.ShouldShiftFocus(&r, d) {
				hits++
			}
		}
		if got := float64(hits) / n; math.Abs(got-want) > 0.02 {
			t.Fatalf("%s shift rate = %v, want about %v", d, got, want)
		}
	}
}

func TestQuarterlyReviewOverrides(t *testing.T) {
	pulse := domain.ProductPulse{Churn: domain.PulsePositive, SupportLoad: domain.PulsePositive, CustomerSentiment: domain.PulsePositive}
	strong := domain.Metrics{TeamSentiment: 75, CEOSentiment: 80, SalesSentiment: 75, CTOSentiment: 75,
		SelfServeGrowth: 60, EnterpriseGrowth: 60, TechDebt: 20, NPS: 70}
	review := sim.QuarterlyReview(1, strong, pulse, domain.QuarterStats{Committed: 4, Aligned: 3})
	if review.Rating != domain.RatingStrong || review.RawScore != 100 {
		t.Fatalf("strong quarter = %s/%d", review.Rating, review.RawScore)
	}
	if review.Factors["alignment_ratio"] != 0.75 {
		t.Fatalf("alignment ratio factor = %v", review.Factors["alignment_ratio"])
	}

	crisis := strong
	crisis.SalesSentiment, crisis.CTOSentiment = 30, 30
	review = sim.QuarterlyReview(2, crisis, pulse, domain.QuarterStats{})
	if review.Rating != domain.RatingBelowExpectations {
		t.Fatalf("two unhappy stakeholders should force below expectations, got %s", review.Rating)
	}
	if review.Factors["stakeholder_crisis_penalty"] != -10 {
		t.Fatalf("crisis penalty = %v", review.Factors["stakeholder_crisis_penalty"])
	}

	burnt := strong
	burnt.TechDebt, burnt.TeamSentiment = 80, 39
	review = sim.QuarterlyReview(3, burnt, pulse, domain.QuarterStats{})
	if review.Rating != domain.RatingMixed {
		t.Fatalf("high debt and low morale should cap at mixed, got %s (%d)", review.Rating, review.RawScore)
	}
}

func TestProductPulse(t *testing.T) {
	p := sim.DeriveProductPulse(domain.Metrics{NPS: 70, SelfServeGrowth: 60, TechDebt: 30}, false, true)
	if p.Churn != domain.PulsePositive || p.SupportLoad != domain.PulsePositive || p.CustomerSentiment != domain.PulsePositive {
		t.Fatalf("pulse = %+v", p)
	}
	p = sim.DeriveProductPulse(domain.Metrics{NPS: 50, SelfServeGrowth: 40, EnterpriseGrowth: 40, TechDebt: 30}, true, false)
	if p.SupportLoad != domain.PulseConcerning || p.Churn != domain.PulseMixed {
		t.Fatalf("pulse = %+v", p)
	}
}

func TestYearEndFlatScores(t *testing.T) {
	for seed := int32(0); seed < 500; seed++ {
		r := rng.New(seed)
		y := sim.YearEndReview(domain.Easy, []int{90, 90, 90, 90}, &r)
		if y.RawComposite != 79 {
			t.Fatalf("composite = %d, want 79", y.RawComposite)
		}
		if y.CalibrationModifier < -5 || y.CalibrationModifier > 8 {
			t.Fatalf("easy modifier out of range: %d", y.CalibrationModifier)
		}
		if y.FinalScore < 73 {
			t.Fatalf("seed %d: final = %d, want >= 73", seed, y.FinalScore)
		}
	}
}

func TestYearEndPadsAndTrajectory(t *testing.T) {
	r := rng.New(1)
	y := sim.YearEndReview(domain.Normal, []int{40, 50}, &r)
	if !reflect.DeepEqual(y.QuarterlyScores, []int{40, 50, 50, 50}) {
		t.Fatalf("scores = %v", y.QuarterlyScores)
	}
	r = rng.New(1)
	up := sim.YearEndReview(domain.Normal, []int{20, 40, 60, 80}, &r)
	// avg 50, improving 90, spread 60 -> consistency 20.
	if up.RawComposite != 53 {
		t.Fatalf("improving composite = %d, want 53", up.RawComposite)
	}
}

func TestRollHijacks(t *testing.T) {
	m := domain.Metrics{SalesSentiment: 10, CTOSentiment: 20, CEOSentiment: 5}
	seenCEO := false
	for seed := int32(0); seed < 300; seed++ {
		r := rng.New(seed)
		got := sim.RollHijacks(m, domain.FocusEnterprise, &r)
		if len(got) > 2 {
			t.Fatalf("seed %d: %d hijacks", seed, len(got))
		}
		for _, h := range got {
			if h.Stakeholder == domain.CTOSentiment {
				t.Fatalf("seed %d: the third-unhappiest stakeholder should not roll", seed)
			}
			if h.Stakeholder == domain.CEOSentiment {
				seenCEO = true
				if h.Category != domain.EnterpriseFeature {
					t.Fatalf("ceo hijack category = %s", h.Category)
				}
			}
		}
	}
	if !seenCEO {
		t.Fatalf("expected at least one ceo hijack")
	}
	r := rng.New(1)
	if got := sim.RollHijacks(sim.BaseMetrics(domain.Normal), domain.FocusSelfServe, &r); len(got) != 0 || r.State() != 1 {
		t.Fatalf("healthy stakeholders should not roll")
	}
}

func TestModifiersTick(t *testing.T) {
	log := []domain.LogEntry{
		{Kind: domain.LogCapacityModifier, CapacityDelta: -4, Remaining: 2},
		{Kind: domain.LogForcedTicket, Category: domain.SalesRequest, Remaining: 1},
		{Kind: domain.LogEvent, EventID: "x"},
	}
	capDelta, forced := sim.ActiveModifiers(log)
	if capDelta != -4 || len(forced) != 1 {
		t.Fatalf("active = %d %v", capDelta, forced)
	}
	sim.TickModifiers(log)
	capDelta, forced = sim.ActiveModifiers(log)
	if capDelta != -4 || len(forced) != 0 {
		t.Fatalf("after one tick = %d %v", capDelta, forced)
	}
	sim.TickModifiers(log)
	if capDelta, _ = sim.ActiveModifiers(log); capDelta != 0 {
		t.Fatalf("modifier should expire, got %d", capDelta)
	}
}

func TestRetroNarrative(t *testing.T) {
	yes := true
	cat := sim.Catalog{Narratives: []domain.NarrativeTemplate{
		{ID: "a", Group: domain.GroupSprintRetro, SuccessBucket: "all", Text: "Clean sweep: {successes}/{total}."},
		{ID: "b", Group: domain.GroupSprintRetro, HasCatastrophe: &yes, Text: "Fire drill with {failures} misses."},
	}}
	r := rng.New(1)
	if got := sim.RetroNarrative(cat, &r, 3, 3, false, false); got != "Clean sweep: 3/3." {
		t.Fatalf("all bucket = %q", got)
	}
	if got := sim.RetroNarrative(cat, &r, 1, 3, true, false); got != "Fire drill with 2 misses." {
		t.Fatalf("catastrophe = %q", got)
	}
	want := "Sprint resolved. 1 of 3 tickets landed with some impact. 2 slipped or failed."
	if got := sim.RetroNarrative(cat, &r, 1, 3, false, false); got != want {
		t.Fatalf("fallback = %q", got)
	}
	if sim.Label("meets_expectations_strong") != "Meets Expectations Strong" {
		t.Fatalf("label = %q", sim.Label("meets_expectations_strong"))
	}
}

func TestInitialMetrics(t *testing.T) {
	base := sim.BaseMetrics(domain.Hard)
	a, b := rng.New(42), rng.New(42)
	m := sim.InitialMetrics(domain.Hard, &a)
	if !reflect.DeepEqual(m, sim.InitialMetrics(domain.Hard, &b)) {
		t.Fatalf("initial metrics not deterministic")
	}
	if m.Velocity != 20 {
		t.Fatalf("velocity = %d", m.Velocity)
	}
	for _, k := range domain.BoundedKeys {
		v, _ := m.Get(k)
		bv, _ := base.Get(k)
		if float64(v) < math.Floor(float64(bv)*0.75) || float64(v) > math.Ceil(float64(bv)*1.25) {
			t.Fatalf("%s = %d outside ±25%% of %d", k, v, bv)
		}
	}
}

// playGreedy commits mandatory tickets plus whatever fits until the game ends.
func playGreedy(t *testing.T, seed int32, cat sim.Catalog) []sim.CommitResult {
	t.Helper()
	g, s := sim.NewGame(sim.NewGameOptions{ID: "g1", Difficulty: domain.Normal, Seed: seed, RandomizeStart: true}, cat)
	var results []sim.CommitResult
	for i := 0; i < 12 && !g.Status.Finished(); i++ {
		var ids []string
		effort := s.MandatoryEffort()
		for _, tk := range s.Backlog {
			if tk.IsMandatory {
				ids = append(ids, tk.ID)
				continue
			}
			if effort+tk.Effort <= s.EffectiveCapacity {
				effort += tk.Effort
				ids = append(ids, tk.ID)
			}
		}
		res, err := sim.Commit(g, s, sim.CommitRequest{TicketIDs: ids}, cat)
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		results = append(results, res)
		g = res.Game
		if res.NextSprint != nil {
			s = *res.NextSprint
		}
	}
	if !g.Status.Finished() {
		t.Fatalf("game still %s after 12 commits", g.Status)
	}
	return results
}

func TestFullGameDeterministic(t *testing.T) {
	cat := testCatalog()
	first := playGreedy(t, 12345, cat)
	second := playGreedy(t, 12345, cat)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same seed produced different games")
	}
	last := first[len(first)-1].Game
	if last.Status == domain.GameCompleted {
		if len(first) != 12 || last.YearEnd == nil || len(last.QuarterlyScores) != 4 {
			t.Fatalf("completed game: %d commits, year end %v, scores %v", len(first), last.YearEnd, last.QuarterlyScores)
		}
	}
	for _, res := range first {
		for _, k := range domain.BoundedKeys {
			if v, _ := res.Game.Metrics.Get(k); v < 0 || v > 100 {
				t.Fatalf("%s out of range: %d", k, v)
			}
		}
		if res.NextSprint != nil && res.NextSprint.MandatoryEffort() > res.NextSprint.EffectiveCapacity {
			t.Fatalf("mandatory effort exceeds capacity")
		}
	}
}

func TestCommitDoesNotMutateInput(t *testing.T) {
	cat := testCatalog()
	g, s := sim.NewGame(sim.NewGameOptions{ID: "g", Seed: 9}, cat)
	before := g
	beforeLog := len(g.Log)
	if _, err := sim.Commit(g, s, sim.CommitRequest{TicketIDs: []string{s.Backlog[0].ID}}, cat); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if g.RNGState != before.RNGState || g.Metrics != before.Metrics || len(g.Log) != beforeLog || s.Retro != nil {
		t.Fatalf("commit mutated its inputs")
	}
}

func TestCommitValidation(t *testing.T) {
	cat := testCatalog()
	g, s := sim.NewGame(sim.NewGameOptions{ID: "g", Seed: 4}, cat)

	_, err := sim.Commit(g, s, sim.CommitRequest{TicketIDs: []string{"nope"}}, cat)
	var inErr *sim.InputError
	if !errors.As(err, &inErr) || inErr.Code != sim.CodeNoTickets || !errors.Is(err, sim.ErrInvalidSelection) {
		t.Fatalf("unknown ids: %v", err)
	}

	var all []string
	for _, tk := range s.Backlog {
		all = append(all, tk.ID)
	}
	_, err = sim.Commit(g, s, sim.CommitRequest{TicketIDs: all}, cat)
	if !errors.As(err, &inErr) || inErr.Code != sim.CodeOverCapacity {
		t.Fatalf("whole backlog: %v", err)
	}

	_, err = sim.Commit(g, s, sim.CommitRequest{Sprint: 2, TicketIDs: all[:1]}, cat)
	if !errors.As(err, &inErr) || inErr.Code != sim.CodeSprintMismatch {
		t.Fatalf("stale sprint: %v", err)
	}

	done := g
	done.Status = domain.GameCompleted
	_, err = sim.Commit(done, s, sim.CommitRequest{TicketIDs: all[:1]}, cat)
	if !errors.As(err, &inErr) || inErr.Code != sim.CodeGameFinished {
		t.Fatalf("finished game: %v", err)
	}
}

func TestCommitIncludesMandatory(t *testing.T) {
	cat := testCatalog()
	g, s := sim.NewGame(sim.NewGameOptions{ID: "g", Seed: 4}, cat)
	s.Backlog[1].IsMandatory = true
	res, err := sim.Commit(g, s, sim.CommitRequest{TicketIDs: []string{s.Backlog[0].ID, s.Backlog[0].ID}}, cat)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := len(res.Sprint.Committed); got != 2 {
		t.Fatalf("committed %d tickets, want 2", got)
	}
	if res.Sprint.Committed[1].ID != s.Backlog[1].ID {
		t.Fatalf("mandatory ticket missing from the commit")
	}
	for _, tk := range res.Sprint.Committed {
		if tk.Outcome == "" || tk.OutcomeNarrative == "" {
			t.Fatalf("ticket %s unresolved", tk.ID)
		}
	}
}

func TestCapacityModifierCollapses(t *testing.T) {
	cat := testCatalog()
	cat.Events = []domain.CatalogEvent{{
		ID: "layoffs", Group: domain.GroupRandom, Title: "Layoffs", Probability: 1,
		EffectMap: map[string]int{domain.CapacityKey: -30, "team_sentiment": -10}, Duration: 2,
	}}
	g, s := sim.NewGame(sim.NewGameOptions{ID: "g", Seed: 8}, cat)
	res, err := sim.Commit(g, s, sim.CommitRequest{TicketIDs: []string{s.Backlog[0].ID}}, cat)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !res.Collapsed || res.Game.Status != domain.GameCollapsed || res.NextSprint != nil {
		t.Fatalf("expected collapse, got status %s", res.Game.Status)
	}
	if res.QuarterlyReview == nil || !res.QuarterlyReview.Forced || res.QuarterlyReview.Rating != domain.RatingBelowExpectations {
		t.Fatalf("collapse review = %+v", res.QuarterlyReview)
	}
	if res.Game.Quarter != 1 || res.Game.Sprint != 1 {
		t.Fatalf("collapsed game moved to Q%dS%d", res.Game.Quarter, res.Game.Sprint)
	}
	kinds := map[domain.LogKind]int{}
	for _, e := range res.Game.Log {
		kinds[e.Kind]++
	}
	if kinds[domain.LogEvent] != 1 || kinds[domain.LogCapacityModifier] != 1 || kinds[domain.LogCapacityCollapse] != 1 {
		t.Fatalf("log kinds = %v", kinds)
	}
	if _, err := sim.Commit(res.Game, s, sim.CommitRequest{TicketIDs: []string{s.Backlog[0].ID}}, cat); !errors.Is(err, sim.ErrInvalidSelection) {
		t.Fatalf("commit after collapse: %v", err)
	}
}

func TestThresholdEventFiresOnce(t *testing.T) {
	cat := testCatalog()
	cat.Events = []domain.CatalogEvent{{
		ID: "board_visit", Group: domain.GroupThreshold, Title: "Board visit",
		Condition: "velocity >= 0", EffectMap: map[string]int{"nps": 1},
	}}
	g, s := sim.NewGame(sim.NewGameOptions{ID: "g", Seed: 21}, cat)
	fired := 0
	for i := 0; i < 3 && !g.Status.Finished(); i++ {
		res, err := sim.Commit(g, s, sim.CommitRequest{TicketIDs: []string{s.Backlog[0].ID}}, cat)
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		fired += len(res.Sprint.Retro.Events)
		g = res.Game
		if res.NextSprint != nil {
			s = *res.NextSprint
		}
	}
	if fired != 1 {
		t.Fatalf("threshold event fired %d times, want 1", fired)
	}
}

func TestForcedTicketDirective(t *testing.T) {
	cat := testCatalog()
	cat.Events = []domain.CatalogEvent{{
		ID: "big_deal", Group: domain.GroupRandom, Title: "Big deal", Probability: 1, Quarters: []int{1},
		ForcedTicketCategory: domain.SalesRequest, Duration: 1,
	}}
	g, s := sim.NewGame(sim.NewGameOptions{ID: "g", Seed: 33}, cat)
	res, err := sim.Commit(g, s, sim.CommitRequest{TicketIDs: []string{s.Backlog[0].ID}}, cat)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	next := res.NextSprint
	if next == nil {
		t.Fatalf("expected a next sprint")
	}
	found := false
	for _, tk := range next.Backlog {
		if tk.IsMandatory && tk.Category == domain.SalesRequest {
			found = true
		}
	}
	if !found {
		t.Fatalf("forced sales request missing from %+v", next.Backlog)
	}
}

func TestRandomEventRules(t *testing.T) {
	cat := testCatalog()
	g, _ := sim.NewGame(sim.NewGameOptions{ID: "g", Seed: 5}, cat)
	if g.Quarter != 1 {
		t.Fatalf("new game starts in Q%d", g.Quarter)
	}
	target := domain.FocusEnterprise
	if g.CeoFocus == target {
		target = domain.FocusTechDebt
	}
	cat.Events = []domain.CatalogEvent{
		{ID: "q2only", Group: domain.GroupRandom, Title: "Q2 only", Probability: 1, Quarters: []int{2}, EffectMap: map[string]int{"nps": 5}},
		{ID: "cond", Group: domain.GroupRandom, Title: "Gated", Probability: 1, Condition: "nps > 200", EffectMap: map[string]int{"nps": 5}},
		{ID: "a", Group: domain.GroupRandom, Title: "A", Probability: 1, EffectMap: map[string]int{"nps": 3}},
		{ID: "b", Group: domain.GroupRandom, Title: "B", Probability: 1, EffectMap: map[string]int{"nps": 7}},
		{ID: "shift", Group: domain.GroupThreshold, Title: "Shift", Condition: "velocity >= 0", CeoFocusShift: string(target)},
	}
	from, start := g.CeoFocus, len(g.Log)
	r := rng.New(99)
	entries := sim.RunSprintEvents(&g, cat, &r)

	var got []string
	for _, e := range entries {
		switch e.Kind {
		case domain.LogEvent:
			got = append(got, "event "+e.EventID)
		case domain.LogFocusShift:
			got = append(got, string(e.Kind))
			if e.FocusFrom != from || e.FocusTo != target {
				t.Fatalf("focus shift %s -> %s, want %s -> %s", e.FocusFrom, e.FocusTo, from, target)
			}
		}
	}
	want := []string{"event a", "event shift", "focus_shift"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fired %v, want %v", got, want)
	}
	if g.CeoFocus != target {
		t.Fatalf("focus = %s, want %s", g.CeoFocus, target)
	}
	if len(g.Log)-start != len(entries) {
		t.Fatalf("log grew by %d entries, returned %d", len(g.Log)-start, len(entries))
	}
}
