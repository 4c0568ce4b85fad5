package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pmsim/internal/archive"
	"pmsim/internal/domain"
	"pmsim/internal/engine"
	"pmsim/internal/repo"
	"pmsim/internal/sim"
)

func gameCmd() *cobra.Command {
	g := &cobra.Command{
		Use:   "game",
		Short: "Play and inspect games",
		Long:  "A game is one year of sprints. Start one with 'game new', read the backlog with 'game sprint', then 'game commit' ticket ids until the year-end review.",
	}
	g.AddCommand(gameNewCmd())
	g.AddCommand(gameListCmd())
	g.AddCommand(gameShowCmd())
	g.AddCommand(gameSprintCmd())
	g.AddCommand(gameCommitCmd())
	g.AddCommand(gameReviewsCmd())
	g.AddCommand(gameExportCmd())
	g.AddCommand(gameImportCmd())
	return g
}

func gameNewCmd() *cobra.Command {
	var difficulty string
	var seed int32
	var randomize bool
	var name string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts := engine.NewGameOptions{
					PlayerID:   player(),
					PlayerName: name,
					Difficulty: domain.Difficulty(difficulty),
				}
				if cmd.Flags().Changed("seed") {
					opts.Seed = &seed
				}
				if cmd.Flags().Changed("randomize-start") {
					opts.RandomizeStart = &randomize
				}
				g, s, err := e.NewGame(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"game": g, "sprint": s})
				}
				fmt.Printf("Game %s (%s, seed %d). CEO focus: %s\n", g.ID, g.Difficulty, g.Seed, sim.Label(string(g.CeoFocus)))
				renderMetrics(g)
				renderSprint(s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "easy, normal or hard (default from config)")
	cmd.Flags().Int32Var(&seed, "seed", 0, "seed for a reproducible game")
	cmd.Flags().BoolVar(&randomize, "randomize-start", false, "randomize starting metrics")
	cmd.Flags().StringVar(&name, "name", "", "player display name")
	return cmd
}

func gameListCmd() *cobra.Command {
	var state string
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List games",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				playerID := player()
				if all {
					playerID = ""
				}
				games, err := e.ListGames(ctx, playerID, domain.GameStatus(state), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(games)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Player", "Difficulty", "State", "Turn", "Scores", "Final"})
				for _, g := range games {
					final := ""
					if g.YearEnd != nil {
						final = sim.Label(string(g.YearEnd.FinalRating))
					}
					tw.AppendRow(table.Row{g.ID, g.PlayerID, g.Difficulty, g.Status, fmt.Sprintf("Q%dS%d", g.Quarter, g.Sprint), fmt.Sprint(g.QuarterlyScores), final})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter (in_progress, completed, collapsed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum games")
	cmd.Flags().BoolVar(&all, "all", false, "include every player's games")
	return cmd
}

func gameShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <game-id>",
		Short: "Show game state and metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				g, err := e.GetGame(ctx, args[0], "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("Game %s: %s at Q%d sprint %d, CEO focus %s\n", g.ID, g.Status, g.Quarter, g.Sprint, sim.Label(string(g.CeoFocus)))
				renderMetrics(g)
				if len(g.Log) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Turn", "Kind", "Event", "Effects"})
					for _, l := range g.Log {
						tw.AppendRow(table.Row{fmt.Sprintf("Q%dS%d", l.Quarter, l.Sprint), l.Kind, l.Title, formatDeltas(l.Effects)})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	return cmd
}

func gameSprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sprint <game-id>",
		Short: "Show the open sprint backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.ActiveSprint(ctx, args[0], "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderSprint(s)
				return nil
			})
		},
	}
	return cmd
}

func gameCommitCmd() *cobra.Command {
	var quarter, sprint int
	cmd := &cobra.Command{
		Use:   "commit <game-id> <ticket-id>...",
		Short: "Commit tickets and resolve the sprint",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.CommitSprint(ctx, engine.CommitOptions{
					GameID:    args[0],
					Quarter:   quarter,
					Sprint:    sprint,
					TicketIDs: args[1:],
					ActorID:   player(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderCommit(res)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&quarter, "quarter", 0, "expected quarter (rejects a stale commit)")
	cmd.Flags().IntVar(&sprint, "sprint", 0, "expected sprint number")
	return cmd
}

func gameReviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews <game-id>",
		Short: "List quarterly and year-end reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				reviews, err := e.Reviews(ctx, args[0], "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reviews)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Quarter", "Score", "Rating", "Narrative"})
				for _, r := range reviews {
					narrative := ""
					switch r.Kind {
					case repo.ReviewQuarterly:
						if q, err := r.Quarterly(); err == nil {
							narrative = q.Narrative
						}
					case repo.ReviewYearEnd:
						if y, err := r.YearEnd(); err == nil {
							narrative = y.Narrative
						}
					}
					tw.AppendRow(table.Row{r.Kind, r.Quarter, r.Score, sim.Label(r.Rating), narrative})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func gameExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <game-id>",
		Short: "Export a game archive (" + archive.Ext + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				target := out
				if target == "" {
					target = args[0] + archive.Ext
				}
				var w io.Writer = os.Stdout
				if target != "-" {
					f, err := os.Create(target)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if err := e.Export(ctx, args[0], "", w); err != nil {
					return err
				}
				if target != "-" {
					fmt.Fprintf(os.Stderr, "exported %s to %s\n", args[0], target)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (- for stdout)")
	return cmd
}

func gameImportCmd() *cobra.Command {
	var asPlayer string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a game archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				g, err := e.Import(ctx, r, engine.ImportOptions{PlayerID: asPlayer, ActorID: player()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("imported game %s (%s, Q%dS%d)\n", g.ID, g.Status, g.Quarter, g.Sprint)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asPlayer, "as-player", "", "reassign the game to this player")
	return cmd
}

// --- rendering ---

func renderMetrics(g domain.Game) {
	targets := metricMap(g.Targets)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Metric", "Value", "Target"})
	for _, k := range append(append([]domain.MetricKey{}, domain.BoundedKeys...), domain.Velocity) {
		v, _ := g.Metrics.Get(k)
		target := ""
		if t, ok := targets[string(k)]; ok {
			target = fmt.Sprint(t)
		}
		tw.AppendRow(table.Row{sim.Label(string(k)), v, target})
	}
	tw.Render()
}

func renderSprint(s domain.Sprint) {
	fmt.Printf("Q%d sprint %d: capacity %d (stretch %d), CEO focus %s\n", s.Quarter, s.Number, s.EffectiveCapacity, s.StretchCapacity, sim.Label(string(s.CeoFocus)))
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Category", "Effort", "CEO", "Mandatory"})
	for _, t := range s.Backlog {
		tw.AppendRow(table.Row{t.ID, t.Title, sim.Label(string(t.Category)), t.Effort, mark(t.CeoAligned), mark(t.IsMandatory)})
	}
	tw.Render()
}

func renderCommit(res sim.CommitResult) {
	if retro := res.Sprint.Retro; retro != nil {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Ticket", "Effort", "Outcome", "Impact"})
		for _, t := range retro.TicketOutcomes {
			tw.AppendRow(table.Row{t.Title, t.Effort, sim.Label(string(t.Outcome)), formatDeltas(t.MetricImpacts)})
		}
		tw.Render()
		fmt.Printf("Effort %d of %d", retro.TotalEffort, res.Sprint.EffectiveCapacity)
		if retro.Overbooked {
			fmt.Print(" (overbooked)")
		}
		fmt.Println()
		fmt.Println(retro.Narrative)
		for _, l := range retro.Events {
			fmt.Printf("  event: %s %s\n", l.Title, formatDeltas(l.Effects))
		}
	}
	if q := res.QuarterlyReview; q != nil {
		fmt.Printf("\nQ%d review: %d (%s)\n%s\n", q.Quarter, q.RawScore, sim.Label(string(q.Rating)), q.Narrative)
	}
	if res.Collapsed {
		fmt.Println("\nThe team collapsed. Game over.")
	}
	if y := res.YearEndReview; y != nil {
		fmt.Printf("\nYear-end: %d (%s)\n%s\n", y.FinalScore, sim.Label(string(y.FinalRating)), y.Narrative)
	}
	if res.NextSprint != nil {
		fmt.Println()
		renderSprint(*res.NextSprint)
	}
}

func formatDeltas(m map[domain.MetricKey]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s%+d", k, m[domain.MetricKey(k)])
	}
	return out
}

func metricMap(v any) map[string]int {
	out := map[string]int{}
	b, err := json.Marshal(v)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
