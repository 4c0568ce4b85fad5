package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pmsim/internal/app"
	"pmsim/internal/catalog"
	"pmsim/internal/sim"
)

func catalogCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "catalog",
		Short: "Validate, seed and inspect the ticket and event catalog",
		Long:  "The catalog is the content games draw from: ticket templates, random/threshold/focus-shift events and retro narratives. A directory of tickets, events and narratives files (.json, .yml or .yaml) overrides the embedded defaults.",
	}
	c.AddCommand(catalogValidateCmd())
	c.AddCommand(catalogSeedCmd())
	c.AddCommand(catalogShowCmd())
	return c
}

func loadCatalog(dir string) (sim.Catalog, error) {
	if dir == "" {
		return catalog.Default()
	}
	return catalog.LoadDir(dir)
}

func catalogValidateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate catalog documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if dir == "" {
				_, err = catalog.Default()
			} else {
				var docs catalog.Documents
				if docs, err = catalog.ReadDir(dir); err == nil {
					err = catalog.Validate(docs)
				}
			}
			var verr *catalog.ValidationError
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if errors.As(err, &verr) {
					out["problems"] = verr.Problems
				} else if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if errors.As(err, &verr) {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Document", "Path", "Problem"})
				for _, p := range verr.Problems {
					tw.AppendRow(table.Row{p.Doc, p.Path, p.Message})
				}
				tw.Render()
				return fmt.Errorf("%d catalog problems", len(verr.Problems))
			}
			if err != nil {
				return err
			}
			fmt.Println("catalog OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "catalog directory (default: embedded catalog)")
	return cmd
}

func catalogSeedCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store a catalog in the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(dir)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Engine.SeedCatalog(ctx, cat, player())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Table", "Inserted", "Updated", "Unchanged", "Removed"})
				tw.AppendRow(table.Row{"tickets", stats.Tickets.Inserted, stats.Tickets.Updated, stats.Tickets.Unchanged, stats.Tickets.Removed})
				tw.AppendRow(table.Row{"events", stats.Events.Inserted, stats.Events.Updated, stats.Events.Unchanged, stats.Events.Removed})
				tw.AppendRow(table.Row{"narratives", stats.Narratives.Inserted, stats.Narratives.Updated, stats.Narratives.Unchanged, stats.Narratives.Removed})
				tw.Render()
				fmt.Printf("catalog %s seeded\n", stats.Digest)
				if a.Config.Catalog.Dir != "" {
					fmt.Fprintf(os.Stderr, "note: config catalog.dir=%s takes precedence over the stored catalog\n", a.Config.Catalog.Dir)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "catalog directory (default: embedded catalog)")
	return cmd
}

func catalogShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the catalog games in this workspace use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cat := a.Engine.Catalog
				digest, err := catalog.Digest(cat)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"source": a.CatalogSource, "digest": digest, "catalog": cat})
				}
				fmt.Printf("source %s, digest %s\n", a.CatalogSource, digest)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Ticket", "Title", "Category", "Effort", "Primary"})
				for _, t := range cat.Tickets {
					tw.AppendRow(table.Row{t.ID, t.Title, sim.Label(string(t.Category)), t.Effort, t.PrimaryMetric})
				}
				tw.Render()
				ev := table.NewWriter()
				ev.SetOutputMirror(os.Stdout)
				ev.AppendHeader(table.Row{"Event", "Group", "Title", "Condition", "Probability"})
				for _, e := range cat.Events {
					ev.AppendRow(table.Row{e.ID, e.Group, e.Title, e.Condition, e.Probability})
				}
				ev.Render()
				return nil
			})
		},
	}
	return cmd
}
