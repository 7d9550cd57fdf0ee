package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/pipeline"
	"spool/internal/services/prowlarr"
	"spool/internal/services/registry"
	"spool/internal/trackers"
)

func newTrackerCommand(ctx *commandContext) *cobra.Command {
	trackerCmd := &cobra.Command{
		Use:   "tracker",
		Short: "Inspect configured trackers",
	}

	trackerCmd.AddCommand(newTrackerListCommand(ctx))
	trackerCmd.AddCommand(newTrackerTestCommand(ctx))

	return trackerCmd
}

func newTrackerListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured trackers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if len(cfg.Trackers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No trackers configured")
				return nil
			}
			rows := make([][]string, 0, len(cfg.Trackers))
			for _, tc := range cfg.Trackers {
				schema, err := trackers.LoadSchema(tc.SchemaPath)
				if err != nil {
					return fmt.Errorf("load schema %s: %w", tc.SchemaPath, err)
				}
				enabled := "yes"
				if !tc.IsEnabled() {
					enabled = "no"
				}
				rows = append(rows, []string{
					schema.Tracker.Slug,
					schema.Tracker.Name,
					schema.Tracker.BaseURL,
					enabled,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Slug", "Name", "URL", "Enabled"},
				rows,
			))
			return nil
		},
	}
}

func newTrackerTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test <slug>",
		Short: "Verify a tracker's credentials and Prowlarr wiring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := strings.ToLower(strings.TrimSpace(args[0]))
			cfg := ctx.configValue()
			out := cmd.OutOrStdout()

			target, schema, err := findTrackerTarget(ctx, cfg, slug)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Testing %s (%s)...\n", schema.Tracker.Name, schema.Tracker.BaseURL)
			if err := target.Client.Authenticate(cmd.Context()); err != nil {
				return fmt.Errorf("authenticate against %s: %w", slug, err)
			}
			fmt.Fprintln(out, "Authentication OK")

			if cfg.Prowlarr.URL != "" {
				reg, err := registry.New(cfg, nil, logging.NewNop())
				if err != nil {
					return err
				}
				hints := prowlarrHints(schema)
				indexer, err := reg.Prowlarr.TestIndexer(cmd.Context(), hints)
				if err != nil {
					return fmt.Errorf("prowlarr indexer check: %w", err)
				}
				fmt.Fprintf(out, "Prowlarr indexer OK: %s (id %d)\n", indexer.Name, indexer.ID)
			}
			return nil
		},
	}
}

func findTrackerTarget(ctx *commandContext, cfg *config.Config, slug string) (*pipeline.Target, *trackers.Schema, error) {
	reg, err := registry.New(cfg, nil, logging.NewNop())
	if err != nil {
		return nil, nil, err
	}
	targets, err := pipeline.BuildTargets(cfg, reg, logging.NewNop())
	if err != nil {
		return nil, nil, err
	}
	for i := range targets {
		if targets[i].Client.Slug() == slug {
			return &targets[i], targets[i].Client.Schema(), nil
		}
	}
	return nil, nil, fmt.Errorf("tracker %q is not configured or not enabled", slug)
}

func prowlarrHints(schema *trackers.Schema) prowlarr.Hints {
	hints := prowlarr.Hints{
		Name: schema.Prowlarr.IndexerName,
	}
	if hints.Name == "" {
		hints.Name = schema.Tracker.Name
	}
	if parsed, err := url.Parse(schema.Tracker.BaseURL); err == nil {
		hints.Host = parsed.Hostname()
	}
	return hints
}
