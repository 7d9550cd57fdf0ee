package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"spool/internal/queueaccess"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			client := ctx.apiClient()
			if client != nil && client.Ping(cmd.Context()) {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				fmt.Fprintf(out, "Daemon:   running (pid %d)\n", status.PID)
				if !status.StartedAt.IsZero() {
					fmt.Fprintf(out, "Uptime:   %s\n", time.Since(status.StartedAt).Round(time.Second))
				}
				if status.LastError != "" {
					fmt.Fprintf(out, "Last error: %s\n", status.LastError)
				}
				fmt.Fprintf(out, "Database: %s\n", status.QueueDBPath)
				printCountTable(cmd, "Entries", status.Entries)
				printCountTable(cmd, "Jobs", status.Jobs)
				if len(status.Dependencies) > 0 {
					fmt.Fprintln(out, "Dependencies:")
					for _, dep := range status.Dependencies {
						state := "available"
						if !dep.Available {
							state = "missing"
							if dep.Optional {
								state = "missing (optional)"
							}
						}
						fmt.Fprintf(out, "  %-10s %s\n", dep.Name, state)
					}
				}
				return nil
			}

			// No daemon; report what the store alone can tell.
			session, err := queueaccess.OpenStore(ctx.openStore)
			if err != nil {
				return err
			}
			defer session.Close()

			stats, err := session.Access.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, map[string]any{"running": false, "entries": stats})
			}
			fmt.Fprintln(out, "Daemon:   not running")
			printCountTable(cmd, "Entries", stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func printCountTable(cmd *cobra.Command, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(counts[key])})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", title)
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]string{"State", "Count"},
		rows,
		2,
	))
}
