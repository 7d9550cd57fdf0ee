package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"spool/internal/api"
	"spool/internal/queue"
	"spool/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the publication queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(session queueaccess.Session) error {
				stats, err := session.Access.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, stats)
				}
				if len(stats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(stats))
				for _, status := range queue.AllStatuses() {
					if count, ok := stats[string(status)]; ok && count > 0 {
						rows = append(rows, []string{string(status), strconv.Itoa(count)})
					}
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					rows,
					2,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range listStatuses {
				if _, ok := queue.ParseStatus(s); !ok {
					return fmt.Errorf("unknown status %q", s)
				}
			}
			return ctx.withSession(cmd, func(session queueaccess.Session) error {
				entries, err := session.Access.List(cmd.Context(), listStatuses)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Release", "Status", "Created"},
					buildQueueListRows(entries),
					1,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by queue status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queue entry in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}
			return ctx.withSession(cmd, func(session queueaccess.Session) error {
				entry, err := session.Access.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("entry %d not found", id)
				}
				if jsonOut {
					return writeJSON(cmd, entry)
				}
				printEntryDetail(cmd, entry)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearUploaded bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearUploaded && clearFailed {
				return errors.New("specify only one of --uploaded or --failed")
			}
			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				switch {
				case clearUploaded:
					removed, err := store.ClearUploaded(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d uploaded entries\n", removed)
				case clearFailed:
					removed, err := store.ClearFailed(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d failed entries\n", removed)
				default:
					removed, err := store.Clear(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d entries\n", removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearUploaded, "uploaded", false, "Remove only uploaded entries")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed entries")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var fromStage string
	var priorityFlag string

	cmd := &cobra.Command{
		Use:   "retry <id>...",
		Short: "Re-run entries, optionally rewinding to an earlier stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, ok := queue.ParsePriority(priorityFlag)
			if !ok {
				return fmt.Errorf("unknown priority %q (use high, normal, or low)", priorityFlag)
			}

			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					id, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid entry id %q", arg)
					}
					entry, err := retryEntry(cmd, store, id, fromStage)
					if err != nil {
						return err
					}
					if _, err := store.Enqueue(cmd.Context(), entry.ID, priority); err != nil {
						return fmt.Errorf("enqueue entry %d: %w", id, err)
					}
					fmt.Fprintf(out, "Entry %d re-queued at %s\n", id, entry.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fromStage, "from", "", "Rewind to this stage before re-running (scan, analyze, approve, prepare, rename, generate, upload)")
	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", string(queue.PriorityNormal), "Job priority (high, normal, low)")
	return cmd
}

func retryEntry(cmd *cobra.Command, store *queue.Store, id int64, fromStage string) (*queue.FileEntry, error) {
	if fromStage != "" {
		stage, ok := queue.ParseStage(fromStage)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", fromStage)
		}
		entry, err := store.ResetFromStage(cmd.Context(), id, stage)
		if err != nil {
			return nil, fmt.Errorf("reset entry %d: %w", id, err)
		}
		return entry, nil
	}

	entry, err := store.GetByID(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("entry %d not found", id)
	}
	if entry.Status != queue.StatusFailed {
		return nil, fmt.Errorf("entry %d is %s; use --from <stage> to rewind a non-failed entry", id, entry.Status)
	}

	// A failed entry resumes from the stage after its last checkpoint.
	stage, ok := entry.NextStage()
	if !ok {
		stage = queue.StageUpload
	}
	return store.ResetFromStage(cmd.Context(), id, stage)
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>...",
		Short: "Cancel queued or running jobs for entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					id, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid entry id %q", arg)
					}
					job, err := store.ActiveJobForEntry(cmd.Context(), id)
					if err != nil {
						return err
					}
					if job == nil {
						return fmt.Errorf("entry %d has no active job", id)
					}
					updated, err := store.RequestCancel(cmd.Context(), job.ID)
					if err != nil {
						return err
					}
					if updated.State == queue.JobCancelled {
						if err := store.MarkCancelled(cmd.Context(), id, "cancelled by operator"); err != nil {
							return err
						}
						fmt.Fprintf(out, "Entry %d cancelled\n", id)
					} else {
						fmt.Fprintf(out, "Cancellation requested for entry %d; the worker stops at the next stage boundary\n", id)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show queue and stage health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(session queueaccess.Session) error {
				health, err := session.Access.Health(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, health)
				}
				out := cmd.OutOrStdout()
				if health.Healthy {
					fmt.Fprintln(out, "Healthy")
				} else {
					fmt.Fprintln(out, "Unhealthy")
				}
				for _, st := range health.Stages {
					state := "ready"
					if !st.Ready {
						state = "not ready"
						if st.Detail != "" {
							state += ": " + st.Detail
						}
					}
					fmt.Fprintf(out, "  %-10s %s\n", st.Name, state)
				}
				q := health.Queue
				fmt.Fprintf(out, "Entries: %d total, %d pending, %d in flight, %d uploaded, %d failed, %d cancelled\n",
					q.Total, q.Pending, q.InFlight, q.Uploaded, q.Failed, q.Cancelled)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func buildQueueListRows(entries []api.QueueEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		title := entry.ReleaseName
		if title == "" {
			title = entry.Path
		}
		rows = append(rows, []string{
			strconv.FormatInt(entry.ID, 10),
			title,
			entry.Status,
			entry.CreatedAt.Local().Format(time.RFC3339),
		})
	}
	return rows
}

func printEntryDetail(cmd *cobra.Command, entry *api.QueueEntry) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Entry %d\n", entry.ID)
	fmt.Fprintf(out, "  Path:    %s\n", entry.Path)
	fmt.Fprintf(out, "  Status:  %s\n", entry.Status)
	if entry.ReleaseName != "" {
		fmt.Fprintf(out, "  Release: %s\n", entry.ReleaseName)
	}
	if entry.OutputPath != "" {
		fmt.Fprintf(out, "  Output:  %s\n", entry.OutputPath)
	}
	if entry.NFOPath != "" {
		fmt.Fprintf(out, "  NFO:     %s\n", entry.NFOPath)
	}
	if entry.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:   [%s] %s\n", entry.ErrorKind, entry.ErrorMessage)
	}

	if len(entry.Checkpoints) > 0 {
		fmt.Fprintln(out, "  Checkpoints:")
		names := make([]string, 0, len(entry.Checkpoints))
		for name := range entry.Checkpoints {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			return entry.Checkpoints[names[i]].Before(entry.Checkpoints[names[j]])
		})
		for _, name := range names {
			fmt.Fprintf(out, "    %-10s %s\n", name, entry.Checkpoints[name].Local().Format(time.RFC3339))
		}
	}

	if len(entry.TrackerResults) > 0 {
		fmt.Fprintln(out, "  Trackers:")
		for _, result := range entry.TrackerResults {
			line := fmt.Sprintf("    %-12s %s", result.Tracker, result.Status)
			if result.Detail != "" {
				line += " (" + result.Detail + ")"
			}
			fmt.Fprintln(out, line)
		}
	}
}
