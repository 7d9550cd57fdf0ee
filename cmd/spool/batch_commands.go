package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"spool/internal/batch"
	"spool/internal/logging"
	"spool/internal/queue"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Queue and track groups of files",
	}

	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	batchCmd.AddCommand(newBatchStatusCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchCancelCommand(ctx))

	return batchCmd
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var nameFlag string
	var priorityFlag string
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "create <file-or-dir>...",
		Short: "Create a batch from files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, ok := queue.ParsePriority(priorityFlag)
			if !ok {
				return fmt.Errorf("unknown priority %q (use high, normal, or low)", priorityFlag)
			}
			paths, err := collectBatchPaths(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no media files found under the given paths")
			}

			name := strings.TrimSpace(nameFlag)
			if name == "" {
				name = filepath.Base(paths[0])
				if len(paths) > 1 {
					name = fmt.Sprintf("%s (+%d more)", name, len(paths)-1)
				}
			}

			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				controller := batch.NewController(store, logging.NewNop())
				created, err := controller.CreateBatch(cmd.Context(), name, paths, priority, limitFlag)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Batch %d created: %d files, concurrency %d\n",
					created.ID, created.Total, created.ConcurrencyLimit)
				fmt.Fprintln(out, "Feeding jobs to the daemon; this command runs until the batch drains (Ctrl-C leaves unfed members cancelled).")

				if err := controller.Wait(cmd.Context(), created.ID); err != nil {
					return err
				}
				progress, err := controller.Progress(cmd.Context(), created.ID)
				if err != nil {
					return err
				}
				b := progress.Batch
				fmt.Fprintf(out, "Batch %d %s: %d succeeded, %d failed, %d cancelled\n",
					b.ID, b.State, b.Succeeded, b.Failed, b.Cancelled)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Batch display name")
	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", string(queue.PriorityNormal), "Job priority (high, normal, low)")
	cmd.Flags().IntVarP(&limitFlag, "limit", "l", 1, "Maximum batch jobs in flight at once")
	return cmd
}

func newBatchStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show batch progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid batch id %q", args[0])
			}
			return ctx.withStore(func(store *queue.Store) error {
				controller := batch.NewController(store, logging.NewNop())
				progress, err := controller.Progress(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, progress)
				}
				b := progress.Batch
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Batch %d: %s (%s)\n", b.ID, b.Name, b.State)
				fmt.Fprintf(out, "  Total:     %d\n", b.Total)
				fmt.Fprintf(out, "  Succeeded: %d\n", b.Succeeded)
				fmt.Fprintf(out, "  Failed:    %d\n", b.Failed)
				fmt.Fprintf(out, "  Cancelled: %d\n", b.Cancelled)
				fmt.Fprintf(out, "  Running:   %d\n", progress.Running)
				fmt.Fprintf(out, "  Pending:   %d\n", progress.Pending)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				batches, err := store.ListBatches(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, batches)
				}
				if len(batches) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No batches")
					return nil
				}
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					rows = append(rows, []string{
						strconv.FormatInt(b.ID, 10),
						b.Name,
						string(b.State),
						fmt.Sprintf("%d/%d", b.Succeeded+b.Failed+b.Cancelled, b.Total),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "State", "Settled"},
					rows,
					1, 4,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newBatchCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a batch and its outstanding jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid batch id %q", args[0])
			}
			return ctx.withStore(func(store *queue.Store) error {
				controller := batch.NewController(store, logging.NewNop())
				if err := controller.CancelBatch(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %d cancelled; running jobs stop at the next stage boundary\n", id)
				return nil
			})
		},
	}
}

var mediaExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".m2ts": {}, ".ts": {}, ".mov": {}, ".wmv": {},
}

func collectBatchPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		abs, err := filepath.Abs(strings.TrimSpace(arg))
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", arg, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", abs, err)
		}
		if !info.IsDir() {
			paths = append(paths, abs)
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", abs, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if _, ok := mediaExtensions[ext]; ok {
				paths = append(paths, filepath.Join(abs, entry.Name()))
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}
