package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"spool/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var priorityFlag string

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Queue media files for publication",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, ok := queue.ParsePriority(priorityFlag)
			if !ok {
				return fmt.Errorf("unknown priority %q (use high, normal, or low)", priorityFlag)
			}

			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					path, err := resolveMediaPath(arg)
					if err != nil {
						return err
					}
					entry, err := store.AddFile(cmd.Context(), path)
					if err != nil {
						return fmt.Errorf("register %s: %w", path, err)
					}
					if _, err := store.Enqueue(cmd.Context(), entry.ID, priority); err != nil {
						return fmt.Errorf("enqueue %s: %w", path, err)
					}
					fmt.Fprintf(out, "Queued %s (entry %d, priority %s)\n", filepath.Base(path), entry.ID, priority)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", string(queue.PriorityNormal), "Job priority (high, normal, low)")
	return cmd
}

func resolveMediaPath(arg string) (string, error) {
	trimmed := strings.TrimSpace(arg)
	if trimmed == "" {
		return "", fmt.Errorf("file path is required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", arg, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory; queue individual files or use `spool batch create`", abs)
	}
	return abs, nil
}
