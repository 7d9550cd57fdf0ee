package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"spool/internal/queue"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var priorityFlag string

	cmd := &cobra.Command{
		Use:   "approve <id>...",
		Short: "Approve entries parked for manual review",
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
					entry, err := store.GetByID(cmd.Context(), id)
					if err != nil {
						return err
					}
					if entry == nil {
						return fmt.Errorf("entry %d not found", id)
					}
					if entry.Status != queue.StatusAnalyzed {
						return fmt.Errorf("entry %d is %s; only analyzed entries await approval", id, entry.Status)
					}
					if err := store.UpdateWithCheckpoint(cmd.Context(), entry, queue.StageApprove, nil); err != nil {
						return fmt.Errorf("approve entry %d: %w", id, err)
					}
					if _, err := store.Enqueue(cmd.Context(), entry.ID, priority); err != nil {
						return fmt.Errorf("re-enqueue entry %d: %w", id, err)
					}
					fmt.Fprintf(out, "Approved entry %d; resuming pipeline\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", string(queue.PriorityNormal), "Priority for the resumed job")
	return cmd
}
