package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRoundStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "round-status [round-id]",
		Short: "Re-resolve the status of one round, or of every round",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx := cmd.Context()
			var ids []string
			if len(args) == 1 {
				ids = args
			} else {
				rounds, err := rt.service.Repository().ListRounds(ctx)
				if err != nil {
					return fmt.Errorf("list rounds: %w", err)
				}
				for _, r := range rounds {
					ids = append(ids, r.ID)
				}
			}
			var failed int
			for _, id := range ids {
				round, _, err := rt.service.RefreshRoundStatus(ctx, id)
				if err != nil {
					failed++
					fmt.Fprintf(a.stderr, "%s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", round.ID, round.Status, round.Title)
			}
			if failed > 0 {
				return codeError(exitFailure, "%d of %d round(s) could not be refreshed", failed, len(ids))
			}
			return nil
		},
	}
}
