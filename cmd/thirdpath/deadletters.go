package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Inspect or replay mails that exhausted their retries",
	}
	cmd.AddCommand(deadLettersListCmd())
	cmd.AddCommand(deadLettersReplayCmd())
	return cmd
}

func deadLettersListCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered mail jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := loadServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			q, err := svc.RequireQueue()
			if err != nil {
				return err
			}

			jobs, err := q.DeadLetters(ctx, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no dead letters")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tATTEMPTS\tUPDATED\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", j.ID, j.Type, j.RetryCount, j.UpdatedAt.Format("2006-01-02 15:04:05"), j.ErrorMsg)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "Maximum jobs to show (0 for all)")
	return cmd
}

func deadLettersReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Move every dead-lettered job back onto the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := loadServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			q, err := svc.RequireQueue()
			if err != nil {
				return err
			}

			n, err := q.ReplayDeadLetters(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d jobs; a running server will pick them up\n", n)
			return nil
		},
	}
}
