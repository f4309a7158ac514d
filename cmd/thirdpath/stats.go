package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/thirdpath/thirdpath/internal/pkg/bootstrap"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics/counter"
)

func statsCmd() *cobra.Command {
	var today bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show download counts per product",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := loadServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			if svc.Redis == nil {
				return bootstrap.ErrRedisRequired
			}

			var counts []counter.Count
			if today {
				counts, err = svc.Counter.Day(ctx, time.Now())
			} else {
				counts, err = svc.Counter.Totals(ctx)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRODUCT\tDOWNLOADS")
			for _, c := range counts {
				fmt.Fprintf(w, "%s\t%d\n", c.Slug, c.Total)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&today, "today", false, "Only count today's downloads (UTC)")
	return cmd
}
