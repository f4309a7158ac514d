package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thirdpath/thirdpath/app/models"
)

func capacityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capacity [track...]",
		Short: "Show active subscriptions, held seats and the cap per track",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracks, err := selectTracks(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := loadServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TRACK\tACTIVE\tPENDING\tCAP\tSEATS LEFT")
			for _, t := range tracks {
				active, err := svc.Oracle.CountActive(ctx, t.ID)
				if err != nil {
					return fmt.Errorf("count %s: %w", t.ID, err)
				}
				pending, err := svc.Ledger.Pending(ctx, string(t.ID))
				if err != nil {
					return fmt.Errorf("pending holds for %s: %w", t.ID, err)
				}
				limit := svc.Oracle.Cap()
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", t.ID, active, pending, limit, max(limit-active-pending, 0))
			}
			return w.Flush()
		},
	}
}

// selectTracks resolves track ids, defaulting to every track.
func selectTracks(ids []string) ([]models.Track, error) {
	if len(ids) == 0 {
		return models.Tracks(), nil
	}
	out := make([]models.Track, 0, len(ids))
	for _, id := range ids {
		t, ok := models.LookupTrack(id)
		if !ok {
			return nil, fmt.Errorf("unknown track %q", id)
		}
		out = append(out, t)
	}
	return out, nil
}
