package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/calendar"
)

func icsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ics <track>",
		Short: "Write the iCalendar feed of a track to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := models.LookupTrack(args[0])
			if !ok {
				return fmt.Errorf("unknown track %q", args[0])
			}
			body, err := calendar.New().ICS(t)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
}
