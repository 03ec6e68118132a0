package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newPayoutsCommand(eng *engine) *cobra.Command {
	command := &cobra.Command{
		Use:   "payouts",
		Short: "Advertiser payout maintenance",
	}
	command.AddCommand(&cobra.Command{
		Use:          "run",
		Short:        "Reconcile and release every due payout once",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := eng.runPayouts(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	})
	return command
}

func newReservationsCommand(eng *engine) *cobra.Command {
	command := &cobra.Command{
		Use:   "reservations",
		Short: "Reservation lifecycle maintenance",
	}
	command.AddCommand(&cobra.Command{
		Use:          "reap",
		Short:        "Expire accepted reservations whose payment window passed",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			expired, err := eng.reaper.ExpireStaleReservations(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("expired %d reservations\n", expired)
			return nil
		},
	})
	return command
}
