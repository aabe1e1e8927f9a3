package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect and reconcile the VM pool",
}

var poolSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile stored VM state against live provider state",
	Long: `Runs the drift reconciliation pass: any VM row in an active
status with no matching live provider instance is marked destroyed, a
provisioning row the provider now reports active is promoted to ready,
the full reap suite runs, and every slot is topped back up to its warm
floor. Live instances with no matching row are logged but left alone
(spec.md §9 open question ii).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.pool.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pool reconciled: %d updated, %d destroyed\n", result.Updated, result.Destroyed)
		return nil
	},
}

var poolStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-slot VM pool occupancy",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.pool.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Println("no slots configured")
			return nil
		}

		fmt.Printf("%-12s %-12s %-8s %-8s %-8s\n", "SLOT", "PROVIDER", "ACTIVE", "WARM", "MAX")
		for _, s := range stats {
			fmt.Printf("%-12s %-12s %-8d %-8d %-8d\n", s.Name, s.Provider, s.Active, s.Warm, s.MaxPoolSize)
		}
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolSyncCmd)
	poolCmd.AddCommand(poolStatsCmd)
}
