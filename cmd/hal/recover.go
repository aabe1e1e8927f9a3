package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Rebuild in-flight task/VM state after a process restart",
	Long: `Reconciles the pool against live provider state, force-fails any
task that never made it out of setup, and resumes polling for any running
task whose VM is still alive (spec.md §4.H). Safe to run even when nothing
needs recovering.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.Recover(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("recovery complete")
		return nil
	},
}
