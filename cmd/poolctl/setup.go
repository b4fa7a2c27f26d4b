package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shieldedpool/internal/circuit"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Compiles the transaction circuits and creates or loads their Groth16 keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		sys, err := circuit.NewSystem(context.Background(), params, cfg.TransactTiers(), cfg.KeyDir, logger.Logger)
		if err != nil {
			return err
		}
		for _, t := range sys.Tiers() {
			fmt.Fprintf(cmd.OutOrStdout(), "tier %s ready\n", t)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "keys in %s (%s)\n", cfg.KeyDir, time.Since(start).Round(time.Millisecond))
		return nil
	},
}
