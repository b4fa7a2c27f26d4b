// main.go - Command line client for the shielded pool.
//
// Usage:
//
//	poolctl keygen [--out key.hex]
//	poolctl address <private key hex>
//	poolctl setup
//	poolctl demo
//
// Every command reads poolctl.yaml (or --config), writing the defaults on first use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shieldedpool/internal/config"
	"shieldedpool/internal/logging"
	"shieldedpool/internal/shielded"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	params *shielded.Params
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "Shielded pool client",
	Long: `poolctl manages shielded pool keys and proving keys, and runs a
deposit, transfer and withdrawal against the reference ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		params, err = cfg.Params()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(logging.Config{
			Level:     level,
			File:      cfg.LogFile,
			AuditFile: cfg.AuditLogPath,
			Console:   true,
			Gnark:     true,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "poolctl.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(demoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
