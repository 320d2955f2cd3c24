package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"campaign-dialer/internal/config"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=..." at build time.
var version = "dev"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:           "dialer",
		Short:         "Outbound campaign dialer",
		Long:          `Runs outbound voice campaigns: paced, windowed dialing of a contact list through a telephony provider.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file overlaid under the environment (default $CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dialer %s (%s)\n", version, runtime.Version())
	},
}

func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.LoadFrom(cfgFile)
	}
	return config.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("dialer failed", "err", err)
		os.Exit(1)
	}
}
