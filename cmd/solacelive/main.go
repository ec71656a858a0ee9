// Command solacelive bundles the operational tools for the packet
// transport core: a loopback soak runner, a WebSocket bridge with
// diagnostics, and a packet frame inspector.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SolaceHarmony/SolaceLive-sub001/config"
)

var (
	cfgPath string
	cfg     config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "solacelive",
		Short: "SolaceLive packet transport tools",
		Long: `Operational tooling for the SolaceLive packet transport core.

soak runs the full receive pipeline over a simulated lossy link,
serve bridges WebSocket peers into the pipeline with diagnostics,
and inspect decodes captured packet frames.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return setupLogging(cfg.Log)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to TOML config file")

	rootCmd.AddCommand(
		soakCmd(),
		serveCmd(),
		inspectCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(lc config.LogConfig) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", lc.Level, err)
	}
	logrus.SetLevel(level)
	if lc.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}
