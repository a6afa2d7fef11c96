package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/mtr002/docjobs/internal/config"
	"github.com/mtr002/docjobs/internal/logger"
)

var (
	cfg *config.Config

	flagLogLevel string // value of --log-level, overrides LOG_LEVEL
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error), overrides LOG_LEVEL")

	// errors are logged below, not printed by cobra
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initDocjobs

	submitCmd.Flags().StringVar(&flagType, "type", "", "job category, e.g. query-intelligence")
	submitCmd.Flags().StringVar(&flagAction, "action", "", "remote action, defaults to the category's own")
	submitCmd.Flags().StringVar(&flagPayload, "payload", "{}", "job payload as JSON")
	_ = submitCmd.MarkFlagRequired("type")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Logger.Error().Err(err).Msg("docjobs failed")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "docjobs",
	Short:        "Background job service for document analysis requests",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("docjobs: version info not available")
			return
		}

		fmt.Printf("docjobs: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
	},
}

func initDocjobs(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}

	c, err := config.Load()
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		c.LogLevel = flagLogLevel
	}
	cfg = c

	logger.Init(cfg.ServiceName, cfg.LogLevel)
	return nil
}
