package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kalambet/oracle/internal/config"
)

var version = "dev"

var (
	configFile string
	noColor    bool

	// flags carries command-line overrides into config loading.
	flags = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "oracle",
	Short:         "Suggestion engine for team and mentor matching",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/oracle/config.yaml)")
	pf.BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	pf.Int("port", 0, "server port")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")

	flags.BindPFlag("server.port", pf.Lookup("port"))
	flags.BindPFlag("log.level", pf.Lookup("log-level"))
	flags.BindPFlag("log.format", pf.Lookup("log-format"))

	rootCmd.AddCommand(startCmd, statusCmd, searchCmd, suggestCmd, embedCmd, addCmd,
		learnCmd, feedbackCmd, teamCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration with command-line overrides applied.
func loadConfig() (config.Config, error) {
	return config.LoadWith(config.Options{File: configFile, Viper: flags})
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func versionString() string {
	return fmt.Sprintf("oracle %s", version)
}
