// Package cmd implements the CLI commands for reelcut.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelcut/reelcut/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "reelcut",
	Short:   "Lecture video highlight extraction service",
	Version: version.Short(),
	Long: `reelcut turns long lecture recordings into short highlight clips.

It accepts uploaded lecture videos, analyzes them with external speech,
vision and language models, and compiles the most important passages
into standalone clips with thumbnails, subtitles, a summary and a
comprehension quiz.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Global flags. These are not bound to viper: serve applies them on
	// top of the loaded config only when explicitly set, which keeps the
	// priority CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/reelcut, $HOME/.reelcut)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// logOverrides returns the log level and format from the CLI flags, or
// empty strings when the user did not set them.
func logOverrides() (level, format string) {
	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		level, _ = flags.GetString("log-level")
		level = strings.ToLower(level)
		if level == "warning" {
			level = "warn"
		}
	}
	if flags.Changed("log-format") {
		format, _ = flags.GetString("log-format")
		format = strings.ToLower(format)
	}
	return level, format
}
