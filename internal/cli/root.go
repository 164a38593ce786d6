// Package cli implements picardctl, the PICARD admin command line: schema
// migrations, password resets and a live terminal view of a running show.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/JannisRoesner/PICARD-sub000/internal/platform/logging"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel  string
	LogFormat string
}

var validLogFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "picardctl",
		Short:   "PICARD admin tool",
		Long:    "Administer a PICARD installation and follow a running show from the terminal.",
		Version: version.Get().Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validLogFormats, opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, validLogFormats)
			}
			_ = godotenv.Load()
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")

	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewSetPasswordCommand())
	cmd.AddCommand(NewWatchCommand())

	return cmd
}

// envOr returns value, or the environment variable key when value is empty.
func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}
