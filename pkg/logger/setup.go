package logger

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SetupFromFlags builds a logger from the standard log-level/log-json flags
// registered by RegisterFlags.
func SetupFromFlags(cmd *cobra.Command) (Logger, error) {
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	logJSON, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-json flag: %w", err)
	}
	cfg := DefaultConfig()
	cfg.JSON = logJSON
	switch level {
	case "debug", "info", "warn", "error":
		cfg.Level = LogLevel(level)
	case "":
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return NewLogger(cfg), nil
}

// RegisterFlags adds the shared logging flags to cmd.
func RegisterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
}
