package commands

import (
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/renewdesk/renewctl/internal/config"
	"github.com/renewdesk/renewctl/internal/output"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration and where each value came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			cfg := app.Config

			values := map[string]any{
				"base_url":    cfg.BaseURL,
				"login_path":  cfg.LoginPath,
				"storage":     cfg.Storage,
				"state_dir":   cfg.StateDir,
				"retry_count": cfg.RetryCount,
				"timeout":     cfg.Timeout.String(),
				"rate_limit":  cfg.RateLimit,
				"log_level":   cfg.LogLevel,
				"session_key": cfg.SessionKey(),
				"config_dir":  config.GlobalConfigDir(),
			}
			if cfg.LogFile != "" {
				values["log_file"] = cfg.LogFile
			}
			if cfg.ActiveProfile != "" {
				values["profile"] = cfg.ActiveProfile
			}
			if len(cfg.Profiles) > 0 {
				values["profiles"] = slices.Sorted(maps.Keys(cfg.Profiles))
			}
			// CSRF tokens are secrets; only report presence.
			values["csrf_token_set"] = cfg.CSRFToken != ""

			return app.OK(values,
				output.WithSummary("Configuration"),
				output.WithMeta("sources", cfg.Sources),
			)
		},
	}
}
