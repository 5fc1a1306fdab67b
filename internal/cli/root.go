// Package cli wires the root command and its global flags.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"slices"
	"strings"
	"syscall"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/renewdesk/renewctl/internal/apierr"
	"github.com/renewdesk/renewctl/internal/appctx"
	"github.com/renewdesk/renewctl/internal/commands"
	"github.com/renewdesk/renewctl/internal/config"
	"github.com/renewdesk/renewctl/internal/output"
	"github.com/renewdesk/renewctl/internal/tui"
	"github.com/renewdesk/renewctl/internal/version"
)

// NewRootCmd creates the root cobra command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:   "renewctl",
		Short: "Command-line client for the vehicle licence renewal service",
		Long: `renewctl signs in to the renewal service, keeps the session fresh and
gives scripted access to its resources.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipSetup(cmd) {
				return nil
			}

			cfg, err := config.Load(flags.Overrides())
			if err != nil {
				return output.ErrUsage(err.Error())
			}
			if err := resolveProfile(cfg, flags); err != nil {
				return err
			}

			app, err := appctx.NewApp(cfg, flags)
			if err != nil {
				return err
			}
			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}
	cmd.SetVersionTemplate(version.Full() + "\n")

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.Format, "format", "", "Output format: auto, json, styled, quiet, ids, count")
	pf.BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	pf.BoolVar(&flags.IDsOnly, "ids-only", false, "Output only IDs")
	pf.BoolVar(&flags.Count, "count", false, "Output only count")
	pf.StringVar(&flags.JQ, "jq", "", "Filter the data with a jq expression")

	// Context flags
	pf.StringVar(&flags.BaseURL, "base-url", "", "API base URL")
	pf.StringVar(&flags.Profile, "profile", "", "Named profile from the config file")
	pf.StringVar(&flags.Storage, "storage", "", "Session storage: auto, keyring, file, memory")
	pf.StringVar(&flags.StateDir, "state-dir", "", "Directory for the session file")
	pf.StringVar(&flags.LogFile, "log-file", "", "Write logs to a rotating file instead of stderr")

	// Behavior flags
	pf.CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for operations, -vv for requests)")
	pf.BoolVar(&flags.Stats, "stats", false, "Show session statistics")
	pf.BoolVar(&flags.NoInteractive, "no-interactive", false, "Never prompt; fail when input is missing")

	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(
		[]string{"auto", "json", "styled", "quiet", "ids", "count"}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("storage", cobra.FixedCompletions(
		[]string{"auto", "keyring", "file", "memory"}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("profile", profileCompletion)

	cmd.AddCommand(
		commands.NewAuthCmd(),
		commands.NewProfileCmd(),
		commands.NewListCmd(),
		commands.NewShowCmd(),
		commands.NewCreateCmd(),
		commands.NewUpdateCmd(),
		commands.NewDeleteCmd(),
		commands.NewAPICmd(),
		commands.NewConfigCmd(),
	)

	return cmd
}

// skipSetup reports whether cmd runs without an App.
func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.Parent() != nil && cmd.Parent().Name() == "completion"
}

func profileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(config.FlagOverrides{})
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for name := range cfg.Profiles {
		if strings.HasPrefix(name, toComplete) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, cobra.ShellCompDirectiveNoFileComp
}

// Execute runs the CLI and exits with the code of the resulting error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// Run executes the command line in args and returns the process exit code.
// Errors raised before the App exists are written to stdout.
func Run(ctx context.Context, args []string, stdout io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteContextC(ctx)

	var app *appctx.App
	if executedCmd != nil && executedCmd.Context() != nil {
		app = appctx.FromContext(executedCmd.Context())
	}
	if app != nil {
		defer func() { _ = app.Close() }()
	}
	if err == nil {
		return apierr.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	if app != nil {
		_ = app.Err(err)
		return apiErr.ExitCode()
	}

	// Fallback: the failure happened before setup finished.
	writer := output.New(output.Options{
		Format: fallbackFormat(cmd),
		Writer: stdout,
	})
	_ = writer.Err(err)
	return apiErr.ExitCode()
}

func fallbackFormat(cmd *cobra.Command) output.Format {
	pf := cmd.PersistentFlags()
	quiet, _ := pf.GetBool("quiet")
	idsOnly, _ := pf.GetBool("ids-only")
	count, _ := pf.GetBool("count")
	jsonFlag, _ := pf.GetBool("json")

	switch {
	case quiet:
		return output.FormatQuiet
	case idsOnly:
		return output.FormatIDs
	case count:
		return output.FormatCount
	case jsonFlag:
		return output.FormatJSON
	}
	name, _ := pf.GetString("format")
	if f, err := output.ParseFormat(name); err == nil {
		return f
	}
	return output.FormatAuto
}

var (
	shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)
	requiredFlagRe  = regexp.MustCompile(`required flag\(s\) "([\w-]+)" not set`)
)

// transformCobraError turns cobra's parse errors into usage errors with
// consistent wording.
func transformCobraError(err error) error {
	msg := err.Error()

	switch {
	case strings.HasPrefix(msg, "flag needs an argument: "):
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	case strings.HasPrefix(msg, "unknown flag: "):
		return output.ErrUsage("Unknown option: " + strings.TrimPrefix(msg, "unknown flag: "))
	case strings.HasPrefix(msg, "unknown shorthand flag: "):
		if m := shorthandFlagRe.FindStringSubmatch(msg); len(m) > 1 {
			return output.ErrUsage("Unknown option: " + m[1])
		}
		return output.ErrUsage(msg)
	case strings.HasPrefix(msg, "unknown command "):
		return output.ErrUsageHint(msg, "Run: renewctl --help")
	case strings.Contains(msg, "invalid argument"):
		return output.ErrUsage(msg)
	case strings.Contains(msg, "arg(s), received"):
		return output.ErrUsage(msg)
	case strings.HasPrefix(msg, "required flag(s) "):
		if m := requiredFlagRe.FindStringSubmatch(msg); len(m) > 1 {
			return output.ErrUsage("--" + m[1] + " is required")
		}
		return output.ErrUsage(msg)
	}
	return err
}

// resolveProfile picks a profile when none was chosen. One configured
// profile is used as is; several prompt on a terminal and otherwise fall
// back to the plain configuration.
func resolveProfile(cfg *config.Config, flags appctx.GlobalFlags) error {
	if cfg.ActiveProfile != "" || len(cfg.Profiles) == 0 {
		return nil
	}
	if src := cfg.Sources["base_url"]; src == string(config.SourceFlag) || src == string(config.SourceEnv) {
		return nil
	}

	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)

	var name string
	switch {
	case len(names) == 1:
		name = names[0]
	case isInteractiveTTY(flags):
		options := make([]tui.SelectOption, len(names))
		for i, n := range names {
			options[i] = tui.SelectOption{Value: n, Label: fmt.Sprintf("%s (%s)", n, cfg.Profiles[n].BaseURL)}
		}
		picked, err := tui.Select("Profile", options)
		if err != nil {
			return output.ErrUsage("profile selection canceled")
		}
		name = picked
	default:
		return nil
	}

	if err := cfg.ApplyProfile(name); err != nil {
		return output.ErrUsage(err.Error())
	}
	config.LoadFromEnv(cfg)
	config.ApplyOverrides(cfg, flags.Overrides())
	return nil
}

// isInteractiveTTY returns true if stdin and stdout are terminals and no
// machine-output mode is set.
func isInteractiveTTY(flags appctx.GlobalFlags) bool {
	if flags.NoInteractive || flags.JSON || flags.Quiet || flags.IDsOnly || flags.Count || flags.JQ != "" {
		return false
	}
	return term.IsTerminal(os.Stdin.Fd()) && term.IsTerminal(os.Stdout.Fd())
}
