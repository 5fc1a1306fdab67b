// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/term"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/renewdesk/renewctl/internal/auth"
	"github.com/renewdesk/renewctl/internal/config"
	"github.com/renewdesk/renewctl/internal/credentials"
	"github.com/renewdesk/renewctl/internal/gateway"
	"github.com/renewdesk/renewctl/internal/logging"
	"github.com/renewdesk/renewctl/internal/observability"
	"github.com/renewdesk/renewctl/internal/output"
	"github.com/renewdesk/renewctl/internal/resource"
	"github.com/renewdesk/renewctl/internal/version"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Storage credentials.Storage
	Store   *credentials.Store
	Gateway *gateway.Gateway
	Auth    *auth.Service
	Users   *resource.Users
	Output  *output.Writer

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	closeLog func() error
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output
	Format  string
	JSON    bool
	Quiet   bool
	IDsOnly bool
	Count   bool
	JQ      string

	// Context
	BaseURL  string
	Profile  string
	Storage  string
	StateDir string
	LogFile  string

	// Behavior
	Verbose       int // 0=off, 1=calls, 2=calls+requests
	Stats         bool
	NoInteractive bool
}

// Overrides returns the flag values that take part in config resolution.
func (f GlobalFlags) Overrides() config.FlagOverrides {
	return config.FlagOverrides{
		BaseURL:  f.BaseURL,
		Profile:  f.Profile,
		Storage:  f.Storage,
		StateDir: f.StateDir,
		LogFile:  f.LogFile,
	}
}

// NewApp wires the session store, gateway and auth service for cfg.
func NewApp(cfg *config.Config, flags GlobalFlags) (*App, error) {
	verbose := verboseLevel(cfg, flags)

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Verbose: verbose,
		File:    cfg.LogFile,
	})
	if err != nil {
		return nil, output.ErrUsage(err.Error())
	}
	// Packages logging through the standard logger follow the same setup.
	log.SetOutput(logger.Out)
	log.SetFormatter(logger.Formatter)
	log.SetLevel(logger.GetLevel())

	format, err := resolveFormat(flags)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	storage, err := credentials.NewStorage(cfg.Storage, cfg.StateDir)
	if err != nil {
		_ = closeLog()
		return nil, output.ErrUsage(err.Error())
	}

	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(verbose, collector, observability.NewTraceWriter())

	store := credentials.NewStore(storage,
		credentials.WithKey(cfg.SessionKey()),
		credentials.WithLogger(logger),
	)

	policy := gateway.DefaultRetryPolicy()
	policy.RetryCount = cfg.RetryCount
	policy.Timeout = cfg.Timeout

	page := &gateway.StaticPage{
		CSRFToken: cfg.CSRFToken,
		OnNavigate: func(path string) {
			logger.WithField("path", path).Warn("session expired, sign in again with: renewctl auth login")
		},
	}

	opts := []gateway.Option{
		gateway.WithBaseURL(cfg.BaseURL),
		gateway.WithPolicy(policy),
		gateway.WithHooks(hooks),
		gateway.WithLogger(logger),
		gateway.WithLoginPath(cfg.LoginPath),
		gateway.WithUserAgent(version.UserAgent()),
	}
	if limiter := newLimiter(cfg.RateLimit); limiter != nil {
		opts = append(opts, gateway.WithRateLimit(limiter))
	}
	gw := gateway.New(&http.Client{}, store, page, opts...)

	svc := auth.NewService(gw, store, auth.WithLogger(logger))
	store.SetRefreshFunc(svc.RefreshToken)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Storage:   storage,
		Store:     store,
		Gateway:   gw,
		Auth:      svc,
		Users:     resource.NewUsers(gw),
		Collector: collector,
		Hooks:     hooks,
		Flags:     flags,
		Output: output.New(output.Options{
			Format: format,
			Writer: os.Stdout,
			JQ:     flags.JQ,
		}),
		closeLog: closeLog,
	}, nil
}

// Close stops the refresh scheduler and flushes the log file.
func (a *App) Close() error {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.closeLog != nil {
		return a.closeLog()
	}
	return nil
}

// newLimiter returns a limiter for rps requests per second, or nil when unlimited.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(math.Ceil(rps))))
}

// verboseLevel combines -v flags, the config file and RENEWCTL_DEBUG.
func verboseLevel(cfg *config.Config, flags GlobalFlags) int {
	level := flags.Verbose
	if level == 0 && cfg.Verbose != nil {
		level = *cfg.Verbose
	}
	// RENEWCTL_DEBUG can be "1", "2", or "true" (full debug)
	if debugEnv := os.Getenv("RENEWCTL_DEBUG"); debugEnv != "" {
		if n, err := strconv.Atoi(debugEnv); err == nil {
			level = max(level, n)
		} else if strings.EqualFold(debugEnv, "true") {
			level = 2
		}
	}
	return min(level, 2)
}

func resolveFormat(flags GlobalFlags) (output.Format, error) {
	switch {
	case flags.Format != "":
		return output.ParseFormat(flags.Format)
	case flags.IDsOnly:
		return output.FormatIDs, nil
	case flags.Count:
		return output.FormatCount, nil
	case flags.Quiet:
		return output.FormatQuiet, nil
	case flags.JSON:
		return output.FormatJSON, nil
	default:
		return output.FormatAuto, nil
	}
}

// StatsEnabled reports whether --stats or the config asked for session stats.
func (a *App) StatsEnabled() bool {
	if a.Flags.Stats {
		return true
	}
	return a.Config != nil && a.Config.Stats != nil && *a.Config.Stats
}

// OK outputs a success response, including stats when enabled.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.StatsEnabled() && a.Collector != nil {
		opts = append(opts, output.WithMeta("stats", a.Collector.Summary()))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr when enabled.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}
	if a.StatsEnabled() && a.Collector != nil && !a.isMachineOutput() {
		if parts := a.Collector.Summary().FormatParts(); len(parts) > 0 {
			fmt.Fprintf(os.Stderr, "\nStats: %s\n", strings.Join(parts, " | "))
		}
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
func (a *App) isMachineOutput() bool {
	switch a.Output.Format() {
	case output.FormatQuiet, output.FormatIDs, output.FormatCount:
		return true
	}
	return a.Flags.JQ != ""
}

// IsInteractive reports whether prompts may be shown: both stdin and
// stdout are terminals and no machine output was requested.
func (a *App) IsInteractive() bool {
	if a.Flags.NoInteractive || a.Flags.JSON || a.isMachineOutput() {
		return false
	}
	return term.IsTerminal(os.Stdin.Fd()) && term.IsTerminal(os.Stdout.Fd())
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
