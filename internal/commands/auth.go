package commands

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/renewdesk/renewctl/internal/appctx"
	"github.com/renewdesk/renewctl/internal/auth"
	"github.com/renewdesk/renewctl/internal/credentials"
	"github.com/renewdesk/renewctl/internal/output"
	"github.com/renewdesk/renewctl/internal/token"
	"github.com/renewdesk/renewctl/internal/tui"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Sign in with email, password and a one-time code or a social provider, and manage the stored session.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthVerifyCmd(),
		newAuthResendOTPCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
		newAuthLogoutCmd(),
		newAuthWhoamiCmd(),
		newAuthWatchCmd(),
		newAuthSignupCmd(),
		newAuthPasswordCmd(),
	)

	return cmd
}

// openBrowser is replaced in tests.
var openBrowser = auth.OpenBrowser

type providerLogin struct {
	provider  string
	referral  string
	code      string
	addr      string
	noBrowser bool
}

func newAuthLoginCmd() *cobra.Command {
	var email, password, otp string
	var remember, passwordStdin bool
	var p providerLogin

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		Long: `Submit email and password. The server emails a one-time code which
completes the sign-in, either at the prompt or with "renewctl auth verify".

With --provider the sign-in goes through a social provider instead: the
browser opens the provider's page and the redirect back is caught on a
local callback server. Pass --code to finish with a code copied from the
redirect URL.`,
		Example: `  renewctl auth login --email thandi@example.com --password-stdin
  renewctl auth login --provider google
  renewctl auth login --provider google --code 4/0AbCd`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			if p.provider != "" {
				if email != "" || password != "" || passwordStdin || otp != "" {
					return output.ErrUsage("--provider cannot be combined with --email, --password or --otp")
				}
				return loginWithProvider(cmd, app, p)
			}

			if passwordStdin {
				if password, err = readSecret(cmd); err != nil {
					return err
				}
			}
			if email == "" || password == "" {
				if !app.IsInteractive() {
					return output.ErrUsageHint("--email and --password are required", "Use --password-stdin to keep the password out of shell history")
				}
				if err := tui.LoginForm(&email, &password); err != nil {
					return err
				}
			}

			var res *auth.LoginResult
			err = spin(app, "Signing in...", func() error {
				var err error
				res, err = app.Auth.Login(cmd.Context(), auth.LoginCredentials{
					Email:      email,
					Password:   password,
					RememberMe: remember,
				})
				return err
			})
			if err != nil {
				return err
			}

			if otp == "" && app.IsInteractive() {
				if otp, err = tui.InputRequired("One-time code", "sent to "+email); err != nil {
					return err
				}
			}
			if otp != "" {
				return verify(cmd, app, auth.VerifyOTP{Email: email, OTP: otp, Password: password, RememberMe: remember})
			}
			return otpSent(app, email, res, "Check your email for a one-time code")
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().StringVar(&otp, "otp", "", "One-time code, when already known")
	cmd.Flags().BoolVar(&remember, "remember", false, "Ask the server for a long-lived session")
	cmd.Flags().StringVar(&p.provider, "provider", "", "Sign in through a social provider (e.g. google, facebook)")
	cmd.Flags().StringVar(&p.referral, "referral-code", "", "Referral code for a provider sign-up")
	cmd.Flags().StringVar(&p.code, "code", "", "Provider authorization code, skipping the browser")
	cmd.Flags().StringVar(&p.addr, "callback-addr", auth.DefaultCallbackAddr, "Local address for the provider redirect")
	cmd.Flags().BoolVar(&p.noBrowser, "no-browser", false, "Print the provider URL instead of opening a browser")

	return cmd
}

func otpSent(app *appctx.App, email string, res *auth.LoginResult, fallback string) error {
	summary := res.Message
	if summary == "" {
		summary = fallback
	}
	return app.OK(map[string]any{
		"status":      "otp_sent",
		"email":       email,
		"otp_expires": res.OTPExpiryTime,
	},
		output.WithSummary(summary),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "verify",
				Cmd:         fmt.Sprintf("renewctl auth verify --email %s --otp <code>", email),
				Description: "Finish signing in",
			},
			output.Breadcrumb{
				Action:      "resend",
				Cmd:         fmt.Sprintf("renewctl auth resend-otp --email %s --password-stdin", email),
				Description: "Send a new code",
			},
		),
	)
}

func loginWithProvider(cmd *cobra.Command, app *appctx.App, p providerLogin) error {
	ctx := cmd.Context()
	code := p.code

	if code == "" {
		var authURL string
		err := spin(app, "Contacting "+p.provider+"...", func() error {
			var err error
			authURL, err = app.Auth.ProviderRedirectURL(ctx, p.provider, p.referral)
			return err
		})
		if err != nil {
			return err
		}

		stderr := cmd.ErrOrStderr()
		code, err = auth.WaitForCode(ctx, p.addr, func(callbackURL string) {
			if !p.noBrowser && openBrowser(authURL) == nil {
				fmt.Fprintf(stderr, "Opening browser to sign in with %s...\nIf it doesn't open, visit: %s\n", p.provider, authURL)
			} else {
				fmt.Fprintf(stderr, "Open this URL in your browser:\n%s\n", authURL)
			}
			fmt.Fprintf(stderr, "\nWaiting for the redirect on %s\n", callbackURL)
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return output.ErrUsageHint(err.Error(),
				fmt.Sprintf("Finish with: renewctl auth login --provider %s --code <code from the redirect URL>", p.provider))
		}
	}

	var user *token.DecodedToken
	err := spin(app, "Signing in...", func() error {
		var err error
		user, err = app.Auth.ProviderCallback(ctx, p.provider, code, p.referral)
		return err
	})
	if err != nil {
		return err
	}
	return signedIn(app, user)
}

func newAuthVerifyCmd() *cobra.Command {
	var v auth.VerifyOTP

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Finish signing in with a one-time code",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := promptMissing(app, &v.Email, "email", "Email", false); err != nil {
				return err
			}
			if err := promptMissing(app, &v.OTP, "otp", "One-time code", false); err != nil {
				return err
			}
			return verify(cmd, app, v)
		},
	}

	cmd.Flags().StringVar(&v.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&v.OTP, "otp", "", "One-time code from the email")
	cmd.Flags().StringVar(&v.Password, "password", "", "Account password, if the server asks for it again")
	cmd.Flags().BoolVar(&v.RememberMe, "remember", false, "Ask the server for a long-lived session")

	return cmd
}

func newAuthResendOTPCmd() *cobra.Command {
	var c auth.LoginCredentials
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "resend-otp",
		Short: "Email a new one-time code",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if passwordStdin {
				if c.Password, err = readSecret(cmd); err != nil {
					return err
				}
			}
			if err := promptMissing(app, &c.Email, "email", "Email", false); err != nil {
				return err
			}
			if err := promptMissing(app, &c.Password, "password", "Password", true); err != nil {
				return err
			}

			var res *auth.LoginResult
			err = spin(app, "Sending a new code...", func() error {
				var err error
				res, err = app.Auth.ResendOTP(cmd.Context(), c)
				return err
			})
			if err != nil {
				return err
			}
			return otpSent(app, c.Email, res, "A new one-time code is on its way")
		},
	}

	cmd.Flags().StringVar(&c.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&c.Password, "password", "", "Account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().BoolVar(&c.RememberMe, "remember", false, "Ask the server for a long-lived session")

	return cmd
}

func verify(cmd *cobra.Command, app *appctx.App, v auth.VerifyOTP) error {
	var user *token.DecodedToken
	err := spin(app, "Verifying code...", func() error {
		var err error
		user, err = app.Auth.VerifyOTP(cmd.Context(), v)
		return err
	})
	if err != nil {
		return err
	}
	return signedIn(app, user)
}

func signedIn(app *appctx.App, user *token.DecodedToken) error {
	return app.OK(userSummary(user, app.Store.Credentials()),
		output.WithSummary("Signed in as "+user.DisplayName()),
		output.WithBreadcrumbs(output.Breadcrumb{Action: "profile", Cmd: "renewctl auth whoami", Description: "Show your profile"}),
	)
}

func userSummary(user *token.DecodedToken, creds *credentials.Credentials) map[string]any {
	out := map[string]any{
		"authenticated": true,
		"id":            user.Subject,
		"name":          user.DisplayName(),
		"email":         user.Email,
		"user_type":     user.UserType,
		"permissions":   user.Permissions,
	}
	if creds != nil {
		out["expires_at"] = creds.Expiry().Format(time.RFC3339)
	}
	return out
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			status := map[string]any{
				"authenticated": false,
				"base_url":      app.Config.BaseURL,
				"storage":       app.Config.Storage,
			}
			if app.Config.ActiveProfile != "" {
				status["profile"] = app.Config.ActiveProfile
			}

			creds := app.Store.Credentials()
			if creds == nil {
				return app.OK(status, output.WithSummary("Not logged in"),
					output.WithBreadcrumbs(output.Breadcrumb{Action: "login", Cmd: "renewctl auth login"}))
			}

			expiresIn := time.Until(creds.Expiry()).Round(time.Second)
			status["authenticated"] = app.Store.IsAuthenticated()
			status["expires_at"] = creds.Expiry().Format(time.RFC3339)
			status["expires_in"] = expiresIn.String()
			status["has_refresh_token"] = creds.HasRefreshToken()
			status["refresh_state"] = app.Store.State().String()
			if next := app.Store.NextRefresh(); !next.IsZero() {
				status["next_refresh"] = next.Format(time.RFC3339)
			}

			summary := "Session expired"
			if user := app.Auth.CurrentUser(); user != nil {
				status["email"] = user.Email
				status["name"] = user.DisplayName()
				if app.Store.IsAuthenticated() {
					summary = fmt.Sprintf("Logged in as %s (expires in %s)", user.DisplayName(), expiresIn)
				}
			}
			return app.OK(status, output.WithSummary(summary))
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(app); err != nil {
				return err
			}

			var creds *credentials.Credentials
			err = spin(app, "Refreshing session...", func() error {
				var err error
				creds, err = app.Store.Refresh(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}

			return app.OK(map[string]any{
				"status":     "refreshed",
				"expires_at": creds.Expiry().Format(time.RFC3339),
			}, output.WithSummary("Session refreshed"))
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			app.Auth.Logout(cmd.Context())

			return app.OK(map[string]string{
				"status": "logged_out",
			}, output.WithSummary("Logged out"))
		},
	}
}

func newAuthWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(app); err != nil {
				return err
			}

			profile, err := app.Users.Profile(cmd.Context())
			if err != nil {
				return err
			}

			summary := fmt.Sprintf("%s %s <%s>", profile.Name, profile.Surname, profile.Email)
			if app.Auth.IsSuperAdmin() {
				summary += " (super admin)"
			} else if app.Auth.IsAdmin() {
				summary += " (admin)"
			}
			return app.OK(profile, output.WithSummary(summary))
		},
	}
}

func newAuthWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session fresh until interrupted",
		Long: `Stay in the foreground renewing the access token before it expires.
Sessions written by other renewctl processes are picked up as they change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(app); err != nil {
				return err
			}

			ctx := cmd.Context()
			if fs, ok := app.Storage.(*credentials.FileStorage); ok {
				w, err := credentials.NewWatcher(app.Store, fs)
				if err != nil {
					return err
				}
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer func() { _ = w.Stop() }()
			}

			cleared := make(chan struct{})
			var once sync.Once
			stderr := cmd.ErrOrStderr()
			unsubscribe := app.Store.Subscribe(func(c *credentials.Credentials) {
				if c == nil {
					once.Do(func() { close(cleared) })
					return
				}
				fmt.Fprintf(stderr, "session renewed, expires %s\n", c.Expiry().Format(time.Kitchen))
			})
			defer unsubscribe()

			if next := app.Store.NextRefresh(); !next.IsZero() {
				fmt.Fprintf(stderr, "watching session, next refresh at %s (Ctrl+C to stop)\n", next.Format(time.Kitchen))
			}

			select {
			case <-ctx.Done():
				return app.OK(map[string]string{"status": "stopped"}, output.WithSummary("Stopped watching"))
			case <-cleared:
				return output.ErrAuth("Session ended")
			}
		},
	}
}

func newAuthSignupCmd() *cobra.Command {
	var c auth.SignupCredentials
	var countryID int64

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			for _, f := range []struct {
				value  *string
				flag   string
				title  string
				secret bool
			}{
				{&c.Email, "email", "Email", false},
				{&c.Name, "name", "First name", false},
				{&c.Surname, "surname", "Surname", false},
				{&c.Password, "password", "Password", true},
				{&c.PasswordConfirmation, "password-confirmation", "Confirm password", true},
			} {
				if err := promptMissing(app, f.value, f.flag, f.title, f.secret); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("country-id") {
				c.CountryID = &countryID
			}

			msg, err := app.Auth.Signup(cmd.Context(), c)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Account created"
			}
			return app.OK(map[string]string{"status": "registered", "email": c.Email},
				output.WithSummary(msg),
				output.WithBreadcrumbs(output.Breadcrumb{Action: "login", Cmd: "renewctl auth login --email " + c.Email}),
			)
		},
	}

	cmd.Flags().StringVar(&c.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&c.Name, "name", "", "First name")
	cmd.Flags().StringVar(&c.Surname, "surname", "", "Surname")
	cmd.Flags().StringVar(&c.Password, "password", "", "Password")
	cmd.Flags().StringVar(&c.PasswordConfirmation, "password-confirmation", "", "Password again")
	cmd.Flags().StringVar(&c.TelCell, "tel", "", "Mobile number")
	cmd.Flags().Int64Var(&countryID, "country-id", 0, "Country ID")

	return cmd
}

func newAuthPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Reset, change or set your password",
	}
	cmd.AddCommand(newPasswordForgotCmd(), newPasswordResetCmd(), newPasswordChangeCmd(), newPasswordSetCmd())
	return cmd
}

func newPasswordForgotCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot",
		Short: "Email a password reset link",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := promptMissing(app, &email, "email", "Email", false); err != nil {
				return err
			}

			msg, err := app.Auth.RequestPasswordReset(cmd.Context(), email)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Password reset link sent"
			}
			return app.OK(map[string]string{"status": "reset_requested", "email": email},
				output.WithSummary(msg),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action: "reset",
					Cmd:    "renewctl auth password reset --email " + email + " --token <token>",
				}),
			)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	return cmd
}

func newPasswordResetCmd() *cobra.Command {
	var r auth.ResetPassword

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with a reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := promptMissing(app, &r.Email, "email", "Email", false); err != nil {
				return err
			}
			if err := promptMissing(app, &r.Token, "token", "Reset token", false); err != nil {
				return err
			}
			if err := promptMissing(app, &r.Password, "password", "New password", true); err != nil {
				return err
			}
			if err := promptMissing(app, &r.PasswordConfirmation, "password-confirmation", "Confirm new password", true); err != nil {
				return err
			}

			if err := app.Auth.ResetPassword(cmd.Context(), r); err != nil {
				return err
			}
			return app.OK(map[string]string{"status": "password_reset"}, output.WithSummary("Password updated"))
		},
	}

	cmd.Flags().StringVar(&r.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&r.Token, "token", "", "Reset token from the email")
	cmd.Flags().StringVar(&r.Password, "password", "", "New password")
	cmd.Flags().StringVar(&r.PasswordConfirmation, "password-confirmation", "", "New password again")
	return cmd
}

func newPasswordChangeCmd() *cobra.Command {
	var current, next string

	cmd := &cobra.Command{
		Use:   "change",
		Short: "Change the signed-in user's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(app); err != nil {
				return err
			}
			if err := promptMissing(app, &current, "current", "Current password", true); err != nil {
				return err
			}
			if err := promptMissing(app, &next, "new", "New password", true); err != nil {
				return err
			}

			if err := app.Auth.ChangePassword(cmd.Context(), current, next); err != nil {
				return err
			}
			return app.OK(map[string]string{"status": "password_changed"}, output.WithSummary("Password changed"))
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "Current password")
	cmd.Flags().StringVar(&next, "new", "", "New password")
	return cmd
}

func newPasswordSetCmd() *cobra.Command {
	var p auth.ProfilePassword

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a first password on a provider sign-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(app); err != nil {
				return err
			}
			if err := promptMissing(app, &p.Password, "password", "Password", true); err != nil {
				return err
			}
			if err := promptMissing(app, &p.PasswordConfirmation, "password-confirmation", "Confirm password", true); err != nil {
				return err
			}

			if err := app.Auth.SetProfilePassword(cmd.Context(), p); err != nil {
				return err
			}
			return app.OK(map[string]string{"status": "password_set"}, output.WithSummary("Password set"))
		},
	}

	cmd.Flags().StringVar(&p.Password, "password", "", "New password")
	cmd.Flags().StringVar(&p.PasswordConfirmation, "password-confirmation", "", "New password again")
	return cmd
}
