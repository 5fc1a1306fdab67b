// Package auth implements the sign-in flow against the renewal API:
// password login with an emailed one-time code, social provider sign-in,
// token refresh, logout and the password management endpoints.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/renewdesk/renewctl/internal/apierr"
	"github.com/renewdesk/renewctl/internal/credentials"
	"github.com/renewdesk/renewctl/internal/gateway"
	"github.com/renewdesk/renewctl/internal/resource"
	"github.com/renewdesk/renewctl/internal/token"
)

// Endpoints, relative to the API base URL.
const (
	PathLogin           = "auth/login"
	PathResendOTP       = "login"
	PathVerifyOTP       = "auth/verify-otp"
	PathProfilePassword = "auth/password"
	PathRegister        = "auth/register"
	PathForgotPassword  = "auth/forgot-password"
	PathResetPassword   = "auth/reset-password"
	PathRefresh         = "refresh"
	PathLogout          = "logout"
	PathChangePassword  = "change-password"
)

// ProviderRedirectPath is the endpoint that returns provider's sign-in URL.
func ProviderRedirectPath(provider string) string {
	return "auth/" + url.PathEscape(provider) + "/redirect"
}

// ProviderCallbackPath is the endpoint that exchanges a provider code for a session.
func ProviderCallbackPath(provider string) string {
	return "auth/" + url.PathEscape(provider) + "/callback"
}

// LoginCredentials starts a sign-in.
type LoginCredentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

// LoginResult is the server's answer to a login: a code was sent.
type LoginResult struct {
	Message string
	// OTPExpiryTime is when the emailed code stops working, as sent by the server.
	OTPExpiryTime json.Number
}

// VerifyOTP completes a sign-in with the emailed code.
type VerifyOTP struct {
	Email      string `json:"email"`
	OTP        string `json:"otp"`
	Password   string `json:"password,omitempty"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

// SignupCredentials registers a new account.
type SignupCredentials struct {
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	Name                 string `json:"name"`
	Surname              string `json:"surname"`
	CountryID            *int64 `json:"country_id"`
	TelCell              string `json:"tel_cell"`
}

// ResetPassword sets a new password with an emailed reset token.
type ResetPassword struct {
	Email                string `json:"email"`
	Token                string `json:"token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// ProfilePassword sets a password on an account that signed up through a
// social provider and has none yet.
type ProfilePassword struct {
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Response is the payload of a successful verification or refresh.
type Response struct {
	User  resource.User           `json:"user"`
	Token credentials.Credentials `json:"token"`
}

type loginData struct {
	OTPExpiryTime json.Number `json:"otp_expiry_time"`
}

type redirectData struct {
	URL string `json:"url"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

// Service runs the auth flow. Every error it returns is an *apierr.AuthError.
type Service struct {
	gw     *gateway.Gateway
	store  *credentials.Store
	now    func() time.Time
	logger log.FieldLogger
}

// NewService creates a Service that installs sessions into store.
func NewService(gw *gateway.Gateway, store *credentials.Store, opts ...Option) *Service {
	s := &Service{
		gw:     gw,
		store:  store,
		now:    time.Now,
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login submits email and password. On success the server emails a
// one-time code to be passed to VerifyOTP.
func (s *Service) Login(ctx context.Context, creds LoginCredentials) (*LoginResult, error) {
	return s.requestOTP(ctx, PathLogin, creds)
}

// ResendOTP asks the server to email a fresh one-time code for creds.
func (s *Service) ResendOTP(ctx context.Context, creds LoginCredentials) (*LoginResult, error) {
	return s.requestOTP(ctx, PathResendOTP, creds)
}

func (s *Service) requestOTP(ctx context.Context, path string, creds LoginCredentials) (*LoginResult, error) {
	resp, err := s.gw.Post(ctx, path, creds)
	if err != nil {
		return nil, apierr.ToAuthError(err)
	}
	env, err := resource.DecodeEnvelope[*loginData](resp)
	if err != nil {
		return nil, apierr.ToAuthError(err)
	}
	data, err := env.Unwrap()
	if err != nil {
		return nil, apierr.ToAuthError(err)
	}
	res := &LoginResult{Message: env.Message}
	if data != nil {
		res.OTPExpiryTime = data.OTPExpiryTime
	}
	return res, nil
}

// VerifyOTP exchanges the one-time code for a session and installs it.
func (s *Service) VerifyOTP(ctx context.Context, v VerifyOTP) (*token.DecodedToken, error) {
	resp, err := s.gw.Post(ctx, PathVerifyOTP, v)
	if err != nil {
		return nil, apierr.ToAuthError(err)
	}
	return s.install(resp)
}

// ProviderRedirectURL returns the URL that starts sign-in with a social
// provider such as google. The provider sends the browser back with a code
// for ProviderCallback.
func (s *Service) ProviderRedirectURL(ctx context.Context, provider, referralCode string) (string, error) {
	if err := checkProvider(provider); err != nil {
		return "", err
	}
	q := url.Values{"referral_code": {referralCode}}
	resp, err := s.gw.Get(ctx, s.gw.URL(ProviderRedirectPath(provider), q))
	if err != nil {
		return "", apierr.ToAuthError(err)
	}
	data, err := resource.Decode[redirectData](resp)
	if err != nil {
		return "", apierr.ToAuthError(err)
	}
	if data.URL == "" {
		return "", &apierr.AuthError{
			Code:    apierr.CodeServerError,
			Status:  500,
			Message: "No sign-in URL returned for " + provider,
		}
	}
	return data.URL, nil
}

// ProviderCallback exchanges the code a provider returned for a session
// and installs it.
func (s *Service) ProviderCallback(ctx context.Context, provider, code, referralCode string) (*token.DecodedToken, error) {
	if err := checkProvider(provider); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, &apierr.AuthError{
			Code:    apierr.CodeValidationError,
			Status:  422,
			Message: "Missing authorization code",
			Details: map[string][]string{"code": {"The code field is required."}},
		}
	}
	q := url.Values{"code": {code}, "referral_code": {referralCode}}
	resp, err := s.gw.Get(ctx, s.gw.URL(ProviderCallbackPath(provider), q))
	if err != nil {
		return nil, apierr.ToAuthError(err)
	}
	return s.install(resp)
}

// install validates the token pair in a verification response and makes
// it the current session.
func (s *Service) install(resp *gateway.Response) (*token.DecodedToken, error) {
	data, err := resource.Decode[Response](resp)
	if err != nil {
		return nil, apierr.ToAuthError(err)
	}

	decoded, err := s.checkToken(data.Token.AccessToken)
	if err != nil {
		return nil, err
	}
	s.store.SetCredentials(credentials.New(data.Token.AccessToken, data.Token.RefreshToken, data.Token.ExpiresIn, s.now()))
	if s.store.Credentials() == nil {
		return nil, &apierr.AuthError{
			Code:    apierr.CodeInvalidToken,
			Status:  401,
			Message: "Session could not be stored",
		}
	}
	s.logger.WithField("email", decoded.Email).Debug("signed in")
	return decoded, nil
}

// RefreshToken exchanges the held refresh token for a new pair. It does
// not install the result; it is meant to be handed to
// credentials.Store.SetRefreshFunc.
func (s *Service) RefreshToken(ctx context.Context) (*credentials.Credentials, error) {
	current := s.store.Credentials()
	if !current.HasRefreshToken() {
		return nil, &apierr.AuthError{
			Code:    apierr.CodeNoRefreshToken,
			Status:  401,
			Message: "No refresh token available",
		}
	}

	resp, err := s.gw.Post(ctx, PathRefresh, map[string]string{"refreshToken": current.RefreshToken})
	if err != nil {
		return nil, apierr.ToAuthError(err)
	}
	data, err := resource.Decode[Response](resp)
	if err != nil {
		return nil, apierr.ToAuthError(err)
	}
	if _, err := s.checkToken(data.Token.AccessToken); err != nil {
		return nil, err
	}

	refresh := data.Token.RefreshToken
	if refresh == "" {
		refresh = current.RefreshToken
	}
	return credentials.New(data.Token.AccessToken, refresh, data.Token.ExpiresIn, s.now()), nil
}

// Logout tells the server to revoke the refresh token, then clears the
// local session whatever the server said.
func (s *Service) Logout(ctx context.Context) {
	defer s.store.Clear()

	current := s.store.Credentials()
	if !current.HasRefreshToken() {
		return
	}
	if _, err := s.gw.Post(ctx, PathLogout, map[string]string{"refreshToken": current.RefreshToken}); err != nil {
		s.logger.WithError(err).Debug("server logout failed")
	}
}

// Signup registers an account. Mismatched passwords are rejected without
// contacting the server.
func (s *Service) Signup(ctx context.Context, c SignupCredentials) (string, error) {
	if c.Password != c.PasswordConfirmation {
		return "", mismatch()
	}
	return s.postMessage(ctx, PathRegister, c)
}

// RequestPasswordReset emails a reset link to email.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return s.postMessage(ctx, PathForgotPassword, map[string]string{"email": email})
}

// ResetPassword sets a new password with a reset token.
func (s *Service) ResetPassword(ctx context.Context, r ResetPassword) error {
	_, err := s.postMessage(ctx, PathResetPassword, r)
	return err
}

// ChangePassword changes the signed-in user's password.
func (s *Service) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	_, err := s.postMessage(ctx, PathChangePassword, map[string]string{
		"currentPassword": currentPassword,
		"newPassword":     newPassword,
	})
	return err
}

// SetProfilePassword sets a first password for the signed-in user.
func (s *Service) SetProfilePassword(ctx context.Context, p ProfilePassword) error {
	if p.Password != p.PasswordConfirmation {
		return mismatch()
	}
	_, err := s.postMessage(ctx, PathProfilePassword, p)
	return err
}

// IsLoggedIn reports whether a session is held.
func (s *Service) IsLoggedIn() bool {
	return s.store.Credentials() != nil
}

// CurrentUser returns the claims of the held access token, or nil.
func (s *Service) CurrentUser() *token.DecodedToken {
	raw := s.store.AccessToken()
	if raw == "" {
		return nil
	}
	d, err := token.Decode(raw)
	if err != nil {
		return nil
	}
	return d
}

// HasPermission reports whether the current user holds permission p.
func (s *Service) HasPermission(p string) bool {
	return s.CurrentUser().HasPermission(p)
}

// IsAdmin reports whether the current user is an admin.
func (s *Service) IsAdmin() bool {
	return s.CurrentUser().IsAdmin()
}

// IsSuperAdmin reports whether the current user is a super admin.
func (s *Service) IsSuperAdmin() bool {
	return s.CurrentUser().IsSuperAdmin()
}

func (s *Service) checkToken(raw string) (*token.DecodedToken, error) {
	d, err := token.Decode(raw)
	if err == nil && !token.IsValid(d, token.DefaultBuffer, s.now()) {
		err = fmt.Errorf("token expires at %v", d.ExpiresAt)
	}
	if err != nil {
		return nil, &apierr.AuthError{
			Code:    apierr.CodeInvalidToken,
			Status:  401,
			Message: "Invalid token received",
			Cause:   fmt.Errorf("%w: %v", apierr.ErrTokenInvalid, err),
		}
	}
	return d, nil
}

func mismatch() *apierr.AuthError {
	return &apierr.AuthError{
		Code:    apierr.CodePasswordMismatch,
		Status:  422,
		Message: "Passwords do not match",
		Details: map[string][]string{
			"password":        {"Passwords do not match"},
			"confirmPassword": {"Passwords do not match"},
		},
	}
}

func checkProvider(provider string) error {
	if provider == "" || strings.ContainsAny(provider, "/?#") {
		return &apierr.AuthError{
			Code:    apierr.CodeValidationError,
			Status:  422,
			Message: fmt.Sprintf("Invalid sign-in provider %q", provider),
		}
	}
	return nil
}

// postMessage posts body and returns the envelope message.
func (s *Service) postMessage(ctx context.Context, path string, body any) (string, error) {
	resp, err := s.gw.Post(ctx, path, body)
	if err != nil {
		return "", apierr.ToAuthError(err)
	}
	// Some endpoints answer with an empty body.
	if len(resp.Body) == 0 {
		return "", nil
	}
	env, err := resource.DecodeEnvelope[json.RawMessage](resp)
	if err != nil {
		return "", apierr.ToAuthError(err)
	}
	if _, err := env.Unwrap(); err != nil {
		return "", apierr.ToAuthError(err)
	}
	return env.Message, nil
}
