package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renewdesk/renewctl/internal/appctx"
	"github.com/renewdesk/renewctl/internal/auth"
	"github.com/renewdesk/renewctl/internal/config"
	"github.com/renewdesk/renewctl/internal/credentials"
	"github.com/renewdesk/renewctl/internal/output"
	"github.com/renewdesk/renewctl/internal/token/tokentest"
)

// fakeServer routes "METHOD /path" to handlers and records what it saw.
type fakeServer struct {
	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []recorded
}

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

func (f *fakeServer) handle(route string, fn http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = fn
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	fn, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"No route"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fn(w, r)
}

func (f *fakeServer) last(path string) *recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Path == path {
			r := f.requests[i]
			return &r
		}
	}
	return nil
}

func replyOK(data any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "ok", "data": data})
	}
}

func reply(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

func tokenData(t *testing.T) map[string]any {
	return map[string]any{
		"user": map[string]any{"id": 42, "email": "thandi@example.com"},
		"token": map[string]any{
			"accessToken":  tokentest.ExpiringIn(t, time.Now(), time.Hour),
			"refreshToken": "refresh-1",
			"expiresIn":    3600,
		},
	}
}

type harness struct {
	api *fakeServer
	app *appctx.App
	out *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("RENEWCTL_DEBUG", "")

	api := &fakeServer{routes: map[string]http.HandlerFunc{}}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.BaseURL = server.URL + "/api"
	cfg.Storage = "memory"
	cfg.StateDir = t.TempDir()
	cfg.RetryCount = 0
	cfg.Timeout = 5 * time.Second
	cfg.LogLevel = "error"

	app, err := appctx.NewApp(cfg, appctx.GlobalFlags{JSON: true, NoInteractive: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	out := &bytes.Buffer{}
	app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: out})
	return &harness{api: api, app: app, out: out}
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()
	h.signInWith(t, tokentest.ExpiringIn(t, time.Now(), time.Hour))
}

func (h *harness) signInWith(t *testing.T, access string) {
	t.Helper()
	h.app.Store.SetCredentials(credentials.New(access, "refresh-1", 3600, time.Now()))
	require.True(t, h.app.Store.IsAuthenticated())
}

func tokenWithUserType(t *testing.T, userType string) string {
	now := time.Now()
	return tokentest.Mint(t, jwt.MapClaims{
		"sub":       "42",
		"name":      "Thandi",
		"surname":   "Nkosi",
		"email":     "thandi@example.com",
		"user_type": userType,
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
	})
}

// execute runs cmd with args and decodes the JSON envelope it printed.
func (h *harness) execute(ctx context.Context, cmd *cobra.Command, args ...string) (map[string]any, error) {
	h.out.Reset()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := cmd.ExecuteContext(appctx.WithApp(ctx, h.app)); err != nil {
		return nil, err
	}
	var resp map[string]any
	if h.out.Len() > 0 {
		if err := json.Unmarshal(h.out.Bytes(), &resp); err != nil {
			return nil, fmt.Errorf("output is not JSON: %w\n%s", err, h.out.String())
		}
	}
	return resp, nil
}

func (h *harness) run(t *testing.T, cmd *cobra.Command, args ...string) map[string]any {
	t.Helper()
	resp, err := h.execute(context.Background(), cmd, args...)
	require.NoError(t, err)
	require.Equal(t, true, resp["ok"], "response: %v", resp)
	return resp
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, output.AsError(err).Code, "error: %v", err)
}

func dataOf(resp map[string]any) map[string]any {
	d, _ := resp["data"].(map[string]any)
	return d
}

// =============================================================================
// auth
// =============================================================================

func TestLoginRequiresCredentialsWithoutTerminal(t *testing.T) {
	h := newHarness(t)
	_, err := h.execute(context.Background(), NewAuthCmd(), "login", "--email", "thandi@example.com")
	requireCode(t, err, output.CodeUsage)
	assert.Nil(t, h.api.last("/api/auth/login"), "nothing should be sent")
}

func TestLoginSendsOTP(t *testing.T) {
	h := newHarness(t)
	h.api.handle("POST /api/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"message":"OTP sent to your email","data":{"otp_expiry_time":1760000000}}`))
	})

	resp := h.run(t, NewAuthCmd(), "login", "--email", "thandi@example.com", "--password", "pw", "--remember")

	assert.Equal(t, "OTP sent to your email", resp["summary"])
	assert.Equal(t, "otp_sent", dataOf(resp)["status"])
	assert.EqualValues(t, 1760000000, dataOf(resp)["otp_expires"])
	crumbs, _ := resp["breadcrumbs"].([]any)
	require.Len(t, crumbs, 2)
	assert.Contains(t, crumbs[0].(map[string]any)["cmd"], "auth verify --email thandi@example.com")
	assert.Contains(t, crumbs[1].(map[string]any)["cmd"], "auth resend-otp --email thandi@example.com")

	req := h.api.last("/api/auth/login")
	require.NotNil(t, req)
	assert.Equal(t, "pw", req.Body["password"])
	assert.Equal(t, true, req.Body["rememberMe"])
	assert.False(t, h.app.Auth.IsLoggedIn())
}

func TestLoginWithOTPCompletesSignIn(t *testing.T) {
	h := newHarness(t)
	h.api.handle("POST /api/auth/login", replyOK(map[string]any{"otp_expiry_time": 1}))
	h.api.handle("POST /api/auth/verify-otp", replyOK(tokenData(t)))

	cmd := NewAuthCmd()
	cmd.SetIn(strings.NewReader("s3cret\n"))
	resp := h.run(t, cmd, "login", "--email", "thandi@example.com", "--password-stdin", "--otp", "123456")

	assert.Equal(t, "Signed in as Thandi Nkosi", resp["summary"])
	assert.Equal(t, "thandi@example.com", dataOf(resp)["email"])
	assert.True(t, h.app.Auth.IsLoggedIn())

	verify := h.api.last("/api/auth/verify-otp")
	require.NotNil(t, verify)
	assert.Equal(t, "123456", verify.Body["otp"])
	assert.Equal(t, "s3cret", verify.Body["password"])
}

func TestVerifyInvalidCode(t *testing.T) {
	h := newHarness(t)
	h.api.handle("POST /api/auth/verify-otp", reply(401, `{"success":false,"message":"Invalid OTP"}`))

	_, err := h.execute(context.Background(), NewAuthCmd(), "verify", "--email", "thandi@example.com", "--otp", "000000")
	requireCode(t, err, output.CodeAuth)
	assert.False(t, h.app.Auth.IsLoggedIn())
}

func TestVerifyValidationErrors(t *testing.T) {
	h := newHarness(t)
	h.api.handle("POST /api/auth/verify-otp", reply(422, `{"message":"The otp field is required.","errors":{"otp":["The otp field is required."]}}`))

	_, err := h.execute(context.Background(), NewAuthCmd(), "verify", "--email", "a@b.c", "--otp", "x")
	requireCode(t, err, output.CodeValidation)
	assert.Equal(t, []string{"The otp field is required."}, output.AsError(err).Fields["otp"])
}

func TestStatus(t *testing.T) {
	h := newHarness(t)

	resp := h.run(t, NewAuthCmd(), "status")
	assert.Equal(t, false, dataOf(resp)["authenticated"])
	assert.Equal(t, "Not logged in", resp["summary"])

	h.signIn(t)
	resp = h.run(t, NewAuthCmd(), "status")
	assert.Equal(t, true, dataOf(resp)["authenticated"])
	assert.Equal(t, true, dataOf(resp)["has_refresh_token"])
	assert.Equal(t, "scheduled", dataOf(resp)["refresh_state"])
	assert.Equal(t, "thandi@example.com", dataOf(resp)["email"])
	assert.Contains(t, resp["summary"], "Logged in as Thandi Nkosi")
}

func TestRefresh(t *testing.T) {
	h := newHarness(t)

	_, err := h.execute(context.Background(), NewAuthCmd(), "refresh")
	requireCode(t, err, output.CodeAuth)

	h.signIn(t)
	before := h.app.Store.AccessToken()
	h.api.handle("POST /api/refresh", replyOK(map[string]any{
		"token": map[string]any{
			"accessToken": tokentest.ExpiringIn(t, time.Now(), 2*time.Hour),
			"expiresIn":   7200,
		},
	}))

	resp := h.run(t, NewAuthCmd(), "refresh")
	assert.Equal(t, "refreshed", dataOf(resp)["status"])
	assert.NotEqual(t, before, h.app.Store.AccessToken())
	assert.Equal(t, "refresh-1", h.app.Store.Credentials().RefreshToken, "unrotated refresh token is kept")

	req := h.api.last("/api/refresh")
	require.NotNil(t, req)
	assert.Equal(t, "refresh-1", req.Body["refreshToken"])
}

func TestRefreshRejectedClearsSession(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.api.handle("POST /api/refresh", reply(401, `{"message":"Refresh token expired"}`))

	_, err := h.execute(context.Background(), NewAuthCmd(), "refresh")
	require.Error(t, err)
	assert.False(t, h.app.Auth.IsLoggedIn())
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.api.handle("POST /api/logout", replyOK(nil))

	resp := h.run(t, NewAuthCmd(), "logout")
	assert.Equal(t, "logged_out", dataOf(resp)["status"])
	assert.False(t, h.app.Auth.IsLoggedIn())
	require.NotNil(t, h.api.last("/api/logout"))

	// Logging out twice still succeeds.
	h.run(t, NewAuthCmd(), "logout")
}

func TestWhoami(t *testing.T) {
	tests := []struct {
		userType string
		want     string
	}{
		{"Admin", "Thandi Nkosi <thandi@example.com> (admin)"},
		{"Super Admin", "Thandi Nkosi <thandi@example.com> (super admin)"},
		{"Dealer", "Thandi Nkosi <thandi@example.com>"},
	}
	for _, tt := range tests {
		t.Run(tt.userType, func(t *testing.T) {
			h := newHarness(t)
			h.signInWith(t, tokenWithUserType(t, tt.userType))
			h.api.handle("GET /api/users/profile", replyOK(map[string]any{
				"id": "42", "name": "Thandi", "surname": "Nkosi", "email": "thandi@example.com",
			}))

			resp := h.run(t, NewAuthCmd(), "whoami")
			assert.Equal(t, tt.want, resp["summary"])
			assert.Equal(t, "42", dataOf(resp)["id"])
			assert.True(t, strings.HasPrefix(h.api.last("/api/users/profile").Auth, "Bearer "))
		})
	}
}

func TestWhoamiForcedLogout(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.api.handle("GET /api/users/profile", reply(401, `{"message":"Unauthenticated."}`))

	_, err := h.execute(context.Background(), NewAuthCmd(), "whoami")
	requireCode(t, err, output.CodeAuth)
	assert.False(t, h.app.Auth.IsLoggedIn(), "final 401 clears the session")
	assert.Equal(t, 1, h.app.Collector.Summary().ForcedLogouts)
}

func TestWatchStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	resp, err := h.execute(ctx, NewAuthCmd(), "watch")
	require.NoError(t, err)
	assert.Equal(t, "stopped", dataOf(resp)["status"])
}

func TestWatchEndsWhenSessionCleared(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	time.AfterFunc(50*time.Millisecond, h.app.Store.Clear)

	_, err := h.execute(context.Background(), NewAuthCmd(), "watch")
	requireCode(t, err, output.CodeAuth)
}

func TestSignupPasswordMismatch(t *testing.T) {
	h := newHarness(t)

	_, err := h.execute(context.Background(), NewAuthCmd(), "signup",
		"--email", "a@b.c", "--name", "A", "--surname", "B",
		"--password", "one", "--password-confirmation", "two")
	requireCode(t, err, output.CodeValidation)
	assert.Nil(t, h.api.last("/api/auth/register"))
}

func TestSignup(t *testing.T) {
	h := newHarness(t)
	h.api.handle("POST /api/auth/register", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"message":"Registration successful"}`))
	})

	resp := h.run(t, NewAuthCmd(), "signup",
		"--email", "a@b.c", "--name", "A", "--surname", "B",
		"--password", "pw", "--password-confirmation", "pw", "--country-id", "27")
	assert.Equal(t, "Registration successful", resp["summary"])

	req := h.api.last("/api/auth/register")
	require.NotNil(t, req)
	assert.EqualValues(t, 27, req.Body["country_id"])
}

func TestPasswordFlows(t *testing.T) {
	h := newHarness(t)
	h.api.handle("POST /api/auth/forgot-password", replyOK(nil))
	h.api.handle("POST /api/auth/reset-password", replyOK(nil))
	h.api.handle("POST /api/change-password", replyOK(nil))

	h.run(t, NewAuthCmd(), "password", "forgot", "--email", "a@b.c")
	assert.Equal(t, "a@b.c", h.api.last("/api/auth/forgot-password").Body["email"])

	h.run(t, NewAuthCmd(), "password", "reset", "--email", "a@b.c", "--token", "t",
		"--password", "n", "--password-confirmation", "n")
	assert.Equal(t, "t", h.api.last("/api/auth/reset-password").Body["token"])

	_, err := h.execute(context.Background(), NewAuthCmd(), "password", "change", "--current", "o", "--new", "n")
	requireCode(t, err, output.CodeAuth)

	h.signIn(t)
	h.run(t, NewAuthCmd(), "password", "change", "--current", "o", "--new", "n")
	assert.Equal(t, "n", h.api.last("/api/change-password").Body["newPassword"])

	_, err = h.execute(context.Background(), NewAuthCmd(), "password", "change", "--current", "o")
	requireCode(t, err, output.CodeUsage)
}

func TestPasswordSet(t *testing.T) {
	h := newHarness(t)
	h.api.handle("POST /api/auth/password", replyOK(nil))

	_, err := h.execute(context.Background(), NewAuthCmd(), "password", "set", "--password", "n", "--password-confirmation", "n")
	requireCode(t, err, output.CodeAuth)

	h.signIn(t)
	resp := h.run(t, NewAuthCmd(), "password", "set", "--password", "n", "--password-confirmation", "n")
	assert.Equal(t, "password_set", dataOf(resp)["status"])
	assert.Equal(t, "n", h.api.last("/api/auth/password").Body["password_confirmation"])

	_, err = h.execute(context.Background(), NewAuthCmd(), "password", "set", "--password", "n", "--password-confirmation", "m")
	requireCode(t, err, output.CodeValidation)
}

func TestResendOTP(t *testing.T) {
	h := newHarness(t)
	h.api.handle("POST /api/login", replyOK(map[string]any{"otp_expiry_time": 1760000300}))

	cmd := NewAuthCmd()
	cmd.SetIn(strings.NewReader("s3cret\n"))
	resp := h.run(t, cmd, "resend-otp", "--email", "thandi@example.com", "--password-stdin")

	assert.Equal(t, "otp_sent", dataOf(resp)["status"])
	assert.EqualValues(t, 1760000300, dataOf(resp)["otp_expires"])
	req := h.api.last("/api/login")
	require.NotNil(t, req)
	assert.Equal(t, "s3cret", req.Body["password"])

	_, err := h.execute(context.Background(), NewAuthCmd(), "resend-otp", "--email", "thandi@example.com")
	requireCode(t, err, output.CodeUsage)
}

func TestLoginWithProviderCode(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/auth/google/callback", replyOK(tokenData(t)))

	resp := h.run(t, NewAuthCmd(), "login", "--provider", "google", "--code", "4/0AbCd", "--referral-code", "FRIEND10")

	assert.Equal(t, "Signed in as Thandi Nkosi", resp["summary"])
	assert.True(t, h.app.Auth.IsLoggedIn())
	req := h.api.last("/api/auth/google/callback")
	require.NotNil(t, req)
	q, err := url.ParseQuery(req.Query)
	require.NoError(t, err)
	assert.Equal(t, "4/0AbCd", q.Get("code"))
	assert.Equal(t, "FRIEND10", q.Get("referral_code"))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestLoginWithProviderBrowser(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/auth/google/redirect", replyOK(map[string]any{"url": "https://accounts.example.com/o/auth"}))
	h.api.handle("GET /api/auth/google/callback", replyOK(tokenData(t)))
	addr := freeAddr(t)

	var opened string
	openBrowser = func(u string) error {
		opened = u
		// The provider sends the browser back to the local callback.
		go func() {
			resp, err := http.Get("http://" + addr + "/callback?code=from-browser") //nolint:noctx
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
	t.Cleanup(func() { openBrowser = auth.OpenBrowser })

	resp := h.run(t, NewAuthCmd(), "login", "--provider", "google", "--callback-addr", addr)

	assert.Equal(t, "https://accounts.example.com/o/auth", opened)
	assert.Equal(t, "Signed in as Thandi Nkosi", resp["summary"])
	q, err := url.ParseQuery(h.api.last("/api/auth/google/callback").Query)
	require.NoError(t, err)
	assert.Equal(t, "from-browser", q.Get("code"))
}

func TestLoginWithProviderUsage(t *testing.T) {
	h := newHarness(t)

	_, err := h.execute(context.Background(), NewAuthCmd(), "login", "--provider", "google", "--email", "a@b.c")
	requireCode(t, err, output.CodeUsage)

	h.api.handle("GET /api/auth/google/redirect", replyOK(map[string]any{"url": "https://accounts.example.com/o/auth"}))
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	_, err = h.execute(context.Background(), NewAuthCmd(), "login", "--provider", "google", "--no-browser", "--callback-addr", busy.Addr().String())
	requireCode(t, err, output.CodeUsage)
	assert.Contains(t, output.AsError(err).Hint, "--code")
	assert.False(t, h.app.Auth.IsLoggedIn())
}

// =============================================================================
// resources
// =============================================================================

func TestList(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/vehicles", replyOK([]any{
		map[string]any{"id": 1, "registration": "CA 1"},
		map[string]any{"id": 2, "registration": "CA 2"},
	}))

	resp := h.run(t, NewListCmd(), "vehicles", "--search", "toyota", "--order", "desc", "-p", "status=due")
	assert.Equal(t, "2 vehicles", resp["summary"])
	assert.Len(t, resp["data"], 2)
	assert.Equal(t, "order=desc&search=toyota&status=due", h.api.last("/api/vehicles").Query)
}

func TestListRenewal(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/vehicles/get-vehicles-by-ids", replyOK([]any{}))

	h.run(t, NewListCmd(), "vehicles", "--renewal", "-p", "ids=4,9")
	req := h.api.last("/api/vehicles/get-vehicles-by-ids")
	require.NotNil(t, req)
	assert.Contains(t, req.Query, "page_type=renewal")
}

func TestListValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.execute(context.Background(), NewListCmd(), "vehicles", "--order", "sideways")
	requireCode(t, err, output.CodeUsage)

	_, err = h.execute(context.Background(), NewListCmd(), "vehicles", "-p", "novalue")
	requireCode(t, err, output.CodeUsage)
}

func pageHandler(last int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var n int
		_, _ = fmt.Sscan(r.URL.Query().Get("page"), &n)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"items": []any{map[string]any{"id": n*10 + 1}, map[string]any{"id": n*10 + 2}},
				"pagination": map[string]any{
					"current_page": n, "last_page": last, "per_page": 2, "total": last * 2,
				},
			},
		})
	}
}

func TestListPage(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/vehicles", pageHandler(3))

	resp := h.run(t, NewListCmd(), "vehicles", "--page", "2", "--per-page", "2")
	meta, _ := resp["meta"].(map[string]any)
	pagination, _ := meta["pagination"].(map[string]any)
	assert.EqualValues(t, 2, pagination["current_page"])
	crumbs, _ := resp["breadcrumbs"].([]any)
	require.Len(t, crumbs, 1)
	assert.Equal(t, "renewctl list vehicles --page 3", crumbs[0].(map[string]any)["cmd"])
}

func TestListAllKeepsPageOrder(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/vehicles", pageHandler(5))

	resp := h.run(t, NewListCmd(), "vehicles", "--all")
	items, _ := resp["data"].([]any)
	require.Len(t, items, 10)
	for i, item := range items {
		page, pos := i/2+1, i%2+1
		assert.EqualValues(t, page*10+pos, item.(map[string]any)["id"])
	}
}

func TestListAllRefusesExcessivePageCount(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/vehicles", pageHandler(1<<30))

	_, err := h.execute(context.Background(), NewListCmd(), "vehicles", "--all")
	requireCode(t, err, output.CodeUsage)
	assert.Contains(t, err.Error(), "1073741824 pages")

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	assert.Len(t, h.api.requests, 1, "only the first page is fetched")
}

func TestShowCreateUpdateDelete(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/vehicles/7", replyOK(map[string]any{"id": 7, "registration": "CA 7"}))
	h.api.handle("POST /api/vehicles", replyOK(map[string]any{"id": 8, "registration": "CA 8"}))
	h.api.handle("PUT /api/vehicles/8", replyOK(map[string]any{"id": 8, "registration": "CA 8B"}))
	h.api.handle("DELETE /api/vehicles/8", reply(204, ""))

	resp := h.run(t, NewShowCmd(), "vehicles", "7")
	assert.Equal(t, "CA 7", dataOf(resp)["registration"])

	resp = h.run(t, NewCreateCmd(), "vehicles", "--data", `{"registration":"CA 8"}`)
	assert.EqualValues(t, 8, dataOf(resp)["id"])
	assert.Equal(t, "CA 8", h.api.last("/api/vehicles").Body["registration"])
	crumbs, _ := resp["breadcrumbs"].([]any)
	require.Len(t, crumbs, 1)

	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"registration":"CA 8B"}`), 0o600))
	resp = h.run(t, NewUpdateCmd(), "vehicles", "8", "--data", "@"+path)
	assert.Equal(t, "CA 8B", dataOf(resp)["registration"])

	resp = h.run(t, NewDeleteCmd(), "vehicles", "8")
	assert.Equal(t, "deleted", dataOf(resp)["status"])
}

func TestShowNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.execute(context.Background(), NewShowCmd(), "vehicles", "404")
	requireCode(t, err, output.CodeNotFound)
}

func TestCreateRejectsBadJSON(t *testing.T) {
	h := newHarness(t)
	_, err := h.execute(context.Background(), NewCreateCmd(), "vehicles", "--data", "{nope")
	requireCode(t, err, output.CodeUsage)
}

func TestProfileUpdate(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.api.handle("GET /api/users/profile", replyOK(map[string]any{"id": "42", "name": "Thandi", "surname": "Nkosi"}))
	h.api.handle("POST /api/users/profile", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"42","name":"Thandi","surname":"Dlamini"}}`))
	})

	_, err := h.execute(context.Background(), NewProfileCmd(), "update")
	requireCode(t, err, output.CodeUsage)

	resp := h.run(t, NewProfileCmd(), "update", "--surname", "Dlamini")
	assert.Equal(t, "Dlamini", dataOf(resp)["surname"])
	req := h.api.last("/api/users/profile")
	require.NotNil(t, req)
	assert.Equal(t, "Dlamini", req.Body["surname"])
	assert.Equal(t, "Thandi", req.Body["name"], "unchanged fields are sent back")

	resp = h.run(t, NewProfileCmd(), "show")
	assert.Equal(t, "Thandi", dataOf(resp)["name"])
}

// =============================================================================
// api and config
// =============================================================================

func TestAPICommand(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.api.handle("GET /api/country-list", replyOK([]any{map[string]any{"id": 27, "name": "South Africa"}}))
	h.api.handle("POST /api/vehicles/search", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	resp := h.run(t, NewAPICmd(), "get", "/country-list", "-p", "q=south")
	assert.Equal(t, "GET /country-list: 200", resp["summary"])
	assert.Len(t, resp["data"], 1, "success envelope is unwrapped")
	assert.Equal(t, "", h.api.last("/api/country-list").Auth, "excluded URLs are not decorated")

	resp = h.run(t, NewAPICmd(), "post", "vehicles/search", "--data", `{"make":"Toyota"}`)
	assert.Contains(t, dataOf(resp), "results", "bodies without an envelope pass through")
	assert.Equal(t, "Toyota", h.api.last("/api/vehicles/search").Body["make"])

	_, err := h.execute(context.Background(), NewAPICmd(), "fetch", "x")
	requireCode(t, err, output.CodeUsage)
}

func TestAPICommandJQ(t *testing.T) {
	h := newHarness(t)
	h.api.handle("GET /api/vehicles", replyOK([]any{map[string]any{"id": 1}, map[string]any{"id": 2}}))
	h.app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: h.out, JQ: ".[].id"})

	h.out.Reset()
	cmd := NewAPICmd()
	cmd.SetArgs([]string{"get", "vehicles"})
	require.NoError(t, cmd.ExecuteContext(appctx.WithApp(context.Background(), h.app)))
	assert.Equal(t, "1\n2\n", h.out.String())
}

func TestConfigShow(t *testing.T) {
	h := newHarness(t)
	h.app.Config.CSRFToken = "secret-csrf"

	resp := h.run(t, NewConfigCmd(), "show")
	assert.Equal(t, h.app.Config.BaseURL, dataOf(resp)["base_url"])
	assert.Equal(t, "credentials", dataOf(resp)["session_key"])
	assert.Equal(t, true, dataOf(resp)["csrf_token_set"])
	assert.NotContains(t, h.out.String(), "secret-csrf")
}

// =============================================================================
// helpers
// =============================================================================

func TestParseParams(t *testing.T) {
	v, err := parseParams([]string{"a=1", "a=2", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, v["a"])
	assert.Equal(t, "x=y", v.Get("b"))

	_, err = parseParams([]string{"=1"})
	assert.Error(t, err)
}

func TestParseDataStdin(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(`{"a":1}`))
	body, err := parseData(cmd, "-")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, body)

	_, err = parseData(cmd, "@/does/not/exist.json")
	var oe *output.Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, output.CodeUsage, oe.Code)
}
