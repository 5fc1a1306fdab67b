// Package gateway wraps every API request with the session's cross-cutting
// policy: header decoration, deduplication, per-attempt timeouts, bounded
// retries, error normalization and forced logout.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/renewdesk/renewctl/internal/apierr"
)

// DefaultLoginPath is where a forced logout navigates.
const DefaultLoginPath = "/login"

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Session is the credential holder the gateway reads tokens from and
// clears on a final 401.
type Session interface {
	AccessToken() string
	Clear()
}

// Page is the surrounding interaction context.
type Page interface {
	// AntiForgeryToken returns the CSRF token, or "" when none is known.
	AntiForgeryToken() string
	// Navigate sends the user to path.
	Navigate(path string)
}

// StaticPage is a Page with a fixed anti-forgery token.
type StaticPage struct {
	CSRFToken  string
	OnNavigate func(path string)
}

func (p *StaticPage) AntiForgeryToken() string { return p.CSRFToken }

func (p *StaticPage) Navigate(path string) {
	if p.OnNavigate != nil {
		p.OnNavigate(path)
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseURL sets the base URL relative paths are resolved against.
func WithBaseURL(base string) Option {
	return func(g *Gateway) { g.baseURL = strings.TrimRight(base, "/") }
}

// WithPolicy replaces the default retry policy.
func WithPolicy(p RetryPolicy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithHooks sets the observability hooks.
func WithHooks(h Hooks) Option {
	return func(g *Gateway) {
		if h != nil {
			g.hooks = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithLoginPath sets where a forced logout navigates.
func WithLoginPath(path string) Option {
	return func(g *Gateway) { g.loginPath = path }
}

// WithUserAgent sets the User-Agent header on decorated requests.
func WithUserAgent(ua string) Option {
	return func(g *Gateway) { g.userAgent = ua }
}

// WithRateLimit makes every attempt wait on limiter first.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(g *Gateway) { g.limiter = limiter }
}

// WithClock overrides the time source used for error timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithSleep overrides how the gateway waits between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = sleep }
}

// Gateway is the RequestGateway. It is safe for concurrent use.
type Gateway struct {
	doer      Doer
	session   Session
	page      Page
	baseURL   string
	policy    RetryPolicy
	hooks     Hooks
	logger    log.FieldLogger
	loginPath string
	userAgent string
	limiter   *rate.Limiter
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[string]*call
}

// call is one in-flight shared execution.
type call struct {
	done chan struct{}
	resp *Response
	err  error
}

// New creates a Gateway. session and page may be nil.
func New(doer Doer, session Session, page Page, opts ...Option) *Gateway {
	if doer == nil {
		doer = http.DefaultClient
	}
	g := &Gateway{
		doer:      doer,
		session:   session,
		page:      page,
		policy:    DefaultRetryPolicy(),
		hooks:     NopHooks{},
		logger:    log.StandardLogger(),
		loginPath: DefaultLoginPath,
		now:       time.Now,
		sleep:     sleepCtx,
		inflight:  map[string]*call{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy returns the gateway's retry policy.
func (g *Gateway) Policy() RetryPolicy {
	return g.policy
}

// Pending returns the number of in-flight deduplicated calls.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// Do sends req through the gateway. Every returned error is an
// *apierr.EnhancedError.
//
// Identical requests issued while one is in flight share its outcome and
// make a single network call. The shared call is detached from any one
// caller's context: a caller that gives up gets its context error while
// the others keep waiting.
func (g *Gateway) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, apierr.FromRequest("", "", errors.New("nil request"), g.now())
	}
	req = req.clone()
	req.URL = g.resolve(req.URL)

	if g.policy.Excluded(req.URL) {
		return g.attempt(ctx, req, 1, false)
	}

	key := req.Fingerprint()
	info := CallInfo{Method: req.Method, URL: req.URL}

	g.mu.Lock()
	if c, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		g.hooks.OnDedupHit(ctx, info)
		return g.wait(ctx, req, c)
	}
	c := &call{done: make(chan struct{})}
	g.inflight[key] = c
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), key, req, c)
	return g.wait(ctx, req, c)
}

func (g *Gateway) wait(ctx context.Context, req *Request, c *call) (*Response, error) {
	select {
	case <-c.done:
		return c.resp.clone(), c.err
	case <-ctx.Done():
		return nil, apierr.FromTransport(req.Method, req.URL, ctx.Err(), errors.Is(ctx.Err(), context.DeadlineExceeded), g.now())
	}
}

// run executes a shared call and settles it. The entry is removed before
// waiters are released so a later identical request starts fresh.
func (g *Gateway) run(ctx context.Context, key string, req *Request, c *call) {
	info := CallInfo{Method: req.Method, URL: req.URL}
	start := g.now()
	ctx = g.hooks.OnCallStart(ctx, info)

	resp, err := g.execute(ctx, req)
	if e, ok := apierr.As(err); ok && e.Status == http.StatusUnauthorized {
		g.forceLogout(ctx, info)
	}
	g.hooks.OnCallEnd(ctx, info, err, g.now().Sub(start))

	c.resp, c.err = resp, err
	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
	close(c.done)
}

// execute runs the attempt loop with backoff between retries.
func (g *Gateway) execute(ctx context.Context, req *Request) (*Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := g.attempt(ctx, req, attempt, true)
		if err == nil {
			return resp, nil
		}
		e, _ := apierr.As(err)
		if attempt > g.policy.RetryCount || !g.policy.ShouldRetry(e) {
			g.logger.WithFields(log.Fields{
				"method":   req.Method,
				"url":      req.URL,
				"status":   e.Status,
				"attempts": attempt,
			}).Debugf("request failed: %v", e)
			return nil, e
		}

		delay := g.policy.Delay(attempt)
		g.hooks.OnRetry(ctx, RequestInfo{Method: req.Method, URL: req.URL, Attempt: attempt}, attempt+1, delay, e)
		g.logger.Debugf("retry %d/%d in %v: %v", attempt, g.policy.RetryCount, delay, e)
		if err := g.sleep(ctx, delay); err != nil {
			return nil, e
		}
	}
}

// attempt performs one HTTP exchange bounded by the policy timeout.
func (g *Gateway) attempt(ctx context.Context, req *Request, n int, decorate bool) (*Response, error) {
	fail := func(cause error, timedOut bool) *apierr.EnhancedError {
		e := apierr.FromTransport(req.Method, req.URL, cause, timedOut, g.now())
		e.Attempts = n
		return e
	}
	unsent := func(cause error) *apierr.EnhancedError {
		e := apierr.FromRequest(req.Method, req.URL, cause, g.now())
		e.Attempts = n
		return e
	}

	if g.limiter != nil && decorate {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, unsent(err)
		}
	}

	actx := ctx
	if g.policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.Method, req.URL, body)
	if err != nil {
		return nil, unsent(err)
	}
	httpReq.Header = req.Header.Clone()

	info := RequestInfo{Method: req.Method, URL: req.URL, Attempt: n}
	if decorate {
		info.RequestID = uuid.NewString()
		g.decorate(httpReq, req, info.RequestID)
	}

	hctx := g.hooks.OnRequestStart(actx, info)
	start := g.now()

	resp, err := g.doer.Do(httpReq)
	if err != nil {
		e := fail(err, isTimeout(actx, ctx, err))
		g.hooks.OnRequestEnd(hctx, info, RequestResult{Duration: g.now().Sub(start), Retryable: true, Error: e})
		return nil, e
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e := fail(err, isTimeout(actx, ctx, err))
		g.hooks.OnRequestEnd(hctx, info, RequestResult{StatusCode: resp.StatusCode, Duration: g.now().Sub(start), Retryable: true, Error: e})
		return nil, e
	}

	result := RequestResult{StatusCode: resp.StatusCode, Duration: g.now().Sub(start)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := apierr.FromResponse(req.Method, req.URL, resp.StatusCode, data, g.now())
		e.Attempts = n
		result.Error = e
		result.Retryable = g.policy.ShouldRetry(e)
		g.hooks.OnRequestEnd(hctx, info, result)
		return nil, e
	}

	g.hooks.OnRequestEnd(hctx, info, result)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// isTimeout reports whether the attempt deadline, rather than the caller,
// ended the exchange.
func isTimeout(attemptCtx, parent context.Context, err error) bool {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (g *Gateway) decorate(httpReq *http.Request, req *Request, requestID string) {
	h := httpReq.Header

	if g.page != nil {
		if csrf := g.page.AntiForgeryToken(); csrf != "" {
			h.Set("X-CSRF-Token", csrf)
		}
	}
	if req.Method == http.MethodGet && h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", "no-cache")
		h.Set("Pragma", "no-cache")
	}
	if g.session != nil {
		if token := g.session.AccessToken(); token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	if !isBinaryContentType(h.Get("Content-Type")) {
		h.Set("Content-Type", "application/json")
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	if g.userAgent != "" {
		h.Set("User-Agent", g.userAgent)
	}
	h.Set("X-Request-ID", requestID)
}

func isBinaryContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "multipart/") || strings.HasPrefix(ct, "application/octet-stream")
}

func (g *Gateway) forceLogout(ctx context.Context, info CallInfo) {
	g.logger.WithField("url", info.URL).Warn("session rejected by server, logging out")
	if g.session != nil {
		g.session.Clear()
	}
	if g.page != nil {
		g.page.Navigate(g.loginPath)
	}
	g.hooks.OnForcedLogout(ctx, info)
}

// resolve turns a relative path into a URL under the base URL.
func (g *Gateway) resolve(raw string) string {
	if g.baseURL == "" || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return g.baseURL + "/" + strings.TrimLeft(raw, "/")
}

// URL builds an absolute URL for path with query appended. Empty query
// values are dropped; the remaining keys are encoded in sorted order.
func (g *Gateway) URL(path string, query url.Values) string {
	u := g.resolve(path)
	clean := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			if v != "" {
				clean.Add(k, v)
			}
		}
	}
	if len(clean) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + clean.Encode()
}

// Get performs a GET request.
func (g *Gateway) Get(ctx context.Context, path string) (*Response, error) {
	return g.Do(ctx, NewRequest(http.MethodGet, path, nil))
}

// Post performs a POST request with a JSON body.
func (g *Gateway) Post(ctx context.Context, path string, body any) (*Response, error) {
	return g.doJSON(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body.
func (g *Gateway) Put(ctx context.Context, path string, body any) (*Response, error) {
	return g.doJSON(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (g *Gateway) Delete(ctx context.Context, path string) (*Response, error) {
	return g.Do(ctx, NewRequest(http.MethodDelete, path, nil))
}

func (g *Gateway) doJSON(ctx context.Context, method, path string, body any) (*Response, error) {
	req, err := NewJSONRequest(method, path, body)
	if err != nil {
		return nil, apierr.FromTransport(method, g.resolve(path), err, false, g.now())
	}
	return g.Do(ctx, req)
}
