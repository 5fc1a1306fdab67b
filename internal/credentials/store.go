package credentials

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/renewdesk/renewctl/internal/apierr"
	"github.com/renewdesk/renewctl/internal/token"
)

// DefaultRefreshTimeout bounds a single refresh operation.
const DefaultRefreshTimeout = 30 * time.Second

var (
	// ErrNoSession is returned by Refresh when no credentials are held.
	ErrNoSession = errors.New("no session")
	// ErrRefreshInProgress is returned by Refresh while another refresh runs.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrNoRefreshFunc is returned by Refresh before SetRefreshFunc was called.
	ErrNoRefreshFunc = errors.New("no refresh operation configured")
	// ErrSuperseded is returned by Refresh when the session changed while it ran.
	ErrSuperseded = errors.New("session changed during refresh")
)

// State is the refresh scheduler state.
type State int

const (
	Idle State = iota
	Scheduled
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RefreshFunc obtains a new credential pair. It must not install the
// result itself; the Store does that.
type RefreshFunc func(ctx context.Context) (*Credentials, error)

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Store.
type Option func(*Store)

// WithKey sets the storage key. Default "credentials".
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithRefreshBuffer sets how long before expiry a refresh is scheduled.
func WithRefreshBuffer(d time.Duration) Option {
	return func(s *Store) { s.refreshBuffer = d }
}

// WithValidityBuffer sets the margin a token must clear to be installed.
// Default 0: any token not yet expired is accepted and, if it is inside the
// refresh buffer, refreshed right away.
func WithValidityBuffer(d time.Duration) Option {
	return func(s *Store) { s.validityBuffer = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithAfterFunc overrides the timer factory.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Store) { s.afterFunc = f }
}

// WithLogger sets the logger used for absorbed failures.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRefreshTimeout bounds scheduled refresh operations.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Store) { s.refreshTimeout = d }
}

// Store is the single owner of the session credentials.
//
// Readers get snapshot copies. Observers are called synchronously after
// every publication, outside the store's lock, so they may call back into
// the store.
type Store struct {
	storage        Storage
	key            string
	refreshBuffer  time.Duration
	validityBuffer time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	afterFunc      AfterFunc
	logger         log.FieldLogger

	mu            sync.Mutex
	creds         *Credentials
	state         State
	gen           uint64
	timer         Timer
	nextRefresh   time.Time
	cancelRefresh context.CancelFunc
	refresh       RefreshFunc
	observers     map[int]func(*Credentials)
	nextID        int
	closed        bool
}

// NewStore creates a Store over storage and loads any persisted session.
// Load failures are logged and leave the store empty.
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage:        storage,
		key:            DefaultKey,
		refreshBuffer:  token.DefaultBuffer,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		afterFunc:      realAfterFunc,
		logger:         log.StandardLogger(),
		observers:      map[int]func(*Credentials){},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

// load installs the persisted session, if any, without re-persisting it.
func (s *Store) load() {
	c, err := s.readStorage()
	if err != nil {
		return
	}
	if _, err := s.validate(c); err != nil {
		s.logger.WithError(err).Warn("discarding stored session")
		s.removeStorage()
		return
	}

	s.mu.Lock()
	s.installLocked(c)
	s.mu.Unlock()
	s.publish(c)
}

// readStorage loads and decodes the persisted pair. Undecodable values are
// removed and reported as ErrCorrupt.
func (s *Store) readStorage() (*Credentials, error) {
	if s.storage == nil {
		return nil, ErrNotFound
	}
	raw, err := s.storage.Load(s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.WithError(err).Warn("reading stored session")
		}
		return nil, err
	}
	c, err := Decode(raw)
	if err != nil {
		s.logger.WithError(err).Warn("decoding stored session")
		s.removeStorage()
		return nil, err
	}
	return c, nil
}

func (s *Store) removeStorage() {
	if s.storage == nil {
		return
	}
	if err := s.storage.Remove(s.key); err != nil {
		s.logger.WithError(err).Warn("removing stored session")
	}
}

// validate decodes the access token and checks it has not expired.
func (s *Store) validate(c *Credentials) (*token.DecodedToken, error) {
	d, err := token.Decode(c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrTokenInvalid, err)
	}
	if !token.IsValid(d, s.validityBuffer, s.now()) {
		return nil, fmt.Errorf("%w: expired at %s", apierr.ErrTokenInvalid, d.ExpiresAt.Format(time.RFC3339))
	}
	return d, nil
}

// SetCredentials installs c, persists it and publishes it. A nil or
// invalid pair clears the session instead. Failures are absorbed.
func (s *Store) SetCredentials(c *Credentials) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	published := s.commitLocked(c.Clone())
	s.mu.Unlock()
	s.publish(published)
}

// Clear removes the session from memory and storage, cancels any pending
// or in-flight refresh and publishes nil.
func (s *Store) Clear() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
	s.publish(nil)
}

// commitLocked validates, persists and installs c, clearing on any
// failure. It returns the value to publish. s.mu must be held.
func (s *Store) commitLocked(c *Credentials) *Credentials {
	if c == nil {
		s.clearLocked()
		return nil
	}
	if _, err := s.validate(c); err != nil {
		s.logger.WithError(err).Warn("rejecting credentials")
		s.clearLocked()
		return nil
	}
	encoded, err := Encode(c)
	if err == nil && s.storage != nil {
		err = s.storage.Save(s.key, encoded)
	}
	if err != nil {
		s.logger.WithError(err).Warn("persisting credentials")
		s.clearLocked()
		return nil
	}
	s.installLocked(c)
	return c
}

func (s *Store) clearLocked() {
	s.removeStorage()
	s.resetLocked()
	s.creds = nil
}

// installLocked swaps in c and arms the refresh timer. s.mu must be held.
func (s *Store) installLocked(c *Credentials) {
	s.resetLocked()
	s.creds = c
	s.scheduleLocked()
}

// resetLocked invalidates timers and refreshes from earlier generations.
func (s *Store) resetLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelRefresh != nil {
		s.cancelRefresh()
		s.cancelRefresh = nil
	}
	s.nextRefresh = time.Time{}
	s.state = Idle
}

func (s *Store) scheduleLocked() {
	if s.creds == nil || s.refresh == nil || s.closed {
		return
	}
	d, err := token.Decode(s.creds.AccessToken)
	if err != nil || d.ExpiresAt == nil {
		return
	}
	now := s.now()
	delay := d.ExpiresAt.Sub(now) - s.refreshBuffer
	if delay < 0 {
		delay = 0
	}
	gen := s.gen
	s.state = Scheduled
	s.nextRefresh = now.Add(delay)
	s.timer = s.afterFunc(delay, func() { s.fire(gen) })
}

// fire runs a scheduled refresh unless the schedule is stale.
func (s *Store) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Scheduled || s.creds == nil || s.refresh == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()
	s.beginRefreshLocked(cancel)
	fn := s.refresh
	s.mu.Unlock()

	_, _ = s.runRefresh(ctx, nil, gen, fn)
}

func (s *Store) beginRefreshLocked(cancel context.CancelFunc) {
	s.state = Refreshing
	s.nextRefresh = time.Time{}
	s.cancelRefresh = cancel
}

// runRefresh calls fn and then, atomically, installs the result or clears
// the session. Results for a generation that is no longer current are
// dropped. When parent is non-nil and was cancelled by its owner, the
// session is kept and the schedule re-armed.
func (s *Store) runRefresh(ctx, parent context.Context, gen uint64, fn RefreshFunc) (*Credentials, error) {
	next, err := fn(ctx)
	if err == nil && next == nil {
		err = errors.New("refresh returned no credentials")
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.cancelRefresh = nil
	s.state = Idle

	if err != nil && parent != nil && parent.Err() != nil {
		s.gen++
		s.scheduleLocked()
		s.mu.Unlock()
		return nil, err
	}
	if err != nil {
		s.logger.WithError(err).Warn("token refresh failed, clearing session")
		s.clearLocked()
		s.mu.Unlock()
		s.publish(nil)
		return nil, err
	}

	published := s.commitLocked(next.Clone())
	s.mu.Unlock()
	s.publish(published)
	if published == nil {
		return nil, fmt.Errorf("refresh returned unusable credentials: %w", apierr.ErrTokenInvalid)
	}
	return published.Clone(), nil
}

// Refresh runs the refresh operation now, through the same guard as the
// scheduler. It fails fast when a refresh is already running.
func (s *Store) Refresh(ctx context.Context) (*Credentials, error) {
	s.mu.Lock()
	switch {
	case s.refresh == nil:
		s.mu.Unlock()
		return nil, ErrNoRefreshFunc
	case s.creds == nil:
		s.mu.Unlock()
		return nil, ErrNoSession
	case s.state == Refreshing:
		s.mu.Unlock()
		return nil, ErrRefreshInProgress
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.beginRefreshLocked(cancel)
	gen := s.gen
	fn := s.refresh
	s.mu.Unlock()

	return s.runRefresh(rctx, ctx, gen, fn)
}

// SetRefreshFunc injects the refresh operation and schedules a refresh
// for credentials already loaded.
func (s *Store) SetRefreshFunc(fn RefreshFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = fn
	if s.creds != nil && s.state == Idle {
		s.gen++
		s.scheduleLocked()
	}
}

// Reload re-reads persisted credentials, picking up changes made by
// another process. It is a no-op when storage matches memory.
func (s *Store) Reload() {
	c, err := s.readStorage()

	s.mu.Lock()
	current := s.creds.Clone()
	s.mu.Unlock()

	switch {
	case err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorrupt):
		return
	case err != nil && current == nil:
		return
	case err != nil:
		s.logger.Debug("stored session removed, clearing")
		s.mu.Lock()
		s.resetLocked()
		s.creds = nil
		s.mu.Unlock()
		s.publish(nil)
	case current != nil && *current == *c:
		return
	default:
		if _, err := s.validate(c); err != nil {
			s.logger.WithError(err).Warn("ignoring stored session")
			return
		}
		s.mu.Lock()
		s.installLocked(c)
		s.mu.Unlock()
		s.publish(c)
	}
}

// Credentials returns a copy of the current session, or nil.
func (s *Store) Credentials() *Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Clone()
}

// AccessToken returns the current access token, or "".
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.AccessToken
}

// IsAuthenticated reports whether a token is held whose recorded expiry
// is strictly in the future.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil || s.creds.AccessToken == "" {
		return false
	}
	return s.creds.ExpiresAt > s.now().UnixMilli()
}

// IsRefreshing reports whether a refresh is in flight.
func (s *Store) IsRefreshing() bool {
	return s.State() == Refreshing
}

// State returns the refresh scheduler state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextRefresh returns when the armed refresh fires, or the zero time.
func (s *Store) NextRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRefresh
}

// Subscribe registers fn to receive every published value and returns a
// function that removes it.
func (s *Store) Subscribe(fn func(*Credentials)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) publish(c *Credentials) {
	s.mu.Lock()
	ids := slices.Sorted(maps.Keys(s.observers))
	fns := make([]func(*Credentials), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(c.Clone())
	}
}

// Close stops the scheduler. The session stays persisted.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.closed = true
}
