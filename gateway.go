package sessionx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// Phase is the session lifecycle state of a Gateway.
type Phase string

const (
	PhaseAnonymous      Phase = "anonymous"
	PhaseAuthenticating Phase = "authenticating"
	PhaseAuthenticated  Phase = "authenticated"
	PhaseRefreshing     Phase = "refreshing"
)

// Gateway owns the session: it talks to the identity API and keeps the
// store, the state and the refresh scheduler consistent with each other.
type Gateway struct {
	cfg     Config
	store   Store
	state   *State
	sched   *Scheduler
	remote  *remoteClient
	clock   Clock
	log     *slog.Logger
	metrics *Metrics
	flight  refreshCoordinator

	// mu serializes session writes; epoch changes on every login and logout
	// so a refresh that started before can tell its result is stale.
	mu     sync.RWMutex
	epoch  uint64
	logins atomic.Int32
}

// Option customizes a Gateway.
type Option func(*gatewayOptions)

type gatewayOptions struct {
	store      Store
	state      *State
	httpClient *http.Client
	clock      Clock
	log        *slog.Logger
	metrics    *Metrics
}

// WithStore overrides the store built from Config.Store.
func WithStore(store Store) Option {
	return func(o *gatewayOptions) { o.store = store }
}

// WithState shares an existing State with the gateway.
func WithState(state *State) Option {
	return func(o *gatewayOptions) { o.state = state }
}

// WithHTTPClient sets the client used for identity API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *gatewayOptions) { o.httpClient = hc }
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock Clock) Option {
	return func(o *gatewayOptions) { o.clock = clock }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *gatewayOptions) { o.log = log }
}

// WithMetrics enables prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(o *gatewayOptions) { o.metrics = m }
}

// NewGateway builds a gateway and restores a stored session. A stored access
// token that is still valid becomes the current identity; an expired one is
// cleared together with its refresh token, without a network call.
func NewGateway(cfg Config, opts ...Option) (*Gateway, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var o gatewayOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.clock == nil {
		o.clock = SystemClock{}
	}
	if o.state == nil {
		o.state = NewState()
	}
	if o.store == nil {
		store, err := NewStore(cfg.Store, o.log)
		if err != nil {
			return nil, err
		}
		o.store = store
	}

	g := &Gateway{
		cfg:     cfg,
		store:   o.store,
		state:   o.state,
		remote:  newRemoteClient(cfg, o.httpClient),
		clock:   o.clock,
		log:     o.log,
		metrics: o.metrics,
	}
	g.flight.onWait = g.metrics.waiter
	g.sched = NewScheduler(o.clock, cfg.Skew, g.scheduledRefresh, o.log)
	g.bootstrap(context.Background())
	return g, nil
}

func (g *Gateway) bootstrap(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pair := loadPair(ctx, g.store)
	if pair.AccessToken == "" {
		return
	}
	if isExpiredAt(pair.AccessToken, g.cfg.Skew, g.clock.Now()) {
		g.log.Info("stored session expired, clearing tokens")
		removePair(ctx, g.store)
		return
	}
	claims, err := Decode(pair.AccessToken)
	if err != nil {
		removePair(ctx, g.store)
		return
	}
	g.state.Set(IdentityFromClaims(claims))
	g.sched.Arm(pair.AccessToken)
}

// State returns the observable session state.
func (g *Gateway) State() *State { return g.state }

// Store returns the session store.
func (g *Gateway) Store() Store { return g.store }

// Preferences returns the preference helper over the session store.
func (g *Gateway) Preferences() *Preferences { return NewPreferences(g.store) }

// Phase reports the current lifecycle phase.
func (g *Gateway) Phase() Phase {
	switch {
	case g.flight.refreshing():
		return PhaseRefreshing
	case g.state.Current() != nil:
		return PhaseAuthenticated
	case g.logins.Load() > 0:
		return PhaseAuthenticating
	default:
		return PhaseAnonymous
	}
}

// Tokens returns the stored token pair. Fields are empty when absent.
func (g *Gateway) Tokens() TokenPair {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return loadPair(context.Background(), g.store)
}

// IsLoggedIn reports whether an access token is stored and is not expired,
// using the same skew as the scheduler.
func (g *Gateway) IsLoggedIn() bool {
	token := g.Tokens().AccessToken
	return token != "" && !isExpiredAt(token, g.cfg.Skew, g.clock.Now())
}

// Login authenticates with the identity API. On success the token pair, the
// identity and the refresh timer are replaced together; on failure the
// existing session is left untouched.
func (g *Gateway) Login(ctx context.Context, creds Credentials) (TokenPair, error) {
	const op = "sessionx.Login"

	creds = creds.Sanitize()
	log := g.log.With(slog.String("op", op), slog.String("email", creds.Email))

	if err := creds.Validate(); err != nil {
		g.metrics.login(err)
		return TokenPair{}, err
	}

	g.logins.Add(1)
	defer g.logins.Add(-1)

	pair, err := g.remote.login(ctx, creds)
	if err == nil {
		_, err = Decode(pair.AccessToken)
	}
	if err != nil {
		log.Warn("login failed", slog.String("code", string(CodeOf(err))), errAttr(err))
		g.metrics.login(err)
		return TokenPair{}, err
	}

	armed := g.apply(ctx, pair, true)
	log.Info("user logged in")
	g.metrics.login(nil)

	if !armed {
		// the server handed out a token already inside the skew window
		go g.scheduledRefresh()
	}
	return pair, nil
}

// Register creates an account. It never signs the user in.
func (g *Gateway) Register(ctx context.Context, reg Registration) (*RegisteredUser, error) {
	const op = "sessionx.Register"

	reg = reg.Sanitize()
	log := g.log.With(slog.String("op", op), slog.String("email", reg.Email))

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	user, err := g.remote.register(ctx, reg)
	if err != nil {
		log.Warn("registration failed", slog.String("code", string(CodeOf(err))), errAttr(err))
		return nil, err
	}
	log.Info("user registered")
	return user, nil
}

// RefreshToken exchanges the stored refresh token for a new pair. Without a
// stored refresh token it fails at once with ErrNoRefreshToken. Concurrent
// callers share one remote call. Any failure ends the session.
func (g *Gateway) RefreshToken(ctx context.Context) (TokenPair, error) {
	if g.Tokens().RefreshToken == "" {
		return TokenPair{}, newError(ErrCodeNoRefreshToken, nil)
	}
	detached := context.WithoutCancel(ctx)
	return g.flight.do(ctx, func() (TokenPair, error) {
		return g.refresh(detached)
	})
}

func (g *Gateway) refresh(ctx context.Context) (TokenPair, error) {
	const op = "sessionx.RefreshToken"
	log := g.log.With(slog.String("op", op))

	g.mu.RLock()
	epoch := g.epoch
	refreshToken := loadPair(ctx, g.store).RefreshToken
	g.mu.RUnlock()

	if refreshToken == "" {
		return TokenPair{}, newError(ErrCodeNoRefreshToken, nil)
	}

	pair, err := g.remote.refresh(ctx, refreshToken)
	if err == nil {
		_, err = Decode(pair.AccessToken)
	}

	g.mu.Lock()
	if g.epoch != epoch {
		g.mu.Unlock()
		log.Info("discarding refresh result, session changed while in flight")
		g.metrics.refresh(ErrSessionEnded)
		return TokenPair{}, newError(ErrCodeSessionEnded, err)
	}
	if err != nil {
		g.logoutLocked(ctx)
		g.mu.Unlock()
		log.Warn("refresh failed, session ended", slog.String("code", string(CodeOf(err))), errAttr(err))
		failure := newError(ErrCodeRefreshFailed, err)
		g.metrics.refresh(failure)
		return TokenPair{}, failure
	}
	armed := g.applyLocked(ctx, pair, false)
	g.mu.Unlock()

	if !armed {
		log.Warn("refreshed token already inside skew window, not rescheduling")
	}
	g.metrics.refresh(nil)
	return pair, nil
}

// scheduledRefresh is the scheduler callback.
func (g *Gateway) scheduledRefresh() {
	if _, err := g.RefreshToken(context.Background()); err != nil && !errors.Is(err, ErrNoRefreshToken) {
		g.log.Warn("scheduled refresh failed", errAttr(err))
	}
}

// Logout ends the session. Calling it repeatedly, or without a session, is
// harmless.
func (g *Gateway) Logout(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logoutLocked(ctx)
}

func (g *Gateway) logoutLocked(ctx context.Context) {
	hadSession := g.state.Current() != nil
	removePair(ctx, g.store)
	if hadSession {
		g.state.Set(nil)
		g.metrics.logout()
	}
	g.sched.Cancel()
	g.epoch++
}

func (g *Gateway) apply(ctx context.Context, pair TokenPair, newSession bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applyLocked(ctx, pair, newSession)
}

// applyLocked writes pair, derives the identity and re-arms the scheduler.
// It reports whether a future refresh was armed.
func (g *Gateway) applyLocked(ctx context.Context, pair TokenPair, newSession bool) bool {
	claims, err := Decode(pair.AccessToken)
	if err != nil {
		return false
	}
	if newSession {
		g.epoch++
	}
	savePair(ctx, g.store, pair)
	g.state.Set(IdentityFromClaims(claims))
	return g.sched.Arm(pair.AccessToken)
}
