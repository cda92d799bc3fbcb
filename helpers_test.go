package sessionx

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var testSecret = []byte("printeasy-test-secret")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mintToken(claims map[string]any, exp time.Time) (string, error) {
	builder := jwt.NewBuilder()
	if !exp.IsZero() {
		builder = builder.Expiration(exp).IssuedAt(exp.Add(-time.Hour))
	}
	for k, v := range claims {
		builder = builder.Claim(k, v)
	}
	token, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, testSecret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func mustMint(t *testing.T, claims map[string]any, exp time.Time) string {
	t.Helper()
	token, err := mintToken(claims, exp)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

// wholeSecond drops sub-second precision, matching what a JWT exp can hold.
func wholeSecond(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: wholeSecond(time.Now())}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves time forward and runs due timers on the calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, timer := range c.timers {
		if !timer.done && !timer.at.After(c.now) {
			timer.done = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	for _, timer := range due {
		timer.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, timer := range c.timers {
		if !timer.done {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// fakeAPI is an in-process identity API plus a protected resource under
// /api/orders/.
type fakeAPI struct {
	srv *httptest.Server
	now func() time.Time

	mu          sync.Mutex
	seq         int
	access      map[string]bool
	refresh     map[string]string
	accessTTL   []time.Duration
	lastLogin   Credentials
	lastRefresh string

	loginStatus    int
	registerStatus int
	refreshStatus  int
	retryAfter     string
	refreshDelay   time.Duration
	refreshGate    chan struct{}
	protectedGate  chan struct{}

	loginCalls     atomic.Int32
	registerCalls  atomic.Int32
	refreshCalls   atomic.Int32
	protectedCalls atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		now:     time.Now,
		access:  make(map[string]bool),
		refresh: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login/", api.handleLogin)
	mux.HandleFunc("POST /api/register/", api.handleRegister)
	mux.HandleFunc("POST /api/refresh/", api.handleRefresh)
	mux.HandleFunc("/api/", api.handleProtected)
	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func (a *fakeAPI) login() Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastLogin
}

func (a *fakeAPI) config() Config {
	return Config{BaseURL: a.srv.URL + "/api/"}
}

// queueTTL sets the lifetimes of the next issued access tokens.
func (a *fakeAPI) queueTTL(ttls ...time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accessTTL = append(a.accessTTL, ttls...)
}

// configure mutates the API's behaviour under its lock.
func (a *fakeAPI) configure(f func(a *fakeAPI)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f(a)
}

func (a *fakeAPI) revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.access[token] = false
}

func (a *fakeAPI) issue(email string) (TokenPair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	ttl := time.Hour
	if len(a.accessTTL) > 0 {
		ttl, a.accessTTL = a.accessTTL[0], a.accessTTL[1:]
	}
	access, err := mintToken(map[string]any{
		"user_id":   a.seq,
		"email":     email,
		"user_type": "client",
		"is_active": true,
		"jti":       fmt.Sprintf("token-%d", a.seq),
	}, wholeSecond(a.now()).Add(ttl))
	if err != nil {
		return TokenPair{}, err
	}
	pair := TokenPair{AccessToken: access, RefreshToken: fmt.Sprintf("refresh-%d", a.seq)}
	a.access[pair.AccessToken] = true
	a.refresh[pair.RefreshToken] = email
	return pair, nil
}

func (a *fakeAPI) writeStatus(w http.ResponseWriter, status int) bool {
	if status == 0 || status == http.StatusOK {
		return false
	}
	a.mu.Lock()
	retryAfter := a.retryAfter
	a.mu.Unlock()
	if retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"detail":"rejected by fake api"}`))
	return true
}

func (a *fakeAPI) writePair(w http.ResponseWriter, pair TokenPair) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"access": pair.AccessToken, "refresh": pair.RefreshToken})
}

func (a *fakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	a.loginCalls.Add(1)
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.lastLogin = creds
	status := a.loginStatus
	a.mu.Unlock()
	if a.writeStatus(w, status) {
		return
	}
	if len(creds.Password) < 6 {
		a.writeStatus(w, http.StatusBadRequest)
		return
	}
	pair, err := a.issue(creds.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.writePair(w, pair)
}

func (a *fakeAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	a.registerCalls.Add(1)
	var reg Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	status := a.registerStatus
	a.mu.Unlock()
	if a.writeStatus(w, status) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user": map[string]any{
			"id":        7,
			"name":      reg.FirstName + " " + reg.LastName,
			"email":     reg.Email,
			"user_type": "client",
		},
	})
}

func (a *fakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a.refreshCalls.Add(1)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.lastRefresh = body.RefreshToken
	gate, delay, status := a.refreshGate, a.refreshDelay, a.refreshStatus
	email, known := a.refresh[body.RefreshToken]
	a.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if a.writeStatus(w, status) {
		return
	}
	if !known {
		a.writeStatus(w, http.StatusUnauthorized)
		return
	}
	a.mu.Lock()
	delete(a.refresh, body.RefreshToken)
	a.mu.Unlock()
	pair, err := a.issue(email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.writePair(w, pair)
}

func (a *fakeAPI) handleProtected(w http.ResponseWriter, r *http.Request) {
	a.protectedCalls.Add(1)
	a.mu.Lock()
	gate := a.protectedGate
	a.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if strings.HasSuffix(r.URL.Path, "/broken/") {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	a.mu.Lock()
	ok := a.access[token]
	a.mu.Unlock()
	if strings.HasSuffix(r.URL.Path, "/always-401/") {
		ok = false
	}
	if !ok {
		if gate != nil {
			<-gate
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"path":          r.URL.Path,
		"authorization": r.Header.Get("Authorization"),
		"body":          string(body),
	})
}

func newTestGateway(t *testing.T, api *fakeAPI, opts ...Option) *Gateway {
	t.Helper()
	base := []Option{
		WithStore(NewMemoryStore()),
		WithLogger(discardLogger()),
		WithHTTPClient(api.srv.Client()),
	}
	g, err := NewGateway(api.config(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func mustLogin(t *testing.T, g *Gateway) TokenPair {
	t.Helper()
	pair, err := g.Login(t.Context(), Credentials{Email: "client@printeasy.cm", Password: "correct-password"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return pair
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
