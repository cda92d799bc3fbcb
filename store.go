package sessionx

import (
	"context"
	"fmt"
	"log/slog"
)

// Storage keys for the token pair.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"

	preferencePrefix = "pref."
)

// Store persists session strings. Implementations never surface storage
// failures: they log them, reads report a miss and writes are dropped.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Remove(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// BatchSetter is implemented by stores that can write several keys as one
// atomic operation.
type BatchSetter interface {
	SetMany(ctx context.Context, values map[string]string)
}

// BatchRemover is implemented by stores that can delete several keys as one
// atomic operation.
type BatchRemover interface {
	RemoveMany(ctx context.Context, keys ...string)
}

// NewStore builds the backend named by cfg.Backend. The choice is made once;
// a Gateway never switches backends.
func NewStore(cfg StoreConfig, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg.normalize()
	switch cfg.Backend {
	case BackendFile:
		return NewFileStore(cfg.Path, log), nil
	case BackendRedis:
		return NewRedisStore(newRedisClient(cfg), cfg.Prefix, log), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendNone:
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// NopStore is used where nothing may persist, such as server-side rendering.
type NopStore struct{}

// Get never finds a value.
func (NopStore) Get(context.Context, string) (string, bool) { return "", false }

// Set discards the value.
func (NopStore) Set(context.Context, string, string) {}

// Remove does nothing.
func (NopStore) Remove(context.Context, string) {}

// Clear does nothing.
func (NopStore) Clear(context.Context) {}

func loadPair(ctx context.Context, store Store) TokenPair {
	access, _ := store.Get(ctx, AccessTokenKey)
	refresh, _ := store.Get(ctx, RefreshTokenKey)
	return TokenPair{AccessToken: access, RefreshToken: refresh}
}

func savePair(ctx context.Context, store Store, pair TokenPair) {
	if bs, ok := store.(BatchSetter); ok {
		bs.SetMany(ctx, map[string]string{
			AccessTokenKey:  pair.AccessToken,
			RefreshTokenKey: pair.RefreshToken,
		})
		return
	}
	store.Set(ctx, AccessTokenKey, pair.AccessToken)
	store.Set(ctx, RefreshTokenKey, pair.RefreshToken)
}

func removePair(ctx context.Context, store Store) {
	if br, ok := store.(BatchRemover); ok {
		br.RemoveMany(ctx, AccessTokenKey, RefreshTokenKey)
		return
	}
	store.Remove(ctx, AccessTokenKey)
	store.Remove(ctx, RefreshTokenKey)
}

// Preferences stores user preferences (theme, language, ...) next to the
// session. They survive a logout.
type Preferences struct {
	store Store
}

// NewPreferences wraps store.
func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

// Get returns the preference name.
func (p *Preferences) Get(ctx context.Context, name string) (string, bool) {
	return p.store.Get(ctx, preferencePrefix+name)
}

// Set stores the preference name.
func (p *Preferences) Set(ctx context.Context, name, value string) {
	p.store.Set(ctx, preferencePrefix+name, value)
}

// Remove deletes the preference name.
func (p *Preferences) Remove(ctx context.Context, name string) {
	p.store.Remove(ctx, preferencePrefix+name)
}
