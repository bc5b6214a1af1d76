package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/observability"
	"github.com/retailiq/hub/pkg/cache"
)

// ErrUnauthenticated is returned when a request carries no valid session.
var ErrUnauthenticated = errors.New("authentication required")

// SessionStore looks up sessions by token.
type SessionStore interface {
	GetByToken(ctx context.Context, token string) (*models.Session, error)
}

const sessionCacheName = "session"

// SessionCacheConfig controls the in-process session cache.
type SessionCacheConfig struct {
	Size    int
	TTL     time.Duration
	Metrics observability.CacheMetrics
}

// SessionService resolves session tokens to sessions. Valid sessions are cached for a short
// TTL so every API call does not hit the session table.
type SessionService struct {
	store   SessionStore
	cache   *cache.Cache[*models.Session]
	metrics observability.CacheMetrics
	now     func() time.Time
}

// NewSessionService creates a session service. A zero TTL or size disables caching.
func NewSessionService(store SessionStore, cfg SessionCacheConfig) *SessionService {
	s := &SessionService{store: store, metrics: cfg.Metrics, now: time.Now}

	if cfg.Size > 0 && cfg.TTL > 0 {
		s.cache, _ = cache.New[*models.Session](cfg.Size, cache.WithTTL(cfg.TTL))
	}

	return s
}

// TokenFromCookie extracts the session token from a signed session cookie value
// ("<token>.<signature>", possibly URL-encoded).
func TokenFromCookie(value string) string {
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}

	token, _, _ := strings.Cut(value, ".")

	return strings.TrimSpace(token)
}

// Authenticate returns the live session for token or ErrUnauthenticated.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	session, err := s.lookup(ctx, token)
	if err != nil {
		if errors.Is(err, huberrors.ErrNotFound) {
			return nil, ErrUnauthenticated
		}

		slog.Error("session: lookup failed", "error", err)

		return nil, err
	}

	if session.Expired(s.now()) {
		if s.cache != nil {
			s.cache.Remove(token)
		}

		return nil, ErrUnauthenticated
	}

	return session, nil
}

func (s *SessionService) lookup(ctx context.Context, token string) (*models.Session, error) {
	if s.cache == nil {
		return s.store.GetByToken(ctx, token)
	}

	session, hit, err := s.cache.Fetch(ctx, token, s.store.GetByToken)
	if err == nil && s.metrics != nil {
		s.metrics.RecordLookup(ctx, sessionCacheName, hit)
	}

	return session, err
}
