package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Errors returned by the session governor.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
)

// Revocation reasons recorded on session records.
const (
	RevokeReasonIdleTimeout  = "idle_timeout"
	RevokeReasonSessionLimit = "session_limit"
	RevokeReasonLogout       = "logout"
	RevokeReasonHardExpired  = "hard_expired"
)

// Record is one durable session row in a tenant database, mirrored as a
// short-lived cache entry keyed by token hash.
type Record struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"userId"`
	TokenHash      string     `json:"tokenHash"`
	IPAddress      string     `json:"ipAddress"`
	UserAgent      string     `json:"userAgent"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
	RevokeReason   string     `json:"revokeReason,omitempty"`
}

// Config bounds per-user session consumption for one tenant.
type Config struct {
	MaxSessions int           // active-session ceiling per user
	SessionTTL  time.Duration // hard expiry from creation
	IdleTimeout time.Duration // lazy revocation after inactivity
}

// DefaultConfig applies when a tenant has no override.
var DefaultConfig = Config{
	MaxSessions: 5,
	SessionTTL:  24 * time.Hour,
	IdleTimeout: 2 * time.Hour,
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultConfig.MaxSessions
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultConfig.SessionTTL
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultConfig.IdleTimeout
	}
	return c
}

// Repository is the durable, tenant-side session store.
type Repository interface {
	Create(ctx context.Context, databaseName string, rec Record) error
	GetByTokenHash(ctx context.Context, databaseName, tokenHash string) (Record, error)
	// ActiveByUser returns non-revoked, non-expired sessions ordered by
	// last_activity_at ascending (least recently active first).
	ActiveByUser(ctx context.Context, databaseName string, userID uuid.UUID) ([]Record, error)
	Touch(ctx context.Context, databaseName string, id uuid.UUID, at time.Time) error
	Revoke(ctx context.Context, databaseName string, id uuid.UUID, reason string, at time.Time) error
}

// Cache is the fast validation path keyed by token hash.
type Cache interface {
	Get(ctx context.Context, databaseName, tokenHash string) (Record, bool, error)
	Set(ctx context.Context, databaseName string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, databaseName, tokenHash string) error
}

// ConfigSource resolves per-tenant overrides; ok=false falls back to defaults.
type ConfigSource interface {
	SessionConfig(databaseName string) (Config, bool)
}

// StaticConfigSource is a fixed per-tenant override map.
type StaticConfigSource map[string]Config

func (s StaticConfigSource) SessionConfig(databaseName string) (Config, bool) {
	cfg, ok := s[databaseName]
	return cfg, ok
}

// Service governs per-user concurrent session accounting: bounded by a
// per-tenant ceiling with LRU eviction, validated through a cache-first path
// with a durable fallback.
type Service struct {
	repo    Repository
	cache   Cache
	configs ConfigSource
	logger  *zap.Logger
	now     func() time.Time
	cacheTT time.Duration
}

// New constructs the session governor. configs may be nil (defaults apply to
// every tenant).
func New(repo Repository, cache Cache, configs ConfigSource, logger *zap.Logger) *Service {
	if repo == nil {
		panic("sessions repo is required")
	}
	if cache == nil {
		panic("sessions cache is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		configs: configs,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		cacheTT: 5 * time.Minute,
	}
}

// HashToken returns the one-way hash under which a session token is stored
// and cached. Raw tokens are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) config(databaseName string) Config {
	if s.configs != nil {
		if cfg, ok := s.configs.SessionConfig(databaseName); ok {
			return cfg.withDefaults()
		}
	}
	return DefaultConfig
}

// CreateInput describes a new session.
type CreateInput struct {
	UserID    uuid.UUID
	Token     string
	IPAddress string
	UserAgent string
}

// Create records a session. When the user is at the ceiling the least
// recently active session is revoked first; the ceiling is enforced
// internally and never surfaces as a caller-facing error.
func (s *Service) Create(ctx context.Context, databaseName string, input CreateInput) (Record, error) {
	cfg := s.config(databaseName)
	now := s.now()

	// Read-then-revoke is not atomic: two concurrent creates for one user can
	// both observe ceiling-1 active sessions and briefly overshoot. The next
	// create re-reads and revokes back down, so the ceiling converges.
	active, err := s.repo.ActiveByUser(ctx, databaseName, input.UserID)
	if err != nil {
		return Record{}, err
	}

	for len(active) >= cfg.MaxSessions {
		victim := active[0] // least recently active
		if err := s.repo.Revoke(ctx, databaseName, victim.ID, RevokeReasonSessionLimit, now); err != nil {
			return Record{}, err
		}
		if err := s.cache.Delete(ctx, databaseName, victim.TokenHash); err != nil {
			s.logger.Warn("session cache invalidation failed", zap.Error(err))
		}
		s.logger.Info("session evicted at ceiling",
			zap.String("database", databaseName),
			zap.String("user_id", input.UserID.String()),
			zap.String("session_id", victim.ID.String()),
		)
		active = active[1:]
	}

	rec := Record{
		ID:             uuid.New(),
		UserID:         input.UserID,
		TokenHash:      HashToken(input.Token),
		IPAddress:      input.IPAddress,
		UserAgent:      input.UserAgent,
		LastActivityAt: now,
		ExpiresAt:      now.Add(cfg.SessionTTL),
	}

	if err := s.repo.Create(ctx, databaseName, rec); err != nil {
		return Record{}, err
	}
	if err := s.cache.Set(ctx, databaseName, rec, s.cacheTT); err != nil {
		s.logger.Warn("session cache set failed", zap.Error(err))
	}
	return rec, nil
}

// Validate checks a raw token: cache first, durable fallback with cache
// repopulation. Idle sessions are revoked lazily here with the idle_timeout
// reason; validated sessions get their last activity refreshed.
func (s *Service) Validate(ctx context.Context, databaseName, token string) (Record, error) {
	hash := HashToken(token)
	now := s.now()

	rec, hit, err := s.cache.Get(ctx, databaseName, hash)
	if err != nil {
		s.logger.Warn("session cache lookup failed", zap.Error(err))
		hit = false
	}
	if !hit {
		rec, err = s.repo.GetByTokenHash(ctx, databaseName, hash)
		if err != nil {
			return Record{}, err
		}
	}

	if rec.RevokedAt != nil {
		return Record{}, ErrSessionRevoked
	}
	if !rec.ExpiresAt.After(now) {
		if err := s.repo.Revoke(ctx, databaseName, rec.ID, RevokeReasonHardExpired, now); err != nil {
			s.logger.Warn("hard-expired session revocation failed", zap.Error(err))
		}
		_ = s.cache.Delete(ctx, databaseName, hash)
		return Record{}, ErrSessionExpired
	}

	cfg := s.config(databaseName)
	if now.Sub(rec.LastActivityAt) > cfg.IdleTimeout {
		if err := s.repo.Revoke(ctx, databaseName, rec.ID, RevokeReasonIdleTimeout, now); err != nil {
			s.logger.Warn("idle session revocation failed", zap.Error(err))
		}
		_ = s.cache.Delete(ctx, databaseName, hash)
		return Record{}, ErrSessionExpired
	}

	rec.LastActivityAt = now
	if err := s.repo.Touch(ctx, databaseName, rec.ID, now); err != nil {
		return Record{}, err
	}
	if err := s.cache.Set(ctx, databaseName, rec, s.cacheTT); err != nil {
		s.logger.Warn("session cache repopulation failed", zap.Error(err))
	}
	return rec, nil
}

// Revoke ends a session explicitly (logout).
func (s *Service) Revoke(ctx context.Context, databaseName, token string) error {
	hash := HashToken(token)
	rec, err := s.repo.GetByTokenHash(ctx, databaseName, hash)
	if err != nil {
		return err
	}
	if err := s.repo.Revoke(ctx, databaseName, rec.ID, RevokeReasonLogout, s.now()); err != nil {
		return err
	}
	return s.cache.Delete(ctx, databaseName, hash)
}

// WithClock overrides the time source; tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}
