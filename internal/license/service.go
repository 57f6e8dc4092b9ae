package license

import (
	"context"
	"time"

	"github.com/querygate/internal/database"
)

// Service is the entitlement authority: registration directory,
// activation binding and trial quota enforcement over one Storage.
type Service struct {
	cfg   *Config
	store *Storage
	now   func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests around the trial cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg *Config, db *database.DB, opts ...Option) *Service {
	s := &Service{
		cfg:   cfg,
		store: NewStorage(db, cfg.EffectiveStoreTimeout()),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config exposes the rules the service enforces.
func (s *Service) Config() *Config { return s.cfg }

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) clock() time.Time { return s.now().UTC() }
