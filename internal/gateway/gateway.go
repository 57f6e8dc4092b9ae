// Package gateway authorizes each query against the entitlement service,
// serves repeats from the response cache and forwards misses to the
// answer provider.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/querygate/internal/ai"
	"github.com/querygate/internal/cache"
	"github.com/querygate/internal/license"
	"github.com/querygate/internal/metrics"
)

const (
	DefaultMaxQueryLength = 8000
)

// Entitlements is the subset of license.Service the gateway needs.
type Entitlements interface {
	ResolveEntitlement(ctx context.Context, licenseID, fingerprint string) (*license.Entitlement, error)
	AuthorizeTrialQuery(ctx context.Context, fingerprint string) (int, error)
}

// Request is one authenticated query.
type Request struct {
	LicenseID   string
	Fingerprint string
	Query       string
}

// Answer is a successful reply. Remaining is the trial budget left after
// this query, or -1 for premium.
type Answer struct {
	Text      string
	Cached    bool
	Remaining int
	Elapsed   time.Duration
}

// UpstreamError reports a provider failure after authorization succeeded.
type UpstreamError struct {
	Err     error
	Elapsed time.Duration
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("answer provider error: %v (%.2fs)", e.Err, e.Elapsed.Seconds())
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the provider call ran out of time.
func (e *UpstreamError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

type Options struct {
	Timeout        time.Duration
	MaxQueryLength int
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type Gateway struct {
	licenses       Entitlements
	cache          *cache.ResponseCache
	provider       ai.Provider
	timeout        time.Duration
	maxQueryLength int
	metrics        *metrics.Metrics
	now            func() time.Time
}

func New(licenses Entitlements, c *cache.ResponseCache, provider ai.Provider, opts Options) *Gateway {
	g := &Gateway{
		licenses:       licenses,
		cache:          c,
		provider:       provider,
		timeout:        opts.Timeout,
		maxQueryLength: opts.MaxQueryLength,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
	if g.timeout <= 0 {
		g.timeout = ai.DefaultTimeout
	}
	if g.maxQueryLength <= 0 {
		g.maxQueryLength = DefaultMaxQueryLength
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *Gateway) validateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return fmt.Errorf("%w: query is required", license.ErrInvalidInput)
	}
	if len(q) > g.maxQueryLength {
		return fmt.Errorf("%w: query exceeds %d bytes", license.ErrInvalidInput, g.maxQueryLength)
	}
	return nil
}

// SubmitQuery authorizes req, consumes trial quota, and answers from the
// cache or the provider. Quota consumed before a provider failure is not
// refunded.
func (g *Gateway) SubmitQuery(ctx context.Context, req Request) (*Answer, error) {
	start := g.now()

	if err := g.validateQuery(req.Query); err != nil {
		return nil, err
	}

	ent, err := g.licenses.ResolveEntitlement(ctx, req.LicenseID, req.Fingerprint)
	if err != nil {
		g.metrics.Query("unknown", string(license.KindOf(err)))
		return nil, err
	}

	remaining := -1
	if ent.IsTrial() {
		remaining, err = g.licenses.AuthorizeTrialQuery(ctx, req.Fingerprint)
		if err != nil {
			g.metrics.Query(ent.Kind, string(license.KindOf(err)))
			return nil, err
		}
	}

	if text, ok := g.cache.Get(req.Query); ok {
		elapsed := g.now().Sub(start)
		g.metrics.CacheLookup(true)
		g.metrics.Query(ent.Kind, "cache_hit")
		log.Info().Str("license_id", req.LicenseID).Dur("elapsed", elapsed).Msg("cache hit")
		return &Answer{Text: text, Cached: true, Remaining: remaining, Elapsed: elapsed}, nil
	}
	g.metrics.CacheLookup(false)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	callStart := g.now()
	text, err := g.provider.Answer(callCtx, req.Query)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ai.ErrEmptyAnswer
	}
	elapsed := g.now().Sub(start)
	if err != nil {
		g.metrics.Upstream("error", g.now().Sub(callStart))
		g.metrics.Query(ent.Kind, "upstream_error")
		log.Error().Err(err).Str("license_id", req.LicenseID).Str("provider", g.provider.Name()).
			Dur("elapsed", elapsed).Msg("answer provider error")
		return nil, &UpstreamError{Err: err, Elapsed: elapsed}
	}
	g.metrics.Upstream("ok", g.now().Sub(callStart))

	g.cache.Put(req.Query, text)
	g.metrics.Query(ent.Kind, "ok")
	log.Info().Str("license_id", req.LicenseID).Dur("elapsed", elapsed).Msg("answer provider call successful")
	return &Answer{Text: text, Remaining: remaining, Elapsed: elapsed}, nil
}

// PurgeCache drops every cached answer and returns how many were held.
func (g *Gateway) PurgeCache() int {
	n := g.cache.Len()
	g.cache.Purge()
	log.Info().Int("entries", n).Msg("response cache purged")
	return n
}
