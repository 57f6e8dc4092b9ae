package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/internal/ai"
	"github.com/querygate/internal/cache"
	"github.com/querygate/internal/database"
	"github.com/querygate/internal/license"
	"github.com/querygate/internal/metrics"
)

type fixture struct {
	svc     *license.Service
	cache   *cache.ResponseCache
	gw      *Gateway
	calls   atomic.Int32
	answer  func(ctx context.Context, q string) (string, error)
	now     time.Time
	trialFP string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(database.Options{Engine: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "gw.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	f := &fixture{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), trialFP: "trial-device"}
	cfg := license.DefaultConfig()
	cfg.TrialActivationCode = "code"
	cfg.TrialExpiresAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	f.svc = license.NewService(cfg, db, license.WithClock(func() time.Time { return f.now }))
	require.NoError(t, f.svc.EnsureTrialLicense(context.Background()))

	f.answer = func(ctx context.Context, q string) (string, error) { return "answer: " + q, nil }
	provider := ai.ProviderFunc(func(ctx context.Context, q string) (string, error) {
		f.calls.Add(1)
		return f.answer(ctx, q)
	})

	f.cache = cache.New(cache.Options{MaxEntries: 16})
	f.gw = New(f.svc, f.cache, provider, Options{Timeout: 200 * time.Millisecond, MaxQueryLength: 64, Metrics: metrics.New()})

	ctx := context.Background()
	_, err = f.svc.ActivateTrial(ctx, "code", f.trialFP)
	require.NoError(t, err)
	_, err = f.svc.CreateLicense(ctx, "PREM-1", true)
	require.NoError(t, err)
	_, err = f.svc.ActivatePremium(ctx, "PREM-1", "premium-device")
	require.NoError(t, err)
	return f
}

func (f *fixture) trialReq(q string) Request {
	return Request{LicenseID: license.DefaultConfig().TrialLicenseID, Fingerprint: f.trialFP, Query: q}
}

func (f *fixture) remaining(t *testing.T) int {
	t.Helper()
	st, err := f.svc.Status(context.Background(), license.DefaultConfig().TrialLicenseID, f.trialFP)
	require.NoError(t, err)
	return st.Remaining
}

func TestPremiumQueryIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{LicenseID: "PREM-1", Fingerprint: "premium-device", Query: "What is Go?"}

	first, err := f.gw.SubmitQuery(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "answer: What is Go?", first.Text)
	assert.False(t, first.Cached)
	assert.Equal(t, -1, first.Remaining)

	second, err := f.gw.SubmitQuery(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, int32(1), f.calls.Load())

	// Keys are exact, so a trailing space is a new question.
	req.Query = "What is Go? "
	_, err = f.gw.SubmitQuery(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestTrialCacheHitStillConsumesQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cache.Put("cached?", "yes")

	ans, err := f.gw.SubmitQuery(ctx, f.trialReq("cached?"))
	require.NoError(t, err)
	assert.True(t, ans.Cached)
	assert.Equal(t, 19, ans.Remaining)
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, 19, f.remaining(t))
}

func TestUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.answer = func(context.Context, string) (string, error) { return "", errors.New("backend exploded") }

	_, err := f.gw.SubmitQuery(ctx, f.trialReq("fails"))
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Contains(t, upErr.Error(), "backend exploded")
	assert.False(t, upErr.Timeout())

	_, ok := f.cache.Get("fails")
	assert.False(t, ok, "failed answers are never cached")
	assert.Equal(t, 19, f.remaining(t), "quota is consumed even when the provider fails")
}

func TestEmptyAnswerIsUpstreamError(t *testing.T) {
	f := newFixture(t)
	f.answer = func(context.Context, string) (string, error) { return "   ", nil }

	_, err := f.gw.SubmitQuery(context.Background(), Request{LicenseID: "PREM-1", Fingerprint: "premium-device", Query: "q"})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, ai.ErrEmptyAnswer)
	assert.Zero(t, f.cache.Len())
}

func TestProviderTimeout(t *testing.T) {
	f := newFixture(t)
	f.answer = func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := f.gw.SubmitQuery(context.Background(), Request{LicenseID: "PREM-1", Fingerprint: "premium-device", Query: "slow"})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.True(t, upErr.Timeout())
}

func TestRejectionsDoNotCallProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		kind license.Kind
	}{
		{name: "empty query", req: f.trialReq("   "), kind: license.KindValidation},
		{name: "long query", req: f.trialReq(strings.Repeat("x", 65)), kind: license.KindValidation},
		{name: "unknown device", req: Request{LicenseID: "PREM-1", Fingerprint: "intruder", Query: "q"}, kind: license.KindConflict},
		{name: "unactivated trial device", req: Request{LicenseID: license.DefaultConfig().TrialLicenseID, Fingerprint: "nobody", Query: "q"}, kind: license.KindForbidden},
		{name: "unknown license", req: Request{LicenseID: "NOPE", Fingerprint: "premium-device", Query: "q"}, kind: license.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gw.SubmitQuery(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, license.KindOf(err))
		})
	}
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, 20, f.remaining(t), "validation failures consume nothing")
}

func TestTrialExhaustedAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := f.gw.SubmitQuery(ctx, f.trialReq("same question"))
		require.NoError(t, err)
	}
	_, err := f.gw.SubmitQuery(ctx, f.trialReq("same question"))
	assert.ErrorIs(t, err, license.ErrQuotaExceeded)
	assert.Equal(t, int32(1), f.calls.Load())

	f.now = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err = f.gw.SubmitQuery(ctx, f.trialReq("same question"))
	assert.ErrorIs(t, err, license.ErrTrialExpired)
}
