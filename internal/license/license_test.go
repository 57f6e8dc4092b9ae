package license

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/internal/database"
)

const (
	testTrialID   = "Helper2.0_Trail"
	testTrialCode = "trial-secret"
)

type testEnv struct {
	svc *Service
	db  *database.DB
	now time.Time
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	db, err := database.Open(database.Options{Engine: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "license.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	env := &testEnv{db: db, now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	cfg := &Config{
		TrialLicenseID:      testTrialID,
		TrialActivationCode: testTrialCode,
		TrialCommandLimit:   20,
		TrialExpiresAt:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Contact:             "sales@example.com",
		PremiumPrice:        "$5",
		StoreTimeout:        5 * time.Second,
	}
	for _, m := range mutate {
		m(cfg)
	}

	env.svc = NewService(cfg, db, WithClock(func() time.Time { return env.now }))
	require.NoError(t, env.svc.EnsureTrialLicense(context.Background()))
	return env
}

func (e *testEnv) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func (e *testEnv) setCommandCount(t *testing.T, fp string, n int) {
	t.Helper()
	_, err := e.db.ExecContext(context.Background(), `UPDATE trial_usage SET command_count = ? WHERE device_fingerprint = ?`, n, fp)
	require.NoError(t, err)
}

func TestEnsureTrialLicenseIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Lookup(ctx, testTrialID)
	require.NoError(t, err)
	assert.True(t, first.IsTrial)
	assert.True(t, first.Active)

	// An admin deactivation must survive restarts.
	require.NoError(t, env.svc.SetActive(ctx, testTrialID, false))
	env.now = env.now.Add(time.Hour)
	require.NoError(t, env.svc.EnsureTrialLicense(ctx))
	require.NoError(t, env.svc.EnsureTrialLicense(ctx))

	again, err := env.svc.Lookup(ctx, testTrialID)
	require.NoError(t, err)
	assert.False(t, again.Active)
	assert.True(t, again.CreatedAt.Equal(first.CreatedAt))
	assert.Equal(t, 1, env.count(t, `SELECT COUNT(*) FROM licenses WHERE is_trial = 1`))
}

func TestEnsureTrialLicenseRejectsSecondTrialID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	renamed := *env.svc.Config()
	renamed.TrialLicenseID = "Helper3.0_Trial"
	svc := NewService(&renamed, env.db, WithClock(func() time.Time { return env.now }))

	err := svc.EnsureTrialLicense(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "another trial license already exists")
	assert.Equal(t, 1, env.count(t, `SELECT COUNT(*) FROM licenses WHERE is_trial = 1`))
}

func TestDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.CreateLicense(ctx, "ABC123-XYZ789", true)
	require.NoError(t, err)
	assert.False(t, rec.IsTrial)

	_, err = env.svc.CreateLicense(ctx, "ABC123-XYZ789", false)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = env.svc.CreateLicense(ctx, testTrialID, true)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = env.svc.CreateLicense(ctx, "   ", true)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = env.svc.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	assert.ErrorIs(t, env.svc.SetActive(ctx, "missing", false), ErrNotFound)
	require.NoError(t, env.svc.SetActive(ctx, "ABC123-XYZ789", false))

	got, err := env.svc.Lookup(ctx, "ABC123-XYZ789")
	require.NoError(t, err)
	assert.False(t, got.Active)

	list, err := env.svc.ListLicenses(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, l := range list {
		ids = append(ids, l.ID)
	}
	if diff := cmp.Diff([]string{"ABC123-XYZ789", testTrialID}, ids); diff != "" {
		t.Errorf("ListLicenses ids mismatch (-want +got):\n%s", diff)
	}
}

func TestActivateTrial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ActivateTrial(ctx, "wrong", "F1")
	assert.ErrorIs(t, err, ErrInvalidActivationCode)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Zero(t, env.count(t, `SELECT COUNT(*) FROM trial_usage`))

	id, err := env.svc.ActivateTrial(ctx, testTrialCode, "F1")
	require.NoError(t, err)
	assert.Equal(t, testTrialID, id)

	_, err = env.svc.ActivateTrial(ctx, testTrialCode, "F1")
	assert.ErrorIs(t, err, ErrAlreadyBound)
	assert.Equal(t, 1, env.count(t, `SELECT COUNT(*) FROM trial_usage`))

	ent, err := env.svc.ResolveEntitlement(ctx, testTrialID, "F1")
	require.NoError(t, err)
	assert.Equal(t, Entitlement{Kind: KindTrial, LicenseID: testTrialID, DeviceFingerprint: "F1"}, *ent)
}

func TestActivateTrialRejectedWhenTrialDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.SetActive(ctx, testTrialID, false))
	_, err := env.svc.ActivateTrial(ctx, testTrialCode, "F1")
	assert.ErrorIs(t, err, ErrInactive)
}

func TestConcurrentTrialActivationSameDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ActivateTrial(ctx, testTrialCode, "F-race")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrAlreadyBound)
	}
	assert.Equal(t, 1, env.count(t, `SELECT COUNT(*) FROM trial_usage WHERE device_fingerprint = 'F-race'`))
}

func TestPremiumActivationScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateLicense(ctx, "ABC123-XYZ789", true)
	require.NoError(t, err)

	first, err := env.svc.ActivatePremium(ctx, "ABC123-XYZ789", "F1")
	require.NoError(t, err)
	assert.False(t, first.Reactivated)

	_, err = env.svc.ActivatePremium(ctx, "ABC123-XYZ789", "F2")
	assert.ErrorIs(t, err, ErrDeviceMismatch)
	assert.Equal(t, KindConflict, KindOf(err))

	env.now = env.now.Add(48 * time.Hour)
	again, err := env.svc.ActivatePremium(ctx, "ABC123-XYZ789", "F1")
	require.NoError(t, err)
	assert.True(t, again.Reactivated)
	assert.True(t, again.Binding.ActivatedAt.Equal(env.now))

	assert.Equal(t, 1, env.count(t, `SELECT COUNT(*) FROM activations`))

	binding, err := env.svc.store.GetBindingByLicense(ctx, "ABC123-XYZ789")
	require.NoError(t, err)
	require.NotNil(t, binding)
	assert.Equal(t, "F1", binding.DeviceFingerprint)
	assert.True(t, binding.ActivatedAt.Equal(env.now), "activated_at refreshed, got %s", binding.ActivatedAt)

	// Mismatch holds in either order.
	_, err = env.svc.ActivatePremium(ctx, "ABC123-XYZ789", "F2")
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	_, err = env.svc.ResolveEntitlement(ctx, "ABC123-XYZ789", "F2")
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	ent, err := env.svc.ResolveEntitlement(ctx, "ABC123-XYZ789", "F1")
	require.NoError(t, err)
	assert.Equal(t, KindPremium, ent.Kind)
}

func TestActivatePremiumRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateLicense(ctx, "OFF", false)
	require.NoError(t, err)
	_, err = env.svc.CreateLicense(ctx, "LIC-A", true)
	require.NoError(t, err)
	_, err = env.svc.CreateLicense(ctx, "LIC-B", true)
	require.NoError(t, err)

	tests := []struct {
		name    string
		license string
		fp      string
		want    error
		kind    Kind
	}{
		{name: "unknown", license: "NOPE", fp: "F1", want: ErrNotFound, kind: KindNotFound},
		{name: "inactive", license: "OFF", fp: "F1", want: ErrInactive, kind: KindForbidden},
		{name: "trial id", license: testTrialID, fp: "F1", want: ErrTrialLicenseNotEligible, kind: KindForbidden},
		{name: "empty fingerprint", license: "LIC-A", fp: "", want: ErrInvalidInput, kind: KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.ActivatePremium(ctx, tt.license, tt.fp)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}

	_, err = env.svc.ActivatePremium(ctx, "LIC-A", "F1")
	require.NoError(t, err)

	_, err = env.svc.ActivatePremium(ctx, "LIC-B", "F1")
	assert.ErrorIs(t, err, ErrDeviceAlreadyBound)
	assert.Zero(t, env.count(t, `SELECT COUNT(*) FROM activations WHERE license_id = 'LIC-B'`))
}

func TestDeviceCannotHoldTrialAndPremium(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.CreateLicense(ctx, "LIC-A", true)
	require.NoError(t, err)

	// trial first, premium second
	_, err = env.svc.ActivateTrial(ctx, testTrialCode, "F-trial")
	require.NoError(t, err)
	_, err = env.svc.ActivatePremium(ctx, "LIC-A", "F-trial")
	assert.ErrorIs(t, err, ErrDeviceAlreadyBound)

	// premium first, trial second
	_, err = env.svc.ActivatePremium(ctx, "LIC-A", "F-premium")
	require.NoError(t, err)
	_, err = env.svc.ActivateTrial(ctx, testTrialCode, "F-premium")
	assert.ErrorIs(t, err, ErrAlreadyBound)

	assert.Zero(t, env.count(t, `SELECT COUNT(*) FROM trial_usage t JOIN activations a ON a.device_fingerprint = t.device_fingerprint`))
}

func TestConcurrentPremiumActivationSameLicense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.CreateLicense(ctx, "NEW-LIC", true)
	require.NoError(t, err)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		outcomes []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.ActivatePremium(ctx, "NEW-LIC", "F-same")
			mu.Lock()
			defer mu.Unlock()
			if err == nil && !res.Reactivated {
				created++
			}
			if err != nil {
				outcomes = append(outcomes, err)
			}
		}()
	}
	wg.Wait()

	// Callers that lose the race see a conflict; callers that arrive after
	// the winner committed see an idempotent re-activation.
	assert.Equal(t, 1, created)
	for _, err := range outcomes {
		assert.True(t, errors.Is(err, ErrActivationConflict) || errors.Is(err, ErrDeviceAlreadyBound), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, env.count(t, `SELECT COUNT(*) FROM activations WHERE license_id = 'NEW-LIC'`))
}

func TestCreateBindingLoserSeesConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.CreateLicense(ctx, "NEW-LIC", true)
	require.NoError(t, err)
	_, err = env.svc.CreateLicense(ctx, "OTHER", true)
	require.NoError(t, err)

	// Simulates two writers that both passed the existence checks.
	require.NoError(t, env.svc.store.CreateBinding(ctx, "NEW-LIC", "F1", env.now))
	err = env.svc.store.CreateBinding(ctx, "NEW-LIC", "F1", env.now)
	assert.ErrorIs(t, err, ErrActivationConflict)
	err = env.svc.store.CreateBinding(ctx, "OTHER", "F1", env.now)
	assert.ErrorIs(t, err, ErrActivationConflict)
	err = env.svc.store.CreateTrialUsage(ctx, "F1", testTrialID, env.now)
	assert.ErrorIs(t, err, ErrAlreadyBound)

	assert.Equal(t, 1, env.count(t, `SELECT COUNT(*) FROM activations`))
	assert.Zero(t, env.count(t, `SELECT COUNT(*) FROM trial_usage`))
	assert.Equal(t, 1, env.count(t, `SELECT COUNT(*) FROM device_claims`))
}

func TestResolveEntitlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.CreateLicense(ctx, "LIC-A", true)
	require.NoError(t, err)

	_, err = env.svc.ResolveEntitlement(ctx, testTrialID, "F1")
	assert.ErrorIs(t, err, ErrNotEntitled)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = env.svc.ResolveEntitlement(ctx, "LIC-A", "F1")
	assert.ErrorIs(t, err, ErrNotEntitled)

	_, err = env.svc.ActivatePremium(ctx, "LIC-A", "F1")
	require.NoError(t, err)
	require.NoError(t, env.svc.SetActive(ctx, "LIC-A", false))

	_, err = env.svc.ResolveEntitlement(ctx, "LIC-A", "F1")
	assert.ErrorIs(t, err, ErrInactive)
}

func TestTrialQuotaScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ActivateTrial(ctx, testTrialCode, "F1")
	require.NoError(t, err)
	env.setCommandCount(t, "F1", 19)

	remaining, err := env.svc.AuthorizeTrialQuery(ctx, "F1")
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Equal(t, 20, env.count(t, `SELECT command_count FROM trial_usage WHERE device_fingerprint = 'F1'`))

	_, err = env.svc.AuthorizeTrialQuery(ctx, "F1")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, KindQuota, KindOf(err))
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Contains(t, qe.Message, "Trial command limit of 20 reached")
	assert.Contains(t, qe.Message, "sales@example.com")
	assert.Equal(t, 20, env.count(t, `SELECT command_count FROM trial_usage WHERE device_fingerprint = 'F1'`))
}

func TestTrialQuotaRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ActivateTrial(ctx, testTrialCode, "F1")
	require.NoError(t, err)
	env.setCommandCount(t, "F1", 19)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.AuthorizeTrialQuery(ctx, "F1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.ErrorIs(t, err, ErrQuotaExceeded)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 20, env.count(t, `SELECT command_count FROM trial_usage WHERE device_fingerprint = 'F1'`))
}

func TestTrialExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ActivateTrial(ctx, testTrialCode, "F1")
	require.NoError(t, err)

	env.now = env.svc.cfg.TrialExpiresAt.Add(time.Second)
	_, err = env.svc.AuthorizeTrialQuery(ctx, "F1")
	assert.ErrorIs(t, err, ErrTrialExpired)
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Contains(t, qe.Message, "Trial period has ended")
	assert.Zero(t, env.count(t, `SELECT command_count FROM trial_usage WHERE device_fingerprint = 'F1'`))

	st, err := env.svc.Status(ctx, testTrialID, "F1")
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.Equal(t, 20, st.Remaining)
}

func TestTrialWithoutExpiry(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.TrialExpiresAt = time.Time{} })
	ctx := context.Background()

	_, err := env.svc.ActivateTrial(ctx, testTrialCode, "F1")
	require.NoError(t, err)
	env.now = env.now.AddDate(10, 0, 0)

	remaining, err := env.svc.AuthorizeTrialQuery(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, 19, remaining)
}

func TestAuthorizeTrialQueryWithoutActivation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.AuthorizeTrialQuery(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotEntitled)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ActivateTrial(ctx, testTrialCode, "F1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := env.svc.AuthorizeTrialQuery(ctx, "F1")
		require.NoError(t, err)
	}

	st, err := env.svc.Status(ctx, testTrialID, "F1")
	require.NoError(t, err)
	assert.Equal(t, 20, st.Limit)
	assert.Equal(t, 17, st.Remaining)
	require.NotNil(t, st.ExpiresAt)
	assert.False(t, st.Expired)

	_, err = env.svc.CreateLicense(ctx, "LIC-A", true)
	require.NoError(t, err)
	_, err = env.svc.ActivatePremium(ctx, "LIC-A", "F2")
	require.NoError(t, err)
	st, err = env.svc.Status(ctx, "LIC-A", "F2")
	require.NoError(t, err)
	assert.Equal(t, -1, st.Remaining)
	assert.Nil(t, st.ExpiresAt)
}

func TestKindOf(t *testing.T) {
	storeErr := &StoreUnavailableError{Op: "ping", Err: context.DeadlineExceeded}
	assert.Equal(t, KindUnavailable, KindOf(storeErr))
	assert.Equal(t, KindUnavailable, KindOf(fmt.Errorf("wrapped: %w", storeErr)))
	assert.ErrorIs(t, storeErr, context.DeadlineExceeded)
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}
