package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/querygate/internal/database"
)

// Storage provides DB operations for licenses, activations and trial usage.
// Uniqueness is enforced by the schema; callers translate constraint
// violations rather than trusting earlier reads.
type Storage struct {
	db      *database.DB
	timeout time.Duration
}

func NewStorage(db *database.DB, timeout time.Duration) *Storage {
	return &Storage{db: db, timeout: timeout}
}

func (s *Storage) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(op string, err error) error {
	return &StoreUnavailableError{Op: op, Err: err}
}

// Ping checks the store is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// InsertLicense creates a record; a duplicate id yields ErrAlreadyExists.
func (s *Storage) InsertLicense(ctx context.Context, rec *LicenseRecord) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO licenses (id, is_active, is_trial, created_at) VALUES (?, ?, ?, ?)`),
		rec.ID, rec.Active, rec.IsTrial, rec.CreatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	if err != nil {
		return unavailable("insert license", err)
	}
	return nil
}

// InsertLicenseIfMissing never overwrites an existing record.
func (s *Storage) InsertLicenseIfMissing(ctx context.Context, rec *LicenseRecord) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO licenses (id, is_active, is_trial, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		rec.ID, rec.Active, rec.IsTrial, rec.CreatedAt)
	if database.IsUniqueViolation(err) {
		// Only the single-trial index can still fire after ON CONFLICT (id).
		return false, fmt.Errorf("%w: another trial license already exists", ErrAlreadyExists)
	}
	if err != nil {
		return false, unavailable("insert license if missing", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("insert license if missing", err)
	}
	return n == 1, nil
}

// GetLicense returns the record or ErrNotFound.
func (s *Storage) GetLicense(ctx context.Context, id string) (*LicenseRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rec LicenseRecord
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT id, is_active, is_trial, created_at FROM licenses WHERE id = ?`), id).
		Scan(&rec.ID, &rec.Active, &rec.IsTrial, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get license", err)
	}
	return &rec, nil
}

// ListLicenses returns all records, oldest first.
func (s *Storage) ListLicenses(ctx context.Context) ([]LicenseRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, is_active, is_trial, created_at FROM licenses ORDER BY created_at, id`)
	if err != nil {
		return nil, unavailable("list licenses", err)
	}
	defer rows.Close()

	var out []LicenseRecord
	for rows.Next() {
		var rec LicenseRecord
		if err := rows.Scan(&rec.ID, &rec.Active, &rec.IsTrial, &rec.CreatedAt); err != nil {
			return nil, unavailable("scan license", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list licenses", err)
	}
	return out, nil
}

// SetLicenseActive flips the admin flag; unknown ids yield ErrNotFound.
func (s *Storage) SetLicenseActive(ctx context.Context, id string, active bool) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE licenses SET is_active = ? WHERE id = ?`), active, id)
	if err != nil {
		return unavailable("set license active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("set license active", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetBindingByLicense returns the binding or nil if the license is unbound.
func (s *Storage) GetBindingByLicense(ctx context.Context, licenseID string) (*ActivationBinding, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var b ActivationBinding
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT license_id, device_fingerprint, activated_at FROM activations WHERE license_id = ?`), licenseID).
		Scan(&b.LicenseID, &b.DeviceFingerprint, &b.ActivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get activation", err)
	}
	return &b, nil
}

// GetClaim returns the device's claim or nil if the device is unclaimed.
func (s *Storage) GetClaim(ctx context.Context, fingerprint string) (*DeviceClaim, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var c DeviceClaim
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT device_fingerprint, kind, license_id, claimed_at FROM device_claims WHERE device_fingerprint = ?`), fingerprint).
		Scan(&c.DeviceFingerprint, &c.Kind, &c.LicenseID, &c.ClaimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get device claim", err)
	}
	return &c, nil
}

// GetTrialUsage returns the device's counter or nil if it never activated a trial.
func (s *Storage) GetTrialUsage(ctx context.Context, fingerprint, licenseID string) (*TrialUsage, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var u TrialUsage
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT device_fingerprint, license_id, command_count, created_at FROM trial_usage
		WHERE device_fingerprint = ? AND license_id = ?`), fingerprint, licenseID).
		Scan(&u.DeviceFingerprint, &u.LicenseID, &u.CommandCount, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get trial usage", err)
	}
	return &u, nil
}

// claimDevice inserts the claim and the entitlement row in one transaction.
// A unique violation on either means another writer won; conflictErr is
// returned and nothing is committed.
func (s *Storage) claimDevice(ctx context.Context, claim DeviceClaim, insert string, args []any, conflictErr error) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin claim", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO device_claims (device_fingerprint, kind, license_id, claimed_at) VALUES (?, ?, ?, ?)`),
		claim.DeviceFingerprint, claim.Kind, claim.LicenseID, claim.ClaimedAt)
	if database.IsUniqueViolation(err) {
		return conflictErr
	}
	if err != nil {
		return unavailable("insert device claim", err)
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(insert), args...)
	if database.IsUniqueViolation(err) {
		return conflictErr
	}
	if err != nil {
		return unavailable("insert "+claim.Kind+" entitlement", err)
	}

	if err := tx.Commit(); err != nil {
		if database.IsUniqueViolation(err) {
			return conflictErr
		}
		return unavailable("commit claim", err)
	}
	return nil
}

// CreateTrialUsage claims the device for the trial with a zero counter.
func (s *Storage) CreateTrialUsage(ctx context.Context, fingerprint, licenseID string, now time.Time) error {
	claim := DeviceClaim{DeviceFingerprint: fingerprint, Kind: KindTrial, LicenseID: licenseID, ClaimedAt: now}
	return s.claimDevice(ctx, claim,
		`INSERT INTO trial_usage (device_fingerprint, license_id, command_count, created_at) VALUES (?, ?, 0, ?)`,
		[]any{fingerprint, licenseID, now},
		fmt.Errorf("%w: %s", ErrAlreadyBound, fingerprint))
}

// CreateBinding claims the device for a premium license.
func (s *Storage) CreateBinding(ctx context.Context, licenseID, fingerprint string, now time.Time) error {
	claim := DeviceClaim{DeviceFingerprint: fingerprint, Kind: KindPremium, LicenseID: licenseID, ClaimedAt: now}
	return s.claimDevice(ctx, claim,
		`INSERT INTO activations (license_id, device_fingerprint, activated_at) VALUES (?, ?, ?)`,
		[]any{licenseID, fingerprint, now},
		fmt.Errorf("%w: license %s", ErrActivationConflict, licenseID))
}

// TouchBinding refreshes activated_at only when the pair is still bound.
func (s *Storage) TouchBinding(ctx context.Context, licenseID, fingerprint string, now time.Time) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE activations SET activated_at = ? WHERE license_id = ? AND device_fingerprint = ?`),
		now, licenseID, fingerprint)
	if err != nil {
		return unavailable("touch activation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("touch activation", err)
	}
	if n == 0 {
		return ErrDeviceMismatch
	}
	return nil
}

// IncrementTrialUsage adds one to the counter only while it is below limit.
// ok is false when no row qualified.
func (s *Storage) IncrementTrialUsage(ctx context.Context, fingerprint, licenseID string, limit int) (count int, ok bool, err error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	err = s.db.QueryRowContext(ctx, s.db.Rebind(`UPDATE trial_usage SET command_count = command_count + 1
		WHERE device_fingerprint = ? AND license_id = ? AND command_count < ?
		RETURNING command_count`), fingerprint, licenseID, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("increment trial usage", err)
	}
	return count, true, nil
}
