package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"storelens.app/cloud/models"
)

const subscriptionColumns = `id, stripe_customer_id, stripe_subscription_id, plan, status, current_period_start, current_period_end, email, created_at`

const licenseColumns = `id, license_key, subscription_id, expires_at, is_active, device_id, activated_at, user_email, created_at, updated_at`

type SQLiteStorage struct {
	db   *sql.DB
	path string
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; more connections just queue on the lock
	db.SetMaxOpenConns(1)

	if err := migrateUp(db, "sqlite"); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStorage{db: db, path: path}, nil
}

func (s *SQLiteStorage) CreateSubscriptionWithLicense(ctx context.Context, sub *models.Subscription, lic *models.License) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.StripeCustomerID,
		sub.StripeSubscriptionID,
		sub.Plan,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.Email,
		sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO licenses (`+licenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lic.ID,
		lic.Key,
		lic.SubscriptionID,
		lic.ExpiresAt,
		lic.IsActive,
		nullString(lic.DeviceID),
		lic.ActivatedAt,
		nullString(lic.UserEmail),
		lic.CreatedAt,
		lic.UpdatedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicateLicenseKey
		}
		return fmt.Errorf("failed to insert license: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStorage) FindSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = ?`, stripeSubID)
	return scanSubscription(row)
}

func (s *SQLiteStorage) FindLatestSubscriptionByEmail(ctx context.Context, email string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE email = ? ORDER BY created_at DESC LIMIT 1`, email)
	return scanSubscription(row)
}

func (s *SQLiteStorage) UpdateSubscriptionPeriod(ctx context.Context, stripeSubID, status string, periodStart, periodEnd time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, current_period_start = ?, current_period_end = ? WHERE stripe_subscription_id = ?`,
		status, periodStart, periodEnd, stripeSubID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return requireRows(res, ErrSubscriptionNotFound)
}

func (s *SQLiteStorage) CancelSubscription(ctx context.Context, stripeSubID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ? WHERE stripe_subscription_id = ?`,
		models.SubscriptionCanceled, stripeSubID)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return requireRows(res, ErrSubscriptionNotFound)
}

func (s *SQLiteStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = ?`, key)
	return scanLicense(row)
}

func (s *SQLiteStorage) FindLicenseWithSubscription(ctx context.Context, key string) (*models.License, *models.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT l.id, l.license_key, l.subscription_id, l.expires_at, l.is_active, l.device_id, l.activated_at, l.user_email, l.created_at, l.updated_at,
		       s.id, s.stripe_customer_id, s.stripe_subscription_id, s.plan, s.status, s.current_period_start, s.current_period_end, s.email, s.created_at
		FROM licenses l
		JOIN subscriptions s ON s.id = l.subscription_id
		WHERE l.license_key = ?`, key)
	return scanLicenseWithSubscription(row)
}

func (s *SQLiteStorage) FindLicensesBySubscription(ctx context.Context, subscriptionID string) ([]*models.License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE subscription_id = ? ORDER BY created_at DESC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer rows.Close()
	return collectLicenses(rows)
}

func (s *SQLiteStorage) UpdateLicenseExpiry(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET expires_at = ?, updated_at = ? WHERE subscription_id = ?`,
		expiresAt, time.Now().UTC(), subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to update license expiry: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeactivateLicenses(ctx context.Context, subscriptionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET is_active = 0, updated_at = ? WHERE subscription_id = ?`,
		time.Now().UTC(), subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate licenses: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) BindDevice(ctx context.Context, key, deviceID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		SET device_id = ?, activated_at = COALESCE(activated_at, ?), updated_at = ?
		WHERE license_key = ? AND (device_id IS NULL OR device_id = '' OR device_id = ?)`,
		deviceID, at, at, key, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to bind device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorage) RebindDevice(ctx context.Context, key, deviceID string, at time.Time) (*models.License, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET device_id = ?, activated_at = ?, updated_at = ? WHERE license_key = ?`,
		deviceID, at, at, key)
	if err != nil {
		return nil, fmt.Errorf("failed to rebind device: %w", err)
	}
	if err := requireRows(res, ErrLicenseNotFound); err != nil {
		return nil, err
	}
	return s.FindLicenseByKey(ctx, key)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func requireRows(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.StripeCustomerID,
		&sub.StripeSubscriptionID,
		&sub.Plan,
		&sub.Status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.Email,
		&sub.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func scanLicense(row rowScanner) (*models.License, error) {
	var (
		lic         models.License
		deviceID    sql.NullString
		userEmail   sql.NullString
		activatedAt sql.NullTime
	)
	err := row.Scan(
		&lic.ID,
		&lic.Key,
		&lic.SubscriptionID,
		&lic.ExpiresAt,
		&lic.IsActive,
		&deviceID,
		&activatedAt,
		&userEmail,
		&lic.CreatedAt,
		&lic.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lic.DeviceID = deviceID.String
	lic.UserEmail = userEmail.String
	if activatedAt.Valid {
		t := activatedAt.Time
		lic.ActivatedAt = &t
	}
	return &lic, nil
}

func scanLicenseWithSubscription(row rowScanner) (*models.License, *models.Subscription, error) {
	var (
		lic         models.License
		sub         models.Subscription
		deviceID    sql.NullString
		userEmail   sql.NullString
		activatedAt sql.NullTime
	)
	err := row.Scan(
		&lic.ID,
		&lic.Key,
		&lic.SubscriptionID,
		&lic.ExpiresAt,
		&lic.IsActive,
		&deviceID,
		&activatedAt,
		&userEmail,
		&lic.CreatedAt,
		&lic.UpdatedAt,
		&sub.ID,
		&sub.StripeCustomerID,
		&sub.StripeSubscriptionID,
		&sub.Plan,
		&sub.Status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.Email,
		&sub.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	lic.DeviceID = deviceID.String
	lic.UserEmail = userEmail.String
	if activatedAt.Valid {
		t := activatedAt.Time
		lic.ActivatedAt = &t
	}
	return &lic, &sub, nil
}

func collectLicenses(rows *sql.Rows) ([]*models.License, error) {
	var licenses []*models.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating licenses: %w", err)
	}
	return licenses, nil
}
