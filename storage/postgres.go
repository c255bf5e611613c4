package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"storelens.app/cloud/models"
)

const pqUniqueViolation = "23505"

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(databaseURL string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateUp(db, "postgres"); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

func (s *PostgresStorage) CreateSubscriptionWithLicense(ctx context.Context, sub *models.Subscription, lic *models.License) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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
		`INSERT INTO licenses (`+licenseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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
		if isPostgresUniqueViolation(err) {
			return ErrDuplicateLicenseKey
		}
		return fmt.Errorf("failed to insert license: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStorage) FindSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`, stripeSubID)
	return scanSubscription(row)
}

func (s *PostgresStorage) FindLatestSubscriptionByEmail(ctx context.Context, email string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE email = $1 ORDER BY created_at DESC LIMIT 1`, email)
	return scanSubscription(row)
}

func (s *PostgresStorage) UpdateSubscriptionPeriod(ctx context.Context, stripeSubID, status string, periodStart, periodEnd time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = $1, current_period_start = $2, current_period_end = $3 WHERE stripe_subscription_id = $4`,
		status, periodStart, periodEnd, stripeSubID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return requireRows(res, ErrSubscriptionNotFound)
}

func (s *PostgresStorage) CancelSubscription(ctx context.Context, stripeSubID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = $1 WHERE stripe_subscription_id = $2`,
		models.SubscriptionCanceled, stripeSubID)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return requireRows(res, ErrSubscriptionNotFound)
}

func (s *PostgresStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = $1`, key)
	return scanLicense(row)
}

func (s *PostgresStorage) FindLicenseWithSubscription(ctx context.Context, key string) (*models.License, *models.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT l.id, l.license_key, l.subscription_id, l.expires_at, l.is_active, l.device_id, l.activated_at, l.user_email, l.created_at, l.updated_at,
		       s.id, s.stripe_customer_id, s.stripe_subscription_id, s.plan, s.status, s.current_period_start, s.current_period_end, s.email, s.created_at
		FROM licenses l
		JOIN subscriptions s ON s.id = l.subscription_id
		WHERE l.license_key = $1`, key)
	return scanLicenseWithSubscription(row)
}

func (s *PostgresStorage) FindLicensesBySubscription(ctx context.Context, subscriptionID string) ([]*models.License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE subscription_id = $1 ORDER BY created_at DESC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer rows.Close()
	return collectLicenses(rows)
}

func (s *PostgresStorage) UpdateLicenseExpiry(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET expires_at = $1, updated_at = $2 WHERE subscription_id = $3`,
		expiresAt, time.Now().UTC(), subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to update license expiry: %w", err)
	}
	return nil
}

func (s *PostgresStorage) DeactivateLicenses(ctx context.Context, subscriptionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET is_active = FALSE, updated_at = $1 WHERE subscription_id = $2`,
		time.Now().UTC(), subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate licenses: %w", err)
	}
	return nil
}

func (s *PostgresStorage) BindDevice(ctx context.Context, key, deviceID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		SET device_id = $1, activated_at = COALESCE(activated_at, $2), updated_at = $3
		WHERE license_key = $4 AND (device_id IS NULL OR device_id = '' OR device_id = $5)`,
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

func (s *PostgresStorage) RebindDevice(ctx context.Context, key, deviceID string, at time.Time) (*models.License, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET device_id = $1, activated_at = $2, updated_at = $3 WHERE license_key = $4`,
		deviceID, at, at, key)
	if err != nil {
		return nil, fmt.Errorf("failed to rebind device: %w", err)
	}
	if err := requireRows(res, ErrLicenseNotFound); err != nil {
		return nil, err
	}
	return s.FindLicenseByKey(ctx, key)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func isPostgresUniqueViolation(err error) bool {
	var perr *pq.Error
	if errors.As(err, &perr) {
		return string(perr.Code) == pqUniqueViolation
	}
	return false
}
