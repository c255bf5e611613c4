package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"storelens.app/cloud/models"
)

func newPostgresMock(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &PostgresStorage{db: db}, mock
}

func TestPostgresFindLicenseByKeyNotFound(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectQuery(`SELECT .+ FROM licenses WHERE license_key = \$1`).
		WithArgs("ZZZZ-ZZZZ-ZZZZ-ZZZZ").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	lic, err := s.FindLicenseByKey(context.Background(), "ZZZZ-ZZZZ-ZZZZ-ZZZZ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lic != nil {
		t.Fatalf("expected nil for missing key, got %+v", lic)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBindDeviceApplied(t *testing.T) {
	s, mock := newPostgresMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE licenses`).
		WithArgs("device-1", at, at, "AAAA-BBBB-CCCC-DDDD", "device-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	bound, err := s.BindDevice(context.Background(), "AAAA-BBBB-CCCC-DDDD", "device-1", at)
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if !bound {
		t.Fatal("expected bind to apply")
	}
}

func TestPostgresBindDeviceRefused(t *testing.T) {
	s, mock := newPostgresMock(t)
	at := time.Now().UTC()

	// zero rows updated: already bound to another device
	mock.ExpectExec(`UPDATE licenses`).
		WithArgs("device-2", at, at, "AAAA-BBBB-CCCC-DDDD", "device-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	bound, err := s.BindDevice(context.Background(), "AAAA-BBBB-CCCC-DDDD", "device-2", at)
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if bound {
		t.Fatal("zero rows affected must report not bound")
	}
}

func TestPostgresCancelSubscriptionNotFound(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec(`UPDATE subscriptions SET status = \$1`).
		WithArgs(models.SubscriptionCanceled, "sub_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CancelSubscription(context.Background(), "sub_missing")
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestPostgresCreateRollsBackOnDuplicateKey(t *testing.T) {
	s, mock := newPostgresMock(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sub := models.Subscription{
		ID:                   "sub-1",
		StripeSubscriptionID: "sub_stripe_1",
		Plan:                 models.PlanMonthly,
		Status:               models.SubscriptionActive,
		CurrentPeriodStart:   created,
		CurrentPeriodEnd:     created.AddDate(0, 1, 0),
		CreatedAt:            created,
	}
	lic := models.License{
		ID:             "lic-1",
		Key:            "AAAA-BBBB-CCCC-DDDD",
		SubscriptionID: sub.ID,
		ExpiresAt:      sub.CurrentPeriodEnd,
		IsActive:       true,
		CreatedAt:      created,
		UpdatedAt:      created,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO subscriptions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO licenses`).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})
	mock.ExpectRollback()

	err := s.CreateSubscriptionWithLicense(context.Background(), &sub, &lic)
	if !errors.Is(err, ErrDuplicateLicenseKey) {
		t.Fatalf("expected ErrDuplicateLicenseKey, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCreateCommits(t *testing.T) {
	s, mock := newPostgresMock(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sub := models.Subscription{ID: "sub-1", StripeSubscriptionID: "sub_stripe_1", CreatedAt: created}
	lic := models.License{ID: "lic-1", Key: "AAAA-BBBB-CCCC-DDDD", SubscriptionID: sub.ID, IsActive: true, CreatedAt: created, UpdatedAt: created}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO subscriptions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO licenses`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.CreateSubscriptionWithLicense(context.Background(), &sub, &lic); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
