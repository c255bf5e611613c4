package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"storelens.app/cloud/models"
)

// MemoryStorage is an in-memory Storage used by tests. It mirrors the SQL
// backends' semantics, including the conditional device bind and the
// all-or-nothing subscription+license create.
type MemoryStorage struct {
	mu            sync.Mutex
	Subscriptions map[string]models.Subscription // by internal ID
	Licenses      map[string]models.License      // by internal ID

	FailCreate bool // force CreateSubscriptionWithLicense to fail
	FailFind   bool // force lookups to fail
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Subscriptions: make(map[string]models.Subscription),
		Licenses:      make(map[string]models.License),
	}
}

var errInjected = errors.New("storage failure")

func (m *MemoryStorage) CreateSubscriptionWithLicense(ctx context.Context, sub *models.Subscription, lic *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate {
		return errInjected
	}
	for _, existing := range m.Licenses {
		if existing.Key == lic.Key {
			return ErrDuplicateLicenseKey
		}
	}
	m.Subscriptions[sub.ID] = *sub
	m.Licenses[lic.ID] = *lic
	return nil
}

func (m *MemoryStorage) FindSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailFind {
		return nil, errInjected
	}
	for _, sub := range m.Subscriptions {
		if sub.StripeSubscriptionID == stripeSubID {
			subCopy := sub
			return &subCopy, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindLatestSubscriptionByEmail(ctx context.Context, email string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailFind {
		return nil, errInjected
	}
	var matches []models.Subscription
	for _, sub := range m.Subscriptions {
		if sub.Email == email {
			matches = append(matches, sub)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return &matches[0], nil
}

func (m *MemoryStorage) UpdateSubscriptionPeriod(ctx context.Context, stripeSubID, status string, periodStart, periodEnd time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range m.Subscriptions {
		if sub.StripeSubscriptionID == stripeSubID {
			sub.Status = status
			sub.CurrentPeriodStart = periodStart
			sub.CurrentPeriodEnd = periodEnd
			m.Subscriptions[id] = sub
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

func (m *MemoryStorage) CancelSubscription(ctx context.Context, stripeSubID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range m.Subscriptions {
		if sub.StripeSubscriptionID == stripeSubID {
			sub.Status = models.SubscriptionCanceled
			m.Subscriptions[id] = sub
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

func (m *MemoryStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLicenseByKeyLocked(key)
}

func (m *MemoryStorage) findLicenseByKeyLocked(key string) (*models.License, error) {
	if m.FailFind {
		return nil, errInjected
	}
	for _, lic := range m.Licenses {
		if lic.Key == key {
			licCopy := lic
			return &licCopy, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindLicenseWithSubscription(ctx context.Context, key string) (*models.License, *models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lic, err := m.findLicenseByKeyLocked(key)
	if err != nil || lic == nil {
		return nil, nil, err
	}
	sub, ok := m.Subscriptions[lic.SubscriptionID]
	if !ok {
		return nil, nil, nil
	}
	subCopy := sub
	return lic, &subCopy, nil
}

func (m *MemoryStorage) FindLicensesBySubscription(ctx context.Context, subscriptionID string) ([]*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailFind {
		return nil, errInjected
	}
	var licenses []*models.License
	for _, lic := range m.Licenses {
		if lic.SubscriptionID == subscriptionID {
			licCopy := lic
			licenses = append(licenses, &licCopy)
		}
	}
	sort.Slice(licenses, func(i, j int) bool {
		return licenses[i].CreatedAt.After(licenses[j].CreatedAt)
	})
	return licenses, nil
}

func (m *MemoryStorage) UpdateLicenseExpiry(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, lic := range m.Licenses {
		if lic.SubscriptionID == subscriptionID {
			lic.ExpiresAt = expiresAt
			lic.UpdatedAt = time.Now().UTC()
			m.Licenses[id] = lic
		}
	}
	return nil
}

func (m *MemoryStorage) DeactivateLicenses(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, lic := range m.Licenses {
		if lic.SubscriptionID == subscriptionID {
			lic.IsActive = false
			lic.UpdatedAt = time.Now().UTC()
			m.Licenses[id] = lic
		}
	}
	return nil
}

func (m *MemoryStorage) BindDevice(ctx context.Context, key, deviceID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, lic := range m.Licenses {
		if lic.Key != key {
			continue
		}
		if lic.DeviceID != "" && lic.DeviceID != deviceID {
			return false, nil
		}
		lic.DeviceID = deviceID
		if lic.ActivatedAt == nil {
			t := at
			lic.ActivatedAt = &t
		}
		lic.UpdatedAt = at
		m.Licenses[id] = lic
		return true, nil
	}
	return false, nil
}

func (m *MemoryStorage) RebindDevice(ctx context.Context, key, deviceID string, at time.Time) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, lic := range m.Licenses {
		if lic.Key != key {
			continue
		}
		t := at
		lic.DeviceID = deviceID
		lic.ActivatedAt = &t
		lic.UpdatedAt = at
		m.Licenses[id] = lic
		licCopy := lic
		return &licCopy, nil
	}
	return nil, ErrLicenseNotFound
}

func (m *MemoryStorage) Close() error {
	return nil
}
