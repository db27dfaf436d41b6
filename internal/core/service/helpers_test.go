package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/adapter/storage"
	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

var testNow = time.Date(2024, time.June, 15, 9, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func testToday() domain.Date { return domain.DateOf(testNow) }

func newTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	store, err := storage.OpenMemory(context.Background(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	err = store.SeedMasterData(context.Background(), storage.MasterData{
		Users: []domain.User{
			{ID: "u1", EmployeeNo: "E001", Name: "Alice", Active: true},
			{ID: "u2", EmployeeNo: "E002", Name: "Bob", Active: true},
			{ID: "u3", EmployeeNo: "E003", Name: "Carol", Active: true},
			{ID: "gone", EmployeeNo: "E099", Name: "Former", Active: false},
		},
		Locations:  []domain.Location{{ID: "loc1", Code: "HQ", Name: "Head office"}},
		Categories: []domain.Category{{ID: "cat1", Code: "NB", Name: "Notebook", UsefulLifeMonths: 48}},
		EOS:        []domain.EOSInfo{{ID: "eos1", ProductName: "Windows 10", EOSDate: domain.Date{Year: 2024, Month: time.June, Day: 1}}},
	})
	require.NoError(t, err)
	return store
}

func newTestService(t *testing.T, store port.Store, policy domain.CapacityPolicy) *LifecycleService {
	t.Helper()
	svc := NewLifecycleService(store, policy, zap.NewNop())
	svc.SetClock(testClock)
	return svc
}

func createAsset(t *testing.T, svc *LifecycleService) domain.Asset {
	t.Helper()
	asset, err := svc.CreateAsset(context.Background(), "admin", NewAsset{
		Name:         "ThinkPad X1",
		LocationID:   "loc1",
		CategoryID:   "cat1",
		ManagerID:    "u3",
		PurchaseDate: domain.Date{Year: 2024, Month: time.January, Day: 10},
	})
	require.NoError(t, err)
	return asset
}

func createLicense(t *testing.T, svc *LifecycleService, total int) domain.License {
	t.Helper()
	license, err := svc.CreateLicense(context.Background(), "admin", NewLicense{
		SoftwareName:  "Office 365",
		TotalQuantity: total,
		ManagerID:     "u3",
	})
	require.NoError(t, err)
	return license
}

// assignSeats gives n seats of the license to u1.
func assignSeats(t *testing.T, svc *LifecycleService, licenseID string, n int) []SeatChange {
	t.Helper()
	var out []SeatChange
	for i := 0; i < n; i++ {
		change, err := svc.AssignLicense(context.Background(), "admin", licenseID, "u1", "")
		require.NoError(t, err)
		out = append(out, change)
	}
	return out
}

func historyCount(t *testing.T, store port.Store, refType domain.ReferenceType, refID string) int {
	t.Helper()
	records, err := store.ListHistory(context.Background(), refType, refID)
	require.NoError(t, err)
	return len(records)
}

func requireLicenseInvariants(t *testing.T, store port.Store, licenseID string) domain.License {
	t.Helper()
	ctx := context.Background()
	license, err := store.GetLicense(ctx, licenseID)
	require.NoError(t, err)
	require.NotNil(t, license)

	seats, err := store.ListActiveLicenseAssignments(ctx, licenseID)
	require.NoError(t, err)

	require.Equal(t, len(seats), license.UsedQuantity, "used matches active seats")
	require.Equal(t, license.TotalQuantity-license.UsedQuantity, license.AvailableQuantity, "available = total - used")
	require.Equal(t, license.UsedQuantity > license.TotalQuantity, license.ComplianceStatus == domain.ComplianceExceeded,
		"exceeded iff used > total")
	return *license
}

var errInjected = errors.New("injected failure")

// faultyStore wraps a store so that one Tx method fails, to prove that
// operations roll back as a whole.
type faultyStore struct {
	port.Store
	failOn string
}

func (s *faultyStore) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx port.Tx) error {
		return fn(&faultyTx{Tx: tx, failOn: s.failOn})
	})
}

type faultyTx struct {
	port.Tx
	failOn string
}

func (t *faultyTx) InsertHistory(ctx context.Context, h domain.HistoryRecord) error {
	if t.failOn == "InsertHistory" || t.failOn == "InsertHistory:"+string(h.ActionType) {
		return errInjected
	}
	return t.Tx.InsertHistory(ctx, h)
}

func (t *faultyTx) UpdateUser(ctx context.Context, u domain.User) error {
	if t.failOn == "UpdateUser" {
		return errInjected
	}
	return t.Tx.UpdateUser(ctx, u)
}

func (t *faultyTx) UpdateLicense(ctx context.Context, l domain.License) error {
	if t.failOn == "UpdateLicense" {
		return errInjected
	}
	return t.Tx.UpdateLicense(ctx, l)
}

// Mock CacheRepository
type mockCache struct {
	mu     sync.Mutex
	claims map[string]bool
	locks  map[string]string
	err    error
}

func newMockCache() *mockCache {
	return &mockCache{
		claims: make(map[string]bool),
		locks:  make(map[string]string),
	}
}

func (m *mockCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *mockCache) DeleteIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

func (m *mockCache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return "", m.err
	}
	if m.locks[name] != "" {
		return "", nil
	}
	m.locks[name] = "token-" + name
	return m.locks[name], nil
}

func (m *mockCache) ReleaseLock(ctx context.Context, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[name] == token {
		delete(m.locks, name)
	}
	return nil
}
