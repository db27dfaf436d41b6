package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/adapter/storage"
	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/core/service"
)

type testDeps struct {
	store         *storage.SQLStore
	lifecycle     *service.LifecycleService
	notifications *service.NotificationService
}

func newTestDeps(t *testing.T, policy domain.CapacityPolicy) *testDeps {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenMemory(ctx, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	err = store.SeedMasterData(ctx, storage.MasterData{
		Users: []domain.User{
			{ID: "u1", EmployeeNo: "E001", Name: "Alice", Active: true},
			{ID: "u2", EmployeeNo: "E002", Name: "Bob", Active: true},
		},
		Locations:  []domain.Location{{ID: "loc1", Code: "HQ", Name: "Head office"}},
		Categories: []domain.Category{{ID: "cat1", Code: "NB", Name: "Notebook", UsefulLifeMonths: 48}},
	})
	require.NoError(t, err)

	lifecycle := service.NewLifecycleService(store, policy, zap.NewNop())
	lifecycle.SetClock(func() time.Time { return time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC) })

	rules := []service.Rule{service.LicenseExceededRule{Fallback: "admin"}}
	return &testDeps{
		store:         store,
		lifecycle:     lifecycle,
		notifications: service.NewNotificationService(store, nil, rules, zap.NewNop()),
	}
}

func (d *testDeps) asset(t *testing.T) domain.Asset {
	t.Helper()
	asset, err := d.lifecycle.CreateAsset(context.Background(), "admin", service.NewAsset{
		Name: "ThinkPad X1", LocationID: "loc1", CategoryID: "cat1", ManagerID: "u2",
	})
	require.NoError(t, err)
	return asset
}

func (d *testDeps) license(t *testing.T, total int) domain.License {
	t.Helper()
	license, err := d.lifecycle.CreateLicense(context.Background(), "admin", service.NewLicense{
		SoftwareName: "Office 365", TotalQuantity: total, ManagerID: "u2",
	})
	require.NoError(t, err)
	return license
}
