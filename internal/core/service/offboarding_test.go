package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/itam/internal/core/domain"
)

// holdings gives u1 two assets and three seats spread over two licenses.
func holdings(t *testing.T, svc *LifecycleService) ([]domain.Asset, []domain.License) {
	t.Helper()
	ctx := context.Background()

	assets := []domain.Asset{createAsset(t, svc), createAsset(t, svc)}
	for _, a := range assets {
		_, err := svc.AssignAsset(ctx, "admin", a.ID, "u1", domain.AssignmentDedicated, false)
		require.NoError(t, err)
	}

	licenses := []domain.License{createLicense(t, svc, 5), createLicense(t, svc, 1)}
	assignSeats(t, svc, licenses[0].ID, 2)
	assignSeats(t, svc, licenses[1].ID, 1)
	// a seat held by someone else stays untouched
	_, err := svc.AssignLicense(ctx, "admin", licenses[0].ID, "u2", "")
	require.NoError(t, err)
	return assets, licenses
}

func TestBulkReturn_ReclaimsEverything(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)
	ctx := context.Background()
	assets, licenses := holdings(t, svc)

	result, err := svc.BulkReturn(ctx, "hr", "u1")
	require.NoError(t, err)
	assert.Len(t, result.ReturnedAssets, 2)
	assert.Len(t, result.RevokedSeats, 3)
	assert.Len(t, result.Licenses, 2)
	assert.Equal(t, testToday(), result.ResignDate)

	for _, a := range assets {
		got, err := store.GetAsset(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AssetStatusAvailable, got.Status)
		assert.Empty(t, got.CurrentHolderID)

		active, err := store.ListActiveAssetAssignments(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, active)
	}

	first := requireLicenseInvariants(t, store, licenses[0].ID)
	assert.Equal(t, 1, first.UsedQuantity, "u2 keeps a seat")
	second := requireLicenseInvariants(t, store, licenses[1].ID)
	assert.Equal(t, 0, second.UsedQuantity)
	assert.Equal(t, 1, second.AvailableQuantity)

	for _, l := range licenses {
		seats, err := store.ListActiveLicenseAssignments(ctx, l.ID)
		require.NoError(t, err)
		for _, s := range seats {
			assert.NotEqual(t, "u1", s.UserID)
		}
	}

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, user.Active)
	assert.Equal(t, testToday(), user.ResignDate)

	history, err := svc.History(ctx, domain.ReferenceUser, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionUserOffboarded, history[0].ActionType)
	assert.Equal(t, "2", history[0].New["returned_assets"])
	assert.Equal(t, "3", history[0].New["revoked_seats"])
	assert.Equal(t, "true", history[0].Previous["active"])
	assert.Equal(t, "false", history[0].New["active"])

	assetHistory, err := svc.History(ctx, domain.ReferenceAsset, assets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionReturned, assetHistory[0].ActionType)
	assert.Equal(t, "hr", assetHistory[0].ActorID)
}

func TestBulkReturn_AllOrNothing(t *testing.T) {
	base := newTestStore(t)
	svc := newTestService(t, base, domain.PolicyStrict)
	ctx := context.Background()
	assets, licenses := holdings(t, svc)

	for _, failOn := range []string{"UpdateUser", "UpdateLicense", "InsertHistory:USER_OFFBOARDED"} {
		t.Run(failOn, func(t *testing.T) {
			faulty := newTestService(t, &faultyStore{Store: base, failOn: failOn}, domain.PolicyStrict)
			_, err := faulty.BulkReturn(ctx, "hr", "u1")
			require.ErrorIs(t, err, errInjected)

			for _, a := range assets {
				got, err := base.GetAsset(ctx, a.ID)
				require.NoError(t, err)
				assert.Equal(t, domain.AssetStatusInUse, got.Status)
				assert.Equal(t, "u1", got.CurrentHolderID)
			}
			assert.Equal(t, 3, requireLicenseInvariants(t, base, licenses[0].ID).UsedQuantity)
			assert.Equal(t, 1, requireLicenseInvariants(t, base, licenses[1].ID).UsedQuantity)

			user, err := base.GetUser(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, user.Active)
			assert.True(t, user.ResignDate.IsZero())
		})
	}
}

func TestBulkReturn_UnknownUser(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)

	_, err := svc.BulkReturn(context.Background(), "hr", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.BulkReturn(context.Background(), "hr", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBulkReturn_NothingHeld(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)

	result, err := svc.BulkReturn(context.Background(), "hr", "u2")
	require.NoError(t, err)
	assert.Empty(t, result.ReturnedAssets)
	assert.Empty(t, result.RevokedSeats)

	user, err := store.GetUser(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, user.Active)
}

func TestBulkReturn_RepeatResetsResignDateToToday(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)
	ctx := context.Background()

	_, err := svc.BulkReturn(ctx, "hr", "u2")
	require.NoError(t, err)

	later := testNow.AddDate(0, 0, 10)
	svc.SetClock(func() time.Time { return later })
	result, err := svc.BulkReturn(ctx, "hr", "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.DateOf(later), result.ResignDate)

	user, err := store.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.DateOf(later), user.ResignDate)
}
