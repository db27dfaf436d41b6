package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/itam/internal/core/domain"
)

func TestAssignAsset_Success(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)

	assignment, err := svc.AssignAsset(ctx, "admin", asset.ID, "u1", domain.AssignmentDedicated, true)
	require.NoError(t, err)
	assert.True(t, assignment.Active)
	assert.Equal(t, testToday(), assignment.StartDate)
	assert.Equal(t, "admin", assignment.AssignedBy)

	got, err := store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusInUse, got.Status)
	assert.Equal(t, "u1", got.CurrentHolderID)
	assert.Equal(t, testToday(), got.AssignedDate)

	history, err := svc.History(ctx, domain.ReferenceAsset, asset.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ActionAssigned, history[0].ActionType)
	assert.Equal(t, "admin", history[0].ActorID)
	assert.Empty(t, cmp.Diff(domain.Snapshot{"status": "new"}, history[0].Previous))
	assert.Empty(t, cmp.Diff(domain.Snapshot{
		"status":            "in_use",
		"current_holder_id": "u1",
		"assignment_id":     assignment.ID,
		"assignment_type":   "dedicated",
		"is_primary":        "true",
	}, history[0].New))
}

func TestAssignAsset_AlreadyAssigned(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)

	_, err := svc.AssignAsset(ctx, "admin", asset.ID, "u1", domain.AssignmentDedicated, true)
	require.NoError(t, err)

	_, err = svc.AssignAsset(ctx, "admin", asset.ID, "u2", domain.AssignmentShared, false)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "u1")

	active, err := store.ListActiveAssetAssignments(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, 2, historyCount(t, store, domain.ReferenceAsset, asset.ID))
}

func TestAssignAsset_Errors(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)

	repair, err := svc.ChangeAssetStatus(ctx, "admin", createAsset(t, svc).ID, domain.AssetStatusInRepair, "screen")
	require.NoError(t, err)

	tests := []struct {
		name    string
		assetID string
		userID  string
		typ     domain.AssignmentType
		want    error
	}{
		{"missing asset", "nope", "u1", domain.AssignmentDedicated, domain.ErrNotFound},
		{"missing user", asset.ID, "nope", domain.AssignmentDedicated, domain.ErrNotFound},
		{"inactive user", asset.ID, "gone", domain.AssignmentDedicated, domain.ErrNotFound},
		{"empty asset id", "", "u1", domain.AssignmentDedicated, domain.ErrValidation},
		{"bad type", asset.ID, "u1", "borrowed", domain.ErrValidation},
		{"not assignable status", repair.ID, "u1", domain.AssignmentDedicated, domain.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AssignAsset(ctx, "admin", tt.assetID, tt.userID, tt.typ, false)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	got, err := store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusNew, got.Status)
	assert.Empty(t, got.CurrentHolderID)
}

func TestReturnAsset_NoActiveAssignment(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)

	_, err := svc.ReturnAsset(ctx, "admin", asset.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.Status, got.Status)
	assert.Equal(t, 1, historyCount(t, store, domain.ReferenceAsset, asset.ID))
}

func TestReturnAsset_Success(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)

	assignment, err := svc.AssignAsset(ctx, "admin", asset.ID, "u1", "", false)
	require.NoError(t, err)

	returned, err := svc.ReturnAsset(ctx, "admin", asset.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusAvailable, returned.Status)
	assert.Empty(t, returned.CurrentHolderID)
	assert.True(t, returned.AssignedDate.IsZero())

	active, err := store.ListActiveAssetAssignments(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := svc.History(ctx, domain.ReferenceAsset, asset.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.ActionReturned, history[0].ActionType)
	assert.Equal(t, []domain.FieldChange{
		{Field: "assignment_id", Previous: assignment.ID},
		{Field: "current_holder_id", Previous: "u1"},
		{Field: "status", Previous: "in_use", New: "available"},
	}, history[0].Changes())

	// an available asset can be handed out again
	_, err = svc.AssignAsset(ctx, "admin", asset.ID, "u2", domain.AssignmentTemporary, false)
	require.NoError(t, err)
}

func TestAssignLicense_StrictPolicy(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)
	ctx := context.Background()
	license := createLicense(t, svc, 10)
	assignSeats(t, svc, license.ID, 9)

	change, err := svc.AssignLicense(ctx, "admin", license.ID, "u2", "")
	require.NoError(t, err)
	assert.Equal(t, 10, change.License.UsedQuantity)
	assert.Equal(t, 0, change.License.AvailableQuantity)
	assert.Equal(t, domain.ComplianceCompliant, change.License.ComplianceStatus)

	before := historyCount(t, store, domain.ReferenceLicense, license.ID)
	_, err = svc.AssignLicense(ctx, "admin", license.ID, "u2", "")
	require.ErrorIs(t, err, domain.ErrCapacity)
	assert.Contains(t, err.Error(), "used 10 of 10")

	after := requireLicenseInvariants(t, store, license.ID)
	assert.Equal(t, 10, after.UsedQuantity)
	assert.Equal(t, 0, after.AvailableQuantity)
	assert.Equal(t, domain.ComplianceCompliant, after.ComplianceStatus)
	assert.Equal(t, before, historyCount(t, store, domain.ReferenceLicense, license.ID))
}

func TestAssignLicense_PermissivePolicy(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	license := createLicense(t, svc, 10)
	assignSeats(t, svc, license.ID, 10)

	change, err := svc.AssignLicense(ctx, "admin", license.ID, "u2", "")
	require.NoError(t, err)
	assert.Equal(t, 11, change.License.UsedQuantity)
	assert.Equal(t, -1, change.License.AvailableQuantity)
	assert.Equal(t, domain.ComplianceExceeded, change.License.ComplianceStatus)
	requireLicenseInvariants(t, store, license.ID)

	history, err := svc.History(ctx, domain.ReferenceLicense, license.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionLicenseAssigned, history[0].ActionType)
	assert.Equal(t, "10", history[0].Previous["used_quantity"])
	assert.Equal(t, "11", history[0].New["used_quantity"])
	assert.Equal(t, "exceeded", history[0].New["compliance_status"])
	assert.Equal(t, change.Assignment.ID, history[0].New["assignment_id"])
}

func TestAssignLicense_Errors(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)
	ctx := context.Background()
	license := createLicense(t, svc, 2)

	_, err := svc.AssignLicense(ctx, "admin", "nope", "u1", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.AssignLicense(ctx, "admin", license.ID, "nope", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.AssignLicense(ctx, "admin", license.ID, "u1", "no-such-asset")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.AssignLicense(ctx, "admin", "", "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	empty := createLicense(t, svc, 0)
	_, err = svc.AssignLicense(ctx, "admin", empty.ID, "u1", "")
	assert.ErrorIs(t, err, domain.ErrCapacity)

	requireLicenseInvariants(t, store, license.ID)
}

func TestAssignLicense_TiedToAsset(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)
	ctx := context.Background()
	license := createLicense(t, svc, 5)
	asset := createAsset(t, svc)

	change, err := svc.AssignLicense(ctx, "admin", license.ID, "u1", asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, change.Assignment.AssetID)

	seats, err := store.ListActiveLicenseAssignments(ctx, license.ID)
	require.NoError(t, err)
	require.Len(t, seats, 1)
	assert.Equal(t, asset.ID, seats[0].AssetID)
}

func TestRevokeLicense(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	license := createLicense(t, svc, 1)
	seats := assignSeats(t, svc, license.ID, 2)

	change, err := svc.RevokeLicense(ctx, "admin", seats[0].Assignment.ID)
	require.NoError(t, err)
	assert.False(t, change.Assignment.Active)
	assert.Equal(t, testToday(), change.Assignment.RevokedDate)
	assert.Equal(t, 1, change.License.UsedQuantity)
	assert.Equal(t, domain.ComplianceCompliant, change.License.ComplianceStatus)
	requireLicenseInvariants(t, store, license.ID)

	_, err = svc.RevokeLicense(ctx, "admin", seats[0].Assignment.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.RevokeLicense(ctx, "admin", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	history, err := svc.History(ctx, domain.ReferenceLicense, license.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionLicenseRevoked, history[0].ActionType)
	assert.Equal(t, "2", history[0].Previous["used_quantity"])
	assert.Equal(t, "1", history[0].New["used_quantity"])
}

func TestLicenseInvariants_RandomSequence(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	license := createLicense(t, svc, 3)

	rng := rand.New(rand.NewSource(42))
	var active []string
	for step := 0; step < 60; step++ {
		if len(active) == 0 || rng.Intn(3) > 0 {
			change, err := svc.AssignLicense(ctx, "admin", license.ID, "u1", "")
			require.NoError(t, err)
			active = append(active, change.Assignment.ID)
		} else {
			i := rng.Intn(len(active))
			_, err := svc.RevokeLicense(ctx, "admin", active[i])
			require.NoError(t, err)
			active = append(active[:i], active[i+1:]...)
		}

		got := requireLicenseInvariants(t, store, license.ID)
		require.Equal(t, len(active), got.UsedQuantity, "step %d", step)
	}
}

func TestChangeAssetStatus(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)

	_, err := svc.ChangeAssetStatus(ctx, "admin", asset.ID, "broken", "")
	require.ErrorIs(t, err, domain.ErrValidation)

	got, err := svc.ChangeAssetStatus(ctx, "admin", asset.ID, domain.AssetStatusInRepair, "keyboard")
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusInRepair, got.Status)
	assert.Equal(t, "[status] new -> in_repair: keyboard", got.Notes)

	got, err = svc.ChangeAssetStatus(ctx, "admin", asset.ID, domain.AssetStatusAvailable, "")
	require.NoError(t, err)
	assert.Equal(t, "[status] new -> in_repair: keyboard\n[status] in_repair -> available", got.Notes)

	history, err := svc.History(ctx, domain.ReferenceAsset, asset.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.ActionStatusChanged, history[0].ActionType)
	assert.Equal(t, domain.Snapshot{"status": "in_repair"}, history[0].Previous)
	assert.Equal(t, domain.Snapshot{"status": "available"}, history[0].New)

	_, err = svc.ChangeAssetStatus(ctx, "admin", asset.ID, domain.AssetStatusInUse, "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.ChangeAssetStatus(ctx, "admin", "nope", domain.AssetStatusLost, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangeAssetStatus_HeldAsset(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)

	_, err := svc.AssignAsset(ctx, "admin", asset.ID, "u1", domain.AssignmentDedicated, true)
	require.NoError(t, err)

	_, err = svc.ChangeAssetStatus(ctx, "admin", asset.ID, domain.AssetStatusLost, "left in taxi")
	require.ErrorIs(t, err, domain.ErrConflict)

	got, err := store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusInUse, got.Status)
	assert.Equal(t, "u1", got.CurrentHolderID)
}

func TestMutations_RollBackWhenAuditFails(t *testing.T) {
	base := newTestStore(t)
	svc := newTestService(t, base, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)
	license := createLicense(t, svc, 5)
	seat := assignSeats(t, svc, license.ID, 1)[0]

	faulty := newTestService(t, &faultyStore{Store: base, failOn: "InsertHistory"}, domain.PolicyPermissive)

	_, err := faulty.AssignAsset(ctx, "admin", asset.ID, "u1", domain.AssignmentDedicated, true)
	require.ErrorIs(t, err, errInjected)
	got, err := base.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusNew, got.Status)
	assert.Empty(t, got.CurrentHolderID)
	active, err := base.ListActiveAssetAssignments(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = faulty.AssignLicense(ctx, "admin", license.ID, "u2", "")
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, 1, requireLicenseInvariants(t, base, license.ID).UsedQuantity)

	_, err = faulty.RevokeLicense(ctx, "admin", seat.Assignment.ID)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, 1, requireLicenseInvariants(t, base, license.ID).UsedQuantity)

	_, err = faulty.CreateAsset(ctx, "admin", NewAsset{Name: "X", LocationID: "loc1", CategoryID: "cat1", ManagerID: "u3"})
	require.ErrorIs(t, err, errInjected)
}

func TestMutations_WriteOneHistoryRecordEach(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	ctx := context.Background()
	asset := createAsset(t, svc)
	license := createLicense(t, svc, 2)

	steps := []struct {
		name   string
		ref    domain.ReferenceType
		id     string
		action func() error
	}{
		{"assign asset", domain.ReferenceAsset, asset.ID, func() error {
			_, err := svc.AssignAsset(ctx, "admin", asset.ID, "u1", domain.AssignmentDedicated, true)
			return err
		}},
		{"return asset", domain.ReferenceAsset, asset.ID, func() error {
			_, err := svc.ReturnAsset(ctx, "admin", asset.ID)
			return err
		}},
		{"change status", domain.ReferenceAsset, asset.ID, func() error {
			_, err := svc.ChangeAssetStatus(ctx, "admin", asset.ID, domain.AssetStatusPendingDisposal, "old")
			return err
		}},
		{"assign license", domain.ReferenceLicense, license.ID, func() error {
			_, err := svc.AssignLicense(ctx, "admin", license.ID, "u1", "")
			return err
		}},
		{"delete asset", domain.ReferenceAsset, asset.ID, func() error {
			return svc.DeleteAsset(ctx, "admin", asset.ID)
		}},
	}
	for _, step := range steps {
		before := historyCount(t, store, step.ref, step.id)
		require.NoError(t, step.action(), step.name)
		assert.Equal(t, before+1, historyCount(t, store, step.ref, step.id), step.name)
	}
}

func TestAssignLicense_ConcurrentStrict(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)
	license := createLicense(t, svc, 5)

	const workers = 30
	users := []string{"u1", "u2", "u3"}
	var (
		wg                 sync.WaitGroup
		assigned, rejected atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := svc.AssignLicense(context.Background(), "admin", license.ID, userID, "")
			switch {
			case err == nil:
				assigned.Add(1)
			case errors.Is(err, domain.ErrCapacity):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(users[i%len(users)])
	}
	wg.Wait()

	assert.Equal(t, int32(5), assigned.Load())
	assert.Equal(t, int32(workers-5), rejected.Load())

	final := requireLicenseInvariants(t, store, license.ID)
	assert.Equal(t, 5, final.UsedQuantity)
	assert.Equal(t, 0, final.AvailableQuantity)
	assert.Equal(t, domain.ComplianceCompliant, final.ComplianceStatus)
}

func TestAssignAsset_ConcurrentSingleHolder(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyPermissive)
	asset := createAsset(t, svc)

	const workers = 30
	users := []string{"u1", "u2", "u3"}
	var (
		wg                  sync.WaitGroup
		assigned, conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := svc.AssignAsset(context.Background(), "admin", asset.ID, userID, domain.AssignmentDedicated, true)
			switch {
			case err == nil:
				assigned.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(users[i%len(users)])
	}
	wg.Wait()

	assert.Equal(t, int32(1), assigned.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())

	stored, err := store.GetAsset(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusInUse, stored.Status)
	assert.NotEmpty(t, stored.CurrentHolderID)
	assert.Equal(t, 2, historyCount(t, store, domain.ReferenceAsset, asset.ID), "created plus one assignment")
}
