package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

func TestReconcile_CorrectsDrift(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, domain.PolicyStrict)
	license := createLicense(t, svc, 5)
	assignSeats(t, svc, license.ID, 2)

	core, logs := observer.New(zapcore.WarnLevel)
	reconciler := NewReconciler(zap.New(core))
	reconciler.now = testClock
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx port.Tx) error {
		l, err := tx.LockLicense(ctx, license.ID)
		require.NoError(t, err)
		l.UsedQuantity = 4
		l.AvailableQuantity = 1
		return tx.UpdateLicense(ctx, *l)
	})
	require.NoError(t, err)

	var got domain.License
	err = store.WithinTx(ctx, func(tx port.Tx) error {
		var err error
		got, err = reconciler.Reconcile(ctx, tx, license.ID, 0)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 2, got.UsedQuantity)
	assert.Equal(t, 3, got.AvailableQuantity)
	assert.Equal(t, domain.ComplianceCompliant, got.ComplianceStatus)
	assert.Equal(t, 1, logs.FilterMessage("license seat count drifted").Len())
	requireLicenseInvariants(t, store, license.ID)
}

func TestReconcile_ExpectedChangeIsNotDrift(t *testing.T) {
	store := newTestStore(t)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewLifecycleService(store, domain.PolicyStrict, zap.New(core))
	svc.SetClock(testClock)

	license := createLicense(t, svc, 2)
	seats := assignSeats(t, svc, license.ID, 2)
	_, err := svc.RevokeLicense(context.Background(), "admin", seats[0].Assignment.ID)
	require.NoError(t, err)

	assert.Zero(t, logs.FilterMessage("license seat count drifted").Len())
}

func TestReconcile_MissingLicense(t *testing.T) {
	store := newTestStore(t)
	reconciler := NewReconciler(nil)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx port.Tx) error {
		_, err := reconciler.Reconcile(ctx, tx, "missing", 0)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
