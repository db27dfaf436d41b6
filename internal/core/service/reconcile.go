package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

// Reconciler recomputes a license's derived seat counters from its active
// assignment rows.
type Reconciler struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewReconciler(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger, now: time.Now}
}

// Reconcile locks the license, counts its active seats and stores
// used/available/compliance. It runs inside the transaction that changed the
// seats. expectedChange is the seat delta that transaction applied; any
// other difference from the stored count is drift and is logged before it is
// corrected.
func (r *Reconciler) Reconcile(ctx context.Context, tx port.Tx, licenseID string, expectedChange int) (domain.License, error) {
	license, err := tx.LockLicense(ctx, licenseID)
	if err != nil {
		return domain.License{}, err
	}
	if license == nil {
		return domain.License{}, domain.NotFound("license", licenseID)
	}
	if license.TotalQuantity < 0 {
		return domain.License{}, domain.Consistency("license", licenseID, "total quantity is negative")
	}

	used, err := tx.CountActiveLicenseAssignments(ctx, licenseID)
	if err != nil {
		return domain.License{}, err
	}

	if drift := used - (license.UsedQuantity + expectedChange); drift != 0 {
		r.logger.Warn("license seat count drifted",
			zap.String("license_id", licenseID),
			zap.Int("stored_used", license.UsedQuantity),
			zap.Int("expected_change", expectedChange),
			zap.Int("active_seats", used),
		)
	}

	license.ApplyUsage(used)
	license.UpdatedAt = r.now().UTC()
	if err := tx.UpdateLicense(ctx, *license); err != nil {
		return domain.License{}, err
	}
	return *license, nil
}
