package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

// LifecycleService runs the asset and license lifecycle actions. Each public
// method is one transaction: holder state, seat counters and the history
// record commit together or not at all.
type LifecycleService struct {
	store      port.Store
	recorder   *Recorder
	reconciler *Reconciler
	policy     domain.CapacityPolicy
	logger     *zap.Logger
	now        func() time.Time
}

func NewLifecycleService(store port.Store, policy domain.CapacityPolicy, logger *zap.Logger) *LifecycleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !policy.Valid() {
		policy = domain.PolicyPermissive
	}
	return &LifecycleService{
		store:      store,
		recorder:   NewRecorder(store),
		reconciler: NewReconciler(logger),
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for dates and timestamps.
func (s *LifecycleService) SetClock(now func() time.Time) {
	s.now = now
	s.recorder.now = now
	s.reconciler.now = now
}

func (s *LifecycleService) Policy() domain.CapacityPolicy {
	return s.policy
}

func (s *LifecycleService) today() domain.Date {
	return domain.DateOf(s.now())
}

// SeatChange is the outcome of assigning or revoking a license seat.
type SeatChange struct {
	Assignment domain.LicenseAssignment `json:"assignment"`
	License    domain.License           `json:"license"`
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Validation(field, "is required")
	}
	return nil
}

func (s *LifecycleService) activeUser(ctx context.Context, tx port.Tx, userID string) (*domain.User, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, domain.NotFound("user", userID)
	}
	return user, nil
}

func (s *LifecycleService) liveAsset(ctx context.Context, tx port.Tx, assetID string) (*domain.Asset, error) {
	asset, err := tx.LockAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil || asset.Deleted {
		return nil, domain.NotFound("asset", assetID)
	}
	return asset, nil
}

func (s *LifecycleService) liveLicense(ctx context.Context, tx port.Tx, licenseID string) (*domain.License, error) {
	license, err := tx.LockLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if license == nil || license.Deleted {
		return nil, domain.NotFound("license", licenseID)
	}
	return license, nil
}

// AssignAsset hands an unheld asset to a user.
func (s *LifecycleService) AssignAsset(ctx context.Context, actorID, assetID, userID string, assignmentType domain.AssignmentType, isPrimary bool) (domain.AssetAssignment, error) {
	if err := errors.Join(required("asset_id", assetID), required("user_id", userID)); err != nil {
		return domain.AssetAssignment{}, err
	}
	if assignmentType == "" {
		assignmentType = domain.AssignmentDedicated
	}
	if !assignmentType.Valid() {
		return domain.AssetAssignment{}, domain.Validation("assignment_type", fmt.Sprintf("unknown assignment type %q", assignmentType))
	}

	var result domain.AssetAssignment
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		if _, err := s.activeUser(ctx, tx, userID); err != nil {
			return err
		}
		asset, err := s.liveAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}

		current, err := tx.ActiveAssetAssignment(ctx, assetID)
		if err != nil {
			return err
		}
		if current != nil {
			return domain.Conflict("asset", assetID, "already assigned to user "+current.UserID)
		}
		if !asset.Status.Assignable() {
			return domain.Conflict("asset", assetID, fmt.Sprintf("status %s cannot be assigned", asset.Status))
		}

		id, err := newID()
		if err != nil {
			return err
		}
		now := s.now().UTC()
		today := s.today()
		assignment := domain.AssetAssignment{
			ID:             id,
			AssetID:        assetID,
			UserID:         userID,
			AssignmentType: assignmentType,
			IsPrimary:      isPrimary,
			StartDate:      today,
			Active:         true,
			AssignedBy:     actorID,
			CreatedAt:      now,
		}
		if err := tx.InsertAssetAssignment(ctx, assignment); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				return domain.Conflict("asset", assetID, "already has an active assignment")
			}
			return err
		}

		previous := holderSnapshot(*asset)
		asset.Status = domain.AssetStatusInUse
		asset.CurrentHolderID = userID
		asset.AssignedDate = today
		asset.UpdatedAt = now
		if err := tx.UpdateAsset(ctx, *asset); err != nil {
			return err
		}

		next := holderSnapshot(*asset)
		next["assignment_id"] = assignment.ID
		next["assignment_type"] = string(assignmentType)
		next["is_primary"] = strconv.FormatBool(isPrimary)
		if _, err := s.recorder.Record(ctx, tx, Entry{
			ReferenceType: domain.ReferenceAsset,
			ReferenceID:   assetID,
			ActionType:    domain.ActionAssigned,
			Detail:        fmt.Sprintf("assigned %s to user %s", asset.Identifier, userID),
			Previous:      previous,
			New:           next,
			ActorID:       actorID,
		}); err != nil {
			return err
		}

		result = assignment
		return nil
	})
	if err != nil {
		return domain.AssetAssignment{}, err
	}

	s.logger.Info("asset assigned",
		zap.String("asset_id", assetID), zap.String("user_id", userID), zap.String("actor_id", actorID))
	return result, nil
}

// ReturnAsset closes the asset's active assignment and makes it available.
func (s *LifecycleService) ReturnAsset(ctx context.Context, actorID, assetID string) (domain.Asset, error) {
	if err := required("asset_id", assetID); err != nil {
		return domain.Asset{}, err
	}

	var result domain.Asset
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		asset, err := s.liveAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		assignment, err := tx.ActiveAssetAssignment(ctx, assetID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return domain.NotFound("active assignment", assetID)
		}

		result, err = s.returnAsset(ctx, tx, actorID, *asset, *assignment, "returned by user "+assignment.UserID)
		return err
	})
	if err != nil {
		return domain.Asset{}, err
	}

	s.logger.Info("asset returned", zap.String("asset_id", assetID), zap.String("actor_id", actorID))
	return result, nil
}

// returnAsset ends one locked assignment and frees its locked asset.
func (s *LifecycleService) returnAsset(ctx context.Context, tx port.Tx, actorID string, asset domain.Asset, assignment domain.AssetAssignment, detail string) (domain.Asset, error) {
	today := s.today()
	if err := tx.EndAssetAssignment(ctx, assignment.ID, today); err != nil {
		return domain.Asset{}, err
	}

	previous := holderSnapshot(asset)
	previous["assignment_id"] = assignment.ID
	asset.Status = domain.AssetStatusAvailable
	asset.CurrentHolderID = ""
	asset.AssignedDate = domain.Date{}
	asset.UpdatedAt = s.now().UTC()
	if err := tx.UpdateAsset(ctx, asset); err != nil {
		return domain.Asset{}, err
	}

	_, err := s.recorder.Record(ctx, tx, Entry{
		ReferenceType: domain.ReferenceAsset,
		ReferenceID:   asset.ID,
		ActionType:    domain.ActionReturned,
		Detail:        detail,
		Previous:      previous,
		New:           holderSnapshot(asset),
		ActorID:       actorID,
	})
	if err != nil {
		return domain.Asset{}, err
	}
	return asset, nil
}

// AssignLicense gives a user one seat of a license, optionally tied to an
// asset. Under the strict policy a license with no free seats rejects the
// request; under the permissive policy the seat is granted and the license is
// flagged exceeded.
func (s *LifecycleService) AssignLicense(ctx context.Context, actorID, licenseID, userID, assetID string) (SeatChange, error) {
	if err := errors.Join(required("license_id", licenseID), required("user_id", userID)); err != nil {
		return SeatChange{}, err
	}

	var result SeatChange
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		if _, err := s.activeUser(ctx, tx, userID); err != nil {
			return err
		}
		license, err := s.liveLicense(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if assetID != "" {
			if _, err := s.liveAsset(ctx, tx, assetID); err != nil {
				return err
			}
		}

		used, err := tx.CountActiveLicenseAssignments(ctx, licenseID)
		if err != nil {
			return err
		}
		if s.policy == domain.PolicyStrict && license.TotalQuantity-used <= 0 {
			return domain.Capacity(licenseID, used, license.TotalQuantity)
		}

		id, err := newID()
		if err != nil {
			return err
		}
		assignment := domain.LicenseAssignment{
			ID:           id,
			LicenseID:    licenseID,
			UserID:       userID,
			AssetID:      assetID,
			AssignedDate: s.today(),
			Active:       true,
			AssignedBy:   actorID,
			CreatedAt:    s.now().UTC(),
		}
		if err := tx.InsertLicenseAssignment(ctx, assignment); err != nil {
			return err
		}

		previous := license.QuantitySnapshot()
		updated, err := s.reconciler.Reconcile(ctx, tx, licenseID, 1)
		if err != nil {
			return err
		}

		next := updated.QuantitySnapshot()
		next["assignment_id"] = assignment.ID
		next["user_id"] = userID
		next["asset_id"] = assetID
		if _, err := s.recorder.Record(ctx, tx, Entry{
			ReferenceType: domain.ReferenceLicense,
			ReferenceID:   licenseID,
			ActionType:    domain.ActionLicenseAssigned,
			Detail:        fmt.Sprintf("seat of %s assigned to user %s", license.SoftwareName, userID),
			Previous:      previous,
			New:           next.Compact(),
			ActorID:       actorID,
		}); err != nil {
			return err
		}

		result = SeatChange{Assignment: assignment, License: updated}
		return nil
	})
	if err != nil {
		return SeatChange{}, err
	}

	if result.License.Exceeded() {
		s.logger.Warn("license over capacity",
			zap.String("license_id", licenseID),
			zap.Int("used", result.License.UsedQuantity),
			zap.Int("total", result.License.TotalQuantity))
	}
	s.logger.Info("license seat assigned",
		zap.String("license_id", licenseID), zap.String("user_id", userID), zap.String("actor_id", actorID))
	return result, nil
}

// RevokeLicense ends an active seat and reconciles its license.
func (s *LifecycleService) RevokeLicense(ctx context.Context, actorID, assignmentID string) (SeatChange, error) {
	if err := required("assignment_id", assignmentID); err != nil {
		return SeatChange{}, err
	}

	var result SeatChange
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		assignment, err := tx.LockLicenseAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if assignment == nil || !assignment.Active {
			return domain.NotFound("license assignment", assignmentID)
		}

		result, err = s.revokeSeat(ctx, tx, actorID, *assignment, "seat revoked from user "+assignment.UserID)
		return err
	})
	if err != nil {
		return SeatChange{}, err
	}

	s.logger.Info("license seat revoked",
		zap.String("license_id", result.License.ID), zap.String("assignment_id", assignmentID), zap.String("actor_id", actorID))
	return result, nil
}

// revokeSeat ends one locked seat, reconciles its license and records it.
func (s *LifecycleService) revokeSeat(ctx context.Context, tx port.Tx, actorID string, assignment domain.LicenseAssignment, detail string) (SeatChange, error) {
	license, err := tx.LockLicense(ctx, assignment.LicenseID)
	if err != nil {
		return SeatChange{}, err
	}
	if license == nil {
		return SeatChange{}, domain.Consistency("license assignment", assignment.ID, "license "+assignment.LicenseID+" is missing")
	}

	today := s.today()
	if err := tx.EndLicenseAssignment(ctx, assignment.ID, today); err != nil {
		return SeatChange{}, err
	}
	assignment.Active = false
	assignment.RevokedDate = today

	previous := license.QuantitySnapshot()
	previous["assignment_id"] = assignment.ID
	previous["user_id"] = assignment.UserID
	updated, err := s.reconciler.Reconcile(ctx, tx, license.ID, -1)
	if err != nil {
		return SeatChange{}, err
	}

	_, err = s.recorder.Record(ctx, tx, Entry{
		ReferenceType: domain.ReferenceLicense,
		ReferenceID:   license.ID,
		ActionType:    domain.ActionLicenseRevoked,
		Detail:        detail,
		Previous:      previous,
		New:           updated.QuantitySnapshot(),
		ActorID:       actorID,
	})
	if err != nil {
		return SeatChange{}, err
	}
	return SeatChange{Assignment: assignment, License: updated}, nil
}

// ChangeAssetStatus moves an asset to a non-holding status, or between them,
// and notes the reason on the asset.
func (s *LifecycleService) ChangeAssetStatus(ctx context.Context, actorID, assetID string, status domain.AssetStatus, reason string) (domain.Asset, error) {
	if err := required("asset_id", assetID); err != nil {
		return domain.Asset{}, err
	}
	if !status.Valid() {
		return domain.Asset{}, domain.Validation("status", fmt.Sprintf("unknown status %q", status))
	}

	var result domain.Asset
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		asset, err := s.liveAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if asset.Held() && status != domain.AssetStatusInUse {
			return domain.Conflict("asset", assetID, "held by user "+asset.CurrentHolderID+"; return it first")
		}
		if !asset.Held() && status == domain.AssetStatusInUse {
			return domain.Conflict("asset", assetID, "assign the asset to put it in use")
		}

		previous := asset.Status
		note := fmt.Sprintf("[status] %s -> %s", previous, status)
		if reason = strings.TrimSpace(reason); reason != "" {
			note += ": " + reason
		}
		if asset.Notes != "" {
			asset.Notes += "\n"
		}
		asset.Notes += note
		asset.Status = status
		asset.UpdatedAt = s.now().UTC()
		if err := tx.UpdateAsset(ctx, *asset); err != nil {
			return err
		}

		if _, err := s.recorder.Record(ctx, tx, Entry{
			ReferenceType: domain.ReferenceAsset,
			ReferenceID:   assetID,
			ActionType:    domain.ActionStatusChanged,
			Detail:        reason,
			Previous:      domain.Snapshot{"status": string(previous)},
			New:           domain.Snapshot{"status": string(status)},
			ActorID:       actorID,
		}); err != nil {
			return err
		}

		result = *asset
		return nil
	})
	if err != nil {
		return domain.Asset{}, err
	}

	s.logger.Info("asset status changed",
		zap.String("asset_id", assetID), zap.String("status", string(status)), zap.String("actor_id", actorID))
	return result, nil
}

// History returns the audit ledger of one entity, newest first.
func (s *LifecycleService) History(ctx context.Context, refType domain.ReferenceType, refID string) ([]domain.HistoryRecord, error) {
	return s.recorder.History(ctx, refType, refID)
}

func holderSnapshot(a domain.Asset) domain.Snapshot {
	return domain.Snapshot{
		"status":            string(a.Status),
		"current_holder_id": a.CurrentHolderID,
	}.Compact()
}
