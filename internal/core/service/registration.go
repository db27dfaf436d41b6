package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

type NewAsset struct {
	Identifier       string          `json:"identifier"`
	Name             string          `json:"name"`
	CategoryID       string          `json:"category_id"`
	LocationID       string          `json:"location_id"`
	ManagerID        string          `json:"manager_id"`
	PurchaseDate     domain.Date     `json:"purchase_date"`
	PurchaseCost     decimal.Decimal `json:"purchase_cost"`
	WarrantyEnd      domain.Date     `json:"warranty_end"`
	UsefulLifeMonths int             `json:"useful_life_months"`
	EOSID            string          `json:"eos_id"`
	Notes            string          `json:"notes"`
}

type NewLicense struct {
	Identifier        string          `json:"identifier"`
	SoftwareName      string          `json:"software_name"`
	TotalQuantity     int             `json:"total_quantity"`
	SubscriptionStart domain.Date     `json:"subscription_start"`
	SubscriptionEnd   domain.Date     `json:"subscription_end"`
	PurchaseCost      decimal.Decimal `json:"purchase_cost"`
	RenewalCost       decimal.Decimal `json:"renewal_cost"`
	ManagerID         string          `json:"manager_id"`
}

// CreateAsset registers an asset in status new. Without an explicit
// identifier one is generated from the location, category and the year of
// registration.
func (s *LifecycleService) CreateAsset(ctx context.Context, actorID string, in NewAsset) (domain.Asset, error) {
	err := errors.Join(
		required("name", in.Name),
		required("location_id", in.LocationID),
		required("category_id", in.CategoryID),
		required("manager_id", in.ManagerID),
	)
	if err != nil {
		return domain.Asset{}, err
	}
	if in.PurchaseCost.IsNegative() {
		return domain.Asset{}, domain.Validation("purchase_cost", "must not be negative")
	}
	if in.UsefulLifeMonths < 0 {
		return domain.Asset{}, domain.Validation("useful_life_months", "must not be negative")
	}

	var result domain.Asset
	err = s.store.WithinTx(ctx, func(tx port.Tx) error {
		location, err := tx.GetLocation(ctx, in.LocationID)
		if err != nil {
			return err
		}
		if location == nil {
			return domain.NotFound("location", in.LocationID)
		}
		category, err := tx.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return err
		}
		if category == nil {
			return domain.NotFound("category", in.CategoryID)
		}

		identifier := strings.TrimSpace(in.Identifier)
		if identifier == "" {
			identifier, err = NextIdentifier(ctx, tx, port.IdentifierAsset, AssetPrefix(location.Code, category.Code, s.today().Year))
			if err != nil {
				return err
			}
		}

		id, err := newID()
		if err != nil {
			return err
		}
		now := s.now().UTC()
		asset := domain.Asset{
			ID:               id,
			Identifier:       identifier,
			Name:             strings.TrimSpace(in.Name),
			CategoryID:       in.CategoryID,
			LocationID:       in.LocationID,
			Status:           domain.AssetStatusNew,
			ManagerID:        in.ManagerID,
			PurchaseDate:     in.PurchaseDate,
			PurchaseCost:     in.PurchaseCost,
			WarrantyEnd:      in.WarrantyEnd,
			UsefulLifeMonths: in.UsefulLifeMonths,
			EOSID:            in.EOSID,
			Notes:            in.Notes,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if asset.UsefulLifeMonths == 0 {
			asset.UsefulLifeMonths = category.UsefulLifeMonths
		}
		if !asset.PurchaseDate.IsZero() && asset.UsefulLifeMonths > 0 {
			asset.UsefulLifeExpireDate = asset.PurchaseDate.AddMonths(asset.UsefulLifeMonths)
		}

		if err := tx.InsertAsset(ctx, asset); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				return domain.Conflict("asset", identifier, "identifier already exists")
			}
			return err
		}

		if _, err := s.recorder.Record(ctx, tx, Entry{
			ReferenceType: domain.ReferenceAsset,
			ReferenceID:   asset.ID,
			ActionType:    domain.ActionCreated,
			Detail:        "registered " + asset.Identifier,
			New:           asset.Snapshot(),
			ActorID:       actorID,
		}); err != nil {
			return err
		}

		result = asset
		return nil
	})
	if err != nil {
		return domain.Asset{}, err
	}

	s.logger.Info("asset created", zap.String("asset_id", result.ID), zap.String("identifier", result.Identifier))
	return result, nil
}

// CreateLicense registers a license with all seats free.
func (s *LifecycleService) CreateLicense(ctx context.Context, actorID string, in NewLicense) (domain.License, error) {
	if err := required("software_name", in.SoftwareName); err != nil {
		return domain.License{}, err
	}
	if in.TotalQuantity < 0 {
		return domain.License{}, domain.Validation("total_quantity", "must not be negative")
	}
	if in.PurchaseCost.IsNegative() || in.RenewalCost.IsNegative() {
		return domain.License{}, domain.Validation("cost", "must not be negative")
	}
	if !in.SubscriptionStart.IsZero() && !in.SubscriptionEnd.IsZero() && in.SubscriptionEnd.Before(in.SubscriptionStart) {
		return domain.License{}, domain.Validation("subscription_end", "is before subscription_start")
	}

	var result domain.License
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		identifier := strings.TrimSpace(in.Identifier)
		if identifier == "" {
			var err error
			identifier, err = NextIdentifier(ctx, tx, port.IdentifierLicense, LicensePrefix(s.today().Year))
			if err != nil {
				return err
			}
		}

		id, err := newID()
		if err != nil {
			return err
		}
		now := s.now().UTC()
		license := domain.License{
			ID:                id,
			Identifier:        identifier,
			SoftwareName:      strings.TrimSpace(in.SoftwareName),
			TotalQuantity:     in.TotalQuantity,
			IsSubscription:    !in.SubscriptionEnd.IsZero(),
			SubscriptionStart: in.SubscriptionStart,
			SubscriptionEnd:   in.SubscriptionEnd,
			PurchaseCost:      in.PurchaseCost,
			RenewalCost:       in.RenewalCost,
			ManagerID:         in.ManagerID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		license.ApplyUsage(0)

		if err := tx.InsertLicense(ctx, license); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				return domain.Conflict("license", identifier, "identifier already exists")
			}
			return err
		}

		if _, err := s.recorder.Record(ctx, tx, Entry{
			ReferenceType: domain.ReferenceLicense,
			ReferenceID:   license.ID,
			ActionType:    domain.ActionCreated,
			Detail:        "registered " + license.Identifier,
			New:           license.Snapshot(),
			ActorID:       actorID,
		}); err != nil {
			return err
		}

		result = license
		return nil
	})
	if err != nil {
		return domain.License{}, err
	}

	s.logger.Info("license created", zap.String("license_id", result.ID), zap.String("identifier", result.Identifier))
	return result, nil
}

// DeleteAsset soft-deletes an asset that nobody holds.
func (s *LifecycleService) DeleteAsset(ctx context.Context, actorID, assetID string) error {
	if err := required("asset_id", assetID); err != nil {
		return err
	}

	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		asset, err := s.liveAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if asset.Held() {
			return domain.Conflict("asset", assetID, "held by user "+asset.CurrentHolderID)
		}

		previous := asset.Snapshot()
		asset.Deleted = true
		asset.UpdatedAt = s.now().UTC()
		if err := tx.UpdateAsset(ctx, *asset); err != nil {
			return err
		}

		_, err = s.recorder.Record(ctx, tx, Entry{
			ReferenceType: domain.ReferenceAsset,
			ReferenceID:   assetID,
			ActionType:    domain.ActionDeleted,
			Detail:        "deleted " + asset.Identifier,
			Previous:      previous,
			New:           domain.Snapshot{"deleted": "true"},
			ActorID:       actorID,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("asset deleted", zap.String("asset_id", assetID), zap.String("actor_id", actorID))
	return nil
}

// DeleteLicense soft-deletes a license with no seats in use.
func (s *LifecycleService) DeleteLicense(ctx context.Context, actorID, licenseID string) error {
	if err := required("license_id", licenseID); err != nil {
		return err
	}

	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		license, err := s.liveLicense(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		used, err := tx.CountActiveLicenseAssignments(ctx, licenseID)
		if err != nil {
			return err
		}
		if used > 0 {
			return domain.Conflict("license", licenseID, strconv.Itoa(used)+" seats in use")
		}

		previous := license.Snapshot()
		license.Deleted = true
		license.UpdatedAt = s.now().UTC()
		if err := tx.UpdateLicense(ctx, *license); err != nil {
			return err
		}

		_, err = s.recorder.Record(ctx, tx, Entry{
			ReferenceType: domain.ReferenceLicense,
			ReferenceID:   licenseID,
			ActionType:    domain.ActionDeleted,
			Detail:        "deleted " + license.Identifier,
			Previous:      previous,
			New:           domain.Snapshot{"deleted": "true"},
			ActorID:       actorID,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("license deleted", zap.String("license_id", licenseID), zap.String("actor_id", actorID))
	return nil
}
