package service

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

// OffboardResult lists everything reclaimed from a departing user.
type OffboardResult struct {
	UserID         string           `json:"user_id"`
	ReturnedAssets []domain.Asset   `json:"returned_assets"`
	RevokedSeats   []SeatChange     `json:"revoked_seats"`
	Licenses       []domain.License `json:"licenses"`
	ResignDate     domain.Date      `json:"resign_date"`
}

// BulkReturn returns every asset and revokes every license seat the user
// holds, reconciles the touched licenses and deactivates the user, all in
// one transaction.
func (s *LifecycleService) BulkReturn(ctx context.Context, actorID, userID string) (OffboardResult, error) {
	if err := required("user_id", userID); err != nil {
		return OffboardResult{}, err
	}

	var result OffboardResult
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		result = OffboardResult{UserID: userID}

		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.NotFound("user", userID)
		}

		assignments, err := tx.ActiveAssetAssignmentsByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, assignment := range assignments {
			asset, err := tx.LockAsset(ctx, assignment.AssetID)
			if err != nil {
				return err
			}
			if asset == nil {
				return domain.Consistency("asset assignment", assignment.ID, "asset "+assignment.AssetID+" is missing")
			}
			returned, err := s.returnAsset(ctx, tx, actorID, *asset, assignment, "returned on offboarding of user "+userID)
			if err != nil {
				return err
			}
			result.ReturnedAssets = append(result.ReturnedAssets, returned)
		}

		seats, err := tx.ActiveLicenseAssignmentsByUser(ctx, userID)
		if err != nil {
			return err
		}
		touched := map[string]int{}
		for _, seat := range seats {
			change, err := s.revokeSeat(ctx, tx, actorID, seat, "revoked on offboarding of user "+userID)
			if err != nil {
				return err
			}
			result.RevokedSeats = append(result.RevokedSeats, change)
			if i, ok := touched[change.License.ID]; ok {
				result.Licenses[i] = change.License
				continue
			}
			touched[change.License.ID] = len(result.Licenses)
			result.Licenses = append(result.Licenses, change.License)
		}

		previous := userSnapshot(*user)
		user.Active = false
		user.ResignDate = s.today()
		if err := tx.UpdateUser(ctx, *user); err != nil {
			return err
		}
		result.ResignDate = user.ResignDate

		next := userSnapshot(*user)
		next["returned_assets"] = strconv.Itoa(len(result.ReturnedAssets))
		next["revoked_seats"] = strconv.Itoa(len(result.RevokedSeats))
		_, err = s.recorder.Record(ctx, tx, Entry{
			ReferenceType: domain.ReferenceUser,
			ReferenceID:   userID,
			ActionType:    domain.ActionUserOffboarded,
			Detail:        "user offboarded",
			Previous:      previous,
			New:           next,
			ActorID:       actorID,
		})
		return err
	})
	if err != nil {
		return OffboardResult{}, err
	}

	s.logger.Info("user offboarded",
		zap.String("user_id", userID),
		zap.Int("returned_assets", len(result.ReturnedAssets)),
		zap.Int("revoked_seats", len(result.RevokedSeats)),
		zap.String("actor_id", actorID))
	return result, nil
}

func userSnapshot(u domain.User) domain.Snapshot {
	return domain.Snapshot{
		"active":      strconv.FormatBool(u.Active),
		"resign_date": u.ResignDate.String(),
	}.Compact()
}
