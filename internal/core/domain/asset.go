package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AssetStatus string

const (
	AssetStatusNew             AssetStatus = "new"
	AssetStatusInUse           AssetStatus = "in_use"
	AssetStatusAvailable       AssetStatus = "available"
	AssetStatusInRepair        AssetStatus = "in_repair"
	AssetStatusPendingDisposal AssetStatus = "pending_disposal"
	AssetStatusDisposed        AssetStatus = "disposed"
	AssetStatusLost            AssetStatus = "lost"
)

var assetStatuses = map[AssetStatus]bool{
	AssetStatusNew:             true,
	AssetStatusInUse:           true,
	AssetStatusAvailable:       true,
	AssetStatusInRepair:        true,
	AssetStatusPendingDisposal: true,
	AssetStatusDisposed:        true,
	AssetStatusLost:            true,
}

func (s AssetStatus) Valid() bool {
	return assetStatuses[s]
}

// Assignable reports whether an asset in this status may be handed to a user.
func (s AssetStatus) Assignable() bool {
	return s == AssetStatusNew || s == AssetStatusAvailable
}

type AssignmentType string

const (
	AssignmentDedicated AssignmentType = "dedicated"
	AssignmentShared    AssignmentType = "shared"
	AssignmentTemporary AssignmentType = "temporary"
)

func (t AssignmentType) Valid() bool {
	switch t {
	case AssignmentDedicated, AssignmentShared, AssignmentTemporary:
		return true
	}
	return false
}

type Asset struct {
	ID                   string          `json:"id"`
	Identifier           string          `json:"identifier"`
	Name                 string          `json:"name"`
	CategoryID           string          `json:"category_id"`
	LocationID           string          `json:"location_id"`
	Status               AssetStatus     `json:"status"`
	CurrentHolderID      string          `json:"current_holder_id"`
	AssignedDate         Date            `json:"assigned_date"`
	ManagerID            string          `json:"manager_id"`
	PurchaseDate         Date            `json:"purchase_date"`
	PurchaseCost         decimal.Decimal `json:"purchase_cost"`
	WarrantyEnd          Date            `json:"warranty_end"`
	UsefulLifeMonths     int             `json:"useful_life_months"`
	UsefulLifeExpireDate Date            `json:"useful_life_expire_date"`
	EOSID                string          `json:"eos_id"`
	Notes                string          `json:"notes"`
	Deleted              bool            `json:"deleted"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (a Asset) Held() bool {
	return a.CurrentHolderID != ""
}

func (a Asset) Snapshot() Snapshot {
	return Snapshot{
		"identifier":        a.Identifier,
		"name":              a.Name,
		"status":            string(a.Status),
		"current_holder_id": a.CurrentHolderID,
		"location_id":       a.LocationID,
		"category_id":       a.CategoryID,
		"manager_id":        a.ManagerID,
		"purchase_cost":     a.PurchaseCost.String(),
		"warranty_end":      a.WarrantyEnd.String(),
		"useful_life_until": a.UsefulLifeExpireDate.String(),
	}.Compact()
}

type AssetAssignment struct {
	ID             string         `json:"id"`
	AssetID        string         `json:"asset_id"`
	UserID         string         `json:"user_id"`
	AssignmentType AssignmentType `json:"assignment_type"`
	IsPrimary      bool           `json:"is_primary"`
	StartDate      Date           `json:"start_date"`
	EndDate        Date           `json:"end_date"`
	Active         bool           `json:"active"`
	AssignedBy     string         `json:"assigned_by"`
	CreatedAt      time.Time      `json:"created_at"`
}
