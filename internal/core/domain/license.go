package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type ComplianceStatus string

const (
	ComplianceCompliant ComplianceStatus = "compliant"
	ComplianceExceeded  ComplianceStatus = "exceeded"
)

// CapacityPolicy decides what happens when a seat is requested from a license
// with no seats left.
type CapacityPolicy string

const (
	// PolicyStrict rejects the assignment.
	PolicyStrict CapacityPolicy = "block"
	// PolicyPermissive lets the seat count go negative and flags the license.
	PolicyPermissive CapacityPolicy = "warn"
)

func (p CapacityPolicy) Valid() bool {
	return p == PolicyStrict || p == PolicyPermissive
}

type License struct {
	ID                string           `json:"id"`
	Identifier        string           `json:"identifier"`
	SoftwareName      string           `json:"software_name"`
	TotalQuantity     int              `json:"total_quantity"`
	UsedQuantity      int              `json:"used_quantity"`
	AvailableQuantity int              `json:"available_quantity"`
	ComplianceStatus  ComplianceStatus `json:"compliance_status"`
	IsSubscription    bool             `json:"is_subscription"`
	SubscriptionStart Date             `json:"subscription_start"`
	SubscriptionEnd   Date             `json:"subscription_end"`
	PurchaseCost      decimal.Decimal  `json:"purchase_cost"`
	RenewalCost       decimal.Decimal  `json:"renewal_cost"`
	ManagerID         string           `json:"manager_id"`
	Deleted           bool             `json:"deleted"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// ApplyUsage sets the derived counters from the number of active seats.
func (l *License) ApplyUsage(used int) {
	l.UsedQuantity = used
	l.AvailableQuantity = l.TotalQuantity - used
	if used > l.TotalQuantity {
		l.ComplianceStatus = ComplianceExceeded
	} else {
		l.ComplianceStatus = ComplianceCompliant
	}
}

func (l License) Exceeded() bool {
	return l.UsedQuantity > l.TotalQuantity
}

func (l License) QuantitySnapshot() Snapshot {
	return Snapshot{
		"total_quantity":     strconv.Itoa(l.TotalQuantity),
		"used_quantity":      strconv.Itoa(l.UsedQuantity),
		"available_quantity": strconv.Itoa(l.AvailableQuantity),
		"compliance_status":  string(l.ComplianceStatus),
	}
}

func (l License) Snapshot() Snapshot {
	s := l.QuantitySnapshot()
	s["identifier"] = l.Identifier
	s["software_name"] = l.SoftwareName
	s["manager_id"] = l.ManagerID
	s["subscription_end"] = l.SubscriptionEnd.String()
	s["purchase_cost"] = l.PurchaseCost.String()
	s["renewal_cost"] = l.RenewalCost.String()
	return s.Compact()
}

type LicenseAssignment struct {
	ID           string    `json:"id"`
	LicenseID    string    `json:"license_id"`
	UserID       string    `json:"user_id"`
	AssetID      string    `json:"asset_id"`
	AssignedDate Date      `json:"assigned_date"`
	RevokedDate  Date      `json:"revoked_date"`
	Active       bool      `json:"active"`
	AssignedBy   string    `json:"assigned_by"`
	CreatedAt    time.Time `json:"created_at"`
}
