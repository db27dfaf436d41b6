package domain

import (
	"strings"
	"time"
)

type NotificationType string

const (
	NotifyLicenseExpiring   NotificationType = "LICENSE_EXPIRING"
	NotifyWarrantyExpiring  NotificationType = "WARRANTY_EXPIRING"
	NotifyUsefulLifeExpired NotificationType = "USEFUL_LIFE_EXPIRED"
	NotifyEOSExpired        NotificationType = "OS_EOS_EXPIRED"
	NotifyLicenseExceeded   NotificationType = "LICENSE_EXCEEDED"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Notification struct {
	ID            string           `json:"id"`
	Type          NotificationType `json:"type"`
	Severity      Severity         `json:"severity"`
	TargetUserID  string           `json:"target_user_id"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	ReferenceType ReferenceType    `json:"reference_type"`
	ReferenceID   string           `json:"reference_id"`
	Read          bool             `json:"read"`
	CreatedAt     time.Time        `json:"created_at"`
	CreatedDay    Date             `json:"created_day"`
}

// DedupKey identifies a notification for same-day deduplication.
func (n Notification) DedupKey() string {
	return strings.Join([]string{
		string(n.Type), string(n.ReferenceType), n.ReferenceID, n.CreatedDay.String(),
	}, ":")
}

// AssetView is the read model the rule engine evaluates for assets.
type AssetView struct {
	ID                   string `json:"id"`
	Identifier           string `json:"identifier"`
	Name                 string `json:"name"`
	ManagerID            string `json:"manager_id"`
	WarrantyEnd          Date   `json:"warranty_end"`
	UsefulLifeExpireDate Date   `json:"useful_life_expire_date"`
	EOSProduct           string `json:"eos_product"`
	EOSDate              Date   `json:"eos_date"`
}

// RuleSnapshot is one consistent-enough read of everything the rules need.
type RuleSnapshot struct {
	Assets   []AssetView `json:"assets"`
	Licenses []License   `json:"licenses"`
}
