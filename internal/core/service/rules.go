package service

import (
	"fmt"

	"github.com/rl1809/itam/internal/core/domain"
)

const (
	RuleLicenseExpiring  = "license_expiring"
	RuleWarrantyExpiring = "warranty_expiring"
	RuleUsefulLife       = "useful_life_expired"
	RuleEOS              = "eos_expired"
	RuleLicenseExceeded  = "license_exceeded"
)

// Rule is one notification check. Evaluate is a pure function of the
// snapshot and the day; the caller stores the results.
type Rule interface {
	Name() string
	Evaluate(snap domain.RuleSnapshot, today domain.Date) []domain.Notification
}

// RuleConfig carries the thresholds shared by the default rules.
type RuleConfig struct {
	LicenseExpiryDays  []int
	WarrantyExpiryDays []int
	TrailingWindowDays int
	DefaultRecipient   string
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		LicenseExpiryDays:  []int{60, 30, 14, 7, 1},
		WarrantyExpiryDays: []int{90, 30, 7},
		TrailingWindowDays: 30,
		DefaultRecipient:   "1",
	}
}

// DefaultRules returns the five standard checks.
func DefaultRules(cfg RuleConfig) []Rule {
	return []Rule{
		LicenseExpiringRule{Offsets: cfg.LicenseExpiryDays, Fallback: cfg.DefaultRecipient},
		WarrantyExpiringRule{Offsets: cfg.WarrantyExpiryDays, Fallback: cfg.DefaultRecipient},
		UsefulLifeRule{WindowDays: cfg.TrailingWindowDays, Fallback: cfg.DefaultRecipient},
		EOSRule{WindowDays: cfg.TrailingWindowDays, Fallback: cfg.DefaultRecipient},
		LicenseExceededRule{Fallback: cfg.DefaultRecipient},
	}
}

func recipient(managerID, fallback string) string {
	if managerID != "" {
		return managerID
	}
	return fallback
}

// withinTrailing reports whether d falls in [today-days, today).
func withinTrailing(d, today domain.Date, days int) bool {
	if d.IsZero() {
		return false
	}
	return !d.Before(today.AddDays(-days)) && d.Before(today)
}

// offsetsAhead maps each day that is exactly one offset ahead to that offset.
func offsetsAhead(today domain.Date, offsets []int) map[domain.Date]int {
	targets := make(map[domain.Date]int, len(offsets))
	for _, days := range offsets {
		targets[today.AddDays(days)] = days
	}
	return targets
}

type LicenseExpiringRule struct {
	Offsets  []int
	Fallback string
}

func (r LicenseExpiringRule) Name() string { return RuleLicenseExpiring }

func (r LicenseExpiringRule) Evaluate(snap domain.RuleSnapshot, today domain.Date) []domain.Notification {
	targets := offsetsAhead(today, r.Offsets)
	var out []domain.Notification
	for _, l := range snap.Licenses {
		if l.Deleted || !l.IsSubscription || l.SubscriptionEnd.IsZero() {
			continue
		}
		days, ok := targets[l.SubscriptionEnd]
		if !ok {
			continue
		}
		severity := domain.SeverityWarning
		if days <= 7 {
			severity = domain.SeverityCritical
		}
		out = append(out, domain.Notification{
			Type:          domain.NotifyLicenseExpiring,
			Severity:      severity,
			TargetUserID:  recipient(l.ManagerID, r.Fallback),
			Title:         fmt.Sprintf("License expires in %d days: %s", days, l.SoftwareName),
			Message:       fmt.Sprintf("The %s license expires in %d days (%s). Review the renewal.", l.SoftwareName, days, l.SubscriptionEnd),
			ReferenceType: domain.ReferenceLicense,
			ReferenceID:   l.ID,
			CreatedDay:    today,
		})
	}
	return out
}

type WarrantyExpiringRule struct {
	Offsets  []int
	Fallback string
}

func (r WarrantyExpiringRule) Name() string { return RuleWarrantyExpiring }

func (r WarrantyExpiringRule) Evaluate(snap domain.RuleSnapshot, today domain.Date) []domain.Notification {
	targets := offsetsAhead(today, r.Offsets)
	var out []domain.Notification
	for _, a := range snap.Assets {
		if a.WarrantyEnd.IsZero() {
			continue
		}
		days, ok := targets[a.WarrantyEnd]
		if !ok {
			continue
		}
		out = append(out, domain.Notification{
			Type:          domain.NotifyWarrantyExpiring,
			Severity:      warrantySeverity(days),
			TargetUserID:  recipient(a.ManagerID, r.Fallback),
			Title:         fmt.Sprintf("Warranty expires in %d days: %s", days, a.Identifier),
			Message:       fmt.Sprintf("The warranty of %s (%s) expires in %d days.", a.Name, a.Identifier, days),
			ReferenceType: domain.ReferenceAsset,
			ReferenceID:   a.ID,
			CreatedDay:    today,
		})
	}
	return out
}

func warrantySeverity(days int) domain.Severity {
	switch {
	case days <= 7:
		return domain.SeverityCritical
	case days <= 30:
		return domain.SeverityWarning
	}
	return domain.SeverityInfo
}

type UsefulLifeRule struct {
	WindowDays int
	Fallback   string
}

func (r UsefulLifeRule) Name() string { return RuleUsefulLife }

func (r UsefulLifeRule) Evaluate(snap domain.RuleSnapshot, today domain.Date) []domain.Notification {
	var out []domain.Notification
	for _, a := range snap.Assets {
		if !withinTrailing(a.UsefulLifeExpireDate, today, r.WindowDays) {
			continue
		}
		out = append(out, domain.Notification{
			Type:          domain.NotifyUsefulLifeExpired,
			Severity:      domain.SeverityWarning,
			TargetUserID:  recipient(a.ManagerID, r.Fallback),
			Title:         "Useful life exceeded: " + a.Identifier,
			Message:       fmt.Sprintf("%s (%s) passed its useful life on %s. Review replacement or disposal.", a.Name, a.Identifier, a.UsefulLifeExpireDate),
			ReferenceType: domain.ReferenceAsset,
			ReferenceID:   a.ID,
			CreatedDay:    today,
		})
	}
	return out
}

type EOSRule struct {
	WindowDays int
	Fallback   string
}

func (r EOSRule) Name() string { return RuleEOS }

func (r EOSRule) Evaluate(snap domain.RuleSnapshot, today domain.Date) []domain.Notification {
	var out []domain.Notification
	for _, a := range snap.Assets {
		if !withinTrailing(a.EOSDate, today, r.WindowDays) {
			continue
		}
		out = append(out, domain.Notification{
			Type:          domain.NotifyEOSExpired,
			Severity:      domain.SeverityCritical,
			TargetUserID:  recipient(a.ManagerID, r.Fallback),
			Title:         "End of support passed: " + a.Identifier,
			Message:       fmt.Sprintf("%s on %s reached end of support on %s. Review an upgrade or replacement.", a.EOSProduct, a.Name, a.EOSDate),
			ReferenceType: domain.ReferenceAsset,
			ReferenceID:   a.ID,
			CreatedDay:    today,
		})
	}
	return out
}

type LicenseExceededRule struct {
	Fallback string
}

func (r LicenseExceededRule) Name() string { return RuleLicenseExceeded }

func (r LicenseExceededRule) Evaluate(snap domain.RuleSnapshot, today domain.Date) []domain.Notification {
	var out []domain.Notification
	for _, l := range snap.Licenses {
		if l.Deleted || !l.Exceeded() {
			continue
		}
		out = append(out, domain.Notification{
			Type:          domain.NotifyLicenseExceeded,
			Severity:      domain.SeverityCritical,
			TargetUserID:  recipient(l.ManagerID, r.Fallback),
			Title:         "License exceeded: " + l.SoftwareName,
			Message:       fmt.Sprintf("%s is over its purchased seats (used %d, owned %d).", l.SoftwareName, l.UsedQuantity, l.TotalQuantity),
			ReferenceType: domain.ReferenceLicense,
			ReferenceID:   l.ID,
			CreatedDay:    today,
		})
	}
	return out
}
