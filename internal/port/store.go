package port

import (
	"context"
	"errors"

	"github.com/rl1809/itam/internal/core/domain"
)

// ErrDuplicate is returned by inserts that violate a unique key.
var ErrDuplicate = errors.New("duplicate key")

type IdentifierKind string

const (
	IdentifierAsset   IdentifierKind = "asset"
	IdentifierLicense IdentifierKind = "license"
)

// Store is the entity store. Every mutation goes through WithinTx; the
// remaining methods are plain reads and notification bookkeeping that need no
// transaction.
type Store interface {
	// WithinTx runs fn in a single transaction. A non-nil error from fn rolls
	// the transaction back; lock conflicts are retried.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetAsset(ctx context.Context, id string) (*domain.Asset, error)
	GetLicense(ctx context.Context, id string) (*domain.License, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListActiveAssetAssignments(ctx context.Context, assetID string) ([]domain.AssetAssignment, error)
	ListActiveLicenseAssignments(ctx context.Context, licenseID string) ([]domain.LicenseAssignment, error)
	ListHistory(ctx context.Context, refType domain.ReferenceType, refID string) ([]domain.HistoryRecord, error)

	// RuleSnapshot reads the non-deleted assets and licenses the notification
	// rules evaluate.
	RuleSnapshot(ctx context.Context) (domain.RuleSnapshot, error)

	// InsertNotification stores n unless a notification with the same type,
	// reference and day exists. It reports whether a row was written.
	InsertNotification(ctx context.Context, n domain.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	CountNotifications(ctx context.Context, notificationType domain.NotificationType) (int, error)
	MarkNotificationRead(ctx context.Context, id string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
}

// Tx is the unit of work handed to WithinTx callbacks. Lock* methods read a
// row and hold it until the transaction ends. Single-row reads return nil
// when the row does not exist.
type Tx interface {
	LockAsset(ctx context.Context, id string) (*domain.Asset, error)
	InsertAsset(ctx context.Context, asset domain.Asset) error
	UpdateAsset(ctx context.Context, asset domain.Asset) error

	LockUser(ctx context.Context, id string) (*domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) error
	GetLocation(ctx context.Context, id string) (*domain.Location, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)

	ActiveAssetAssignment(ctx context.Context, assetID string) (*domain.AssetAssignment, error)
	ActiveAssetAssignmentsByUser(ctx context.Context, userID string) ([]domain.AssetAssignment, error)
	InsertAssetAssignment(ctx context.Context, assignment domain.AssetAssignment) error
	EndAssetAssignment(ctx context.Context, id string, end domain.Date) error

	LockLicense(ctx context.Context, id string) (*domain.License, error)
	InsertLicense(ctx context.Context, license domain.License) error
	UpdateLicense(ctx context.Context, license domain.License) error
	CountActiveLicenseAssignments(ctx context.Context, licenseID string) (int, error)
	LockLicenseAssignment(ctx context.Context, id string) (*domain.LicenseAssignment, error)
	ActiveLicenseAssignmentsByUser(ctx context.Context, userID string) ([]domain.LicenseAssignment, error)
	InsertLicenseAssignment(ctx context.Context, assignment domain.LicenseAssignment) error
	EndLicenseAssignment(ctx context.Context, id string, end domain.Date) error

	InsertHistory(ctx context.Context, record domain.HistoryRecord) error

	// LockSequence returns the counter for prefix and whether it exists.
	LockSequence(ctx context.Context, prefix string) (int, bool, error)
	// InsertSequence creates the counter unless another transaction did first.
	InsertSequence(ctx context.Context, prefix string, value int) error
	UpdateSequence(ctx context.Context, prefix string, value int) error
	// ListIdentifiers returns every identifier starting with prefix+"-".
	ListIdentifiers(ctx context.Context, kind IdentifierKind, prefix string) ([]string, error)
}
