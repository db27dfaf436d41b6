package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

const (
	sidePrevious = "previous"
	sideNew      = "new"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// sqlTx implements port.Tx over a *sql.Tx. With a *sql.DB it serves the
// store's plain reads.
type sqlTx struct {
	q querier
	d *dialect
}

var _ port.Tx = (*sqlTx)(nil)

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.q.ExecContext(ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.q.QueryContext(ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.q.QueryRowContext(ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) lock(lock bool) string {
	if lock {
		return t.d.lockClause
	}
	return ""
}

// nullable maps "" to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeScanner accepts both native time values and the text forms some
// drivers return for timestamp columns.
type timeScanner struct {
	t *time.Time
}

func timeDest(t *time.Time) *timeScanner {
	return &timeScanner{t: t}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (s *timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.t = time.Time{}
		return nil
	case time.Time:
		*s.t = v
		return nil
	case []byte:
		return s.parse(string(v))
	case string:
		return s.parse(v)
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (s *timeScanner) parse(v string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			*s.t = t
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", v)
}

func (t *sqlTx) duplicate(err error, what string) error {
	if t.d.isUnique(err) {
		return fmt.Errorf("%s: %w", what, port.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// ---------------------------------------------------------------------------
// assets

const assetColumns = `id, identifier, name, category_id, location_id, status, current_holder_id,
	assigned_date, manager_id, purchase_date, purchase_cost, warranty_end, useful_life_months,
	useful_life_expire_date, eos_id, notes, deleted, created_at, updated_at`

func scanAsset(row rowScanner) (*domain.Asset, error) {
	var a domain.Asset
	var holder, manager, eos, notes sql.NullString
	err := row.Scan(&a.ID, &a.Identifier, &a.Name, &a.CategoryID, &a.LocationID, &a.Status, &holder,
		&a.AssignedDate, &manager, &a.PurchaseDate, &a.PurchaseCost, &a.WarrantyEnd, &a.UsefulLifeMonths,
		&a.UsefulLifeExpireDate, &eos, &notes, &a.Deleted, timeDest(&a.CreatedAt), timeDest(&a.UpdatedAt))
	if err != nil {
		return nil, err
	}
	a.CurrentHolderID = holder.String
	a.ManagerID = manager.String
	a.EOSID = eos.String
	a.Notes = notes.String
	return &a, nil
}

func (t *sqlTx) getAsset(ctx context.Context, id string, lock bool) (*domain.Asset, error) {
	a, err := scanAsset(t.queryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`+t.lock(lock), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query asset: %w", err)
	}
	return a, nil
}

func (t *sqlTx) LockAsset(ctx context.Context, id string) (*domain.Asset, error) {
	return t.getAsset(ctx, id, true)
}

func (t *sqlTx) InsertAsset(ctx context.Context, a domain.Asset) error {
	_, err := t.exec(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Identifier, a.Name, a.CategoryID, a.LocationID, a.Status, nullable(a.CurrentHolderID),
		a.AssignedDate, nullable(a.ManagerID), a.PurchaseDate, a.PurchaseCost, a.WarrantyEnd, a.UsefulLifeMonths,
		a.UsefulLifeExpireDate, nullable(a.EOSID), nullable(a.Notes), a.Deleted, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return t.duplicate(err, "insert asset")
	}
	return nil
}

func (t *sqlTx) UpdateAsset(ctx context.Context, a domain.Asset) error {
	_, err := t.exec(ctx, `
		UPDATE assets
		SET status = ?, current_holder_id = ?, assigned_date = ?, notes = ?, deleted = ?, updated_at = ?
		WHERE id = ?`,
		a.Status, nullable(a.CurrentHolderID), a.AssignedDate, nullable(a.Notes), a.Deleted, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// users and lookups

func (t *sqlTx) getUser(ctx context.Context, id string, lock bool) (*domain.User, error) {
	var u domain.User
	var email sql.NullString
	err := t.queryRow(ctx, `
		SELECT id, employee_no, name, email, active, resign_date
		FROM users WHERE id = ?`+t.lock(lock), id,
	).Scan(&u.ID, &u.EmployeeNo, &u.Name, &email, &u.Active, &u.ResignDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Email = email.String
	return &u, nil
}

func (t *sqlTx) LockUser(ctx context.Context, id string) (*domain.User, error) {
	return t.getUser(ctx, id, true)
}

func (t *sqlTx) UpdateUser(ctx context.Context, u domain.User) error {
	_, err := t.exec(ctx, `UPDATE users SET active = ?, resign_date = ? WHERE id = ?`, u.Active, u.ResignDate, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (t *sqlTx) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var l domain.Location
	err := t.queryRow(ctx, `SELECT id, code, name FROM locations WHERE id = ?`, id).Scan(&l.ID, &l.Code, &l.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query location: %w", err)
	}
	return &l, nil
}

func (t *sqlTx) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := t.queryRow(ctx, `SELECT id, code, name, useful_life_months FROM asset_categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.UsefulLifeMonths)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query category: %w", err)
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// asset assignments

const assetAssignmentColumns = `id, asset_id, user_id, assignment_type, is_primary, start_date, end_date, active, assigned_by, created_at`

func scanAssetAssignment(row rowScanner) (*domain.AssetAssignment, error) {
	var a domain.AssetAssignment
	var by sql.NullString
	err := row.Scan(&a.ID, &a.AssetID, &a.UserID, &a.AssignmentType, &a.IsPrimary, &a.StartDate, &a.EndDate,
		&a.Active, &by, timeDest(&a.CreatedAt))
	if err != nil {
		return nil, err
	}
	a.AssignedBy = by.String
	return &a, nil
}

func (t *sqlTx) listAssetAssignments(ctx context.Context, column, value string, lock bool) ([]domain.AssetAssignment, error) {
	rows, err := t.query(ctx, `
		SELECT `+assetAssignmentColumns+`
		FROM asset_assignments
		WHERE `+column+` = ? AND active = ?
		ORDER BY asset_id`+t.lock(lock), value, true)
	if err != nil {
		return nil, fmt.Errorf("query asset assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.AssetAssignment
	for rows.Next() {
		a, err := scanAssetAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (t *sqlTx) ActiveAssetAssignment(ctx context.Context, assetID string) (*domain.AssetAssignment, error) {
	list, err := t.listAssetAssignments(ctx, "asset_id", assetID, true)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return &list[0], nil
	}
	return nil, domain.Consistency("asset", assetID, fmt.Sprintf("%d active assignments", len(list)))
}

func (t *sqlTx) ActiveAssetAssignmentsByUser(ctx context.Context, userID string) ([]domain.AssetAssignment, error) {
	return t.listAssetAssignments(ctx, "user_id", userID, true)
}

func (t *sqlTx) InsertAssetAssignment(ctx context.Context, a domain.AssetAssignment) error {
	_, err := t.exec(ctx, `
		INSERT INTO asset_assignments (`+assetAssignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AssetID, a.UserID, a.AssignmentType, a.IsPrimary, a.StartDate, a.EndDate, a.Active,
		nullable(a.AssignedBy), a.CreatedAt,
	)
	if err != nil {
		return t.duplicate(err, "insert asset assignment")
	}
	return nil
}

func (t *sqlTx) EndAssetAssignment(ctx context.Context, id string, end domain.Date) error {
	result, err := t.exec(ctx, `
		UPDATE asset_assignments SET active = ?, end_date = ?
		WHERE id = ? AND active = ?`, false, end, id, true)
	if err != nil {
		return fmt.Errorf("end asset assignment: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFound("asset assignment", id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// licenses

const licenseColumns = `id, identifier, software_name, total_quantity, used_quantity, available_quantity,
	compliance_status, is_subscription, subscription_start, subscription_end, purchase_cost, renewal_cost,
	manager_id, deleted, created_at, updated_at`

func scanLicense(row rowScanner) (*domain.License, error) {
	var l domain.License
	var manager sql.NullString
	err := row.Scan(&l.ID, &l.Identifier, &l.SoftwareName, &l.TotalQuantity, &l.UsedQuantity, &l.AvailableQuantity,
		&l.ComplianceStatus, &l.IsSubscription, &l.SubscriptionStart, &l.SubscriptionEnd, &l.PurchaseCost,
		&l.RenewalCost, &manager, &l.Deleted, timeDest(&l.CreatedAt), timeDest(&l.UpdatedAt))
	if err != nil {
		return nil, err
	}
	l.ManagerID = manager.String
	return &l, nil
}

func (t *sqlTx) getLicense(ctx context.Context, id string, lock bool) (*domain.License, error) {
	l, err := scanLicense(t.queryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = ?`+t.lock(lock), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query license: %w", err)
	}
	return l, nil
}

func (t *sqlTx) listLicenses(ctx context.Context) ([]domain.License, error) {
	rows, err := t.query(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE deleted = ?`, false)
	if err != nil {
		return nil, fmt.Errorf("query licenses: %w", err)
	}
	defer rows.Close()

	var out []domain.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (t *sqlTx) LockLicense(ctx context.Context, id string) (*domain.License, error) {
	return t.getLicense(ctx, id, true)
}

func (t *sqlTx) InsertLicense(ctx context.Context, l domain.License) error {
	_, err := t.exec(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Identifier, l.SoftwareName, l.TotalQuantity, l.UsedQuantity, l.AvailableQuantity,
		l.ComplianceStatus, l.IsSubscription, l.SubscriptionStart, l.SubscriptionEnd, l.PurchaseCost,
		l.RenewalCost, nullable(l.ManagerID), l.Deleted, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return t.duplicate(err, "insert license")
	}
	return nil
}

func (t *sqlTx) UpdateLicense(ctx context.Context, l domain.License) error {
	_, err := t.exec(ctx, `
		UPDATE licenses
		SET used_quantity = ?, available_quantity = ?, compliance_status = ?, deleted = ?, updated_at = ?
		WHERE id = ?`,
		l.UsedQuantity, l.AvailableQuantity, l.ComplianceStatus, l.Deleted, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	return nil
}

func (t *sqlTx) CountActiveLicenseAssignments(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := t.queryRow(ctx, `
		SELECT COUNT(*) FROM license_assignments WHERE license_id = ? AND active = ?`, licenseID, true,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count license assignments: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// license assignments

const licenseAssignmentColumns = `id, license_id, user_id, asset_id, assigned_date, revoked_date, active, assigned_by, created_at`

func scanLicenseAssignment(row rowScanner) (*domain.LicenseAssignment, error) {
	var a domain.LicenseAssignment
	var asset, by sql.NullString
	err := row.Scan(&a.ID, &a.LicenseID, &a.UserID, &asset, &a.AssignedDate, &a.RevokedDate, &a.Active, &by,
		timeDest(&a.CreatedAt))
	if err != nil {
		return nil, err
	}
	a.AssetID = asset.String
	a.AssignedBy = by.String
	return &a, nil
}

func (t *sqlTx) listLicenseAssignments(ctx context.Context, column, value string, lock bool) ([]domain.LicenseAssignment, error) {
	rows, err := t.query(ctx, `
		SELECT `+licenseAssignmentColumns+`
		FROM license_assignments
		WHERE `+column+` = ? AND active = ?
		ORDER BY license_id, id`+t.lock(lock), value, true)
	if err != nil {
		return nil, fmt.Errorf("query license assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.LicenseAssignment
	for rows.Next() {
		a, err := scanLicenseAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (t *sqlTx) LockLicenseAssignment(ctx context.Context, id string) (*domain.LicenseAssignment, error) {
	a, err := scanLicenseAssignment(t.queryRow(ctx, `
		SELECT `+licenseAssignmentColumns+` FROM license_assignments WHERE id = ?`+t.lock(true), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query license assignment: %w", err)
	}
	return a, nil
}

func (t *sqlTx) ActiveLicenseAssignmentsByUser(ctx context.Context, userID string) ([]domain.LicenseAssignment, error) {
	return t.listLicenseAssignments(ctx, "user_id", userID, true)
}

func (t *sqlTx) InsertLicenseAssignment(ctx context.Context, a domain.LicenseAssignment) error {
	_, err := t.exec(ctx, `
		INSERT INTO license_assignments (`+licenseAssignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LicenseID, a.UserID, nullable(a.AssetID), a.AssignedDate, a.RevokedDate, a.Active,
		nullable(a.AssignedBy), a.CreatedAt,
	)
	if err != nil {
		return t.duplicate(err, "insert license assignment")
	}
	return nil
}

func (t *sqlTx) EndLicenseAssignment(ctx context.Context, id string, end domain.Date) error {
	result, err := t.exec(ctx, `
		UPDATE license_assignments SET active = ?, revoked_date = ?
		WHERE id = ? AND active = ?`, false, end, id, true)
	if err != nil {
		return fmt.Errorf("end license assignment: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFound("license assignment", id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// history

func (t *sqlTx) InsertHistory(ctx context.Context, h domain.HistoryRecord) error {
	_, err := t.exec(ctx, `
		INSERT INTO asset_history (id, reference_type, reference_id, action_type, detail, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.ReferenceType, h.ReferenceID, h.ActionType, nullable(h.Detail), nullable(h.ActorID), h.CreatedAt,
	)
	if err != nil {
		return t.duplicate(err, "insert history")
	}

	for _, side := range []struct {
		name string
		snap domain.Snapshot
	}{{sidePrevious, h.Previous}, {sideNew, h.New}} {
		for _, field := range side.snap.Keys() {
			_, err := t.exec(ctx, `
				INSERT INTO history_values (history_id, side, field, field_value)
				VALUES (?, ?, ?, ?)`, h.ID, side.name, field, side.snap[field])
			if err != nil {
				return fmt.Errorf("insert history value %s.%s: %w", side.name, field, err)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// identifier sequences

func (t *sqlTx) LockSequence(ctx context.Context, prefix string) (int, bool, error) {
	var value int
	err := t.queryRow(ctx, `SELECT seq_value FROM identifier_sequences WHERE prefix = ?`+t.lock(true), prefix).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query sequence: %w", err)
	}
	return value, true, nil
}

func (t *sqlTx) InsertSequence(ctx context.Context, prefix string, value int) error {
	_, err := t.exec(ctx, t.d.insertIgnore(`INSERT INTO identifier_sequences (prefix, seq_value) VALUES (?, ?)`), prefix, value)
	if err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateSequence(ctx context.Context, prefix string, value int) error {
	_, err := t.exec(ctx, `UPDATE identifier_sequences SET seq_value = ? WHERE prefix = ?`, value, prefix)
	if err != nil {
		return fmt.Errorf("update sequence: %w", err)
	}
	return nil
}

func (t *sqlTx) ListIdentifiers(ctx context.Context, kind port.IdentifierKind, prefix string) ([]string, error) {
	table := "assets"
	if kind == port.IdentifierLicense {
		table = "licenses"
	}
	rows, err := t.query(ctx, `
		SELECT identifier FROM `+table+`
		WHERE identifier LIKE ? ESCAPE '!'`, escapeLike(prefix+"-")+"%")
	if err != nil {
		return nil, fmt.Errorf("query identifiers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var identifier string
		if err := rows.Scan(&identifier); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		out = append(out, identifier)
	}
	return out, rows.Err()
}
