package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

const (
	defaultTxRetries = 3
	retryBackoff     = 20 * time.Millisecond
)

// SQLStore implements port.Store on database/sql for MySQL, PostgreSQL and
// SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect *dialect
	logger  *zap.Logger
	retries int
}

var _ port.Store = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, d *dialect, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With(zap.String("dialect", d.name)),
		retries: defaultTxRetries,
	}
}

// SetTxRetries sets how many times a transaction that lost a lock conflict
// is re-run.
func (s *SQLStore) SetTxRetries(n int) {
	if n >= 0 {
		s.retries = n
	}
}

func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !s.dialect.isRetryable(err) || attempt >= s.retries {
			return err
		}
		s.logger.Debug("retrying transaction after lock conflict",
			zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * retryBackoff):
		}
	}
}

func (s *SQLStore) runTx(ctx context.Context, fn func(tx port.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{q: tx, d: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) reader() *sqlTx {
	return &sqlTx{q: s.db, d: s.dialect}
}

func (s *SQLStore) GetAsset(ctx context.Context, id string) (*domain.Asset, error) {
	return s.reader().getAsset(ctx, id, false)
}

func (s *SQLStore) GetLicense(ctx context.Context, id string) (*domain.License, error) {
	return s.reader().getLicense(ctx, id, false)
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.reader().getUser(ctx, id, false)
}

func (s *SQLStore) ListActiveAssetAssignments(ctx context.Context, assetID string) ([]domain.AssetAssignment, error) {
	return s.reader().listAssetAssignments(ctx, "asset_id", assetID, false)
}

func (s *SQLStore) ListActiveLicenseAssignments(ctx context.Context, licenseID string) ([]domain.LicenseAssignment, error) {
	return s.reader().listLicenseAssignments(ctx, "license_id", licenseID, false)
}

func (s *SQLStore) ListHistory(ctx context.Context, refType domain.ReferenceType, refID string) ([]domain.HistoryRecord, error) {
	r := s.reader()
	rows, err := r.query(ctx, `
		SELECT id, reference_type, reference_id, action_type, detail, actor_id, created_at
		FROM asset_history
		WHERE reference_type = ? AND reference_id = ?
		ORDER BY id DESC`, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	index := map[string]int{}
	for rows.Next() {
		var h domain.HistoryRecord
		var detail, actor sql.NullString
		if err := rows.Scan(&h.ID, &h.ReferenceType, &h.ReferenceID, &h.ActionType, &detail, &actor, timeDest(&h.CreatedAt)); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.Detail = detail.String
		h.ActorID = actor.String
		index[h.ID] = len(records)
		records = append(records, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	rows.Close()
	if len(records) == 0 {
		return nil, nil
	}

	vals, err := r.query(ctx, `
		SELECT v.history_id, v.side, v.field, v.field_value
		FROM history_values v
		JOIN asset_history h ON h.id = v.history_id
		WHERE h.reference_type = ? AND h.reference_id = ?`, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("query history values: %w", err)
	}
	defer vals.Close()

	for vals.Next() {
		var historyID, side, field string
		var value sql.NullString
		if err := vals.Scan(&historyID, &side, &field, &value); err != nil {
			return nil, fmt.Errorf("scan history value: %w", err)
		}
		i, ok := index[historyID]
		if !ok {
			continue
		}
		h := &records[i]
		switch side {
		case sidePrevious:
			if h.Previous == nil {
				h.Previous = domain.Snapshot{}
			}
			h.Previous[field] = value.String
		case sideNew:
			if h.New == nil {
				h.New = domain.Snapshot{}
			}
			h.New[field] = value.String
		}
	}
	if err := vals.Err(); err != nil {
		return nil, fmt.Errorf("iterate history values: %w", err)
	}
	return records, nil
}

func (s *SQLStore) RuleSnapshot(ctx context.Context) (domain.RuleSnapshot, error) {
	var snap domain.RuleSnapshot
	r := s.reader()

	rows, err := r.query(ctx, `
		SELECT a.id, a.identifier, a.name, a.manager_id, a.warranty_end, a.useful_life_expire_date,
		       e.product_name, e.eos_date
		FROM assets a
		LEFT JOIN eos_info e ON e.id = a.eos_id
		WHERE a.deleted = ?`, false)
	if err != nil {
		return snap, fmt.Errorf("query rule assets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.AssetView
		var manager, product sql.NullString
		if err := rows.Scan(&v.ID, &v.Identifier, &v.Name, &manager, &v.WarrantyEnd, &v.UsefulLifeExpireDate, &product, &v.EOSDate); err != nil {
			return snap, fmt.Errorf("scan rule asset: %w", err)
		}
		v.ManagerID = manager.String
		v.EOSProduct = product.String
		snap.Assets = append(snap.Assets, v)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate rule assets: %w", err)
	}
	rows.Close()

	licenses, err := r.listLicenses(ctx)
	if err != nil {
		return snap, err
	}
	snap.Licenses = licenses
	return snap, nil
}

func (s *SQLStore) InsertNotification(ctx context.Context, n domain.Notification) (bool, error) {
	r := s.reader()
	result, err := r.exec(ctx, s.dialect.insertIgnore(`
		INSERT INTO notifications (id, notification_type, severity, target_user_id, title, message,
			reference_type, reference_id, is_read, created_at, created_day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.Type, n.Severity, n.TargetUserID, n.Title, n.Message,
		n.ReferenceType, n.ReferenceID, n.Read, n.CreatedAt, n.CreatedDay,
	)
	if err != nil {
		if s.dialect.isUnique(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert notification: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *SQLStore) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	query := `
		SELECT id, notification_type, severity, target_user_id, title, message,
		       reference_type, reference_id, is_read, created_at, created_day
		FROM notifications`
	var args []any
	if userID != "" {
		query += ` WHERE target_user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.reader().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var message sql.NullString
		if err := rows.Scan(&n.ID, &n.Type, &n.Severity, &n.TargetUserID, &n.Title, &message,
			&n.ReferenceType, &n.ReferenceID, &n.Read, timeDest(&n.CreatedAt), &n.CreatedDay); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Message = message.String
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountNotifications(ctx context.Context, notificationType domain.NotificationType) (int, error) {
	query := `SELECT COUNT(*) FROM notifications`
	var args []any
	if notificationType != "" {
		query += ` WHERE notification_type = ?`
		args = append(args, notificationType)
	}
	var count int
	if err := s.reader().queryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

func (s *SQLStore) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	result, err := s.reader().exec(ctx, `UPDATE notifications SET is_read = ? WHERE id = ?`, true, id)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return true, nil
	}

	// MySQL reports zero affected rows when the value did not change.
	var exists int
	err = s.reader().queryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup notification: %w", err)
	}
	return exists > 0, nil
}

func (s *SQLStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE notifications SET is_read = ? WHERE is_read = ?`
	args := []any{true, false}
	if userID != "" {
		query += ` AND target_user_id = ?`
		args = append(args, userID)
	}
	result, err := s.reader().exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
