package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

// Entry describes one mutation to append to the history ledger.
type Entry struct {
	ReferenceType domain.ReferenceType
	ReferenceID   string
	ActionType    domain.ActionType
	Detail        string
	Previous      domain.Snapshot
	New           domain.Snapshot
	ActorID       string
}

// Recorder appends history records. Records are written in the caller's
// transaction and never updated afterwards.
type Recorder struct {
	store port.Store
	now   func() time.Time
}

func NewRecorder(store port.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, tx port.Tx, e Entry) (domain.HistoryRecord, error) {
	if e.ReferenceType == "" || e.ReferenceID == "" {
		return domain.HistoryRecord{}, domain.Validation("reference", "is required")
	}
	if e.ActionType == "" {
		return domain.HistoryRecord{}, domain.Validation("action_type", "is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("history id: %w", err)
	}

	record := domain.HistoryRecord{
		ID:            id.String(),
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		ActionType:    e.ActionType,
		Detail:        e.Detail,
		Previous:      e.Previous,
		New:           e.New,
		ActorID:       e.ActorID,
		CreatedAt:     r.now().UTC(),
	}
	if err := tx.InsertHistory(ctx, record); err != nil {
		return domain.HistoryRecord{}, err
	}
	return record, nil
}

// History returns the ledger for one entity, newest first.
func (r *Recorder) History(ctx context.Context, refType domain.ReferenceType, refID string) ([]domain.HistoryRecord, error) {
	switch refType {
	case domain.ReferenceAsset, domain.ReferenceLicense, domain.ReferenceUser:
	default:
		return nil, domain.Validation("reference_type", fmt.Sprintf("unknown reference type %q", refType))
	}
	if refID == "" {
		return nil, domain.Validation("reference_id", "is required")
	}
	return r.store.ListHistory(ctx, refType, refID)
}
