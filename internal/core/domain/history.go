package domain

import (
	"sort"
	"time"
)

type ReferenceType string

const (
	ReferenceAsset   ReferenceType = "ASSET"
	ReferenceLicense ReferenceType = "LICENSE"
	ReferenceUser    ReferenceType = "USER"
)

type ActionType string

const (
	ActionCreated         ActionType = "CREATED"
	ActionDeleted         ActionType = "DELETED"
	ActionAssigned        ActionType = "ASSIGNED"
	ActionReturned        ActionType = "RETURNED"
	ActionStatusChanged   ActionType = "STATUS_CHANGED"
	ActionLicenseAssigned ActionType = "LICENSE_ASSIGNED"
	ActionLicenseRevoked  ActionType = "LICENSE_REVOKED"
	ActionUserOffboarded  ActionType = "USER_OFFBOARDED"
)

// Snapshot is a flat key/value capture of an entity at one point in time.
type Snapshot map[string]string

// Compact drops empty values and returns the receiver.
func (s Snapshot) Compact() Snapshot {
	for k, v := range s {
		if v == "" {
			delete(s, k)
		}
	}
	return s
}

func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type FieldChange struct {
	Field    string `json:"field"`
	Previous string `json:"previous"`
	New      string `json:"new"`
}

// Diff lists the fields whose value differs between prev and next, ordered by
// field name.
func Diff(prev, next Snapshot) []FieldChange {
	fields := map[string]struct{}{}
	for k := range prev {
		fields[k] = struct{}{}
	}
	for k := range next {
		fields[k] = struct{}{}
	}

	var changes []FieldChange
	for k := range fields {
		if prev[k] != next[k] {
			changes = append(changes, FieldChange{Field: k, Previous: prev[k], New: next[k]})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

type HistoryRecord struct {
	ID            string        `json:"id"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   string        `json:"reference_id"`
	ActionType    ActionType    `json:"action_type"`
	Detail        string        `json:"detail"`
	Previous      Snapshot      `json:"previous"`
	New           Snapshot      `json:"new"`
	ActorID       string        `json:"actor_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (h HistoryRecord) Changes() []FieldChange {
	return Diff(h.Previous, h.New)
}
