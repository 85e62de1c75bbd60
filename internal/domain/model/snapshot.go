package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// MaapEntry is the derived state of one active assignment tenure.
// It carries exactly these three JSON keys.
type MaapEntry struct {
	AssignmentID                int64  `json:"assignment_id"`
	AnticipatedEnergyPercentage int    `json:"anticipated_energy_percentage"`
	OfficialRating              Rating `json:"official_rating"`
}

// MaapData is the ordered per-assignment state captured by a snapshot.
type MaapData []MaapEntry

// Clone returns an independent copy. A nil receiver yields an empty slice.
func (d MaapData) Clone() MaapData {
	out := make(MaapData, len(d))
	copy(out, d)
	return out
}

// Find returns the entry for assignmentID.
func (d MaapData) Find(assignmentID int64) (MaapEntry, bool) {
	for _, e := range d {
		if e.AssignmentID == assignmentID {
			return e, true
		}
	}
	return MaapEntry{}, false
}

// Canonical returns the deterministic JSON encoding of d.
func (d MaapData) Canonical() ([]byte, error) {
	if d == nil {
		d = MaapData{}
	}
	return json.Marshal(d)
}

// Digest returns the hex SHA-256 of the canonical encoding.
func (d MaapData) Digest() (string, error) {
	b, err := d.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeFormParams validates raw form params and returns a private copy of
// the submitted bytes. Empty or whitespace-only input becomes an empty object.
func NormalizeFormParams(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrInvalidFormParams
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

// Snapshot is the immutable pair of derived state and operator intent.
type Snapshot struct {
	ID            int64           `json:"id"`
	EmployeeID    int64           `json:"employee_id"`
	CreatedByID   int64           `json:"created_by_id"`
	ChangeType    ChangeType      `json:"change_type"`
	Reason        string          `json:"reason"`
	MaapData      MaapData        `json:"maap_data"`
	FormParams    json.RawMessage `json:"form_params"`
	EffectiveDate time.Time       `json:"effective_date"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at"`
}

// Processed reports whether the snapshot has been finalized.
func (s Snapshot) Processed() bool { return s.ProcessedAt != nil }

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	s.MaapData = s.MaapData.Clone()
	if s.FormParams != nil {
		fp := make(json.RawMessage, len(s.FormParams))
		copy(fp, s.FormParams)
		s.FormParams = fp
	}
	s.ProcessedAt = cloneTime(s.ProcessedAt)
	return s
}

// SnapshotFilter narrows snapshot listings. Zero values match everything.
type SnapshotFilter struct {
	EmployeeID int64
	Processed  *bool
	Limit      int
}

// Match reports whether s passes the filter, ignoring Limit.
func (f SnapshotFilter) Match(s Snapshot) bool {
	if f.EmployeeID != 0 && s.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Processed != nil && s.Processed() != *f.Processed {
		return false
	}
	return true
}
