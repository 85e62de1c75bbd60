// Package changes merges operator-proposed form values over persisted check-in state.
//
// The merge is pure: it never writes and never alters the maap data it reads.
package changes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/pkg/metrics"
)

const op = "changes.Merge"

// Recognized form fields.
const (
	FieldSharedNotes = "shared_notes"
	FieldFinalRating = "final_rating"
	FieldLevel       = "level"
)

// Provenance tells where an effective value came from.
type Provenance string

// Provenance values.
const (
	Proposed  Provenance = "proposed"
	Persisted Provenance = "persisted"
	// Absent means there is neither a proposal nor an open check-in.
	Absent Provenance = "absent"
)

var ( //nolint:gochecknoglobals // compiled once
	checkInKey   = regexp.MustCompile(`^check_in_([1-9][0-9]*)_([a-z_]+)$`)
	milestoneKey = regexp.MustCompile(`^milestone_([1-9][0-9]*)_level$`)
)

// CheckInLookup finds the open check-in of an employee and assignment.
// It returns repository.ErrNotFound when there is none.
type CheckInLookup interface {
	OpenCheckIn(ctx context.Context, employeeID, assignmentID int64) (model.CheckIn, error)
}

// CheckInChange is the effective check-in state of one maap data entry.
type CheckInChange struct {
	AssignmentID         int64        `json:"assignment_id"`
	CheckInID            int64        `json:"check_in_id,omitempty"`
	SharedNotes          string       `json:"shared_notes"`
	OfficialRating       model.Rating `json:"official_rating"`
	SharedNotesSource    Provenance   `json:"shared_notes_source"`
	OfficialRatingSource Provenance   `json:"official_rating_source"`

	// Current is the persisted open check-in, nil when there is none.
	Current *model.CheckIn `json:"-"`
}

// HasProposal reports whether any field was proposed by the form.
func (c CheckInChange) HasProposal() bool {
	return c.SharedNotesSource == Proposed || c.OfficialRatingSource == Proposed
}

// MilestoneProposal asks for a new milestone level on an ability.
type MilestoneProposal struct {
	AbilityID int64 `json:"ability_id"`
	Level     int   `json:"milestone_level"`
}

// ChangeRequest is the in-memory merged view used by finalization and previews.
type ChangeRequest struct {
	EmployeeID int64               `json:"employee_id"`
	CheckIns   []CheckInChange     `json:"check_ins"`
	Milestones []MilestoneProposal `json:"milestones"`
}

type proposal struct {
	notes  *string
	rating *model.Rating
}

// Merge computes the effective check-in values for every entry of data.
// A submitted value wins over the persisted one; with nothing submitted the
// persisted values are returned unchanged. Keys that are not recognized, or
// that name an assignment absent from data, are ignored.
func Merge(ctx context.Context, lookup CheckInLookup, employeeID int64, data model.MaapData, formParams json.RawMessage) (ChangeRequest, error) {
	params, err := decode(formParams)
	if err != nil {
		return ChangeRequest{}, err
	}

	known := make(map[int64]bool, len(data))
	for _, entry := range data {
		known[entry.AssignmentID] = true
	}
	proposals, milestones, err := parse(params, known)
	if err != nil {
		return ChangeRequest{}, err
	}

	req := ChangeRequest{
		EmployeeID: employeeID,
		CheckIns:   make([]CheckInChange, 0, len(data)),
		Milestones: milestones,
	}
	for _, entry := range data {
		if err := ctx.Err(); err != nil {
			return ChangeRequest{}, fault.Wrap(op, fault.KindCanceled, err)
		}

		change := CheckInChange{
			AssignmentID:         entry.AssignmentID,
			SharedNotesSource:    Absent,
			OfficialRatingSource: Absent,
		}

		current, err := lookup.OpenCheckIn(ctx, employeeID, entry.AssignmentID)
		switch {
		case err == nil:
			change.Current = &current
			change.CheckInID = current.ID
			change.SharedNotes, change.SharedNotesSource = current.SharedNotes, Persisted
			change.OfficialRating, change.OfficialRatingSource = current.OfficialRating, Persisted
		case errors.Is(err, repository.ErrNotFound):
		default:
			return ChangeRequest{}, fault.Wrap(op, fault.KindPersistence, err)
		}

		if p, ok := proposals[entry.AssignmentID]; ok {
			if p.notes != nil {
				change.SharedNotes, change.SharedNotesSource = *p.notes, Proposed
				metrics.RecordChangeProposal(FieldSharedNotes)
			}
			if p.rating != nil {
				change.OfficialRating, change.OfficialRatingSource = *p.rating, Proposed
				metrics.RecordChangeProposal(FieldFinalRating)
			}
		}
		req.CheckIns = append(req.CheckIns, change)
	}
	for range req.Milestones {
		metrics.RecordChangeProposal(FieldLevel)
	}
	return req, nil
}

func decode(formParams json.RawMessage) (map[string]json.RawMessage, error) {
	params := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(formParams)) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(formParams, &params); err != nil {
		return nil, fault.Wrap(op, fault.KindValidation, model.ErrInvalidFormParams)
	}
	return params, nil
}

func parse(params map[string]json.RawMessage, known map[int64]bool) (map[int64]proposal, []MilestoneProposal, error) {
	proposals := map[int64]proposal{}
	levels := map[int64]int{}

	for key, raw := range params {
		if m := checkInKey.FindStringSubmatch(key); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			field := m[2]
			if err != nil || !known[id] || (field != FieldSharedNotes && field != FieldFinalRating) {
				continue
			}
			value, present, err := scalar(key, raw)
			if err != nil {
				return nil, nil, err
			}
			if !present {
				continue
			}
			p := proposals[id]
			switch field {
			case FieldSharedNotes:
				v := value
				p.notes = &v
			case FieldFinalRating:
				if strings.TrimSpace(value) == "" {
					// Not chosen: fall back to the persisted rating.
					continue
				}
				r, err := model.ParseRating(value)
				if err != nil {
					return nil, nil, fault.Wrap(op, fault.KindValidation, err)
				}
				p.rating = &r
			}
			proposals[id] = p
			continue
		}

		if m := milestoneKey.FindStringSubmatch(key); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			value, present, err := scalar(key, raw)
			if err != nil {
				return nil, nil, err
			}
			value = strings.TrimSpace(value)
			if !present || value == "" {
				continue
			}
			level, err := strconv.Atoi(value)
			if err != nil {
				return nil, nil, fault.New(op, fault.KindValidation, "%s: level %q is not an integer", key, value)
			}
			if level < 0 {
				return nil, nil, fault.New(op, fault.KindValidation, "%s: %v", key, model.ErrNegativeLevel)
			}
			levels[id] = level
		}
	}

	milestones := make([]MilestoneProposal, 0, len(levels))
	for id, level := range levels {
		milestones = append(milestones, MilestoneProposal{AbilityID: id, Level: level})
	}
	sort.Slice(milestones, func(i, j int) bool { return milestones[i].AbilityID < milestones[j].AbilityID })
	return proposals, milestones, nil
}

// scalar returns the text of a JSON string, number or boolean. A null value is not present.
func scalar(key string, raw json.RawMessage) (string, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return "", false, nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false, fault.Wrap(op, fault.KindValidation, err)
		}
		return s, true, nil
	case trimmed[0] == '{' || trimmed[0] == '[':
		return "", false, fault.New(op, fault.KindValidation, "%s: value must be a scalar", key)
	default:
		return string(trimmed), true, nil
	}
}
