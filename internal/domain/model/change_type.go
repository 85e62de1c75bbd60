package model

import (
	"fmt"
	"sort"
	"strings"
)

// ChangeType tags why a snapshot was captured.
type ChangeType string

// Canonical change types.
const (
	ChangeBulkCheckInFinalization    ChangeType = "bulk_check_in_finalization"
	ChangeCheckInFinalization        ChangeType = "check_in_finalization"
	ChangeAssignmentManagement       ChangeType = "assignment_management"
	ChangeAbilityMilestoneManagement ChangeType = "ability_milestone_management"
	ChangeManualEdit                 ChangeType = "manual_edit"
)

// ChangeTypeInfo describes a change type.
type ChangeTypeInfo struct {
	Description string `json:"description"`
	Finalizable bool   `json:"finalizable"`
}

var changeTypes = map[ChangeType]ChangeTypeInfo{ //nolint:gochecknoglobals // immutable lookup table
	ChangeBulkCheckInFinalization:    {Description: "Check-ins finalized together for many employees", Finalizable: true},
	ChangeCheckInFinalization:        {Description: "Check-ins finalized for a single employee", Finalizable: true},
	ChangeAssignmentManagement:       {Description: "Assignment tenure ratings updated", Finalizable: true},
	ChangeAbilityMilestoneManagement: {Description: "Ability milestones awarded", Finalizable: true},
	ChangeManualEdit:                 {Description: "State captured for review without finalization", Finalizable: false},
}

// Legacy names kept readable for stored and submitted data.
var changeTypeAliases = map[string]ChangeType{ //nolint:gochecknoglobals // immutable lookup table
	"bulk_finalization":            ChangeBulkCheckInFinalization,
	"single_check_in_finalization": ChangeCheckInFinalization,
	"assignment_tenure_update":     ChangeAssignmentManagement,
	"milestone_update":             ChangeAbilityMilestoneManagement,
	"exploration":                  ChangeManualEdit,
}

// ParseChangeType resolves a canonical value or a legacy alias.
func ParseChangeType(s string) (ChangeType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if _, ok := changeTypes[ChangeType(key)]; ok {
		return ChangeType(key), nil
	}
	if ct, ok := changeTypeAliases[key]; ok {
		return ct, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChangeType, s)
}

// Info returns the lookup table entry for c.
func (c ChangeType) Info() (ChangeTypeInfo, bool) {
	info, ok := changeTypes[c]
	return info, ok
}

// Finalizable reports whether snapshots of this type may be finalized.
func (c ChangeType) Finalizable() bool {
	info, ok := changeTypes[c]
	return ok && info.Finalizable
}

// ChangeTypes returns the canonical change types sorted by name.
func ChangeTypes() []ChangeType {
	out := make([]ChangeType, 0, len(changeTypes))
	for ct := range changeTypes {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
