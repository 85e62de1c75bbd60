package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rating is the enumerated official rating of an assignment or check-in.
// The zero value means unrated.
type Rating string

// Known ratings.
const (
	RatingUnrated       Rating = ""
	RatingWorkingToMeet Rating = "working_to_meet"
	RatingMeeting       Rating = "meeting"
	RatingExceeding     Rating = "exceeding"
)

// Ratings lists the known non-empty ratings in ascending order.
func Ratings() []Rating {
	return []Rating{RatingWorkingToMeet, RatingMeeting, RatingExceeding}
}

// ParseRating trims s and resolves it to a Rating. Blank input is unrated.
func ParseRating(s string) (Rating, error) {
	r := Rating(strings.TrimSpace(s))
	if !r.Valid() {
		return RatingUnrated, fmt.Errorf("%w: %q", ErrUnknownRating, s)
	}
	return r, nil
}

// Valid reports whether r is unrated or one of the known ratings.
func (r Rating) Valid() bool {
	switch r {
	case RatingUnrated, RatingWorkingToMeet, RatingMeeting, RatingExceeding:
		return true
	}
	return false
}

// IsZero reports whether r is unrated.
func (r Rating) IsZero() bool { return r == RatingUnrated }

// MarshalJSON encodes an unrated value as null.
func (r Rating) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

// UnmarshalJSON accepts null or a known rating string.
func (r *Rating) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = RatingUnrated
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRating(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
