package arrivals

import (
	"errors"
	"fmt"
)

// ErrEmptySession marks a session that yielded no arrival. It is counted,
// never returned as a failure.
var ErrEmptySession = errors.New("empty visit session")

// MissingDirectionError is returned for a stop without a direction id; such a
// stop cannot be matched to traffic and is skipped.
type MissingDirectionError struct {
	StopID string
}

func (e *MissingDirectionError) Error() string {
	return fmt.Sprintf("stop %s has no direction id", e.StopID)
}

// MalformedSampleError describes a sample dropped from processing.
type MalformedSampleError struct {
	VehicleID string
	TimeMs    int64
	Err       error
}

func (e *MalformedSampleError) Error() string {
	return fmt.Sprintf("malformed sample vehicle=%q time=%d: %v", e.VehicleID, e.TimeMs, e.Err)
}

func (e *MalformedSampleError) Unwrap() error { return e.Err }

var errMissingVehicle = errors.New("missing vehicle id")

// SkipCounts tallies what was dropped while extracting.
type SkipCounts struct {
	Malformed      int `json:"malformed"`
	OtherDirection int `json:"otherDirection"`
	OutOfRadius    int `json:"outOfRadius"`
	EmptySessions  int `json:"emptySessions"`
}

func (c *SkipCounts) Add(o SkipCounts) {
	c.Malformed += o.Malformed
	c.OtherDirection += o.OtherDirection
	c.OutOfRadius += o.OutOfRadius
	c.EmptySessions += o.EmptySessions
}
