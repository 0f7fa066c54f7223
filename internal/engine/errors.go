package engine

import (
	"errors"
	"fmt"
)

// ErrNoMission is returned when an edit or conclude targets a carrier with no active mission.
var ErrNoMission = errors.New("carrier has no active mission")

// ErrUploadTimeout means the owner did not upload a background image in time.
var ErrUploadTimeout = errors.New("timed out waiting for carrier image upload")

// ValidationError rejects a request before any lock is taken or anything is posted.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return e.Err }

type AlreadyOnMissionError struct {
	Carrier   string
	MissionID string
}

func (e AlreadyOnMissionError) Error() string {
	return fmt.Sprintf("%s is already on a mission", e.Carrier)
}

// AdapterError is a failure of one destination during a lifecycle step.
type AdapterError struct {
	Adapter string
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Adapter, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// OrphanChannelError means a mission channel should be gone but could not be removed.
type OrphanChannelError struct {
	ChannelID string
	Err       error
}

func (e *OrphanChannelError) Error() string {
	return fmt.Sprintf("channel %s left behind: %v", e.ChannelID, e.Err)
}

func (e *OrphanChannelError) Unwrap() error { return e.Err }
