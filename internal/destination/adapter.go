// Package destination holds the fan-out targets a mission is published to.
// Each adapter owns one slice of the mission's DestinationState and knows how
// to create, edit and retire the artifact it describes.
package destination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"missionline/internal/domain"
)

// Request carries everything an adapter needs to publish a mission.
type Request struct {
	Carrier domain.Carrier
	Params  domain.MissionParams
	// ChannelID is the carrier's dedicated mission channel.
	ChannelID string
	ActorID   string
	// ReplyChannel is where the triggering command was issued.
	ReplyChannel string
	// Webhooks are the acting user's registrations, used on create.
	Webhooks []domain.WebhookRegistration
}

type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeFailed   Outcome = "failed"
)

// Reason explains why a mission is being retired.
type Reason struct {
	Outcome Outcome
	Text    string
}

func (r Reason) String() string {
	if r.Outcome == OutcomeFailed {
		if r.Text == "" {
			return "mission failed"
		}
		return "mission failed: " + r.Text
	}
	return "mission complete"
}

// Adapter publishes one kind of artifact. Create and Edit return the full
// composite state with their own slice updated and everything else untouched.
type Adapter interface {
	Name() string
	Create(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error)
	Edit(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error)
	Retire(ctx context.Context, req Request, state domain.DestinationState, reason Reason) error
	// Used reports whether state holds an artifact owned by this adapter.
	Used(state domain.DestinationState) bool
}

// PartialError is returned when some items of a multi-item adapter failed.
// The state returned alongside it reflects the items that succeeded.
type PartialError struct {
	Adapter string
	Failed  []error
}

func (e *PartialError) Error() string {
	msgs := make([]string, 0, len(e.Failed))
	for _, err := range e.Failed {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %d failed: %s", e.Adapter, len(e.Failed), strings.Join(msgs, "; "))
}

func (e *PartialError) Unwrap() []error { return e.Failed }

// IsPartial reports whether err leaves a usable state behind.
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}
