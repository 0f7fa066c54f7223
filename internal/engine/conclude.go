package engine

import (
	"context"
	"errors"
	"fmt"

	"missionline/internal/destination"
	"missionline/internal/events"
	"missionline/internal/platform"
	"missionline/internal/repo"
)

type ConcludeRequest struct {
	Carrier string
	Field   repo.CarrierField
	Outcome destination.Outcome
	// Reason is shown to readers when the mission failed.
	Reason  string
	ActorID string
}

// Conclude retires every artifact, removes the record, tells the owner and
// schedules the channel for deletion.
func (e *Engine) Conclude(ctx context.Context, req ConcludeRequest) (Result, error) {
	if req.Outcome == "" {
		req.Outcome = destination.OutcomeComplete
	}
	carrier, err := e.resolveCarrier(ctx, req.Carrier, req.Field)
	if err != nil {
		return Result{}, err
	}
	m, err := e.Repo.FindMissionByCarrierID(ctx, carrier.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return Result{}, ErrNoMission
	}
	if err != nil {
		return Result{}, err
	}
	e.setState(carrier.ID, StateConcluding)

	reason := destination.Reason{Outcome: req.Outcome, Text: req.Reason}
	dreq := destination.Request{Carrier: carrier, Params: m.MissionParams, ChannelID: m.ChannelID, ActorID: req.ActorID}
	var res Result
	for _, a := range e.used(m.State) {
		if err := a.Retire(ctx, dreq, m.State, reason); err != nil {
			e.Logger.Warn("destination retire failed", "adapter", a.Name(), "carrier", carrier.ShortName, "error", err)
			e.alert(ctx, "Concluding %s: %s retire failed: %v", carrier.LongName, a.Name(), err)
			res.Notices = append(res.Notices, notice(a, "retire", err))
		}
	}
	if err := e.Repo.DeleteMissionByCarrierID(ctx, carrier.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		e.clearState(carrier.ID)
		return res, fmt.Errorf("delete mission: %w", err)
	}

	if req.ActorID != carrier.OwnerID {
		e.notifyOwner(ctx, carrier.OwnerID, carrier.LongName, fmt.Sprintf("Your mission on %s was marked %s by <@%s>.", carrier.LongName, reason, req.ActorID))
	}
	e.touchCarrier(ctx, carrier)
	e.event(ctx, events.MissionConcluded, "mission", m.ID, req.ActorID, events.EventPayload{
		"carrier": carrier.ShortName, "outcome": string(req.Outcome), "reason": req.Reason,
	})

	e.setState(carrier.ID, StateRetired)
	retired := func() { e.clearStateIf(carrier.ID, StateRetired) }
	if !e.scheduleTeardown(m.ChannelID, e.Config.CompletedDelay(), retired) {
		retired()
	}
	e.Logger.Info("mission concluded", "carrier", carrier.ShortName, "mission", m.ID, "outcome", req.Outcome)
	res.Mission = m
	return res, nil
}

// notifyOwner sends a DM. Any undelivered DM is copied to the operator channel.
func (e *Engine) notifyOwner(ctx context.Context, ownerID, carrier, text string) {
	err := e.Platform.Members.SendDirect(ctx, ownerID, platform.Message{Content: text})
	if err == nil {
		return
	}
	if !errors.Is(err, platform.ErrForbidden) {
		e.Logger.Error("notify owner", "owner", ownerID, "error", err)
	}
	e.alert(ctx, "Could not DM <@%s> about %s: %s", ownerID, carrier, text)
}
