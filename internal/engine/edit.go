package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"missionline/internal/commodity"
	"missionline/internal/destination"
	"missionline/internal/events"
	"missionline/internal/repo"
)

// EditRequest changes an active mission. Empty Input fields keep their value.
type EditRequest struct {
	Carrier      string
	Field        repo.CarrierField
	Input        Input
	ActorID      string
	ReplyChannel string
}

// Edit re-validates the merged parameters and updates every artifact the mission
// already published. Adapters are independent: one failing leaves the others
// updated and is reported as a notice.
func (e *Engine) Edit(ctx context.Context, req EditRequest) (Result, error) {
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
	params, err := Validate(InputFrom(m.MissionParams).Merge(req.Input), e.Catalogue)
	if err != nil {
		return Result{}, err
	}
	restricted := e.Config.Commodities.Restricted
	if commodity.CrossesBoundary(m.Commodity, params.Commodity, restricted) {
		return Result{}, ValidationError{
			Field:  "commodity",
			Reason: fmt.Sprintf("cannot change between %s and other commodities; conclude this mission and start a new one", restricted),
		}
	}

	e.setState(carrier.ID, StateEditing)
	defer e.clearStateIf(carrier.ID, StateEditing)

	dreq := destination.Request{
		Carrier:      carrier,
		Params:       params,
		ChannelID:    m.ChannelID,
		ActorID:      req.ActorID,
		ReplyChannel: req.ReplyChannel,
	}
	adapters := e.used(m.State)
	if m.Targets.Echo && e.Dest.Echo != nil {
		adapters = append(adapters, e.Dest.Echo)
	}
	var (
		res    Result
		state  = m.State.Clone()
		failed []error
	)
	for _, a := range adapters {
		next, err := a.Edit(ctx, dreq, state)
		switch {
		case err == nil:
			state = next
			continue
		case destination.IsPartial(err):
			state = next
		default:
			failed = append(failed, err)
		}
		e.Logger.Warn("destination edit failed", "adapter", a.Name(), "carrier", carrier.ShortName, "error", err)
		res.Notices = append(res.Notices, notice(a, "edit", err))
	}
	if len(adapters) > 0 && len(failed) == len(adapters) {
		return res, &AdapterError{Adapter: "all", Op: "edit", Err: errors.Join(failed...)}
	}

	m.MissionParams = params
	m.State = state
	m.UpdatedAt = e.Clock.Now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateMission(ctx, m); err != nil {
		return res, fmt.Errorf("store edited mission: %w", err)
	}
	e.event(ctx, events.MissionEdited, "mission", m.ID, req.ActorID, events.EventPayload{
		"carrier": carrier.ShortName, "commodity": params.Commodity, "notices": len(res.Notices),
	})
	res.Mission, res.Persisted = m, true
	return res, nil
}
