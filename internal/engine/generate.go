package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"missionline/internal/destination"
	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/platform"
	"missionline/internal/repo"
)

// GenerateRequest asks for a new mission on a carrier.
type GenerateRequest struct {
	// Carrier is a lookup term matched against Field.
	Carrier string
	Field   repo.CarrierField
	Input   Input
	Targets domain.Targets
	ActorID string
	// ReplyChannel is where the command was issued. Image prompts and echo go here.
	ReplyChannel string
}

// Generate validates the request, publishes the mission to every selected target
// and stores it. Only a successful chat post makes a mission persistent.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (_ Result, err error) {
	params, err := Validate(req.Input, e.Catalogue)
	if err != nil {
		return Result{}, err
	}
	if err := checkTargets(req.Targets); err != nil {
		return Result{}, err
	}
	carrier, err := e.resolveCarrier(ctx, req.Carrier, req.Field)
	if err != nil {
		return Result{}, err
	}
	if err := e.ensureIdle(ctx, carrier); err != nil {
		return Result{}, err
	}

	e.setState(carrier.ID, StatePendingInput)
	defer func() {
		if err != nil {
			e.clearState(carrier.ID)
		}
	}()
	if req.Targets.Chat || req.Targets.Discussion {
		if err := e.ensureImage(ctx, carrier, req); err != nil {
			return Result{}, err
		}
	}

	e.setState(carrier.ID, StateGenerating)
	release, err := e.Lock.Acquire(ctx, e.Config.LockTimeout())
	if err != nil {
		return Result{}, fmt.Errorf("generate %s: %w", carrier.ShortName, err)
	}
	defer release()

	if err := e.ensureIdle(ctx, carrier); err != nil {
		return Result{}, err
	}
	if !req.Targets.Chat {
		return e.echoOnly(ctx, carrier, params, req)
	}

	channelID, created, err := e.carrierChannel(ctx, carrier)
	if err != nil {
		return Result{}, err
	}
	dreq := destination.Request{
		Carrier:      carrier,
		Params:       params,
		ChannelID:    channelID,
		ActorID:      req.ActorID,
		ReplyChannel: req.ReplyChannel,
	}
	res := Result{}
	if req.Targets.Webhooks && req.ActorID != "" {
		hooks, err := e.Repo.ListWebhooks(ctx, req.ActorID)
		if err != nil {
			return Result{}, err
		}
		if len(hooks) == 0 {
			res.Notices = append(res.Notices, Notice{Adapter: "webhooks", Message: "no webhooks registered; skipped"})
		}
		dreq.Webhooks = hooks
	}

	if req.Targets.Discussion && !e.Config.Discussion.Enabled {
		res.Notices = append(res.Notices, Notice{Adapter: "discussion", Message: "discussion posting is disabled; skipped"})
	}

	state := domain.DestinationState{ChannelID: channelID}
	state, err = e.Dest.Chat.Create(ctx, dreq, state)
	if err != nil {
		e.alert(ctx, "Mission for %s failed at chat: %v", carrier.LongName, err)
		if created {
			e.ScheduleTeardown(channelID, e.Config.AbandonedDelay())
		}
		return Result{}, &AdapterError{Adapter: e.Dest.Chat.Name(), Op: "create", Err: err}
	}
	for _, a := range e.optional(req.Targets) {
		next, err := a.Create(ctx, dreq, state)
		switch {
		case err == nil:
			state = next
		case destination.IsPartial(err):
			state = next
			res.Notices = append(res.Notices, notice(a, "create", err))
		default:
			res.Notices = append(res.Notices, notice(a, "create", err))
		}
		if err != nil {
			e.Logger.Warn("destination failed", "adapter", a.Name(), "carrier", carrier.ShortName, "error", err)
			e.alert(ctx, "Mission for %s: %s create failed: %v", carrier.LongName, a.Name(), err)
		}
	}

	m, err := domain.NewMission(e.NewID(), carrier, channelID, params, req.Targets)
	if err != nil {
		return Result{}, err
	}
	m.State = state
	m.CreatedAt = e.Clock.Now().UTC().Format(time.RFC3339)
	if err := e.Repo.InsertMission(ctx, m); err != nil {
		e.abandon(ctx, dreq, state, created)
		if errors.Is(err, repo.ErrConflict) {
			return Result{}, AlreadyOnMissionError{Carrier: carrier.LongName}
		}
		return Result{}, fmt.Errorf("store mission: %w", err)
	}
	e.touchCarrier(ctx, carrier)
	e.event(ctx, events.MissionCreated, "mission", m.ID, req.ActorID, events.EventPayload{
		"carrier": carrier.ShortName, "commodity": params.Commodity, "targets": req.Targets.String(), "channel_id": channelID,
	})
	e.setState(carrier.ID, StateActive)
	e.Logger.Info("mission created", "carrier", carrier.ShortName, "mission", m.ID, "targets", req.Targets.String())
	res.Mission, res.Persisted = m, true
	return res, nil
}

// optional lists the adapters after chat, in publish order.
func (e *Engine) optional(t domain.Targets) []destination.Adapter {
	var out []destination.Adapter
	if t.Discussion && e.Dest.Discussion != nil && e.Config.Discussion.Enabled {
		out = append(out, e.Dest.Discussion)
	}
	if t.Webhooks && e.Dest.Webhooks != nil {
		out = append(out, e.Dest.Webhooks)
	}
	if t.Echo && e.Dest.Echo != nil {
		out = append(out, e.Dest.Echo)
	}
	return out
}

func (e *Engine) ensureIdle(ctx context.Context, c domain.Carrier) error {
	m, err := e.Repo.FindMissionByCarrierID(ctx, c.ID)
	switch {
	case err == nil:
		return AlreadyOnMissionError{Carrier: c.LongName, MissionID: m.ID}
	case errors.Is(err, repo.ErrNotFound):
		return nil
	default:
		return err
	}
}

// ensureImage prompts the issuing user for a background image when the carrier
// has none, and stores the first attachment they send.
func (e *Engine) ensureImage(ctx context.Context, c domain.Carrier, req GenerateRequest) error {
	ok, err := e.Platform.Images.HasValidImage(ctx, c)
	if err != nil {
		return fmt.Errorf("check image for %s: %w", c.ShortName, err)
	}
	if ok {
		return nil
	}
	if req.ReplyChannel == "" {
		return ValidationError{Field: "image", Reason: fmt.Sprintf("%s has no background image", c.LongName)}
	}
	timeout := e.Config.UploadTimeout()
	prompt := fmt.Sprintf("%s has no background image. Upload one in the next %s.", c.LongName, timeout)
	if _, err := e.Platform.Chat.SendMessage(ctx, req.ReplyChannel, platform.Message{Content: prompt}); err != nil {
		return fmt.Errorf("prompt for image: %w", err)
	}
	in, err := e.Platform.Chat.WaitForInput(ctx, req.ReplyChannel, req.ActorID, timeout)
	if errors.Is(err, platform.ErrInputTimeout) {
		return ErrUploadTimeout
	}
	if err != nil {
		return err
	}
	if len(in.Attachments) == 0 {
		return ValidationError{Field: "image", Reason: "reply carried no attachment"}
	}
	return e.Platform.Images.StoreImage(ctx, c, in.Attachments[0])
}

// carrierChannel reuses the carrier's channel in the trade category or creates it.
func (e *Engine) carrierChannel(ctx context.Context, c domain.Carrier) (string, bool, error) {
	category := e.Config.Channels.TradeCategory
	id, err := e.Platform.Chat.FindChannel(ctx, c.ChannelName, category)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, platform.ErrNotFound) {
		return "", false, fmt.Errorf("find channel %s: %w", c.ChannelName, err)
	}
	id, err = e.Platform.Chat.CreateChannel(ctx, c.ChannelName, category)
	if err != nil {
		return "", false, fmt.Errorf("create channel %s: %w", c.ChannelName, err)
	}
	return id, true, nil
}

func (e *Engine) echoOnly(ctx context.Context, c domain.Carrier, params domain.MissionParams, req GenerateRequest) (Result, error) {
	dreq := destination.Request{Carrier: c, Params: params, ActorID: req.ActorID, ReplyChannel: req.ReplyChannel}
	if _, err := e.Dest.Echo.Create(ctx, dreq, domain.DestinationState{}); err != nil {
		return Result{}, &AdapterError{Adapter: e.Dest.Echo.Name(), Op: "create", Err: err}
	}
	e.clearState(c.ID)
	return Result{Mission: domain.Mission{CarrierID: c.ID, CarrierName: c.LongName, MissionParams: params, Targets: req.Targets}}, nil
}

// abandon retires whatever was posted for a mission that could not be stored.
func (e *Engine) abandon(ctx context.Context, req destination.Request, state domain.DestinationState, created bool) {
	reason := destination.Reason{Outcome: destination.OutcomeFailed, Text: "mission could not be saved"}
	for _, a := range e.used(state) {
		if err := a.Retire(ctx, req, state, reason); err != nil {
			e.Logger.Warn("retire abandoned artifact", "adapter", a.Name(), "error", err)
		}
	}
	if created {
		e.ScheduleTeardown(req.ChannelID, e.Config.AbandonedDelay())
	}
}
