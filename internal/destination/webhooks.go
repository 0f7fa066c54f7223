package destination

import (
	"context"
	"fmt"
	"log/slog"

	"missionline/internal/domain"
	"missionline/internal/platform"
)

// Webhooks posts the mission card to each of the acting user's registered webhooks.
type Webhooks struct {
	Client platform.Webhooks
	Images platform.Images
	Logger *slog.Logger
}

func (a Webhooks) Name() string { return "webhooks" }

func (a Webhooks) Used(s domain.DestinationState) bool { return len(s.Webhooks) > 0 }

func (a Webhooks) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a Webhooks) card(ctx context.Context, req Request, state domain.DestinationState) platform.Message {
	image, err := a.Images.Render(ctx, req.Carrier, req.Params, platform.SizeChat)
	if err != nil {
		a.logger().Warn("webhook card rendered without image", "carrier", req.Carrier.ShortName, "error", err)
		image = ""
	}
	msg := Card(req.Carrier, req.Params, image)
	if state.Discussion.PostURL != "" {
		msg.Embeds[0].URL = state.Discussion.PostURL
	}
	return msg
}

func (a Webhooks) Create(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error) {
	if len(req.Webhooks) == 0 {
		return state, nil
	}
	msg := a.card(ctx, req, state)
	var failed []error
	hooks := make([]domain.WebhookState, 0, len(req.Webhooks))
	for _, reg := range req.Webhooks {
		d, err := a.Client.Post(ctx, reg.URL, msg)
		if err != nil {
			failed = append(failed, fmt.Errorf("webhook %s: %w", reg.Name, err))
			continue
		}
		hooks = append(hooks, domain.WebhookState{URL: reg.URL, Name: reg.Name, MessageID: d.MessageID, JumpURL: d.JumpURL})
	}
	state.Webhooks = hooks
	if len(failed) > 0 {
		return state, &PartialError{Adapter: a.Name(), Failed: failed}
	}
	return state, nil
}

func (a Webhooks) Edit(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error) {
	msg := a.card(ctx, req, state)
	// Attachments cannot be replaced by an edit; the embed carries the update.
	msg.Files = nil
	var failed []error
	for _, h := range state.Webhooks {
		if err := a.Client.Edit(ctx, h.URL, h.MessageID, msg); err != nil {
			failed = append(failed, fmt.Errorf("webhook %s: %w", h.Name, err))
		}
	}
	if len(failed) > 0 {
		return state, &PartialError{Adapter: a.Name(), Failed: failed}
	}
	return state, nil
}

// Retire closes each original message and posts a short notice. Failures are
// logged and reported, never fatal.
func (a Webhooks) Retire(ctx context.Context, req Request, state domain.DestinationState, reason Reason) error {
	var failed []error
	for _, h := range state.Webhooks {
		if err := a.Client.Edit(ctx, h.URL, h.MessageID, ClosedCard(req.Carrier, reason)); err != nil {
			a.logger().Warn("webhook close failed", "webhook", h.Name, "error", err)
			failed = append(failed, fmt.Errorf("webhook %s close: %w", h.Name, err))
		}
		if _, err := a.Client.Post(ctx, h.URL, warning(ClosingText(req.Carrier, reason))); err != nil {
			a.logger().Warn("webhook notice failed", "webhook", h.Name, "error", err)
			failed = append(failed, fmt.Errorf("webhook %s notice: %w", h.Name, err))
		}
	}
	if len(failed) > 0 {
		return &PartialError{Adapter: a.Name(), Failed: failed}
	}
	return nil
}
