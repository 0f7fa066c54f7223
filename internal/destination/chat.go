package destination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"missionline/internal/domain"
	"missionline/internal/platform"
)

// Chat posts the alert to the trade alerts feed and the mission card to the
// carrier channel. Only the alert is tracked; the card lives and dies with the channel.
type Chat struct {
	Chat   platform.Chat
	Images platform.Images
	// AlertChannel picks the alerts feed for a commodity.
	AlertChannel func(commodity string) string
	Logger       *slog.Logger
}

func (a Chat) Name() string { return "chat" }

func (a Chat) Used(s domain.DestinationState) bool { return s.Chat.Posted() }

func (a Chat) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a Chat) postCard(ctx context.Context, req Request) error {
	image, err := a.Images.Render(ctx, req.Carrier, req.Params, platform.SizeChat)
	if err != nil {
		return fmt.Errorf("render chat image: %w", err)
	}
	if _, err := a.Chat.SendMessage(ctx, req.ChannelID, Card(req.Carrier, req.Params, image)); err != nil {
		return fmt.Errorf("post mission card: %w", err)
	}
	return nil
}

func (a Chat) Create(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error) {
	channel := a.AlertChannel(req.Params.Commodity)
	if err := a.postCard(ctx, req); err != nil {
		return state, err
	}
	id, err := a.Chat.SendMessage(ctx, channel, platform.Message{Content: AlertText(req.Carrier, req.Params, req.ChannelID)})
	if err != nil {
		return state, fmt.Errorf("post alert: %w", err)
	}
	state.Chat = domain.ChatState{ChannelID: channel, MessageID: id}
	return state, nil
}

// Edit rewrites the alert in place. A vanished alert is reposted so the mission
// stays advertised.
func (a Chat) Edit(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error) {
	text := platform.Message{Content: AlertText(req.Carrier, req.Params, req.ChannelID)}
	err := a.Chat.EditMessage(ctx, state.Chat.ChannelID, state.Chat.MessageID, text)
	switch {
	case err == nil:
	case errors.Is(err, platform.ErrNotFound):
		a.logger().Info("chat alert gone, reposting", "carrier", req.Carrier.ShortName, "message", state.Chat.MessageID)
		id, err := a.Chat.SendMessage(ctx, state.Chat.ChannelID, text)
		if err != nil {
			return state, fmt.Errorf("repost alert: %w", err)
		}
		state.Chat.MessageID = id
	default:
		return state, fmt.Errorf("edit alert: %w", err)
	}
	// The alert is live with its current id, so the state must be kept even
	// when the card fails.
	if err := a.postCard(ctx, req); err != nil {
		return state, &PartialError{Adapter: a.Name(), Failed: []error{err}}
	}
	return state, nil
}

func (a Chat) Retire(ctx context.Context, req Request, state domain.DestinationState, reason Reason) error {
	if !state.Chat.Posted() {
		return nil
	}
	err := a.Chat.DeleteMessage(ctx, state.Chat.ChannelID, state.Chat.MessageID)
	if errors.Is(err, platform.ErrNotFound) {
		a.logger().Info("chat alert already deleted", "carrier", req.Carrier.ShortName, "message", state.Chat.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	return nil
}
