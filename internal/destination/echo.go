package destination

import (
	"context"
	"fmt"

	"missionline/internal/domain"
	"missionline/internal/platform"
)

// Echo replies with the plain mission text where the command was issued. It keeps
// no state, so there is nothing to retire.
type Echo struct {
	Chat platform.Chat
}

func (a Echo) Name() string { return "echo" }

func (a Echo) Used(domain.DestinationState) bool { return false }

func (a Echo) send(ctx context.Context, req Request) error {
	if req.ReplyChannel == "" {
		return nil
	}
	if _, err := a.Chat.SendMessage(ctx, req.ReplyChannel, platform.Message{Content: EchoText(req.Carrier, req.Params)}); err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	return nil
}

func (a Echo) Create(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error) {
	return state, a.send(ctx, req)
}

func (a Echo) Edit(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error) {
	return state, a.send(ctx, req)
}

func (a Echo) Retire(context.Context, Request, domain.DestinationState, Reason) error { return nil }
