package engine

import (
	"context"
	"fmt"

	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/repo"
)

func (e *Engine) AddCarrier(ctx context.Context, c domain.Carrier, actorID string) (domain.Carrier, error) {
	c, err := domain.NewCarrier(c.LongName, c.ShortName, c.Code, c.OwnerID, c.ChannelName)
	if err != nil {
		return domain.Carrier{}, err
	}
	c, err = e.Repo.InsertCarrier(ctx, c)
	if err != nil {
		return domain.Carrier{}, err
	}
	e.event(ctx, events.CarrierAdded, "carrier", c.ShortName, actorID, events.EventPayload{"long_name": c.LongName, "owner_id": c.OwnerID})
	return c, nil
}

func (e *Engine) EditCarrier(ctx context.Context, id int64, u repo.CarrierUpdate, actorID string) (domain.Carrier, error) {
	if err := e.Repo.UpdateCarrier(ctx, id, u); err != nil {
		return domain.Carrier{}, err
	}
	c, err := e.Repo.GetCarrier(ctx, id)
	if err != nil {
		return domain.Carrier{}, err
	}
	e.event(ctx, events.CarrierEdited, "carrier", c.ShortName, actorID, nil)
	return c, nil
}

// DeleteCarrier removes a carrier with no active mission and archives its image.
func (e *Engine) DeleteCarrier(ctx context.Context, id int64, actorID string) error {
	c, err := e.Repo.GetCarrier(ctx, id)
	if err != nil {
		return err
	}
	if err := e.ensureIdle(ctx, c); err != nil {
		return err
	}
	if err := e.Repo.DeleteCarrier(ctx, id); err != nil {
		return err
	}
	if err := e.Platform.Images.Archive(ctx, c); err != nil {
		e.Logger.Warn("archive carrier image", "carrier", c.ShortName, "error", err)
		e.alert(ctx, "Carrier %s deleted but its image was not archived: %v", c.LongName, err)
	}
	e.event(ctx, events.CarrierDeleted, "carrier", c.ShortName, actorID, nil)
	return nil
}

// Missions lists the active missions.
func (e *Engine) Missions(ctx context.Context) ([]domain.Mission, error) {
	ms, err := e.Repo.ListMissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	return ms, nil
}
