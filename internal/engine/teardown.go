package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/iter"

	"missionline/internal/events"
	"missionline/internal/lock"
	"missionline/internal/platform"
	"missionline/internal/repo"
)

// ScheduleTeardown deletes channelID after delay unless a mission is using it by
// then. It returns false when a teardown for the channel is already pending.
func (e *Engine) ScheduleTeardown(channelID string, delay time.Duration) bool {
	return e.scheduleTeardown(channelID, delay, nil)
}

// scheduleTeardown runs done once the scheduled teardown has finished or was
// abandoned at shutdown.
func (e *Engine) scheduleTeardown(channelID string, delay time.Duration, done func()) bool {
	e.mu.Lock()
	if e.pending[channelID] {
		e.mu.Unlock()
		return false
	}
	e.pending[channelID] = true
	e.mu.Unlock()

	fire := e.Clock.After(delay)
	e.event(e.ctx, events.ChannelScheduled, "channel", channelID, "", events.EventPayload{"delay_seconds": int(delay.Seconds())})
	e.wg.Go(func() {
		defer func() {
			e.mu.Lock()
			delete(e.pending, channelID)
			e.mu.Unlock()
			if done != nil {
				done()
			}
		}()
		select {
		case <-fire:
		case <-e.ctx.Done():
			return
		}
		if err := e.Teardown(e.ctx, channelID); err != nil {
			e.Logger.Error("channel teardown", "channel", channelID, "error", err)
		}
	})
	return true
}

// Teardown deletes a mission channel now, under the channel lock. A channel that a
// mission has picked up again is left alone.
func (e *Engine) Teardown(ctx context.Context, channelID string) error {
	release, err := e.Lock.Acquire(ctx, e.Config.LockTimeout())
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			e.alert(ctx, "Channel <#%s> was not removed: timed out waiting for the channel lock.", channelID)
		}
		return &OrphanChannelError{ChannelID: channelID, Err: err}
	}
	defer release()

	m, err := e.Repo.FindMissionByChannel(ctx, channelID)
	if err == nil {
		e.Logger.Info("teardown skipped, channel in use", "channel", channelID, "mission", m.ID)
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("teardown %s: %w", channelID, err)
	}

	err = e.Platform.Chat.DeleteChannel(ctx, channelID)
	switch {
	case err == nil, errors.Is(err, platform.ErrNotFound):
		e.event(ctx, events.ChannelTornDown, "channel", channelID, "", nil)
		e.Logger.Info("channel removed", "channel", channelID)
		return nil
	case errors.Is(err, platform.ErrForbidden):
		e.alert(ctx, "Channel <#%s> could not be removed: permission denied.", channelID)
		return &OrphanChannelError{ChannelID: channelID, Err: err}
	default:
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
}

// Recover finds channels in the trade category with no mission, left behind by an
// interrupted teardown, and schedules each for removal. It returns the orphan IDs.
func (e *Engine) Recover(ctx context.Context) ([]string, error) {
	channels, err := e.Platform.Chat.ListChannels(ctx, e.Config.Channels.TradeCategory)
	if err != nil {
		return nil, fmt.Errorf("list trade channels: %w", err)
	}
	live, err := e.Repo.ListMissionChannelIDs(ctx)
	if err != nil {
		return nil, err
	}
	inUse := make(map[string]bool, len(live))
	for _, id := range live {
		inUse[id] = true
	}
	var orphans []string
	for _, ch := range channels {
		if !inUse[ch.ID] {
			orphans = append(orphans, ch.ID)
		}
	}
	delay := e.Config.AbandonedDelay()
	iter.ForEach(orphans, func(id *string) {
		e.event(ctx, events.ChannelOrphaned, "channel", *id, "", nil)
		e.ScheduleTeardown(*id, delay)
	})
	e.Logger.Info("startup recovery", "channels", len(channels), "orphans", len(orphans))
	return orphans, nil
}
