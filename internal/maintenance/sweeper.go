// Package maintenance runs the periodic inactivity sweep that moves idle
// carrier owners to the reserve role.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"missionline/internal/clock"
	"missionline/internal/config"
	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/platform"
	"missionline/internal/repo"
)

type Sweeper struct {
	Repo    repo.Repo
	Members platform.Members
	Chat    platform.Chat
	Config  *config.Config
	Clock   clock.Clock
	Events  events.Writer
	Logger  *slog.Logger

	running sync.Mutex
}

// Report summarises one sweep.
type Report struct {
	Owners  int      `json:"owners"`
	Demoted []string `json:"demoted"`
	// Skipped is set when another sweep was still running.
	Skipped bool `json:"skipped,omitempty"`
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// lastActivity is the owner's most recent trade over all their carriers. A carrier
// that never traded counts from when it was added.
func lastActivity(cs []domain.Carrier) time.Time {
	var latest time.Time
	for _, c := range cs {
		at := time.Unix(c.LastTrade, 0)
		if c.LastTrade == 0 {
			if t, err := time.Parse(time.RFC3339, c.CreatedAt); err == nil {
				at = t
			}
		}
		if at.After(latest) {
			latest = at
		}
	}
	return latest
}

// Sweep demotes every owner whose carriers have all been idle past the
// inactivity threshold and who still holds the owner role.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{Skipped: true}, nil
	}
	defer s.running.Unlock()

	carriers, err := s.Repo.ListCarriers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list carriers: %w", err)
	}
	byOwner := map[string][]domain.Carrier{}
	for _, c := range carriers {
		byOwner[c.OwnerID] = append(byOwner[c.OwnerID], c)
	}
	owners := make([]string, 0, len(byOwner))
	for id := range byOwner {
		owners = append(owners, id)
	}
	sort.Strings(owners)

	cutoff := clock.Or(s.Clock).Now().Add(-s.Config.InactivityThreshold())
	rep := Report{Owners: len(owners)}
	var errs []error
	for _, owner := range owners {
		last := lastActivity(byOwner[owner])
		if !last.Before(cutoff) {
			continue
		}
		demoted, err := s.demote(ctx, owner, last)
		if err != nil {
			s.logger().Error("demote owner", "owner", owner, "error", err)
			errs = append(errs, fmt.Errorf("owner %s: %w", owner, err))
			continue
		}
		if demoted {
			rep.Demoted = append(rep.Demoted, owner)
		}
	}
	s.logger().Info("inactivity sweep", "owners", rep.Owners, "demoted", len(rep.Demoted))
	return rep, errors.Join(errs...)
}

func (s *Sweeper) demote(ctx context.Context, owner string, last time.Time) (bool, error) {
	roles := s.Config.Roles
	has, err := s.Members.HasRole(ctx, owner, roles.Owner)
	if err != nil {
		return false, err
	}
	if !has {
		return false, nil
	}
	if err := s.Members.RemoveRole(ctx, owner, roles.Owner); err != nil {
		return false, fmt.Errorf("remove role: %w", err)
	}
	if err := s.Members.AddRole(ctx, owner, roles.Reserve); err != nil {
		return false, fmt.Errorf("grant reserve role: %w", err)
	}
	text := fmt.Sprintf("You have not run a trade mission in %d days, so you have been moved to the reserve carrier role. Run a mission to become active again.",
		s.Config.Maintenance.InactivityDays)
	if err := s.Members.SendDirect(ctx, owner, platform.Message{Content: text}); err != nil {
		s.logger().Info("demotion DM not delivered", "owner", owner, "error", err)
		s.copyToOperator(ctx, fmt.Sprintf("Could not DM <@%s>: %s", owner, text))
	}
	if err := s.Events.Append(ctx, nil, events.OwnerDemoted, "owner", owner, "", events.EventPayload{"last_trade": last.Unix()}); err != nil {
		s.logger().Error("append event", "type", events.OwnerDemoted, "error", err)
	}
	return true, nil
}

// copyToOperator posts a notice that could not be sent by DM to the operator channel.
func (s *Sweeper) copyToOperator(ctx context.Context, text string) {
	channel := s.Config.Channels.Operator
	if s.Chat == nil || channel == "" {
		return
	}
	if _, err := s.Chat.SendMessage(ctx, channel, platform.Message{Content: text}); err != nil {
		s.logger().Error("operator copy", "channel", channel, "error", err)
	}
}

// Run sweeps on every interval tick until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	t := clock.Or(s.Clock).NewTicker(s.Config.SweepInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger().Error("inactivity sweep", "error", err)
			}
		}
	}
}
