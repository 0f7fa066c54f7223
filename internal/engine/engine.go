// Package engine coordinates the mission lifecycle: it sequences the channel
// lock, the mission store, the carrier registry and the destination adapters,
// and owns the delayed teardown of mission channels.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"missionline/internal/clock"
	"missionline/internal/commodity"
	"missionline/internal/config"
	"missionline/internal/destination"
	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/lock"
	"missionline/internal/platform"
	"missionline/internal/repo"
)

// State is a carrier's position in the mission lifecycle.
type State string

const (
	StateNone         State = "NONE"
	StatePendingInput State = "PENDING_INPUT"
	StateGenerating   State = "GENERATING"
	StateActive       State = "ACTIVE"
	StateEditing      State = "EDITING"
	StateConcluding   State = "CONCLUDING"
	StateRetired      State = "RETIRED"
)

// Destinations are the adapters a mission can be published through.
type Destinations struct {
	Chat       destination.Adapter
	Discussion destination.Adapter
	Webhooks   destination.Adapter
	Echo       destination.Adapter
}

// Notice reports a non-fatal adapter failure back to the user.
type Notice struct {
	Adapter string `json:"adapter"`
	Message string `json:"message"`
}

type Result struct {
	Mission domain.Mission `json:"mission"`
	// Persisted is false for echo-only missions, which leave no record.
	Persisted bool     `json:"persisted"`
	Notices   []Notice `json:"notices,omitempty"`
}

type Engine struct {
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Platform  platform.Platform
	Lock      *lock.ChannelLock
	Clock     clock.Clock
	Catalogue commodity.Catalogue
	Dest      Destinations
	Logger    *slog.Logger
	NewID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu      sync.Mutex
	states  map[int64]State
	pending map[string]bool
}

// New wires an Engine. The lock is injected so that every coordinator sharing
// mission channels shares one lock.
func New(db *sql.DB, cfg *config.Config, p platform.Platform, l *lock.ChannelLock, clk clock.Clock, logger *slog.Logger) *Engine {
	clk = clock.Or(clk)
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db, Now: clk.Now},
		Config:    cfg,
		Platform:  p,
		Lock:      l,
		Clock:     clk,
		Catalogue: commodity.Default(),
		Logger:    logger,
		NewID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
		states:    map[int64]State{},
		pending:   map[string]bool{},
	}
	e.Dest = Destinations{
		Chat:       destination.Chat{Chat: p.Chat, Images: p.Images, AlertChannel: cfg.AlertChannel, Logger: logger},
		Discussion: destination.Discussion{Site: p.Discussion, Images: p.Images, StoppedLabel: cfg.Discussion.StoppedLabel, Logger: logger},
		Webhooks:   destination.Webhooks{Client: p.Webhooks, Images: p.Images, Logger: logger},
		Echo:       destination.Echo{Chat: p.Chat},
	}
	return e
}

// Close stops pending teardowns from firing and waits for running ones.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until every scheduled teardown has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// State reports where the carrier is in the lifecycle. Carriers with no transient
// state are ACTIVE when the store holds a mission for them.
func (e *Engine) State(ctx context.Context, carrierID int64) (State, error) {
	e.mu.Lock()
	s, ok := e.states[carrierID]
	e.mu.Unlock()
	if ok {
		return s, nil
	}
	_, err := e.Repo.FindMissionByCarrierID(ctx, carrierID)
	switch {
	case err == nil:
		return StateActive, nil
	case errors.Is(err, repo.ErrNotFound):
		return StateNone, nil
	default:
		return "", err
	}
}

func (e *Engine) setState(carrierID int64, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[carrierID] = s
}

func (e *Engine) clearState(carrierID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, carrierID)
}

// clearStateIf drops the carrier's transient state only while it is still s.
func (e *Engine) clearStateIf(carrierID int64, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.states[carrierID] == s {
		delete(e.states, carrierID)
	}
}

func (e *Engine) resolveCarrier(ctx context.Context, term string, field repo.CarrierField) (domain.Carrier, error) {
	c, err := e.Repo.FindCarrier(ctx, term, field)
	var amb repo.AmbiguousError
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, repo.ErrNotFound):
		return c, ValidationError{Field: "carrier", Reason: fmt.Sprintf("no carrier matches %q", term), Err: err}
	case errors.As(err, &amb):
		return c, ValidationError{Field: "carrier", Reason: amb.Error(), Err: err}
	default:
		return c, err
	}
}

// alert posts to the operator channel. Failures are logged only.
func (e *Engine) alert(ctx context.Context, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	e.Logger.Warn("operator alert", "text", text)
	if e.Config.Channels.Operator == "" {
		return
	}
	if _, err := e.Platform.Chat.SendMessage(ctx, e.Config.Channels.Operator, platform.Message{Content: text}); err != nil {
		e.Logger.Error("operator alert undeliverable", "error", err)
	}
}

func (e *Engine) event(ctx context.Context, evtType, kind, id, actor string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, nil, evtType, kind, id, actor, payload); err != nil {
		e.Logger.Error("append event", "type", evtType, "entity", id, "error", err)
	}
}

func (e *Engine) touchCarrier(ctx context.Context, c domain.Carrier) {
	if err := e.Repo.UpdateLastTrade(ctx, c.ID, e.Clock.Now()); err != nil {
		e.Logger.Error("refresh last trade", "carrier", c.ShortName, "error", err)
	}
}

// used lists the adapters holding an artifact in state, in publish order.
func (e *Engine) used(state domain.DestinationState) []destination.Adapter {
	var out []destination.Adapter
	for _, a := range []destination.Adapter{e.Dest.Chat, e.Dest.Discussion, e.Dest.Webhooks} {
		if a != nil && a.Used(state) {
			out = append(out, a)
		}
	}
	return out
}

func notice(a destination.Adapter, op string, err error) Notice {
	return Notice{Adapter: a.Name(), Message: (&AdapterError{Adapter: a.Name(), Op: op, Err: err}).Error()}
}
