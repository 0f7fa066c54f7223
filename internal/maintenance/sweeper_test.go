package maintenance_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"missionline/internal/clock"
	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/events"
	"missionline/internal/lock"
	"missionline/internal/maintenance"
	"missionline/internal/migrate"
	"missionline/internal/platform/memory"
	"missionline/internal/repo"
)

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type testEnv struct {
	Sweeper  *maintenance.Sweeper
	Repo     repo.Repo
	Platform *memory.Platform
	Clock    *clock.FakeClock
	Config   *config.Config
	Ctx      context.Context
	engine   func() *engine.Engine
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("guild-1")
	p := memory.New()
	clk := clock.Fake(epoch)
	r := repo.Repo{DB: conn}
	s := &maintenance.Sweeper{Repo: r, Members: p, Chat: p, Config: cfg, Clock: clk, Events: events.Writer{DB: conn, Now: clk.Now}}
	env := testEnv{Sweeper: s, Repo: r, Platform: p, Clock: clk, Config: cfg, Ctx: context.Background()}
	env.engine = func() *engine.Engine {
		e := engine.New(conn, cfg, p.Ports(), lock.New(), clk, nil)
		t.Cleanup(e.Close)
		return e
	}
	return env
}

func (env testEnv) carrier(t *testing.T, short, owner string, idle time.Duration) domain.Carrier {
	t.Helper()
	c, err := domain.NewCarrier("P.T.N. "+short, short, short+"-01", owner, short)
	if err != nil {
		t.Fatalf("new carrier: %v", err)
	}
	if c, err = env.Repo.InsertCarrier(env.Ctx, c); err != nil {
		t.Fatalf("insert carrier: %v", err)
	}
	if err := env.Repo.UpdateLastTrade(env.Ctx, c.ID, epoch.Add(-idle)); err != nil {
		t.Fatalf("last trade: %v", err)
	}
	return c
}

func (env testEnv) seedOwners(t *testing.T) {
	t.Helper()
	env.carrier(t, "alpha", "idle", 40*day)
	env.carrier(t, "bravo", "idle", 30*day)
	env.carrier(t, "charlie", "busy", 40*day)
	env.carrier(t, "delta", "busy", 2*day)
	env.carrier(t, "echo", "gone", 90*day)
	env.Platform.GrantRole("idle", env.Config.Roles.Owner)
	env.Platform.GrantRole("busy", env.Config.Roles.Owner)
	env.Platform.GrantRole("gone", env.Config.Roles.Reserve)
}

func TestSweepDemotesOnlyIdleOwners(t *testing.T) {
	env := newTestEnv(t)
	env.seedOwners(t)

	rep, err := env.Sweeper.Sweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Owners != 3 || !reflect.DeepEqual(rep.Demoted, []string{"idle"}) {
		t.Fatalf("report = %+v", rep)
	}
	if got := env.Platform.Roles("idle"); !reflect.DeepEqual(got, []string{env.Config.Roles.Reserve}) {
		t.Fatalf("idle roles = %v", got)
	}
	if got := env.Platform.Roles("busy"); !reflect.DeepEqual(got, []string{env.Config.Roles.Owner}) {
		t.Fatalf("busy roles = %v", got)
	}
	if dms := env.Platform.DirectMessages("idle"); len(dms) != 1 {
		t.Fatalf("idle DMs = %d", len(dms))
	}
	evts, _ := env.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: events.OwnerDemoted})
	if len(evts) != 1 || evts[0].EntityID != "idle" {
		t.Fatalf("events = %+v", evts)
	}

	// A second sweep finds nothing left to do.
	rep, err = env.Sweeper.Sweep(env.Ctx)
	if err != nil || len(rep.Demoted) != 0 {
		t.Fatalf("second sweep: %+v %v", rep, err)
	}
}

func TestSweepToleratesRefusedDM(t *testing.T) {
	env := newTestEnv(t)
	env.seedOwners(t)
	env.Platform.RefuseDirect("idle")
	rep, err := env.Sweeper.Sweep(env.Ctx)
	if err != nil || len(rep.Demoted) != 1 {
		t.Fatalf("sweep: %+v %v", rep, err)
	}
	copies := env.Platform.Messages(env.Config.Channels.Operator)
	if len(copies) != 1 || !strings.Contains(copies[0].Content, "Could not DM <@idle>") {
		t.Fatalf("operator copies = %+v", copies)
	}
}

func TestSweepCopiesFailedDMToOperator(t *testing.T) {
	env := newTestEnv(t)
	env.seedOwners(t)
	env.Platform.FailNext(memory.OpSendDirect, errors.New("gateway unavailable"))
	if _, err := env.Sweeper.Sweep(env.Ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	copies := env.Platform.Messages(env.Config.Channels.Operator)
	if len(copies) != 1 || !strings.Contains(copies[0].Content, "reserve carrier role") {
		t.Fatalf("operator copies = %+v", copies)
	}
}

func TestRunSweepsOnEachTick(t *testing.T) {
	env := newTestEnv(t)
	env.seedOwners(t)
	ctx, cancel := context.WithCancel(env.Ctx)
	done := make(chan error, 1)
	go func() { done <- env.Sweeper.Run(ctx) }()

	env.Clock.WaitForTimers(1)
	env.Clock.Advance(env.Config.SweepInterval())
	deadline := time.Now().Add(2 * time.Second)
	for len(env.Platform.DirectMessages("idle")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tick did not trigger a sweep")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run returned %v", err)
	}
}

// The inactivity sweep only touches roles and DMs while recovery only touches
// trade channels, so the two may run at the same time.
func TestSweepAndRecoveryRunConcurrently(t *testing.T) {
	env := newTestEnv(t)
	env.seedOwners(t)
	eng := env.engine()
	orphan := env.Platform.Seed("old-run", env.Config.Channels.TradeCategory)

	var (
		wg       sync.WaitGroup
		rep      maintenance.Report
		found    []string
		sweepErr error
		recErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rep, sweepErr = env.Sweeper.Sweep(env.Ctx)
	}()
	go func() {
		defer wg.Done()
		found, recErr = eng.Recover(env.Ctx)
	}()
	wg.Wait()
	if sweepErr != nil || recErr != nil {
		t.Fatalf("sweep=%v recover=%v", sweepErr, recErr)
	}
	if len(rep.Demoted) != 1 || len(found) != 1 || found[0] != orphan {
		t.Fatalf("report=%+v orphans=%v", rep, found)
	}
	env.Clock.Advance(env.Config.AbandonedDelay())
	eng.Wait()
	if env.Platform.HasChannel(orphan) {
		t.Fatal("orphan not removed")
	}
}
