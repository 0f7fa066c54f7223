package engine_test

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
	"missionline/internal/destination"
	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/events"
	"missionline/internal/lock"
	"missionline/internal/migrate"
	"missionline/internal/platform"
	"missionline/internal/platform/memory"
	"missionline/internal/repo"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// overlapRecorder counts lock acquisitions that began while another was open.
type overlapRecorder struct {
	mu       sync.Mutex
	open     bool
	overlaps int
	sections int
}

func (r *overlapRecorder) Acquired(time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		r.overlaps++
	}
	r.open = true
	r.sections++
}

func (r *overlapRecorder) Released(time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
}

type testEnv struct {
	Engine   *engine.Engine
	Platform *memory.Platform
	Clock    *clock.FakeClock
	Locks    *overlapRecorder
	Config   *config.Config
	Carrier  domain.Carrier
	Other    domain.Carrier
	Ctx      context.Context
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
	cfg.Timeouts.LockSeconds = 5
	cfg.Timeouts.UploadSeconds = 1

	p := memory.New()
	rec := &overlapRecorder{}
	clk := clock.Fake(epoch)
	eng := engine.New(conn, cfg, p.Ports(), lock.New(lock.WithObserver(rec)), clk, nil)
	t.Cleanup(eng.Close)

	ctx := context.Background()
	env := testEnv{Engine: eng, Platform: p, Clock: clk, Locks: rec, Config: cfg, Ctx: ctx}
	env.Carrier = env.addCarrier(t, "P.T.N. Hot Pocket", "hotpocket", "H0T-P0K", "owner-1")
	env.Other = env.addCarrier(t, "P.T.N. Cold Brew", "coldbrew", "C0L-D8R", "owner-2")
	return env
}

func (env testEnv) addCarrier(t *testing.T, long, short, code, owner string) domain.Carrier {
	t.Helper()
	c, err := env.Engine.AddCarrier(env.Ctx, domain.Carrier{LongName: long, ShortName: short, Code: code, OwnerID: owner, ChannelName: short}, "admin")
	if err != nil {
		t.Fatalf("add carrier: %v", err)
	}
	env.Platform.SetImage(short, true)
	return c
}

func goldInput() engine.Input {
	return engine.Input{Kind: "load", Commodity: "gold", Station: "Hutton Orbital", System: "Alpha Centauri", Profit: "15k", Pads: "large", Demand: "20k"}
}

func chatOnly() domain.Targets { return domain.Targets{Chat: true} }

func (env testEnv) generate(t *testing.T, carrier string, targets domain.Targets) engine.Result {
	t.Helper()
	res, err := env.Engine.Generate(env.Ctx, engine.GenerateRequest{Carrier: carrier, Input: goldInput(), Targets: targets, ActorID: "owner-1", ReplyChannel: "bot-spam"})
	if err != nil {
		t.Fatalf("generate %s: %v", carrier, err)
	}
	return res
}

func TestGeneratePublishesAndStores(t *testing.T) {
	env := newTestEnv(t)
	reg, _ := domain.NewWebhookRegistration("owner-1", "squadron", "https://hooks.local/a")
	if err := env.Engine.Repo.InsertWebhook(env.Ctx, reg); err != nil {
		t.Fatalf("insert webhook: %v", err)
	}

	res := env.generate(t, "hotpocket", domain.Targets{Chat: true, Discussion: true, Webhooks: true})
	if !res.Persisted || len(res.Notices) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	m, err := env.Engine.Repo.FindMissionByCarrierID(env.Ctx, env.Carrier.ID)
	if err != nil {
		t.Fatalf("find mission: %v", err)
	}
	if m.Commodity != "Gold" || m.Profit != 15 || m.Demand != 20000 || m.Pads != domain.PadsLarge {
		t.Fatalf("params not normalized: %+v", m.MissionParams)
	}
	if !m.State.Chat.Posted() || !m.State.Discussion.Posted() || len(m.State.Webhooks) != 1 {
		t.Fatalf("incomplete destination state: %+v", m.State)
	}
	if !env.Platform.HasChannel(m.ChannelID) {
		t.Fatal("mission channel missing")
	}
	c, _ := env.Engine.Repo.GetCarrier(env.Ctx, env.Carrier.ID)
	if c.LastTrade != epoch.Unix() {
		t.Fatalf("last trade = %d", c.LastTrade)
	}
	if s, _ := env.Engine.State(env.Ctx, env.Carrier.ID); s != engine.StateActive {
		t.Fatalf("state = %s", s)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: events.MissionCreated})
	if err != nil || len(evts) != 1 || evts[0].EntityID != m.ID {
		t.Fatalf("created event: %v %+v", err, evts)
	}
}

func TestGenerateValidationHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name    string
		in      engine.Input
		targets domain.Targets
		carrier string
		field   string
	}{
		{"profit", engine.Input{Kind: "load", Commodity: "gold", Station: "s", System: "x", Profit: "lots", Pads: "L", Demand: "1"}, chatOnly(), "hotpocket", "profit"},
		{"pads", engine.Input{Kind: "load", Commodity: "gold", Station: "s", System: "x", Profit: "1", Pads: "S", Demand: "1"}, chatOnly(), "hotpocket", "pads"},
		{"commodity", engine.Input{Kind: "load", Commodity: "unobtainium", Station: "s", System: "x", Profit: "1", Pads: "L", Demand: "1"}, chatOnly(), "hotpocket", "commodity"},
		{"carrier", goldInput(), chatOnly(), "nosuch", "carrier"},
		{"targets", goldInput(), domain.Targets{Discussion: true}, "hotpocket", "targets"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.Generate(env.Ctx, engine.GenerateRequest{Carrier: tc.carrier, Input: tc.in, Targets: tc.targets, ActorID: "owner-1"})
			var ve engine.ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
	if env.Locks.sections != 0 {
		t.Fatalf("validation took the lock %d times", env.Locks.sections)
	}
	if n := env.Platform.Calls(memory.OpCreateChannel); n != 0 {
		t.Fatalf("created %d channels", n)
	}
}

func TestConcurrentGenerateExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	const n = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Generate(env.Ctx, engine.GenerateRequest{Carrier: "hotpocket", Input: goldInput(), Targets: chatOnly(), ActorID: "owner-1"})
			mu.Lock()
			defer mu.Unlock()
			var ae engine.AlreadyOnMissionError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &ae):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || already != n-1 {
		t.Fatalf("ok=%d already=%d", ok, already)
	}
	ms, err := env.Engine.Missions(env.Ctx)
	if err != nil || len(ms) != 1 {
		t.Fatalf("missions: %v %d", err, len(ms))
	}
	if env.Locks.overlaps != 0 {
		t.Fatalf("lock overlapped %d times", env.Locks.overlaps)
	}
}

func TestChatFailurePersistsNothingAndRemovesNewChannel(t *testing.T) {
	env := newTestEnv(t)
	env.Platform.FailNext(memory.OpSendMessage, errors.New("chat down"))
	_, err := env.Engine.Generate(env.Ctx, engine.GenerateRequest{Carrier: "hotpocket", Input: goldInput(), Targets: domain.Targets{Chat: true, Discussion: true}, ActorID: "owner-1"})
	var ae *engine.AdapterError
	if !errors.As(err, &ae) || ae.Adapter != "chat" {
		t.Fatalf("expected chat adapter error, got %v", err)
	}
	if _, err := env.Engine.Repo.FindMissionByCarrierID(env.Ctx, env.Carrier.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("mission stored after chat failure: %v", err)
	}
	if n := env.Platform.Calls(memory.OpSubmitPost); n != 0 {
		t.Fatalf("discussion ran after chat failure: %d", n)
	}
	if s, _ := env.Engine.State(env.Ctx, env.Carrier.ID); s != engine.StateNone {
		t.Fatalf("state = %s", s)
	}
	chans, _ := env.Platform.ListChannels(env.Ctx, "trade")
	if len(chans) != 1 {
		t.Fatalf("expected the new channel to remain for now, got %d", len(chans))
	}
	env.Clock.Advance(env.Config.AbandonedDelay())
	env.Engine.Wait()
	if env.Platform.HasChannel(chans[0].ID) {
		t.Fatal("abandoned channel not removed")
	}
}

func TestWebhookPartialFailureStillStores(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"a", "b"} {
		reg, _ := domain.NewWebhookRegistration("owner-1", name, "https://hooks.local/"+name)
		if err := env.Engine.Repo.InsertWebhook(env.Ctx, reg); err != nil {
			t.Fatalf("insert webhook: %v", err)
		}
	}
	env.Platform.FailNext(memory.OpWebhookPost, platform.ErrForbidden)
	res := env.generate(t, "hotpocket", domain.Targets{Chat: true, Webhooks: true})
	if len(res.Notices) != 1 || res.Notices[0].Adapter != "webhooks" {
		t.Fatalf("notices = %+v", res.Notices)
	}
	m, _ := env.Engine.Repo.FindMissionByCarrierID(env.Ctx, env.Carrier.ID)
	if len(m.State.Webhooks) != 1 {
		t.Fatalf("stored webhooks = %+v", m.State.Webhooks)
	}
}

func TestEchoOnlyIsNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	res := env.generate(t, "hotpocket", domain.Targets{Echo: true})
	if res.Persisted {
		t.Fatal("echo-only mission persisted")
	}
	if msgs := env.Platform.Messages("bot-spam"); len(msgs) != 1 {
		t.Fatalf("echo messages = %d", len(msgs))
	}
	if n := env.Platform.Calls(memory.OpCreateChannel); n != 0 {
		t.Fatalf("echo created %d channels", n)
	}
}

func TestImageUploadPrompt(t *testing.T) {
	env := newTestEnv(t)
	env.Platform.SetImage("hotpocket", false)
	env.Platform.ProvideInput("bot-spam", "owner-1", platform.Input{Attachments: []string{"upload/bg.png"}})
	env.generate(t, "hotpocket", chatOnly())
	if ok, _ := env.Platform.HasValidImage(env.Ctx, env.Carrier); !ok {
		t.Fatal("uploaded image not stored")
	}
}

func TestImageUploadTimeoutCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.Platform.SetImage("hotpocket", false)
	_, err := env.Engine.Generate(env.Ctx, engine.GenerateRequest{Carrier: "hotpocket", Input: goldInput(), Targets: chatOnly(), ActorID: "owner-1", ReplyChannel: "bot-spam"})
	if !errors.Is(err, engine.ErrUploadTimeout) {
		t.Fatalf("expected upload timeout, got %v", err)
	}
	if n := env.Platform.Calls(memory.OpCreateChannel); n != 0 {
		t.Fatalf("created %d channels", n)
	}
	if env.Locks.sections != 0 {
		t.Fatal("lock taken before image was available")
	}
	if s, _ := env.Engine.State(env.Ctx, env.Carrier.ID); s != engine.StateNone {
		t.Fatalf("state = %s", s)
	}
}

func TestEditUpdatesEachAdapterIndependently(t *testing.T) {
	env := newTestEnv(t)
	created := env.generate(t, "hotpocket", domain.Targets{Chat: true, Discussion: true})
	env.Platform.FailNext(memory.OpMarkSensitive, errors.New("rate limited"))

	res, err := env.Engine.Edit(env.Ctx, engine.EditRequest{Carrier: "hotpocket", Input: engine.Input{Profit: "18"}, ActorID: "owner-1"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(res.Notices) != 1 || res.Notices[0].Adapter != "discussion" {
		t.Fatalf("notices = %+v", res.Notices)
	}
	m, _ := env.Engine.Repo.FindMissionByCarrierID(env.Ctx, env.Carrier.ID)
	if m.Profit != 18 {
		t.Fatalf("profit = %v", m.Profit)
	}
	if m.State.Discussion != created.Mission.State.Discussion {
		t.Fatal("failed discussion edit should keep old identifiers")
	}
	alert, _ := env.Platform.Message(m.State.Chat.ChannelID, m.State.Chat.MessageID)
	if !strings.Contains(alert.Content, "18k/unit") {
		t.Fatalf("alert not edited: %q", alert.Content)
	}
}

func TestEditAfterRepostedAlertStillRetiresIt(t *testing.T) {
	env := newTestEnv(t)
	res := env.generate(t, "hotpocket", chatOnly())
	alerts := res.Mission.State.Chat.ChannelID
	env.Platform.RemoveMessage(alerts, res.Mission.State.Chat.MessageID)
	env.Platform.FailNext(memory.OpRender, errors.New("renderer down"))

	out, err := env.Engine.Edit(env.Ctx, engine.EditRequest{Carrier: "hotpocket", Input: engine.Input{Profit: "20"}, ActorID: "owner-1"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(out.Notices) != 1 || out.Notices[0].Adapter != "chat" {
		t.Fatalf("notices = %+v", out.Notices)
	}
	m, _ := env.Engine.Repo.FindMissionByCarrierID(env.Ctx, env.Carrier.ID)
	if m.State.Chat.MessageID == res.Mission.State.Chat.MessageID {
		t.Fatal("store kept the deleted alert id")
	}
	if n := len(env.Platform.Messages(alerts)); n != 1 {
		t.Fatalf("live alerts = %d", n)
	}

	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", ActorID: "owner-1"}); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if n := len(env.Platform.Messages(alerts)); n != 0 {
		t.Fatalf("alerts left after conclude = %d", n)
	}
}

func TestRestrictedCommodityEditLeavesRecordUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.generate(t, "hotpocket", domain.Targets{Chat: true, Discussion: true})
	before, err := env.Engine.Repo.FindMissionByCarrierID(env.Ctx, env.Carrier.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	edits := env.Platform.Calls(memory.OpEditMessage)

	_, err = env.Engine.Edit(env.Ctx, engine.EditRequest{Carrier: "hotpocket", Input: engine.Input{Commodity: "wine", Profit: "40"}, ActorID: "owner-1"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "commodity" {
		t.Fatalf("expected commodity validation error, got %v", err)
	}
	after, _ := env.Engine.Repo.FindMissionByCarrierID(env.Ctx, env.Carrier.ID)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("record changed:\n%+v\n%+v", before, after)
	}
	if env.Platform.Calls(memory.OpEditMessage) != edits || env.Platform.Calls(memory.OpSubmitPost) != 1 {
		t.Fatal("adapters ran for a rejected edit")
	}
}

func TestRetireToleratesManuallyDeletedAlert(t *testing.T) {
	env := newTestEnv(t)
	res := env.generate(t, "hotpocket", chatOnly())
	env.Platform.RemoveMessage(res.Mission.State.Chat.ChannelID, res.Mission.State.Chat.MessageID)

	out, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", ActorID: "owner-1"})
	if err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if len(out.Notices) != 0 {
		t.Fatalf("notices = %+v", out.Notices)
	}
	if _, err := env.Engine.Repo.FindMissionByCarrierID(env.Ctx, env.Carrier.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("mission not removed: %v", err)
	}
	if s, _ := env.Engine.State(env.Ctx, env.Carrier.ID); s != engine.StateRetired {
		t.Fatalf("state = %s", s)
	}
	env.Clock.Advance(env.Config.CompletedDelay())
	env.Engine.Wait()
	if s, _ := env.Engine.State(env.Ctx, env.Carrier.ID); s != engine.StateNone {
		t.Fatalf("state after teardown = %s", s)
	}
}

func TestConcludeRetiresEveryArtifact(t *testing.T) {
	env := newTestEnv(t)
	reg, _ := domain.NewWebhookRegistration("owner-1", "squadron", "https://hooks.local/a")
	_ = env.Engine.Repo.InsertWebhook(env.Ctx, reg)
	res := env.generate(t, "hotpocket", domain.Targets{Chat: true, Discussion: true, Webhooks: true})
	st := res.Mission.State

	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", Outcome: destination.OutcomeFailed, Reason: "tick came early", ActorID: "owner-1"}); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if _, ok := env.Platform.Message(st.Chat.ChannelID, st.Chat.MessageID); ok {
		t.Fatal("chat alert not deleted")
	}
	post, _ := env.Platform.PostRecord(st.Discussion.PostID)
	if len(post.Labels) != 1 || post.Labels[0] != "stopped" {
		t.Fatalf("post labels = %v", post.Labels)
	}
	if n := env.Platform.WebhookMessageCount("https://hooks.local/a"); n != 2 {
		t.Fatalf("webhook messages = %d", n)
	}
}

func TestConcludeNotifiesOwner(t *testing.T) {
	env := newTestEnv(t)
	env.generate(t, "hotpocket", chatOnly())
	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", ActorID: "mod-1"}); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if dms := env.Platform.DirectMessages("owner-1"); len(dms) != 1 {
		t.Fatalf("owner DMs = %d", len(dms))
	}

	env.Platform.RefuseDirect("owner-2")
	if _, err := env.Engine.Generate(env.Ctx, engine.GenerateRequest{Carrier: "coldbrew", Input: goldInput(), Targets: chatOnly(), ActorID: "owner-2"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "coldbrew", ActorID: "mod-1"}); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	var fallback bool
	for _, m := range env.Platform.Messages("bot-spam") {
		if strings.Contains(m.Content, "Could not DM <@owner-2>") {
			fallback = true
		}
	}
	if !fallback {
		t.Fatal("refused DM not copied to the operator channel")
	}
}

func TestConcludeWithoutMission(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", ActorID: "owner-1"}); !errors.Is(err, engine.ErrNoMission) {
		t.Fatalf("expected ErrNoMission, got %v", err)
	}
}

func TestTeardownWaitsForCompletedDelay(t *testing.T) {
	env := newTestEnv(t)
	res := env.generate(t, "hotpocket", chatOnly())
	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", ActorID: "owner-1"}); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if env.Engine.ScheduleTeardown(res.Mission.ChannelID, time.Second) {
		t.Fatal("duplicate teardown scheduled")
	}
	env.Clock.Advance(env.Config.AbandonedDelay())
	if !env.Platform.HasChannel(res.Mission.ChannelID) {
		t.Fatal("channel removed before the completed delay")
	}
	env.Clock.Advance(env.Config.CompletedDelay() - env.Config.AbandonedDelay())
	env.Engine.Wait()
	if env.Platform.HasChannel(res.Mission.ChannelID) {
		t.Fatal("channel not removed")
	}
	evts, _ := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: events.ChannelTornDown})
	if len(evts) != 1 {
		t.Fatalf("teardown events = %d", len(evts))
	}
}

func TestFailedMissionUsesCompletedDelay(t *testing.T) {
	env := newTestEnv(t)
	res := env.generate(t, "hotpocket", chatOnly())
	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", Outcome: destination.OutcomeFailed, Reason: "market crashed", ActorID: "owner-1"}); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	env.Clock.Advance(env.Config.AbandonedDelay())
	if !env.Platform.HasChannel(res.Mission.ChannelID) {
		t.Fatal("failed mission channel removed after the abandoned delay")
	}
	env.Clock.Advance(env.Config.CompletedDelay() - env.Config.AbandonedDelay())
	env.Engine.Wait()
	if env.Platform.HasChannel(res.Mission.ChannelID) {
		t.Fatal("channel not removed")
	}
}

func TestConcludeCopiesAnyUndeliveredDM(t *testing.T) {
	env := newTestEnv(t)
	env.generate(t, "hotpocket", chatOnly())
	env.Platform.FailNext(memory.OpSendDirect, errors.New("gateway unavailable"))
	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", ActorID: "mod-1"}); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	var copied bool
	for _, m := range env.Platform.Messages(env.Config.Channels.Operator) {
		if strings.Contains(m.Content, "Could not DM <@owner-1>") {
			copied = true
		}
	}
	if !copied {
		t.Fatal("failed DM not copied to the operator channel")
	}
}

func TestEditAfterConcludeKeepsRetiredState(t *testing.T) {
	env := newTestEnv(t)
	env.generate(t, "hotpocket", chatOnly())
	if _, err := env.Engine.Conclude(env.Ctx, engine.ConcludeRequest{Carrier: "hotpocket", ActorID: "owner-1"}); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if _, err := env.Engine.Edit(env.Ctx, engine.EditRequest{Carrier: "hotpocket", Input: engine.Input{Profit: "30"}, ActorID: "owner-1"}); !errors.Is(err, engine.ErrNoMission) {
		t.Fatalf("edit after conclude: %v", err)
	}
	if s, _ := env.Engine.State(env.Ctx, env.Carrier.ID); s != engine.StateRetired {
		t.Fatalf("state = %s", s)
	}
}

func TestTeardownReportsForbiddenAndLockTimeout(t *testing.T) {
	env := newTestEnv(t)
	id := env.Platform.Seed("stale", "trade")

	env.Platform.FailNext(memory.OpDeleteChannel, platform.ErrForbidden)
	err := env.Engine.Teardown(env.Ctx, id)
	var oe *engine.OrphanChannelError
	if !errors.As(err, &oe) || !errors.Is(err, platform.ErrForbidden) {
		t.Fatalf("expected forbidden orphan error, got %v", err)
	}

	env.Config.Timeouts.LockSeconds = 1
	release, err := env.Engine.Lock.Acquire(env.Ctx, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()
	err = env.Engine.Teardown(env.Ctx, id)
	if !errors.As(err, &oe) || !errors.Is(err, lock.ErrLockTimeout) {
		t.Fatalf("expected lock timeout orphan error, got %v", err)
	}
	if !env.Platform.HasChannel(id) {
		t.Fatal("channel removed without the lock")
	}
	if n := len(env.Platform.Messages("bot-spam")); n != 2 {
		t.Fatalf("operator alerts = %d", n)
	}
}

func TestRecoverSchedulesOnlyOrphans(t *testing.T) {
	env := newTestEnv(t)
	live := env.generate(t, "coldbrew", chatOnly())
	reused := env.Platform.Seed("hotpocket", "trade")
	stale := []string{env.Platform.Seed("old-a", "trade"), env.Platform.Seed("old-b", "trade")}
	general := env.Platform.Seed("general", "lounge")

	orphans, err := env.Engine.Recover(env.Ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	want := map[string]bool{reused: true, stale[0]: true, stale[1]: true}
	if len(orphans) != 3 {
		t.Fatalf("orphans = %v", orphans)
	}
	for _, id := range orphans {
		if !want[id] {
			t.Fatalf("unexpected orphan %s", id)
		}
	}

	// A new mission claims one of the orphaned channels before the teardown fires.
	fresh := env.generate(t, "hotpocket", chatOnly())
	if fresh.Mission.ChannelID != reused {
		t.Fatalf("mission did not reuse channel: %s", fresh.Mission.ChannelID)
	}
	env.Clock.Advance(env.Config.AbandonedDelay())
	env.Engine.Wait()

	for _, id := range stale {
		if env.Platform.HasChannel(id) {
			t.Fatalf("stale channel %s kept", id)
		}
	}
	for _, id := range []string{reused, live.Mission.ChannelID, general} {
		if !env.Platform.HasChannel(id) {
			t.Fatalf("channel %s removed", id)
		}
	}
	if env.Locks.overlaps != 0 {
		t.Fatalf("lock overlapped %d times", env.Locks.overlaps)
	}
}

func TestDeleteCarrierArchivesImage(t *testing.T) {
	env := newTestEnv(t)
	env.generate(t, "hotpocket", chatOnly())
	var ae engine.AlreadyOnMissionError
	if err := env.Engine.DeleteCarrier(env.Ctx, env.Carrier.ID, "admin"); !errors.As(err, &ae) {
		t.Fatalf("expected active mission refusal, got %v", err)
	}
	if err := env.Engine.DeleteCarrier(env.Ctx, env.Other.ID, "admin"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !env.Platform.Archived("coldbrew") {
		t.Fatal("image not archived")
	}
}
