package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"missionline/internal/db"
	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/migrate"
	"missionline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func addCarrier(t *testing.T, r repo.Repo, ctx context.Context, long, short, code, owner string) domain.Carrier {
	t.Helper()
	c, err := domain.NewCarrier(long, short, code, owner, short)
	if err != nil {
		t.Fatalf("new carrier: %v", err)
	}
	c, err = r.InsertCarrier(ctx, c)
	if err != nil {
		t.Fatalf("insert carrier: %v", err)
	}
	return c
}

func TestCarrierShortNameUnique(t *testing.T) {
	r, ctx := newTestRepo(t)
	addCarrier(t, r, ctx, "P.T.N. Rocinante", "rocinante", "ABC-123", "u1")
	c, _ := domain.NewCarrier("Other", "ROCINANTE", "XYZ-999", "u2", "other")
	if _, err := r.InsertCarrier(ctx, c); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestFindCarrierExactThenSubstring(t *testing.T) {
	r, ctx := newTestRepo(t)
	roci := addCarrier(t, r, ctx, "P.T.N. Rocinante", "rocinante", "ABC-123", "u1")
	addCarrier(t, r, ctx, "P.T.N. Rocinante II", "rocinante2", "ABC-124", "u1")
	addCarrier(t, r, ctx, "P.T.N. Canterbury", "canterbury", "QQQ-001", "u2")

	got, err := r.FindCarrier(ctx, "Rocinante", repo.FieldShortName)
	if err != nil || got.ID != roci.ID {
		t.Fatalf("exact short name: %v %+v", err, got)
	}
	got, err = r.FindCarrier(ctx, "abc-123", repo.FieldCode)
	if err != nil || got.ID != roci.ID {
		t.Fatalf("exact code: %v %+v", err, got)
	}
	got, err = r.FindCarrier(ctx, "canter", repo.FieldLongName)
	if err != nil || got.ShortName != "canterbury" {
		t.Fatalf("substring: %v %+v", err, got)
	}
	_, err = r.FindCarrier(ctx, "roci", repo.FieldShortName)
	var amb repo.AmbiguousError
	if !errors.As(err, &amb) || len(amb.Matches) != 2 {
		t.Fatalf("expected ambiguous match, got %v", err)
	}
	if _, err := r.FindCarrier(ctx, "nothing", repo.FieldLongName); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	owned, err := r.FindCarriers(ctx, "u1", repo.FieldOwner)
	if err != nil || len(owned) != 2 {
		t.Fatalf("find by owner: %v %d", err, len(owned))
	}
	if _, err := r.FindCarrier(ctx, "x", repo.CarrierField("colour")); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestFindCarriersEscapesWildcards(t *testing.T) {
	r, ctx := newTestRepo(t)
	addCarrier(t, r, ctx, "Fifty Percent", "fifty", "AAA-050", "u1")
	got, err := r.FindCarriers(ctx, "%", repo.FieldLongName)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected literal %% match only, got %d", len(got))
	}
}

func TestUpdateCarrierAndLastTrade(t *testing.T) {
	r, ctx := newTestRepo(t)
	c := addCarrier(t, r, ctx, "P.T.N. Rocinante", "rocinante", "ABC-123", "u1")
	owner := "u9"
	if err := r.UpdateCarrier(ctx, c.ID, repo.CarrierUpdate{OwnerID: &owner}); err != nil {
		t.Fatalf("update: %v", err)
	}
	empty := " "
	if err := r.UpdateCarrier(ctx, c.ID, repo.CarrierUpdate{Code: &empty}); !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := r.UpdateLastTrade(ctx, c.ID, at); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetCarrier(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerID != "u9" || got.LastTrade != at.Unix() {
		t.Fatalf("unexpected carrier %+v", got)
	}
	if err := r.UpdateLastTrade(ctx, 999, at); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func sampleMission(t *testing.T, c domain.Carrier, channel string) domain.Mission {
	t.Helper()
	m, err := domain.NewMission("mission-"+c.ShortName, c, channel, domain.MissionParams{
		Kind: domain.KindLoad, Commodity: "Gold", Station: "X", System: "Y", Profit: 15, Pads: domain.PadsLarge, Demand: 500,
	}, domain.Targets{Chat: true, Discussion: true, Webhooks: true})
	if err != nil {
		t.Fatalf("new mission: %v", err)
	}
	m.State.Chat = domain.ChatState{ChannelID: "alerts", MessageID: "msg-1"}
	m.State.Discussion = domain.DiscussionState{PostID: "p1", PostURL: "https://d/p1", CommentID: "c1", CommentURL: "https://d/c1"}
	m.State.Webhooks = []domain.WebhookState{
		{URL: "https://h/1", Name: "one", MessageID: "w1", JumpURL: "https://j/1"},
		{URL: "https://h/2", Name: "two", MessageID: "w2"},
	}
	return m
}

func TestMissionRoundTripAndUniqueness(t *testing.T) {
	r, ctx := newTestRepo(t)
	c := addCarrier(t, r, ctx, "P.T.N. Rocinante", "rocinante", "ABC-123", "u1")
	m := sampleMission(t, c, "ch-1")
	if err := r.InsertMission(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := m
	dup.ID = "other"
	if err := r.InsertMission(ctx, dup); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := r.FindMissionByCarrier(ctx, c.LongName)
	if err != nil {
		t.Fatal(err)
	}
	if got.State.Chat.MessageID != "msg-1" || got.State.Discussion.CommentURL != "https://d/c1" || len(got.State.Webhooks) != 2 {
		t.Fatalf("state not restored: %+v", got.State)
	}
	if got.State.Webhooks[1].Name != "two" || got.State.ChannelID != "ch-1" {
		t.Fatalf("unexpected webhooks/channel %+v", got.State)
	}
	if !got.Targets.Chat || !got.Targets.Discussion || !got.Targets.Webhooks || got.Targets.Echo {
		t.Fatalf("unexpected targets %+v", got.Targets)
	}
	byChannel, err := r.FindMissionByChannel(ctx, "ch-1")
	if err != nil || byChannel.ID != m.ID {
		t.Fatalf("find by channel: %v", err)
	}
	ids, err := r.ListMissionChannelIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "ch-1" {
		t.Fatalf("channel ids: %v %v", err, ids)
	}
}

func TestMissionUniquenessFollowsCarrierNotName(t *testing.T) {
	r, ctx := newTestRepo(t)
	first := addCarrier(t, r, ctx, "P.T.N. Rocinante", "rocinante", "ABC-123", "u1")
	if err := r.InsertMission(ctx, sampleMission(t, first, "ch-1")); err != nil {
		t.Fatal(err)
	}
	renamed := "P.T.N. Tachi"
	if err := r.UpdateCarrier(ctx, first.ID, repo.CarrierUpdate{LongName: &renamed}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	second := addCarrier(t, r, ctx, "P.T.N. Rocinante", "rocinante2", "XYZ-789", "u2")
	if err := r.InsertMission(ctx, sampleMission(t, second, "ch-2")); err != nil {
		t.Fatalf("carrier that took the old name was refused: %v", err)
	}
	if err := r.DeleteMissionByCarrierID(ctx, second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.FindMissionByCarrierID(ctx, first.ID); err != nil {
		t.Fatalf("first carrier's mission removed: %v", err)
	}
	if err := r.DeleteMissionByCarrierID(ctx, second.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateMissionReplacesWebhooks(t *testing.T) {
	r, ctx := newTestRepo(t)
	c := addCarrier(t, r, ctx, "P.T.N. Rocinante", "rocinante", "ABC-123", "u1")
	m := sampleMission(t, c, "ch-1")
	if err := r.InsertMission(ctx, m); err != nil {
		t.Fatal(err)
	}
	m.Profit = 20
	m.State.Discussion.PostID = "p2"
	m.State.Webhooks = m.State.Webhooks[:1]
	if err := r.UpdateMission(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := r.GetMission(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Profit != 20 || got.State.Discussion.PostID != "p2" || len(got.State.Webhooks) != 1 {
		t.Fatalf("unexpected mission %+v", got)
	}
	missing := m
	missing.ID = "nope"
	if err := r.UpdateMission(ctx, missing); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteMissionAndCarrierCascade(t *testing.T) {
	r, ctx := newTestRepo(t)
	c := addCarrier(t, r, ctx, "P.T.N. Rocinante", "rocinante", "ABC-123", "u1")
	if err := r.InsertMission(ctx, sampleMission(t, c, "ch-1")); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteMission(ctx, c.LongName); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteMission(ctx, c.LongName); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	var hooks int
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM mission_webhooks`).Scan(&hooks); err != nil || hooks != 0 {
		t.Fatalf("webhook rows left: %d %v", hooks, err)
	}
	if err := r.InsertMission(ctx, sampleMission(t, c, "ch-1")); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteCarrier(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.FindMissionByChannel(ctx, "ch-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected mission removed with carrier, got %v", err)
	}
}

func TestCommunityRecordsUniqueness(t *testing.T) {
	r, ctx := newTestRepo(t)
	n, _ := domain.NewNomination("a", "b", "great hauler")
	if err := r.InsertNomination(ctx, n); err != nil {
		t.Fatal(err)
	}
	if err := r.InsertNomination(ctx, n); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected nomination conflict, got %v", err)
	}
	n2, _ := domain.NewNomination("c", "b", "")
	if err := r.InsertNomination(ctx, n2); err != nil {
		t.Fatal(err)
	}
	list, err := r.ListNominations(ctx, "b")
	if err != nil || len(list) != 2 {
		t.Fatalf("list nominations: %v %d", err, len(list))
	}
	if removed, err := r.DeleteNominationsFor(ctx, "b"); err != nil || removed != 2 {
		t.Fatalf("delete nominations: %v %d", err, removed)
	}

	cc, _ := domain.NewCommunityChannel("owner", "chan", "role")
	if err := r.InsertCommunityChannel(ctx, cc); err != nil {
		t.Fatal(err)
	}
	cc2, _ := domain.NewCommunityChannel("owner", "chan2", "role2")
	if err := r.InsertCommunityChannel(ctx, cc2); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected one community channel per owner, got %v", err)
	}

	w, _ := domain.NewWebhookRegistration("owner", "main", "https://example.test/hook")
	if err := r.InsertWebhook(ctx, w); err != nil {
		t.Fatal(err)
	}
	if err := r.InsertWebhook(ctx, w); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected webhook conflict, got %v", err)
	}
	other, _ := domain.NewWebhookRegistration("someone", "main", "https://example.test/other")
	if err := r.InsertWebhook(ctx, other); err != nil {
		t.Fatalf("same name for a different owner should be allowed: %v", err)
	}
	hooks, err := r.ListWebhooks(ctx, "owner")
	if err != nil || len(hooks) != 1 {
		t.Fatalf("list webhooks: %v %d", err, len(hooks))
	}
	if err := r.DeleteWebhook(ctx, "owner", "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAPIKeyLookupByHash(t *testing.T) {
	r, ctx := newTestRepo(t)
	key := repo.APIKey{ID: "k1", ActorID: "ops", Name: "cli", KeyHash: repo.HashAPIKey("secret"), Roles: []string{"admin", "operator"}}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	if err != nil {
		t.Fatal(err)
	}
	if got.ActorID != "ops" || len(got.Roles) != 2 || got.Roles[0] != "admin" {
		t.Fatalf("unexpected key %+v", got)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, key.KeyHash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventsReadBothWays(t *testing.T) {
	r, ctx := newTestRepo(t)
	if id, err := r.LatestEventID(ctx); err != nil || id != 0 {
		t.Fatalf("empty log: %d %v", id, err)
	}
	w := events.Writer{DB: r.DB}
	for _, typ := range []string{events.CarrierAdded, events.MissionCreated, events.MissionConcluded} {
		if err := w.Append(ctx, nil, typ, "mission", "m-1", "", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	latest, err := r.LatestEvents(ctx, repo.EventFilter{EntityKind: "mission", Limit: 2})
	if err != nil || len(latest) != 2 || latest[0].Type != events.MissionConcluded {
		t.Fatalf("latest: %v %+v", err, latest)
	}
	if latest[0].ActorID != "system" {
		t.Fatalf("default actor = %q", latest[0].ActorID)
	}
	after, err := r.EventsAfter(ctx, 10, latest[1].ID-1)
	if err != nil || len(after) != 2 || after[0].Type != events.MissionCreated {
		t.Fatalf("after: %v %+v", err, after)
	}
	if id, _ := r.LatestEventID(ctx); id != latest[0].ID {
		t.Fatalf("latest id = %d", id)
	}
}
