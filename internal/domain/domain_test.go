package domain

import (
	"errors"
	"testing"
)

func TestConstructorsRejectMissingFields(t *testing.T) {
	if _, err := NewCarrier("Long", "short", "", "owner", "chan"); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected missing code, got %v", err)
	}
	c, err := NewCarrier(" Long ", "short", "abc-123", "owner", "chan")
	if err != nil {
		t.Fatal(err)
	}
	if c.LongName != "Long" || c.Code != "ABC-123" {
		t.Fatalf("unexpected carrier %+v", c)
	}
	if _, err := NewWebhookRegistration("owner", "", "https://x"); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected missing name, got %v", err)
	}
	if _, err := NewWebhookRegistration("owner", "main", "ftp://x"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := NewCommunityChannel("owner", "chan", ""); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected missing role, got %v", err)
	}
	if _, err := NewNomination("", "b", ""); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected missing nominator, got %v", err)
	}
	c.ID = 7
	if _, err := NewMission("id", c, "ch", MissionParams{Kind: "haul"}, Targets{}); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
}

func TestParseTargets(t *testing.T) {
	got, err := ParseTargets("chat, discussion,w")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Chat || !got.Discussion || !got.Webhooks || got.Echo {
		t.Fatalf("unexpected targets %+v", got)
	}
	if got.String() != "chat,discussion,webhooks" {
		t.Fatalf("unexpected string %q", got.String())
	}
	if _, err := ParseTargets("carrier-pigeon"); err == nil {
		t.Fatalf("expected unknown target error")
	}
}

func TestTallyNominations(t *testing.T) {
	tally := TallyNominations([]Nomination{
		{NominatorID: "a", NomineeID: "x"},
		{NominatorID: "b", NomineeID: "y"},
		{NominatorID: "c", NomineeID: "y"},
	})
	if len(tally) != 2 || tally[0].NomineeID != "y" || tally[0].Count != 2 {
		t.Fatalf("unexpected tally %+v", tally)
	}
}

func TestDestinationStateCloneIsIndependent(t *testing.T) {
	s := DestinationState{Webhooks: []WebhookState{{URL: "u", MessageID: "1"}}}
	c := s.Clone()
	c.Webhooks[0].MessageID = "2"
	if s.Webhooks[0].MessageID != "1" {
		t.Fatalf("clone shares webhook slice")
	}
}
