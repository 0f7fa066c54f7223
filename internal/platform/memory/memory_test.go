package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"missionline/internal/platform"
)

func TestMessagesAndNotFound(t *testing.T) {
	p := New()
	ctx := context.Background()
	id, err := p.SendMessage(ctx, "alerts", platform.Message{Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.EditMessage(ctx, "alerts", id, platform.Message{Content: "edited"}); err != nil {
		t.Fatal(err)
	}
	if m, ok := p.Message("alerts", id); !ok || m.Content != "edited" {
		t.Fatalf("unexpected message %+v", m)
	}
	p.RemoveMessage("alerts", id)
	if err := p.DeleteMessage(ctx, "alerts", id); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFaultInjection(t *testing.T) {
	p := New()
	ctx := context.Background()
	boom := errors.New("boom")
	p.FailNext(OpSubmitPost, boom)
	if _, err := p.SubmitPost(ctx, "t", "img"); !errors.Is(err, boom) {
		t.Fatalf("expected injected fault, got %v", err)
	}
	if _, err := p.SubmitPost(ctx, "t", "img"); err != nil {
		t.Fatalf("fault should fire once: %v", err)
	}
	p.FailAlways(OpDeleteChannel, platform.ErrForbidden)
	id := p.Seed("roci", "trade")
	for i := 0; i < 2; i++ {
		if err := p.DeleteChannel(ctx, id); !errors.Is(err, platform.ErrForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	}
	p.ClearFaults()
	if err := p.DeleteChannel(ctx, id); err != nil {
		t.Fatal(err)
	}
	if p.Calls(OpDeleteChannel) != 3 {
		t.Fatalf("expected 3 calls, got %d", p.Calls(OpDeleteChannel))
	}
}

func TestWaitForInput(t *testing.T) {
	p := New()
	ctx := context.Background()
	if _, err := p.WaitForInput(ctx, "c", "u", 10*time.Millisecond); !errors.Is(err, platform.ErrInputTimeout) {
		t.Fatalf("expected input timeout, got %v", err)
	}
	p.ProvideInput("c", "u", platform.Input{Attachments: []string{"bg.png"}})
	in, err := p.WaitForInput(ctx, "c", "u", time.Second)
	if err != nil || len(in.Attachments) != 1 {
		t.Fatalf("unexpected input %+v %v", in, err)
	}
}

func TestChannelsByCategory(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.Seed("a", "trade")
	p.Seed("b", "general")
	id, _ := p.CreateChannel(ctx, "c", "trade")
	chans, err := p.ListChannels(ctx, "trade")
	if err != nil || len(chans) != 2 {
		t.Fatalf("list: %v %+v", err, chans)
	}
	found, err := p.FindChannel(ctx, "C", "trade")
	if err != nil || found != id {
		t.Fatalf("find: %v %s", err, found)
	}
	if _, err := p.FindChannel(ctx, "b", "trade"); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected not found outside category, got %v", err)
	}
}
