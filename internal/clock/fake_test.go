package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnlyWhenDue(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(time.Minute)
	c.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}
	c.Advance(30 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(time.Minute)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	default:
		t.Fatal("did not fire")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending waiters, got %d", c.PendingCount())
	}
}

func TestFakeTickerReschedulesAndStops(t *testing.T) {
	c := Fake(epoch)
	tk := c.NewTicker(time.Hour)
	c.Advance(time.Hour)
	<-tk.C
	c.Advance(time.Hour)
	<-tk.C
	tk.Stop()
	c.Advance(time.Hour)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestWaitForTimersUnblocksOnRegistration(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never fired")
	}
}
