package server

import (
	"context"
	"testing"
	"time"
)

func TestWebhookDispatcherStopsOnCancel(t *testing.T) {
	d := &webhookDispatcher{cursors: make(map[int]int64)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher kept running after cancel")
	}
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	if !all.match("job.assigned") || !all.match("assignment.partial") {
		t.Fatal("empty filter must match everything")
	}
	some := newEventFilter([]string{"assignment.partial", " ", ""})
	if !some.match("assignment.partial") || some.match("job.assigned") {
		t.Fatal("filter must match only listed types")
	}
}
