package api

import (
	"testing"

	"vidgenie/internal/entity"
	"vidgenie/internal/service"
)

func TestJobEventHubPublish(t *testing.T) {
	tests := []struct {
		name  string
		event service.JobEvent
		want  int
	}{
		{"同一用户同一客户端", service.JobEvent{ClientID: "tab", UserID: 1, JobID: "a"}, 2},
		{"客户端标识两侧空白", service.JobEvent{ClientID: " tab ", UserID: 1, JobID: "b"}, 2},
		{"其他用户", service.JobEvent{ClientID: "tab", UserID: 2, JobID: "c"}, 0},
		{"未知客户端", service.JobEvent{ClientID: "other", UserID: 1, JobID: "d"}, 0},
		{"缺少客户端标识", service.JobEvent{UserID: 1, JobID: "e"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newJobEventHub()
			first := hub.subscribe("tab", 1, 4)
			second := hub.subscribe("tab", 1, 4)
			if got := hub.publish(tt.event); got != tt.want {
				t.Fatalf("publish() delivered %d, want %d", got, tt.want)
			}
			if tt.want > 0 {
				if event := <-first.events; event.JobID != tt.event.JobID {
					t.Fatalf("unexpected event %#v", event)
				}
				if event := <-second.events; event.JobID != tt.event.JobID {
					t.Fatalf("unexpected event %#v", event)
				}
			}
		})
	}
}

func TestJobEventHubUnsubscribe(t *testing.T) {
	hub := newJobEventHub()
	kept := hub.subscribe("tab", 1, 4)
	gone := hub.subscribe("tab", 1, 4)

	hub.unsubscribe("tab", gone)
	if got := hub.publish(service.JobEvent{ClientID: "tab", UserID: 1, Status: entity.JobStatusQueued}); got != 1 {
		t.Fatalf("expected one delivery after unsubscribe, got %d", got)
	}
	if len(gone.events) != 0 || len(kept.events) != 1 {
		t.Fatalf("unexpected buffers kept=%d gone=%d", len(kept.events), len(gone.events))
	}

	hub.unsubscribe("tab", kept)
	if _, ok := hub.clients["tab"]; ok {
		t.Fatal("empty client entry should be removed")
	}
}

func TestJobEventHubDropsForSlowConsumer(t *testing.T) {
	hub := newJobEventHub()
	sub := hub.subscribe("tab", 1, 1)

	if got := hub.publish(service.JobEvent{ClientID: "tab", UserID: 1, JobID: "a"}); got != 1 {
		t.Fatalf("first publish delivered %d", got)
	}
	if got := hub.publish(service.JobEvent{ClientID: "tab", UserID: 1, JobID: "b"}); got != 0 {
		t.Fatalf("full buffer should drop, delivered %d", got)
	}
	if event := <-sub.events; event.JobID != "a" {
		t.Fatalf("expected the first event to survive, got %#v", event)
	}
}
