package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish(TypeJob, map[string]string{"job_id": "j1", "state": "RUNNING"})

		select {
		case evt := <-ch:
			if evt.Type != TypeJob {
				t.Errorf("Type = %q, want %q", evt.Type, TypeJob)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["job_id"] != "j1" {
				t.Errorf("payload job_id = %q", payload["job_id"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{TypeSave}})
		defer cancel()

		b.Publish(TypeJob, "x")

		select {
		case evt := <-ch:
			t.Fatalf("unexpected event: %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_removes_subscriber", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		cancel()

		b.Publish(TypeJob, "x")

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("received event after cancel")
			}
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestBusReplay(t *testing.T) {
	t.Run("replay_since_id", func(t *testing.T) {
		b := NewBus(16)
		b.Publish(TypeJob, 1)
		b.Publish(TypeJob, 2)

		all := b.ReplaySince("", Filter{})
		if len(all) != 2 {
			t.Fatalf("replay all = %d events", len(all))
		}

		after := b.ReplaySince(all[0].ID, Filter{})
		if len(after) != 1 || string(after[0].Data) != "2" {
			t.Errorf("replay after first = %+v", after)
		}
	})

	t.Run("ring_overwrites_oldest", func(t *testing.T) {
		b := NewBus(4)
		for i := 0; i < 10; i++ {
			b.Publish(TypeJob, i)
		}
		all := b.ReplaySince("", Filter{})
		if len(all) != 4 {
			t.Fatalf("replay = %d events, want 4", len(all))
		}
		if string(all[0].Data) != "6" {
			t.Errorf("oldest retained = %s, want 6", all[0].Data)
		}
	})

	t.Run("replay_respects_filter", func(t *testing.T) {
		b := NewBus(16)
		b.Publish(TypeJob, 1)
		b.Publish(TypeSave, 2)

		got := b.ReplaySince("", Filter{Types: []string{TypeSave}})
		if len(got) != 1 || got[0].Type != TypeSave {
			t.Errorf("filtered replay = %+v", got)
		}
	})
}
