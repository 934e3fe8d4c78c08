package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/events"
)

func streamFor(t *testing.T, bus *events.Bus, target string, lastEventID string) string {
	t.Helper()

	handler := NewEventsHandler(bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.Stream(rr, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after context cancel")
	}
	return rr.Body.String()
}

func TestEvents_ReplayOnConnect(t *testing.T) {
	bus := events.NewBus(16)
	bus.Publish(events.TypeJob, map[string]string{"record_id": "rec-1", "state": "RUNNING"})
	bus.Publish(events.TypeSave, map[string]string{"session_id": "rec-1", "state": "SAVED"})

	body := streamFor(t, bus, "/events", "")

	if !strings.Contains(body, "event: job") {
		t.Errorf("missing job event in replay:\n%s", body)
	}
	if !strings.Contains(body, "event: save") {
		t.Errorf("missing save event in replay:\n%s", body)
	}
	if !strings.Contains(body, ": connected") {
		t.Errorf("missing connected comment:\n%s", body)
	}
}

func TestEvents_TypeFilter(t *testing.T) {
	bus := events.NewBus(16)
	bus.Publish(events.TypeJob, map[string]string{"record_id": "rec-1"})
	bus.Publish(events.TypeBalance, map[string]string{"record_id": "rec-1"})

	body := streamFor(t, bus, "/events?types=balance", "")

	if strings.Contains(body, "event: job") {
		t.Errorf("job event leaked through filter:\n%s", body)
	}
	if !strings.Contains(body, "event: balance") {
		t.Errorf("missing balance event:\n%s", body)
	}
}
