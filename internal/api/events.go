package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/events"
)

// EventsHandler streams bus events over SSE.
type EventsHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsHandler creates the SSE handler.
func NewEventsHandler(bus *events.Bus, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		bus: bus,
		log: log.With().Str("handler", "events").Logger(),
	}
}

// Routes registers the event stream endpoint.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events", h.Stream)
}

// Stream serves a text/event-stream connection. Clients may filter with
// ?types=job,save and resume with a Last-Event-ID header.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	filter := events.Filter{Types: QueryStringList(r, "types")}

	ch, cancel := h.bus.Subscribe(filter)
	defer cancel()

	// Replay events missed since the client last saw one, then write an
	// initial comment so proxies open the stream immediately.
	for _, e := range h.bus.ReplaySince(r.Header.Get("Last-Event-ID"), filter) {
		writeEvent(w, e)
	}
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	h.log.Debug().Strs("types", filter.Types).Msg("sse client connected")

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Msg("sse client disconnected")
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e := <-ch:
			writeEvent(w, e)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}
