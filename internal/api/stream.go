// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/subpipe/internal/events"
	"github.com/ManuGH/subpipe/internal/metrics"
)

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.jobs.Get(jobID); err != nil {
		writeJobError(w, err)
		return
	}
	last, err := lastEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.stream(w, r, jobID, s.bus.Subscribe(jobID, last))
}

func (s *Server) handleGlobalStream(w http.ResponseWriter, r *http.Request) {
	last, err := lastEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.stream(w, r, events.GlobalLane, s.bus.SubscribeGlobal(last))
}

// lastEventID parses the SSE resume position from the reconnect header,
// falling back to the last_event_id query parameter for clients that
// cannot set headers.
func lastEventID(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Last-Event-ID %q", raw)
	}
	return id, nil
}

// stream pumps bus events to the client until it disconnects or the
// topic closes. Heartbeats are emitted per connection so intermediaries
// keep idle streams open.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, jobID string, sub *events.Subscription) {
	defer sub.Cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.AddSSESubscribers(1)
	defer metrics.AddSSESubscribers(-1)

	heartbeat := time.NewTicker(s.cfg.Events.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(w, events.Event{
				Type:    events.TypeHeartbeat,
				JobID:   jobID,
				At:      time.Now().UTC(),
				Payload: map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)},
			})
			flusher.Flush()
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

// writeSSE renders one event as an SSE frame. Out-of-band events carry
// no sequence and therefore no id line, so they never disturb the
// client's resume position.
func writeSSE(w http.ResponseWriter, ev events.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	data, err := json.Marshal(sseBody(ev))
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// sseBody flattens the payload with the envelope fields the schema
// promises in every data body.
func sseBody(ev events.Event) map[string]any {
	body := map[string]any{
		"job_id": ev.JobID,
		"at":     ev.At,
	}
	if ev.Payload == nil {
		return body
	}
	// Payloads are structs or maps; round-trip through JSON to merge
	// their fields into the envelope.
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return body
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		body["payload"] = ev.Payload
		return body
	}
	for k, v := range fields {
		body[k] = v
	}
	return body
}
