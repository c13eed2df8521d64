package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pubwiki/wikifarm/pkg/events"
	"github.com/pubwiki/wikifarm/pkg/log"
)

const keepAliveInterval = 15 * time.Second

type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

// event writes one frame. An empty name emits an unnamed (untagged) event.
func (s *sseWriter) event(name, data string) {
	if name != "" {
		fmt.Fprintf(s.w, "event: %s\n", name)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.f.Flush()
}

func (s *sseWriter) comment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.f.Flush()
}

func (s *sseWriter) errorEvent(message string) {
	payload, _ := json.Marshal(map[string]string{"type": "error", "message": message})
	s.event("error", string(payload))
}

// taskEvents streams a task's progress over SSE. The ordering is the whole
// point: subscribe first, then snapshot the task row. Subscribing before
// the read means a task that terminates between the two shows up either in
// the snapshot or on the subscription — never in neither. The cost is a
// possible duplicate terminal event, which clients treat idempotently.
func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	l := log.WithTask(taskID)
	l.Info().Msg("task events stream start")

	out, ok := newSSEWriter(w)
	if !ok {
		writeError(w, NewError(http.StatusInternalServerError, "internal", "streaming unsupported"))
		return
	}

	sub, err := s.bus.Subscribe(r.Context(), taskID)
	if err != nil {
		l.Error().Err(err).Msg("redis subscribe error")
		out.errorEvent("redis subscribe error")
		return
	}
	defer sub.Close()

	// Terminal snapshot after the subscription is live.
	task, err := s.store.GetTask(r.Context(), taskID)
	if err == nil && task != nil && task.Status.Terminal() {
		evt := events.Status{Status: task.Status}
		if task.WikiID != nil {
			evt.WikiID = *task.WikiID
		}
		if task.Message != nil {
			evt.Message = *task.Message
		}
		payload, _ := events.Marshal(evt)
		l.Info().Str("status", string(task.Status)).Msg("task events synthesized terminal snapshot")
		out.event("status", string(payload))
		return
	}

	// Current-phase snapshot from the last-event cache, when non-terminal.
	if cached, err := s.bus.LastEvent(r.Context(), taskID); err == nil && cached != nil {
		if evt, err := events.Unmarshal(cached); err == nil {
			if p, isProgress := evt.(events.Progress); isProgress && !p.Status.Terminal() {
				l.Info().Msg("task events cached progress snapshot")
				out.event("progress", string(cached))
			}
		}
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			l.Debug().Msg("task events client disconnected")
			return
		case <-keepAlive.C:
			out.comment("keep-alive")
		case msg, open := <-sub.Channel():
			if !open {
				l.Debug().Msg("task events pubsub stream ended")
				return
			}
			evt, err := events.Unmarshal([]byte(msg.Payload))
			if err != nil {
				l.Warn().Str("payload", msg.Payload).Msg("task events unparsed payload")
				out.event("", msg.Payload)
				continue
			}
			out.event(evt.Kind(), msg.Payload)
			if st, isStatus := evt.(events.Status); isStatus && st.Status.Terminal() {
				l.Info().Str("status", string(st.Status)).Msg("task events terminal status, closing")
				return
			}
		}
	}
}
