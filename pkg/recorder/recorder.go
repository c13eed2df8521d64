package recorder

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pubwiki/wikifarm/pkg/log"
)

// Router builds the event-intake surface: a health probe and an endpoint
// accepting MediaWiki EventBus envelopes (single object or batched array),
// which are logged and acknowledged.
func Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", healthz)
	r.Post("/v1/events", intake)
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func intake(w http.ResponseWriter, r *http.Request) {
	l := log.WithComponent("recorder")

	var body any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		l.Warn().Err(err).Msg("eventbus intake: undecodable body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch v := body.(type) {
	case []any:
		// Some EventGate endpoints batch events as an array.
		l.Info().Int("count", len(v)).Msg("eventbus intake: array")
		for i, item := range v {
			raw, _ := json.Marshal(item)
			l.Info().Int("index", i).RawJSON("event", raw).Msg("eventbus intake: item")
		}
	default:
		raw, _ := json.Marshal(v)
		l.Info().RawJSON("event", raw).Msg("eventbus intake: object")
	}
	w.WriteHeader(http.StatusAccepted)
}
