package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"ai-voice-turn-client/internal/app"
	"ai-voice-turn-client/internal/service/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// SessionAPI is the part of a voice session the control API drives.
// *session.Session satisfies it.
type SessionAPI interface {
	StartRecording() error
	StopRecording() error
	CancelRecording() error
	Snapshot() (session.Snapshot, error)
}

type errorBody struct {
	Error string `json:"error"`
}

// NewRouter constructs the control HTTP router for the client daemon.
func NewRouter(application *app.Application, sess SessionAPI) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Session routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", func(w http.ResponseWriter, _ *http.Request) {
			snap, err := sess.Snapshot()
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})
		r.Post("/recording/start", command(sess, sess.StartRecording))
		r.Post("/recording/stop", command(sess, sess.StopRecording))
		r.Post("/recording/cancel", command(sess, sess.CancelRecording))
	})

	return r
}

// command runs fn and answers with the resulting snapshot.
func command(sess SessionAPI, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			log.Debug().
				Str("component", "control_api").
				Str("path", r.URL.Path).
				Err(err).
				Msg("Session command rejected")
			writeError(w, err)
			return
		}
		snap, err := sess.Snapshot()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, snap)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyCommit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
