package posoffline

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Status summarizes the offline layer for UI badges.
type Status struct {
	Online     bool `json:"online"`
	Pending    int  `json:"pending"`
	Processing int  `json:"processing"`
	Failed     int  `json:"failed"`
	Succeeded  int  `json:"succeeded"`
}

// Status returns the current connectivity and queue counts.
func (m *OfflineManager) Status() Status {
	st := Status{Online: m.IsOnline()}
	for _, a := range m.queue.GetQueue() {
		switch a.Status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusFailed:
			st.Failed++
		case StatusSucceeded:
			st.Succeeded++
		}
	}
	return st
}

// NewStatusHandler exposes the manager over a local HTTP API so the register
// UI can show queue state and let an operator intervene.
func NewStatusHandler(m *OfflineManager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, m.Status())
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeOK(w, m.Queue().GetQueue())
		})
		r.Post("/flush", func(w http.ResponseWriter, r *http.Request) {
			if err := m.Flush(r.Context()); err != nil {
				writeErr(w, err)
				return
			}
			writeOK(w, m.Status())
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			a, err := m.Queue().Get(chi.URLParam(r, "id"))
			if err != nil {
				writeErr(w, err)
				return
			}
			writeOK(w, a)
		})
		r.Post("/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if err := m.Queue().Retry(r.Context(), id); err != nil && !errors.Is(err, ErrNotDurable) {
				writeErr(w, err)
				return
			}
			m.Queue().Trigger()
			a, err := m.Queue().Get(id)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeOK(w, a)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := m.Queue().Remove(r.Context(), chi.URLParam(r, "id")); err != nil && !errors.Is(err, ErrNotDurable) {
				writeErr(w, err)
				return
			}
			writeOK(w, map[string]bool{"removed": true})
		})
	})

	r.Route("/cache", func(r chi.Router) {
		r.Get("/{resource}", func(w http.ResponseWriter, r *http.Request) {
			key := Key(chi.URLParam(r, "resource"), r.URL.Query())
			e, ok := m.Cache().Lookup(r.Context(), key)
			if !ok {
				writeJSON(w, http.StatusNotFound, Result{Error: &APIError{Code: "NOT_CACHED", Message: key}})
				return
			}
			writeOK(w, e)
		})
		r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
			scope := RuntimeScope
			if res := r.URL.Query().Get("resource"); res != "" {
				scope = ResourceScope(res)
			}
			n, err := m.Cache().Clear(r.Context(), scope)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeOK(w, map[string]int{"removed": n})
		})
		r.Post("/preload", func(w http.ResponseWriter, r *http.Request) {
			if err := m.Cache().PreloadCriticalData(r.Context()); err != nil {
				writeJSON(w, http.StatusBadGateway, Result{Error: &APIError{Code: "PRELOAD_INCOMPLETE", Message: err.Error()}})
				return
			}
			writeOK(w, map[string]bool{"preloaded": true})
		})
	})

	return r
}

func writeOK(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Result{Error: &APIError{Code: "ENCODE", Message: err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, ErrActionNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrActionBusy):
		status, code = http.StatusConflict, "ACTION_BUSY"
	case errors.Is(err, ErrLeaseHeld):
		status, code = http.StatusConflict, "LEASE_HELD"
	case errors.Is(err, ErrClosed):
		status, code = http.StatusServiceUnavailable, "CLOSED"
	}
	writeJSON(w, status, Result{Error: &APIError{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
