package domwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/vitrine/domwatch/internal/pagewatch"
	"github.com/hazyhaar/vitrine/selector"
)

var (
	ErrDuplicateRule = pagewatch.ErrDuplicateRule
	ErrUnknownRule   = pagewatch.ErrUnknownRule
	ErrInvalidRule   = pagewatch.ErrInvalidRule
)

const defaultRecent = 20

// Handler serves the control API of w:
//
//	GET    /healthz
//	GET    /pages
//	GET    /pages/{id}/rules
//	POST   /pages/{id}/rules
//	DELETE /pages/{id}/rules/{name}
//	GET    /pages/{id}/query?selector=
//	GET    /pages/{id}/batches?limit=
//	GET    /pages/{id}/stream          (websocket)
//	GET    /stream                     (websocket, every page)
func Handler(w *Watcher, cfg HTTPConfig) http.Handler {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 64 << 10
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 60
	}
	api := &api{w: w}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(MaxBody(cfg.MaxBody))
	r.Use(TraceID(w.logger))
	r.Use(NewRateLimiter(cfg.RateLimit, time.Minute).Middleware)

	r.Get("/healthz", api.health)
	r.Get("/pages", api.pages)
	r.Get("/stream", api.stream)
	r.Route("/pages/{id}", func(r chi.Router) {
		r.Get("/rules", api.rules)
		r.Post("/rules", api.addRule)
		r.Delete("/rules/{name}", api.removeRule)
		r.Get("/query", api.query)
		r.Get("/batches", api.batches)
		r.Get("/stream", api.stream)
	})
	return r
}

type api struct {
	w *Watcher
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pages": len(a.w.Pages())})
}

func (a *api) pages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.w.Pages())
}

func (a *api) rules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.w.Rules(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if rules == nil {
		rules = []Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *api) addRule(w http.ResponseWriter, r *http.Request) {
	var rule Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.w.AddRule(r.Context(), id, rule); err != nil {
		a.fail(w, r, err)
		return
	}
	GetLogger(r.Context()).Info("domwatch: rule added", "page", id, "rule", rule.Name, "kind", rule.Kind)
	writeJSON(w, http.StatusCreated, rule)
}

func (a *api) removeRule(w http.ResponseWriter, r *http.Request) {
	id, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")
	if err := a.w.RemoveRule(r.Context(), id, name); err != nil {
		a.fail(w, r, err)
		return
	}
	GetLogger(r.Context()).Info("domwatch: rule removed", "page", id, "rule", name)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) query(w http.ResponseWriter, r *http.Request) {
	sel := r.URL.Query().Get("selector")
	if _, err := selector.Parse(sel); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := a.w.Query(r.Context(), chi.URLParam(r, "id"), sel)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"selector": sel, "count": len(events), "events": events})
}

func (a *api) batches(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecent
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	batches, err := a.w.Recent(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

// fail maps watcher errors to status codes.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownPage), errors.Is(err, ErrUnknownRule):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateRule):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRule), errors.Is(err, selector.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoHistory):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		GetLogger(r.Context()).Error("domwatch: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
