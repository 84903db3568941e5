// Package api serves cache statistics, global configuration and stored
// policies over HTTP, plus Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcules/stepcache/internal/activity"
	"github.com/mcules/stepcache/internal/auth"
	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/engine"
	"github.com/mcules/stepcache/internal/httpx"
	"github.com/mcules/stepcache/internal/registry"
	"github.com/mcules/stepcache/internal/stats"
	"github.com/mcules/stepcache/internal/store"
)

// Registry is the part of registry.Registry the API reads and drives.
type Registry interface {
	GetGlobalStats() stats.Global
	ResetCacheStats()
	SetGlobalConfig(patch map[string]any) error
	GlobalConfig() config.Global
	SummaryByID(id string) (string, bool)
	DetailedSummary() string
	Snapshots() []engine.Snapshot
	Activity() *activity.Log
}

type Server struct {
	Registry Registry
	// Store is optional; policy and history routes are only served with one.
	Store *store.Store
	// Auth is optional; without it mutating routes are open.
	Auth        *auth.Authenticator
	AllowOrigin string
}

// Handler builds the routed handler. Every call registers a fresh
// Prometheus registry, so handlers can be built repeatedly in tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(s.Registry.Snapshots))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	v1.HandleFunc("/summary", s.getSummary).Methods(http.MethodGet)
	v1.HandleFunc("/models/{id}/summary", s.getModelSummary).Methods(http.MethodGet)
	v1.HandleFunc("/config", s.getConfig).Methods(http.MethodGet)
	v1.HandleFunc("/activity", s.getActivity).Methods(http.MethodGet)
	v1.Handle("/stats/reset", s.guard(s.resetStats)).Methods(http.MethodPost)
	v1.Handle("/config", s.guard(s.patchConfig)).Methods(http.MethodPatch)

	if s.Store != nil {
		v1.HandleFunc("/models/{id}/history", s.getHistory).Methods(http.MethodGet)
		v1.HandleFunc("/policies", s.listPolicies).Methods(http.MethodGet)
		v1.Handle("/policies/{name}", s.guard(s.putPolicy)).Methods(http.MethodPut)
		v1.Handle("/policies/{name}", s.guard(s.deletePolicy)).Methods(http.MethodDelete)
	}

	cors := httpx.CORS{
		AllowOrigin:  s.AllowOrigin,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}
	return cors.Wrap(r)
}

func (s *Server) guard(h http.HandlerFunc) http.Handler {
	if s.Auth == nil {
		return h
	}
	return s.Auth.Middleware(h)
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.GetGlobalStats())
}

func (s *Server) getSummary(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, s.Registry.DetailedSummary())
}

func (s *Server) getModelSummary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	out, ok := s.Registry.SummaryByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no cache state for model "+id)
		return
	}
	writeText(w, http.StatusOK, out)
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.GlobalConfig())
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryInt(w, r, "limit", 100)
	if !ok {
		return
	}
	after, ok := queryInt(w, r, "after", 0)
	if !ok {
		return
	}
	events := s.Registry.Activity().Query(activity.Filter{
		Model:    q.Get("model"),
		Type:     activity.EventType(q.Get("type")),
		AfterSeq: uint64(after),
		Limit:    limit,
	})
	if events == nil {
		events = []activity.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) resetStats(w http.ResponseWriter, _ *http.Request) {
	s.Registry.ResetCacheStats()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) patchConfig(w http.ResponseWriter, r *http.Request) {
	patch, ok := decodeObject(w, r)
	if !ok {
		return
	}
	if err := s.Registry.SetGlobalConfig(patch); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Registry.GlobalConfig())
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 100)
	if !ok {
		return
	}
	recs, err := s.Store.ListSnapshots(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []store.SnapshotRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	ps, err := s.Store.ListPolicies(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ps == nil {
		ps = []store.Policy{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) putPolicy(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeObject(w, r)
	if !ok {
		return
	}
	opts, err := config.ParseOptions(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	p := store.Policy{ModelName: mux.Vars(r)["name"], Options: opts}
	if err := s.Store.UpsertPolicy(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	got, _, err := s.Store.GetPolicy(r.Context(), p.ModelName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeletePolicy(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryInt reads a non-negative integer query parameter, writing a 400 when
// it is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object: "+err.Error())
		return nil, false
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, registry.ErrDuplicateCache):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrUnsupportedModel):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithError(err).Error("api: request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeText(w http.ResponseWriter, code int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(strings.TrimRight(s, "\n") + "\n"))
}
