// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/patpat/internal/config"
	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/internal/domain/types"
	"github.com/okian/patpat/internal/registry"
)

// ContactQueue accepts contact readings for asynchronous recording.
type ContactQueue interface {
	Enqueue(ctx context.Context, r model.Reading) error
}

// GroupService exposes the active contact groups.
type GroupService interface {
	Views() []types.GroupView
	SetStrength(id, percent int) error
}

// ConfigStore is the key path view of the configuration.
type ConfigStore interface {
	Get(path string) (any, bool)
	Set(path string, value any) error
}

// Server wires HTTP routes for the control API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	contactsHandler *ContactsHandler
	groupsHandler   *GroupsHandler
	configHandler   *ConfigHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(q ContactQueue, groups GroupService, store ConfigStore, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		contactsHandler: NewContactsHandler(q),
		groupsHandler:   NewGroupsHandler(groups),
		configHandler:   NewConfigHandler(store),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/contacts", MetricsMiddleware(s.contactsHandler.HandlePostContacts, "contacts"))
	mux.HandleFunc("/groups", MetricsMiddleware(s.groupsHandler.HandleGetGroups, "groups"))
	mux.HandleFunc("/groups/", MetricsMiddleware(s.groupsHandler.HandlePutStrength, "group_strength"))
	mux.HandleFunc("/config/", MetricsMiddleware(s.configHandler.HandleConfig, "config"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// isNotFound translates upstream not-found errors to 404.
func isNotFound(err error) bool {
	return errors.Is(err, registry.ErrGroupNotFound) || errors.Is(err, config.ErrNotFound)
}
