// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/bet/internal/domain/dedupe"
	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/internal/domain/types"
	"github.com/okian/bet/pkg/logger"
)

// Engine is the subset of the event engine the handlers call.
type Engine interface {
	SubmitEvent(ctx context.Context, userID, ruleID, groupID string) (model.Event, error)
	CastVeto(ctx context.Context, eventID, voterID string) (model.Event, error)
	ListEvents(ctx context.Context, groupID string) ([]model.Event, error)
	ListRecentApproved(ctx context.Context, groupID string, limit int) ([]model.Event, error)
	Event(ctx context.Context, id string) (model.Event, error)

	CreateGroup(ctx context.Context, name string, members, ruleIDs []string) (model.Group, error)
	AddMembers(ctx context.Context, groupID string, ids []string) (model.Group, error)
	Group(ctx context.Context, id string) (model.Group, error)
	Groups(ctx context.Context) ([]model.Group, error)
}

// Projector serves leaderboard reads.
type Projector interface {
	GetLeaderboard(ctx context.Context, groupID string) ([]types.Entry, error)
	All(ctx context.Context) (map[string][]types.Entry, error)
	Audit(ctx context.Context, groupID string) (types.Audit, error)
}

// Rules is the rule catalog.
type Rules interface {
	Register(ctx context.Context, r model.Rule) error
	List(ctx context.Context) ([]model.Rule, error)
}

// Directory holds user display names.
type Directory interface {
	PutUser(ctx context.Context, u model.User) error
	Users(ctx context.Context) ([]model.User, error)
}

// Dependencies bundles what the handlers need. WS and Docs are optional;
// Docs registers documentation routes on the router.
type Dependencies struct {
	Engine      Engine
	Leaderboard Projector
	Rules       Rules
	Users       Directory
	Dedupe      dedupe.Deduper
	Stats       StatsProvider
	WS          http.Handler
	Docs        func(chi.Router)
	Logger      logger.Logger
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	leaderboardHandler *LeaderboardHandler
	groupsHandler      *GroupsHandler
	directoryHandler   *DirectoryHandler
	ws                 http.Handler
	docs               func(chi.Router)
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("api")
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps.Stats),
		eventsHandler:      NewEventsHandler(deps.Engine, deps.Dedupe, log),
		leaderboardHandler: NewLeaderboardHandler(deps.Leaderboard, log),
		groupsHandler:      NewGroupsHandler(deps.Engine, log),
		directoryHandler:   NewDirectoryHandler(deps.Rules, deps.Users, log),
		ws:                 deps.WS,
		docs:               deps.Docs,
	}
}

// Router returns the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/events", func(r chi.Router) {
		r.Post("/submit", s.eventsHandler.HandleSubmit)
		r.Post("/veto", s.eventsHandler.HandleVeto)
		r.Get("/group/{groupId}", s.eventsHandler.HandleList)
		r.Get("/recent/{groupId}", s.eventsHandler.HandleRecent)
	})
	r.Route("/leaderboard", func(r chi.Router) {
		r.Get("/", s.leaderboardHandler.HandleAll)
		r.Get("/{groupId}", s.leaderboardHandler.HandleGet)
		r.Get("/{groupId}/audit", s.leaderboardHandler.HandleAudit)
	})
	r.Route("/groups", func(r chi.Router) {
		r.Get("/", s.groupsHandler.HandleList)
		r.Post("/create", s.groupsHandler.HandleCreate)
		r.Get("/{id}", s.groupsHandler.HandleGet)
		r.Post("/{id}/members", s.groupsHandler.HandleAddMembers)
	})
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", s.directoryHandler.HandleListRules)
		r.Post("/", s.directoryHandler.HandlePutRule)
	})
	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.directoryHandler.HandleListUsers)
		r.Post("/", s.directoryHandler.HandlePutUser)
	})

	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}
	if s.docs != nil {
		s.docs(r)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route_not_found", errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", errors.New("method not allowed"))
	})
	return r
}

// envelope is the success body; fields are merged next to "success".
type envelope map[string]any

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, body envelope) {
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Success: false, Error: msg, Code: code})
}

// writeDomainError maps an engine or store error to its status.
func writeDomainError(ctx context.Context, w http.ResponseWriter, log logger.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, status, errs.Code(err), errors.New("internal error"))
		return
	}
	writeError(w, status, errs.Code(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}
