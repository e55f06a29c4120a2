package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/bet/pkg/logger"
)

type createGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Rules   []string `json:"rules"`
}

type addMembersRequest struct {
	Members []string `json:"members"`
}

// GroupsHandler handles group requests.
type GroupsHandler struct {
	engine Engine
	log    logger.Logger
}

// NewGroupsHandler creates a new groups handler.
func NewGroupsHandler(engine Engine, log logger.Logger) *GroupsHandler {
	return &GroupsHandler{engine: engine, log: log}
}

// HandleCreate handles POST /groups/create.
func (h *GroupsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	g, err := h.engine.CreateGroup(r.Context(), req.Name, req.Members, req.Rules)
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.create_group", err)
		return
	}
	writeOK(w, envelope{"group": g})
}

// HandleAddMembers handles POST /groups/{id}/members.
func (h *GroupsHandler) HandleAddMembers(w http.ResponseWriter, r *http.Request) {
	var req addMembersRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	g, err := h.engine.AddMembers(r.Context(), chi.URLParam(r, "id"), req.Members)
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.add_members", err)
		return
	}
	writeOK(w, envelope{"group": g})
}

// HandleList handles GET /groups.
func (h *GroupsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	groups, err := h.engine.Groups(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.list_groups", err)
		return
	}
	writeOK(w, envelope{"groups": groups})
}

// HandleGet handles GET /groups/{id}.
func (h *GroupsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.Group(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.get_group", err)
		return
	}
	writeOK(w, envelope{"group": g})
}
