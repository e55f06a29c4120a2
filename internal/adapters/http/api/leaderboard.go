package api

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/okian/bet/internal/domain/types"
	"github.com/okian/bet/pkg/logger"
)

type boardResponse struct {
	GroupID string        `json:"groupId"`
	Scores  []types.Entry `json:"scores"`
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	projector Projector
	log       logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(p Projector, log logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{projector: p, log: log}
}

// HandleGet handles GET /leaderboard/{groupId}.
func (h *LeaderboardHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	entries, err := h.projector.GetLeaderboard(r.Context(), chi.URLParam(r, "groupId"))
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.get_leaderboard", err)
		return
	}
	writeOK(w, envelope{"leaderboard": entries})
}

// HandleAll handles GET /leaderboard, ordered by group id.
func (h *LeaderboardHandler) HandleAll(w http.ResponseWriter, r *http.Request) {
	all, err := h.projector.All(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.all_leaderboards", err)
		return
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]boardResponse, 0, len(ids))
	for _, id := range ids {
		out = append(out, boardResponse{GroupID: id, Scores: all[id]})
	}
	writeOK(w, envelope{"leaderboards": out})
}

// HandleAudit handles GET /leaderboard/{groupId}/audit.
func (h *LeaderboardHandler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := h.projector.Audit(r.Context(), chi.URLParam(r, "groupId"))
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.audit", err)
		return
	}
	mismatches := audit.Mismatches
	if mismatches == nil {
		mismatches = []types.Mismatch{}
	}
	writeOK(w, envelope{
		"groupId":    audit.GroupID,
		"consistent": audit.Consistent,
		"mismatches": mismatches,
	})
}
