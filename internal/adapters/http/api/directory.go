package api

import (
	"net/http"
	"strings"

	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/pkg/logger"
)

// DirectoryHandler serves the rule catalog and the user directory.
type DirectoryHandler struct {
	rules Rules
	users Directory
	log   logger.Logger
}

// NewDirectoryHandler creates a new directory handler.
func NewDirectoryHandler(rules Rules, users Directory, log logger.Logger) *DirectoryHandler {
	return &DirectoryHandler{rules: rules, users: users, log: log}
}

// HandleListRules handles GET /rules.
func (h *DirectoryHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.list_rules", err)
		return
	}
	writeOK(w, envelope{"rules": rules})
}

// HandlePutRule handles POST /rules. Existing ids are rejected with 409.
func (h *DirectoryHandler) HandlePutRule(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if err := decode(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.rules.Register(r.Context(), rule); err != nil {
		writeDomainError(r.Context(), w, h.log, "api.put_rule", err)
		return
	}
	writeOK(w, envelope{"rule": rule})
}

// HandleListUsers handles GET /users.
func (h *DirectoryHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Users(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.list_users", err)
		return
	}
	writeOK(w, envelope{"users": users})
}

// HandlePutUser handles POST /users. Posting a known id renames the user.
func (h *DirectoryHandler) HandlePutUser(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := decode(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	u.ID, u.Name = strings.TrimSpace(u.ID), strings.TrimSpace(u.Name)
	switch {
	case u.ID == "":
		err := errs.Invalid("missing id")
		writeError(w, http.StatusBadRequest, errs.Code(err), err)
		return
	case u.Name == "":
		err := errs.Invalid("missing name")
		writeError(w, http.StatusBadRequest, errs.Code(err), err)
		return
	}
	if err := h.users.PutUser(r.Context(), u); err != nil {
		writeDomainError(r.Context(), w, h.log, "api.put_user", err)
		return
	}
	writeOK(w, envelope{"user": u})
}
