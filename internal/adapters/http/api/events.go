package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okian/bet/internal/domain/dedupe"
	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/pkg/logger"
	"github.com/okian/bet/pkg/metrics"
)

const (
	// IdempotencyHeader carries a client chosen key for submissions.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response that repeats an earlier submission.
	ReplayedHeader = "Idempotent-Replayed"
)

type submitRequest struct {
	UserID  string `json:"userId"`
	RuleID  string `json:"ruleId"`
	GroupID string `json:"groupId"`
}

type vetoRequest struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId"`
}

// EventsHandler handles event requests.
type EventsHandler struct {
	engine Engine
	dedupe dedupe.Deduper
	log    logger.Logger
}

// NewEventsHandler creates a new events handler. A nil deduper disables
// the Idempotency-Key header.
func NewEventsHandler(engine Engine, d dedupe.Deduper, log logger.Logger) *EventsHandler {
	return &EventsHandler{engine: engine, dedupe: d, log: log}
}

// HandleSubmit handles POST /events/submit.
func (h *EventsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_event"
	ctx := r.Context()
	var req submitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.dedupe != nil {
		fp := dedupe.Fingerprint(req.UserID, req.RuleID, req.GroupID)
		eventID, seen, err := h.dedupe.SeenAndRecord(ctx, key, fp)
		if errors.Is(err, dedupe.ErrKeyReused) {
			writeError(w, http.StatusUnprocessableEntity, "idempotency_key_mismatch", ErrKeyMismatch)
			return
		}
		if seen {
			h.replay(w, r, eventID)
			return
		}
	}

	ev, err := h.engine.SubmitEvent(ctx, req.UserID, req.RuleID, req.GroupID)
	if err != nil {
		if key != "" && h.dedupe != nil {
			h.dedupe.Unrecord(ctx, key)
		}
		writeDomainError(ctx, w, h.log, op, err)
		return
	}
	if key != "" && h.dedupe != nil {
		h.dedupe.Resolve(ctx, key, ev.ID)
	}
	writeOK(w, envelope{"event": ev})
}

// replay answers a repeated Idempotency-Key with the original event.
func (h *EventsHandler) replay(w http.ResponseWriter, r *http.Request, eventID string) {
	if eventID == "" {
		writeError(w, http.StatusConflict, "idempotency_in_flight", ErrInFlight)
		return
	}
	ev, err := h.engine.Event(r.Context(), eventID)
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.replay_event", err)
		return
	}
	metrics.RecordIdempotentReplay()
	w.Header().Set(ReplayedHeader, "true")
	writeOK(w, envelope{"event": ev})
}

// HandleVeto handles POST /events/veto.
func (h *EventsHandler) HandleVeto(w http.ResponseWriter, r *http.Request) {
	var req vetoRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ev, err := h.engine.CastVeto(r.Context(), req.EventID, req.UserID)
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.cast_veto", err)
		return
	}
	writeOK(w, envelope{"event": ev})
}

// HandleList handles GET /events/group/{groupId}.
func (h *EventsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.ListEvents(r.Context(), chi.URLParam(r, "groupId"))
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.list_events", err)
		return
	}
	writeOK(w, envelope{"events": nonNil(events)})
}

// HandleRecent handles GET /events/recent/{groupId}?limit=N.
func (h *EventsHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, errs.Code(errs.ErrValidation), errs.Invalid("limit must be an integer"))
			return
		}
		limit = n
	}
	events, err := h.engine.ListRecentApproved(r.Context(), chi.URLParam(r, "groupId"), limit)
	if err != nil {
		writeDomainError(r.Context(), w, h.log, "api.recent_events", err)
		return
	}
	writeOK(w, envelope{"events": nonNil(events)})
}

func nonNil(events []model.Event) []model.Event {
	if events == nil {
		return []model.Event{}
	}
	return events
}
