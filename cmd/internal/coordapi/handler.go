package coordapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"huddle/cmd/internal/coord"
)

// Handler wires the collaborative-session HTTP endpoints to the coordinator.
// Every route except invite validation requires a verified caller identity.
type Handler struct {
	log   *slog.Logger
	cfg   Config
	coord *coord.Coordinator
}

// NewHandler constructs the API handler.
func NewHandler(log *slog.Logger, cfg Config, c *coord.Coordinator) (*Handler, error) {
	if c == nil {
		return nil, errors.New("coordapi: nil coordinator")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, cfg: cfg, coord: c}, nil
}

// Register wires collaboration routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/collab/convert", h.handleConvert)
	mux.HandleFunc("/collab/lock/acquire", h.handleLockAcquire)
	mux.HandleFunc("/collab/lock/release", h.handleLockRelease)
	mux.HandleFunc("/collab/lock/status", h.handleLockStatus)
	mux.HandleFunc("/collab/invites/validate", h.handleInviteValidate)
	mux.HandleFunc("/collab/invites/create", h.handleInviteCreate)
	mux.HandleFunc("/collab/invites/revoke", h.handleInviteRevoke)
	mux.HandleFunc("/collab/join", h.handleJoin)
	mux.HandleFunc("/collab/leave", h.handleLeave)
	mux.HandleFunc("/collab/participants", h.handleParticipants)
	mux.HandleFunc("/collab/participants/remove", h.handleRemove)
	mux.HandleFunc("/collab/transfer", h.handleTransfer)
}

// ---- handlers ----

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req convertRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	res, err := h.coord.Convert(r.Context(), req.ChatID, caller, req.MaxParticipants, req.Title)
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertResponse{
		Session: toSessionResponse(res.Session),
		Owner:   toParticipantResponse(res.Owner),
		Invite:  toInviteResponse(res.Invite),
	})
}

func (h *Handler) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req lockRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	res, err := h.coord.Acquire(r.Context(), req.ChatID, caller)
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Acquired {
		// The lock is held by someone else; surface it as a conflict with
		// the current lease attached so the UI can render the holder.
		status = http.StatusConflict
	}
	writeJSON(w, status, acquireResponse{
		Acquired:  res.Acquired,
		Holder:    res.Holder,
		ExpiresAt: res.ExpiresAt,
		LeaseSecs: int(h.coord.Lease() / time.Second),
	})
}

func (h *Handler) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req lockRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.coord.Release(r.Context(), req.ChatID, caller); err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireGet(w, r)
	if !ok {
		return
	}
	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))

	res, err := h.coord.CanPrompt(r.Context(), chatID, caller)
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lockStatusResponse{
		Status:    string(res.Status),
		Holder:    res.Holder,
		ExpiresAt: res.ExpiresAt,
	})
}

// handleInviteValidate is the only unauthenticated route: a landing page
// must render before the visitor signs in. It is read-only by contract.
func (h *Handler) handleInviteValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))

	sum, valid, err := h.coord.ValidateInvite(r.Context(), code)
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	if !valid {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:           true,
		ChatID:          sum.ChatID,
		Title:           sum.Title,
		AcceptedCount:   sum.AcceptedCount,
		MaxParticipants: sum.MaxParticipants,
		UsesLeft:        sum.UsesLeft,
		ExpiresAt:       sum.ExpiresAt,
	})
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req inviteCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ttl := time.Duration(0)
	if s := strings.TrimSpace(req.TTL); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "ttl must be a positive duration")
			return
		}
		ttl = d
	}
	if ttl > h.cfg.InviteMaxTTL {
		ttl = h.cfg.InviteMaxTTL
	}

	created, err := h.coord.CreateInvite(r.Context(), req.ChatID, caller, coord.CreateInviteInput{
		MaxUses: req.MaxUses,
		TTL:     ttl,
	})
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInviteResponse(created))
}

func (h *Handler) handleInviteRevoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req inviteRevokeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.coord.RevokeInvite(r.Context(), req.ChatID, caller); err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	p, err := h.coord.Join(r.Context(), caller, req.Code)
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{
		ChatID:      p.ChatID,
		Participant: toParticipantResponse(p),
	})
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req leaveRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.coord.Leave(r.Context(), req.ChatID, caller); err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleParticipants(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireGet(w, r)
	if !ok {
		return
	}
	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))

	list, err := h.coord.ListParticipants(r.Context(), chatID, caller)
	if err != nil {
		h.writeCoordError(w, err)
		return
	}
	out := make([]participantResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toParticipantResponse(p))
	}
	writeJSON(w, http.StatusOK, participantsResponse{ChatID: chatID, Participants: out})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req removeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.coord.RemoveParticipant(r.Context(), req.ChatID, caller, req.UserID); err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.coord.Transfer(r.Context(), req.ChatID, caller, req.NewOwnerID); err != nil {
		h.writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ---- plumbing ----

func (h *Handler) requirePost(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return "", false
	}
	return h.requireCaller(w, r)
}

func (h *Handler) requireGet(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return "", false
	}
	return h.requireCaller(w, r)
}

func (h *Handler) requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, err := h.Caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "caller identity required")
		return "", false
	}
	return caller, true
}

// writeCoordError maps the coordinator taxonomy onto HTTP. The reason code
// rides along so clients can branch without parsing messages.
func (h *Handler) writeCoordError(w http.ResponseWriter, err error) {
	code := coord.ReasonOf(err)
	if code == "" {
		code = "internal"
	}

	switch {
	case errors.Is(err, coord.ErrValidation):
		writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, coord.ErrAuth):
		writeError(w, http.StatusForbidden, code, err.Error())
	case errors.Is(err, coord.ErrNotFound):
		writeError(w, http.StatusNotFound, code, err.Error())
	case errors.Is(err, coord.ErrConflict):
		writeError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, coord.ErrState):
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
	case errors.Is(err, coord.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, code, "please retry later")
	default:
		h.log.Error("api.unmapped_error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
