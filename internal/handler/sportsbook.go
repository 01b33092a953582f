package handler

import (
	"net/http"

	"github.com/chipline/sportsbook/internal/service"
)

// SportsbookHandler handles event listing and bet placement.
type SportsbookHandler struct {
	svc *service.SportsbookService
}

// NewSportsbookHandler creates a new SportsbookHandler.
func NewSportsbookHandler(svc *service.SportsbookService) *SportsbookHandler {
	return &SportsbookHandler{svc: svc}
}

// ListEvents handles GET /events.
func (h *SportsbookHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}.
func (h *SportsbookHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, event)
}

// PlaceBet handles POST /bets.
func (h *SportsbookHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req service.PlaceBetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.PlaceBet(r.Context(), acct, req)
	if err != nil {
		RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	RespondSuccess(w, status, result)
}

// MyBets handles GET /bets/me.
func (h *SportsbookHandler) MyBets(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	bets, err := h.svc.MyBets(r.Context(), acct)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, bets)
}
