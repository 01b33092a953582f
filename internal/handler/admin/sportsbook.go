package admin

import (
	"fmt"
	"net/http"

	"github.com/chipline/sportsbook/internal/auth"
	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/handler"
	"github.com/chipline/sportsbook/internal/service"
	"github.com/chipline/sportsbook/internal/settlement"
)

// SportsbookAdminHandler handles admin event, settlement and account endpoints.
type SportsbookAdminHandler struct {
	svc *service.SportsbookService
}

// NewSportsbookAdminHandler creates a new SportsbookAdminHandler.
func NewSportsbookAdminHandler(svc *service.SportsbookService) *SportsbookAdminHandler {
	return &SportsbookAdminHandler{svc: svc}
}

// CreateEvent handles POST /admin/events.
func (h *SportsbookAdminHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req service.CreateEventRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondSuccess(w, http.StatusCreated, event)
}

// settleBody is the body of POST /admin/events/{id}/settle.
type settleBody struct {
	Outcome       string `json:"outcome"`
	WinningTeamID *int64 `json:"winningTeamId"`
}

// SettleEvent handles POST /admin/events/{id}/settle.
func (h *SportsbookAdminHandler) SettleEvent(w http.ResponseWriter, r *http.Request) {
	id, err := handler.PathID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	var body settleBody
	if err := handler.DecodeJSON(r, &body); err != nil {
		handler.RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	result, err := h.svc.SettleEvent(r.Context(), settlement.SettleRequest{
		EventID:       id,
		Outcome:       body.Outcome,
		WinningTeamID: body.WinningTeamID,
	})
	if err != nil && result == nil {
		handler.RespondError(w, err)
		return
	}

	switch {
	case result.AlreadySettled:
		handler.RespondMessage(w, http.StatusOK, "event already settled", result)
	case err != nil || result.Failed > 0:
		handler.RespondJSON(w, http.StatusInternalServerError, handler.Envelope{
			Code:    "SETTLEMENT_INCOMPLETE",
			Message: fmt.Sprintf("%d of %d bets failed to settle; retry to resume", result.Failed, result.Settled+result.Conflicts+result.Failed),
			Data:    result,
		})
	default:
		handler.RespondMessage(w, http.StatusOK, fmt.Sprintf("settled %d bets", result.Settled), result)
	}
}

// CreditAccount handles POST /admin/accounts/{id}/credit.
func (h *SportsbookAdminHandler) CreditAccount(w http.ResponseWriter, r *http.Request) {
	id, err := handler.PathID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	var body service.CreditRequest
	if err := handler.DecodeJSON(r, &body); err != nil {
		handler.RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	var adminID int64
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		adminID, _ = claims.SubjectID()
	}
	result, err := h.svc.CreditAccount(r.Context(), id, adminID, body)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondSuccess(w, http.StatusOK, map[string]any{
		"transaction": result.Transaction,
		"balance":     result.Account.CreditBalance,
		"idempotent":  result.Idempotent,
	})
}

// Reconcile handles GET /admin/accounts/{id}/reconcile.
func (h *SportsbookAdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := handler.PathID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	result, err := h.svc.Reconcile(r.Context(), id)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondSuccess(w, http.StatusOK, result)
}
