package handler

import (
	"net/http"

	"github.com/chipline/sportsbook/internal/service"
)

// PaymentHandler handles chip purchase endpoints.
type PaymentHandler struct {
	svc *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// CSRFToken handles GET /payment/csrf.
func (h *PaymentHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token := IssueCSRFToken(w, r)
	RespondSuccess(w, http.StatusOK, map[string]string{"token": token})
}

// Products handles GET /payment/products.
func (h *PaymentHandler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, products)
}

// CreateCheckoutSession handles POST /payment/create-checkout-session.
func (h *PaymentHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req service.CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.svc.CreateCheckoutSession(r.Context(), acct, req)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, session)
}

// SessionStatus handles GET /payment/session-status?session_id=.
func (h *PaymentHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	status, err := h.svc.SessionStatus(r.Context(), acct, r.URL.Query().Get("session_id"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, status)
}

// Bypass handles POST /payment/bypass.
func (h *PaymentHandler) Bypass(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req service.CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Bypass(r.Context(), acct, req)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, "chips credited", map[string]any{
		"transaction": result.Transaction,
		"balance":     result.Account.CreditBalance,
	})
}

// History handles GET /payment/history.
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	rows, err := h.svc.History(r.Context(), acct)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, rows)
}
