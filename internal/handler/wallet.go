package handler

import (
	"net/http"

	"github.com/chipline/sportsbook/internal/service"
	"github.com/shopspring/decimal"
)

// WalletHandler handles chip balance endpoints.
type WalletHandler struct {
	svc *service.SportsbookService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(svc *service.SportsbookService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

// balanceResponse is the shape of GET /wallet/balance.
type balanceResponse struct {
	AccountID int64           `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
}

// GetBalance handles GET /wallet/balance.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	account, err := h.svc.Balance(r.Context(), acct)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, balanceResponse{AccountID: account.ID, Balance: account.CreditBalance})
}

// Withdraw handles POST /wallet/withdraw.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req service.WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Withdraw(r.Context(), acct, req)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"transaction": result.Transaction,
		"balance":     result.Account.CreditBalance,
		"idempotent":  result.Idempotent,
	})
}
