package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/chipline/sportsbook/internal/auth"
	"github.com/chipline/sportsbook/internal/domain"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// Envelope is the response shape every API endpoint writes.
type Envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// RespondSuccess writes {success:true, data}.
func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, Envelope{Success: true, Data: data})
}

// RespondMessage writes a successful envelope carrying a message.
func RespondMessage(w http.ResponseWriter, status int, message string, data any) {
	RespondJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// RespondError writes {success:false, code, message}, taking the status from
// a wrapped domain.AppError. Anything else is a 500 with a generic message.
func RespondError(w http.ResponseWriter, err error) {
	if appErr, ok := domain.AsAppError(err); ok {
		message := appErr.Message
		if appErr.Status >= 500 && appErr.Code == "INTERNAL_ERROR" {
			message = "internal server error"
		}
		RespondJSON(w, appErr.Status, Envelope{Code: appErr.Code, Message: message})
		return
	}
	RespondJSON(w, http.StatusInternalServerError, Envelope{
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
	})
}

// DecodeJSON reads and decodes a JSON request body into dst. Bodies over
// 1 MiB are rejected.
func DecodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	return json.Unmarshal(body, dst)
}

// decodeBody decodes into dst and writes a validation error on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := DecodeJSON(r, dst); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return false
	}
	return true
}

// accountID returns the authenticated player's account ID.
func accountID(r *http.Request) (int64, error) {
	id, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		return 0, domain.ErrUnauthorized("no auth context")
	}
	return id, nil
}

// PathID parses a positive int64 URL parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrValidation(fmt.Sprintf("invalid %s: %q", name, raw))
	}
	return id, nil
}
