package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/google/uuid"
)

// Double-submit antiforgery: the token is set as a cookie and must be echoed
// in the CSRFHeader on state-changing payment requests.
const (
	CSRFHeader = "X-CSRF-TOKEN"
	CSRFCookie = "sb_csrf"
)

// IssueCSRFToken sets a fresh antiforgery cookie and returns its value.
func IssueCSRFToken(w http.ResponseWriter, r *http.Request) string {
	token := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// RequireCSRF rejects requests whose header token does not match the cookie.
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(CSRFHeader)
		cookie, err := r.Cookie(CSRFCookie)
		if err != nil || header == "" || cookie.Value == "" ||
			subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
			RespondError(w, domain.ErrAntiforgery("antiforgery token missing or invalid"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
