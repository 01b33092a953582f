package checkout

import "fmt"

// FailureKind classifies why a checkout attempt did not mount.
type FailureKind int

const (
	KindAuthRequired FailureKind = iota + 1
	KindAntiforgery
	KindNonJSON
	KindAPIError
	KindNoClientSecret
	KindCancelled
	KindTimeout
	KindNetwork
)

func (k FailureKind) String() string {
	switch k {
	case KindAuthRequired:
		return "AuthRequired"
	case KindAntiforgery:
		return "Antiforgery"
	case KindNonJSON:
		return "NonJSON"
	case KindAPIError:
		return "APIError"
	case KindNoClientSecret:
		return "NoClientSecret"
	case KindCancelled:
		return "Cancelled"
	case KindTimeout:
		return "Timeout"
	case KindNetwork:
		return "Network"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// reason is the default machine-readable code for a kind.
func (k FailureKind) reason() string {
	switch k {
	case KindAuthRequired:
		return "UNAUTHORIZED"
	case KindAntiforgery:
		return "ANTIFORGERY"
	case KindNonJSON:
		return "NON_JSON"
	case KindAPIError:
		return "API_ERROR"
	case KindNoClientSecret:
		return "NO_CLIENT_SECRET"
	case KindCancelled:
		return "CANCELLED"
	case KindTimeout:
		return "TIMEOUT"
	case KindNetwork:
		return "NETWORK"
	default:
		return "UNKNOWN"
	}
}

// Error is the typed failure returned by the manager and the client.
type Error struct {
	Kind    FailureKind
	Code    string // overrides the kind's reason code, e.g. AUTH_REDIRECT
	Message string
	Status  int // HTTP status, when one was received
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Reason()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Reason returns the machine-readable reason code logged for developers.
func (e *Error) Reason() string {
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.reason()
}

// Sentinels for errors.Is.
var (
	ErrAuthRequired   = &Error{Kind: KindAuthRequired}
	ErrAntiforgery    = &Error{Kind: KindAntiforgery}
	ErrNonJSON        = &Error{Kind: KindNonJSON}
	ErrAPI            = &Error{Kind: KindAPIError}
	ErrNoClientSecret = &Error{Kind: KindNoClientSecret}
	ErrCancelled      = &Error{Kind: KindCancelled}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrNetwork        = &Error{Kind: KindNetwork}
)

func newError(kind FailureKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// AbortReason is the cause attached to a cancelled secret fetch.
type AbortReason string

const (
	AbortNewAttempt  AbortReason = "NEW_ATTEMPT"
	AbortModalClosed AbortReason = "MODAL_CLOSED"
	AbortDisposed    AbortReason = "DISPOSED"
	AbortTimeout     AbortReason = "TIMEOUT"
)

func (r AbortReason) Error() string { return "checkout aborted: " + string(r) }
