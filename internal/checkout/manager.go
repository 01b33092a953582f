// Package checkout drives a hosted embedded payment widget for one purchase
// flow at a time. Each Open supersedes the previous attempt: its secret fetch
// is aborted and any result it produces is discarded by run ID.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSecretTimeout bounds a single session-creation call.
const DefaultSecretTimeout = 20 * time.Second

// RetryMessage is the generic prompt shown to the user on any failure.
const RetryMessage = "We could not start checkout. Please try again."

// State of the manager's current purchase flow.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateAwaitingSecret
	StateMounted
	StateClosing
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOpening:
		return "Opening"
	case StateAwaitingSecret:
		return "AwaitingSecret"
	case StateMounted:
		return "Mounted"
	case StateClosing:
		return "Closing"
	case StateCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SessionCreator creates a provider checkout session and returns its client secret.
type SessionCreator interface {
	CreateSession(ctx context.Context, productID int64) (string, error)
}

// SecretFunc is handed to the provider, which may call it more than once.
type SecretFunc func(ctx context.Context) (string, error)

// Provider initialises the hosted embedded checkout.
type Provider interface {
	InitEmbedded(ctx context.Context, fetch SecretFunc) (Widget, error)
}

// Widget is a hosted checkout instance.
type Widget interface {
	Mount(ctx context.Context) error
	Unmount(ctx context.Context) error
}

// View is the UI surface the manager drives.
type View interface {
	ShowModal()
	HideModal()
	ShowLoading()
	HideLoading()
	ClearContainer()
	Alert(msg string)
}

// ManagerDeps are the collaborators of a Manager.
type ManagerDeps struct {
	Sessions      SessionCreator
	Provider      Provider
	View          View
	Logger        *slog.Logger
	SecretTimeout time.Duration
}

// abortHandle cancels one in-flight secret fetch.
type abortHandle struct {
	cancel context.CancelCauseFunc
}

// attempt is one Open call. ended records why it was superseded.
type attempt struct {
	run   uint64
	ended AbortReason
}

// uiState is what the view should display.
type uiState struct {
	modal   bool
	loading bool
}

// Manager owns at most one in-flight checkout attempt.
type Manager struct {
	sessions SessionCreator
	provider Provider
	view     View
	logger   *slog.Logger
	timeout  time.Duration

	mu       sync.Mutex
	runID    uint64
	cur      *attempt
	state    State
	live     map[*abortHandle]struct{}
	widget   Widget
	disposed bool

	// want is written by whichever attempt owns the UI. shown is what the
	// view last received; only the rendering goroutine advances it.
	want      uiState
	shown     uiState
	rendering bool
}

// NewManager creates a manager in the Idle state.
func NewManager(deps ManagerDeps) *Manager {
	timeout := deps.SecretTimeout
	if timeout <= 0 {
		timeout = DefaultSecretTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: deps.Sessions,
		provider: deps.Provider,
		view:     deps.View,
		logger:   logger,
		timeout:  timeout,
		live:     make(map[*abortHandle]struct{}),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RunID returns the current run identifier.
func (m *Manager) RunID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// LiveAborts returns the number of secret fetches that have not been aborted
// or finished. It never exceeds one.
func (m *Manager) LiveAborts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Open starts a checkout for productID, superseding any previous attempt.
// A superseded call returns an error matching ErrCancelled whose cause is the
// AbortReason that ended it, and leaves the UI to whoever superseded it.
func (m *Manager) Open(ctx context.Context, productID int64) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return newError(KindCancelled, "checkout manager disposed", AbortDisposed)
	}
	a := m.beginLocked(AbortNewAttempt)
	prev := m.widget
	m.widget = nil
	m.state = StateOpening
	m.want = uiState{modal: true, loading: true}
	m.mu.Unlock()

	if prev != nil {
		if err := prev.Unmount(ctx); err != nil {
			m.logger.Warn("unmount previous checkout failed", "run_id", a.run, "error", err)
		}
	}
	m.render()
	if !m.current(a) {
		return m.stale(a)
	}

	widget, err := m.provider.InitEmbedded(ctx, m.secretFunc(a, productID))
	if err != nil {
		return m.fail(ctx, a, productID, widget, err)
	}
	if !m.current(a) {
		m.release(ctx, a, widget)
		return m.stale(a)
	}

	if err := widget.Mount(ctx); err != nil {
		return m.fail(ctx, a, productID, widget, err)
	}

	m.mu.Lock()
	if !m.currentLocked(a) {
		m.mu.Unlock()
		// Closed while mounting: the close path never saw this widget.
		m.release(ctx, a, widget)
		return m.stale(a)
	}
	m.widget = widget
	m.state = StateMounted
	m.want.loading = false
	m.mu.Unlock()

	m.render()
	m.logger.Info("checkout mounted", "run_id", a.run, "product_id", productID)
	return nil
}

// secretFunc binds a fetch to a. Results of a superseded attempt are discarded.
func (m *Manager) secretFunc(a *attempt, productID int64) SecretFunc {
	return func(ctx context.Context) (string, error) {
		m.mu.Lock()
		if !m.currentLocked(a) {
			defer m.mu.Unlock()
			return "", m.staleLocked(a)
		}
		m.abortLocked(AbortNewAttempt)
		fetchCtx, cancel := context.WithCancelCause(ctx)
		h := &abortHandle{cancel: cancel}
		m.live[h] = struct{}{}
		m.state = StateAwaitingSecret
		m.mu.Unlock()

		callCtx, stop := context.WithTimeoutCause(fetchCtx, m.timeout, AbortTimeout)
		secret, err := m.sessions.CreateSession(callCtx, productID)
		cause := context.Cause(callCtx)
		stop()

		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.live[h]; ok {
			delete(m.live, h)
			cancel(nil)
		}
		if !m.currentLocked(a) {
			return "", m.staleLocked(a)
		}
		if err != nil {
			return "", classify(err, cause)
		}
		return secret, nil
	}
}

// Close tears down the current checkout. Any fetch still in flight is
// invalidated before the widget is unmounted.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	a := m.beginLocked(AbortModalClosed)
	w := m.widget
	m.widget = nil
	if !m.disposed {
		m.state = StateClosing
	}
	m.want = uiState{}
	m.mu.Unlock()

	var err error
	if w != nil {
		err = w.Unmount(ctx)
	}
	m.render()

	m.mu.Lock()
	if m.currentLocked(a) {
		m.state = StateIdle
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("unmount checkout: %w", err)
	}
	return nil
}

// Dispose aborts everything, hides the checkout and makes later Open calls
// fail with ErrCancelled.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.beginLocked(AbortDisposed)
	m.disposed = true
	w := m.widget
	m.widget = nil
	m.state = StateCancelled
	m.want = uiState{}
	m.mu.Unlock()

	var err error
	if w != nil {
		err = w.Unmount(ctx)
	}
	m.render()

	if err != nil {
		return fmt.Errorf("unmount checkout: %w", err)
	}
	return nil
}

// beginLocked ends the current attempt with reason and starts a new one.
// Callers hold m.mu.
func (m *Manager) beginLocked(reason AbortReason) *attempt {
	if m.cur != nil && m.cur.ended == "" {
		m.cur.ended = reason
	}
	m.runID++
	m.cur = &attempt{run: m.runID}
	m.abortLocked(reason)
	return m.cur
}

// abortLocked cancels every live fetch. Callers hold m.mu.
func (m *Manager) abortLocked(reason AbortReason) {
	for h := range m.live {
		h.cancel(reason)
		delete(m.live, h)
	}
}

// render brings the view in line with m.want. A call made while another
// render is running returns at once; the running loop picks up the change.
func (m *Manager) render() {
	m.mu.Lock()
	if m.rendering {
		m.mu.Unlock()
		return
	}
	m.rendering = true
	for m.shown != m.want {
		from, to := m.shown, m.want
		m.shown = to
		m.mu.Unlock()
		m.apply(from, to)
		m.mu.Lock()
	}
	m.rendering = false
	m.mu.Unlock()
}

func (m *Manager) apply(from, to uiState) {
	if from.modal && !to.modal {
		m.view.ClearContainer()
		if from.loading {
			m.view.HideLoading()
		}
		m.view.HideModal()
		return
	}
	if to.loading != from.loading {
		if to.loading {
			m.view.ShowLoading()
		} else {
			m.view.HideLoading()
		}
	}
	if to.modal && !from.modal {
		m.view.ShowModal()
	}
}

func (m *Manager) current(a *attempt) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(a)
}

func (m *Manager) currentLocked(a *attempt) bool {
	return m.cur == a && !m.disposed
}

func (m *Manager) stale(a *attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staleLocked(a)
}

func (m *Manager) staleLocked(a *attempt) error {
	reason := a.ended
	if reason == "" {
		reason = AbortNewAttempt
	}
	m.logger.Debug("checkout run superseded", "run_id", a.run, "reason", string(reason))
	return newError(KindCancelled, "superseded run", reason)
}

// release unmounts a widget that never became m.widget.
func (m *Manager) release(ctx context.Context, a *attempt, w Widget) {
	if w == nil {
		return
	}
	if err := w.Unmount(ctx); err != nil {
		m.logger.Warn("unmount abandoned checkout failed", "run_id", a.run, "error", err)
	}
}

// fail releases w, tears down the UI of a current attempt and surfaces the
// typed error.
func (m *Manager) fail(ctx context.Context, a *attempt, productID int64, w Widget, err error) error {
	cerr := classify(err, context.Cause(ctx))
	m.release(ctx, a, w)

	m.mu.Lock()
	if !m.currentLocked(a) {
		defer m.mu.Unlock()
		return m.staleLocked(a)
	}
	m.abortLocked(AbortNewAttempt)
	m.state = StateCancelled
	m.want = uiState{}
	m.mu.Unlock()

	m.render()
	m.view.Alert(RetryMessage)

	m.logger.Warn("checkout failed",
		"reason", cerr.Reason(),
		"run_id", a.run,
		"product_id", productID,
		"status", cerr.Status,
		"error", cerr.Error(),
	)
	return cerr
}

// classify maps an arbitrary error to a typed checkout error.
func classify(err, cause error) *Error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	switch {
	case errors.Is(cause, AbortTimeout), errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, "session request timed out", err)
	case errors.Is(err, context.Canceled):
		if cause != nil && !errors.Is(cause, context.Canceled) {
			return newError(KindCancelled, "", cause)
		}
		return newError(KindCancelled, "", err)
	default:
		return newError(KindAPIError, "provider failure", err)
	}
}
