// Package auth drives the two-step phone/OTP login against the gateway and
// turns a verified code into a persisted session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lexconsult/client/internal/model"
	"github.com/lexconsult/client/internal/ownership"
	"github.com/lexconsult/client/internal/phone"
	"github.com/lexconsult/client/internal/session"
)

// State is the position in the login flow
type State int

const (
	AwaitingPhone State = iota
	AwaitingCode
	Authenticated
)

func (s State) String() string {
	switch s {
	case AwaitingPhone:
		return "awaiting_phone"
	case AwaitingCode:
		return "awaiting_code"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ValidationError rejects user input before any network call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

var (
	ErrInvalidPhone    = &ValidationError{Field: "phone", Message: fmt.Sprintf("enter a valid phone number (at least %d digits)", phone.MinDigits)}
	ErrMissingCode     = &ValidationError{Field: "code", Message: "enter the code you received"}
	ErrNoCodeRequested = errors.New("no code requested for this login")
	ErrBusy            = errors.New("another login step is in progress")
)

// Flow is the login state machine. It is safe for concurrent use; a step
// started while another is running fails with ErrBusy.
type Flow struct {
	gw       OTPGateway
	sessions *session.Store
	index    *ownership.Index
	logger   *slog.Logger

	busy atomic.Bool

	mu    sync.Mutex
	state State
	phone string
}

// NewFlow creates a flow in AwaitingPhone
func NewFlow(gw OTPGateway, sessions *session.Store, index *ownership.Index, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		gw:       gw,
		sessions: sessions,
		index:    index,
		logger:   logger,
		state:    AwaitingPhone,
	}
}

// State returns the current step
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Phone returns the normalized phone the code was sent to, or ""
func (f *Flow) Phone() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phone
}

// Reset goes back to AwaitingPhone so the number can be edited
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state, f.phone = AwaitingPhone, ""
}

// RequestCode asks the gateway to send a code to rawPhone. Only a successful
// call moves the flow to AwaitingCode.
func (f *Flow) RequestCode(ctx context.Context, rawPhone string) error {
	normalized := phone.Normalize(rawPhone)
	if !phone.Valid(normalized) {
		return ErrInvalidPhone
	}
	if !f.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer f.busy.Store(false)

	if err := f.gw.RequestCode(ctx, normalized); err != nil {
		f.mu.Lock()
		f.state, f.phone = AwaitingPhone, ""
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	f.state, f.phone = AwaitingCode, normalized
	f.mu.Unlock()
	f.logger.Info("code requested", "phone", phone.Mask(normalized))
	return nil
}

// Verify submits the code. On success the session is persisted, the verified
// phone becomes the ownership scope and the device list is cleared. Any
// failure leaves the flow in AwaitingCode with the session untouched.
func (f *Flow) Verify(ctx context.Context, code string) (model.SessionUser, error) {
	f.mu.Lock()
	state, number := f.state, f.phone
	f.mu.Unlock()
	if state != AwaitingCode {
		return model.SessionUser{}, ErrNoCodeRequested
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return model.SessionUser{}, ErrMissingCode
	}
	if !f.busy.CompareAndSwap(false, true) {
		return model.SessionUser{}, ErrBusy
	}
	defer f.busy.Store(false)

	res, err := f.gw.Verify(ctx, number, code)
	if err != nil {
		return model.SessionUser{}, err
	}
	user := sessionUser(res.Token, res.UserID, res.UserPhone, number)
	if err := f.sessions.SetAuth(ctx, res.Token, user); err != nil {
		return model.SessionUser{}, fmt.Errorf("save session: %w", err)
	}

	// the login stands even if ownership bookkeeping fails
	if err := f.index.SetVerifiedPhone(ctx, number); err != nil {
		f.logger.Warn("login: store verified phone", "phone", phone.Mask(number), "err", err)
	}
	if err := f.index.ClearDevice(ctx); err != nil {
		f.logger.Warn("login: clear device requests", "err", err)
	}

	f.mu.Lock()
	f.state = Authenticated
	f.mu.Unlock()
	f.logger.Info("logged in", "user", user.ID, "phone", phone.Mask(number))
	return user, nil
}

// sessionUser fills the identity from the verify response, the token's sub
// claim and finally the phone itself
func sessionUser(token, userID, userPhone, normalizedPhone string) model.SessionUser {
	if userID == "" {
		userID = TokenSubject(token)
	}
	if userID == "" {
		userID = normalizedPhone
	}
	if userPhone == "" {
		userPhone = normalizedPhone
	}
	return model.SessionUser{ID: userID, Phone: userPhone}
}
