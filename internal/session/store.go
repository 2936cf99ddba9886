// Package session owns the authentication session of the running client: the
// bearer token and the user identity, kept in memory and in durable storage.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lexconsult/client/internal/model"
	"github.com/lexconsult/client/internal/repo"
)

// Durable storage keys
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// ErrInvalidSession is returned by SetAuth when token or user id is empty
var ErrInvalidSession = errors.New("session requires a token and a user id")

// State is the hydration state of the store
type State int

const (
	StateNotHydrated State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "not-hydrated"
	}
}

// Session is a point-in-time copy of the store contents
type Session struct {
	State State
	Token string
	User  model.SessionUser
}

// Store holds the token and user together: both set or both absent.
type Store struct {
	kv     repo.KVRepo
	logger *slog.Logger

	mu    sync.RWMutex
	state State
	token string
	user  model.SessionUser
}

// NewStore creates a session store backed by kv. Call Hydrate before reading it.
func NewStore(kv repo.KVRepo, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// Hydrate loads the persisted session. Storage errors and malformed data
// hydrate to the logged-out state; Hydrate never fails.
func (s *Store) Hydrate(ctx context.Context) State {
	token, user, ok := s.load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.state, s.token, s.user = StateAuthenticated, token, user
	} else {
		s.state, s.token, s.user = StateUnauthenticated, "", model.SessionUser{}
	}
	return s.state
}

func (s *Store) load(ctx context.Context) (string, model.SessionUser, bool) {
	token, found, err := s.kv.Get(ctx, KeyToken)
	if err != nil {
		s.logger.Warn("session hydrate: read token", "err", err)
		return "", model.SessionUser{}, false
	}
	if !found || token == "" {
		return "", model.SessionUser{}, false
	}

	raw, found, err := s.kv.Get(ctx, KeyUser)
	if err != nil {
		s.logger.Warn("session hydrate: read user", "err", err)
		return "", model.SessionUser{}, false
	}
	if !found {
		return "", model.SessionUser{}, false
	}

	var user model.SessionUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn("session hydrate: malformed user", "err", err)
		return "", model.SessionUser{}, false
	}
	if user.ID == "" {
		return "", model.SessionUser{}, false
	}
	return token, user, true
}

// SetAuth stores the token and user in durable storage, then in memory,
// replacing any prior session. On a storage failure memory is left unchanged.
func (s *Store) SetAuth(ctx context.Context, token string, user model.SessionUser) error {
	if token == "" || user.ID == "" {
		return ErrInvalidSession
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode session user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(ctx, KeyToken, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := s.kv.Set(ctx, KeyUser, string(raw)); err != nil {
		if delErr := s.kv.Delete(ctx, KeyToken); delErr != nil {
			s.logger.Warn("session: roll back token", "err", delErr)
		}
		return fmt.Errorf("persist user: %w", err)
	}

	s.state, s.token, s.user = StateAuthenticated, token, user
	return nil
}

// Logout clears the session from memory and durable storage. Memory is
// always cleared; storage errors are returned.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state, s.token, s.user = StateUnauthenticated, "", model.SessionUser{}
	return errors.Join(s.kv.Delete(ctx, KeyToken), s.kv.Delete(ctx, KeyUser))
}

// State returns the hydration state
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token returns the bearer token, or "" when there is no session
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the session user and whether one is set
func (s *Store) User() (model.SessionUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.state == StateAuthenticated
}

// Snapshot returns a consistent copy of the session
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{State: s.state, Token: s.token, User: s.user}
}
