package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Persister is the durable session record. LoadCredentials returns empty
// strings for absent keys.
type Persister interface {
	SaveCredentials(token, userData string) error
	LoadCredentials() (token, userData string, err error)
	ClearCredentials() error
}

// LoginResult is what a successful Login hands back to the caller.
type LoginResult struct {
	Session  Session
	Redirect string
}

// Store is the single owner of the current Session. Every mutation is a
// whole-value replace or clear; readers always get a copy.
type Store struct {
	persist   Persister
	exchanger Exchanger
	logger    *slog.Logger

	// commit orders durable and in-memory mutations so storage and memory
	// always describe the same session.
	commit sync.Mutex

	mu        sync.RWMutex
	current   *Session
	listeners map[int]func(*Session)
	nextID    int
}

func NewStore(p Persister, ex Exchanger, logger *slog.Logger) *Store {
	return &Store{
		persist:   p,
		exchanger: ex,
		logger:    logger,
		listeners: make(map[int]func(*Session)),
	}
}

// Current returns a copy of the active session, or nil.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// Subscribe registers fn to run after every session replace or clear. fn
// receives the new session (nil after logout) and runs on the goroutine that
// made the change, outside the store lock. Concurrent changes may notify out
// of order; listeners that act on the session should read Current.
func (s *Store) Subscribe(fn func(*Session)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Restore rehydrates the session from durable storage without contacting
// the backend. Anything unreadable is wiped so the user logs in again.
func (s *Store) Restore() *Session {
	s.commit.Lock()
	sess := s.load()
	var fns []func(*Session)
	if sess != nil {
		_, fns = s.set(sess)
	}
	s.commit.Unlock()

	if sess == nil {
		return nil
	}
	notify(fns, sess)
	s.logger.Info("auth: session restored", "username", sess.Username, "role", string(sess.Role))
	return s.Current()
}

// load reads and validates the durable record. It must be called with
// s.commit held.
func (s *Store) load() *Session {
	token, raw, err := s.persist.LoadCredentials()
	if err != nil {
		s.logger.Warn("auth: load stored session", "err", err)
		s.wipe()
		return nil
	}
	if token == "" || raw == "" {
		if token != "" || raw != "" {
			s.logger.Info("auth: partial session record, clearing")
			s.wipe()
		}
		return nil
	}

	var ud userData
	if err := json.Unmarshal([]byte(raw), &ud); err != nil {
		s.logger.Warn("auth: corrupt session record, clearing", "err", err)
		s.wipe()
		return nil
	}
	sess := &Session{
		Token:    token,
		Username: ud.Username,
		Role:     Role(ud.Role),
		ScopeID:  ud.CompanyID.String(),
		Redirect: ud.Redirect,
	}
	if err := sess.normalize(); err != nil {
		s.logger.Warn("auth: invalid session record, clearing", "err", err)
		s.wipe()
		return nil
	}

	return sess
}

// Login exchanges credentials for a session. On success the session is
// persisted and then made current; if persisting fails no session exists.
func (s *Store) Login(ctx context.Context, username, password string) (LoginResult, error) {
	resp, err := s.exchanger.Exchange(ctx, Credentials{Username: username, Password: password})
	if err != nil {
		s.logger.Info("auth: login rejected", "username", username, "err", err)
		var ae *AuthError
		if !errors.As(err, &ae) {
			err = &AuthError{Reason: genericLoginFailure, Err: err}
		}
		return LoginResult{}, err
	}
	if resp == nil {
		return LoginResult{}, &AuthError{Reason: genericLoginFailure, Err: errNoResponse}
	}

	sess := &Session{
		Token:    resp.AccessToken,
		Username: username,
		Role:     Role(resp.Role),
		ScopeID:  resp.CompanyID.String(),
		Redirect: resp.Redirect,
	}
	if sess.Role == RoleCompany && sess.ScopeID == "" && sess.Token != "" {
		scope, err := ScopeFromToken(sess.Token)
		if err != nil {
			s.logger.Warn("auth: read scope from token", "err", err)
		}
		sess.ScopeID = scope
	}
	if err := sess.normalize(); err != nil {
		return LoginResult{}, &AuthError{Reason: genericLoginFailure, Err: err}
	}

	raw, err := json.Marshal(userData{
		Username:  sess.Username,
		Role:      string(sess.Role),
		CompanyID: FlexID(sess.ScopeID),
		Redirect:  sess.Redirect,
	})
	if err != nil {
		return LoginResult{}, err
	}
	s.commit.Lock()
	if err := s.persist.SaveCredentials(sess.Token, string(raw)); err != nil {
		s.commit.Unlock()
		return LoginResult{}, fmt.Errorf("persist session: %w", err)
	}
	_, fns := s.set(sess)
	s.commit.Unlock()

	notify(fns, sess)
	s.logger.Info("auth: logged in", "username", sess.Username, "role", string(sess.Role), "scope", sess.ScopeID)
	return LoginResult{Session: *sess, Redirect: sess.Redirect}, nil
}

// Logout clears durable storage and the in-memory session. It is idempotent
// and never fails; listeners only hear about it when a session was removed.
func (s *Store) Logout() {
	s.commit.Lock()
	s.wipe()
	had, fns := s.set(nil)
	s.commit.Unlock()

	if !had {
		return
	}
	s.logger.Info("auth: logged out")
	notify(fns, nil)
}

func (s *Store) wipe() {
	if err := s.persist.ClearCredentials(); err != nil {
		s.logger.Warn("auth: clear stored session", "err", err)
	}
}

// set makes sess current (nil clears it) and returns whether a session was
// present before, plus the listeners to notify.
func (s *Store) set(sess *Session) (had bool, fns []func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	had = s.current != nil
	if sess == nil {
		s.current = nil
	} else {
		c := *sess
		s.current = &c
	}
	return had, s.snapshotListeners()
}

// notify hands each listener its own copy of sess.
func notify(fns []func(*Session), sess *Session) {
	for _, fn := range fns {
		if sess == nil {
			fn(nil)
			continue
		}
		out := *sess
		fn(&out)
	}
}

// snapshotListeners must be called with s.mu held.
func (s *Store) snapshotListeners() []func(*Session) {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(*Session), len(ids))
	for i, id := range ids {
		fns[i] = s.listeners[id]
	}
	return fns
}
