package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"relay/models"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrUnknownUser    = errors.New("user does not exist")
)

// pushBuffer is the live-channel capacity. A full buffer fails the push
// and the message falls back to the queue.
const pushBuffer = 16

// AccountChecker is the registry's non-owning view of storage, used only
// to validate usernames at session creation.
type AccountChecker interface {
	AccountExists(username string) (bool, error)
}

type Session struct {
	Token     string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time

	// ch is non-nil only for the session that issued listen. attachSeq
	// orders concurrent channels of one user; delivery goes to the most
	// recently attached one.
	ch        chan models.Push
	attachSeq uint64
}

// Registry owns the session table. All mutation goes through one mutex so
// the sweeper never races destructively with validation or channel
// attachment, and pushes never hit a half-closed channel.
type Registry struct {
	accounts AccountChecker
	ttl      time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	attachSeq uint64
}

func NewRegistry(accounts AccountChecker, ttl time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		accounts: accounts,
		ttl:      ttl,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Create issues a fresh random token for username. The expiry deadline is
// fixed at creation; validation does not slide it.
func (r *Registry) Create(username string) (string, error) {
	exists, err := r.accounts.AccountExists(username)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrUnknownUser
	}

	token := uuid.NewString()
	now := time.Now()

	r.mu.Lock()
	r.sessions[token] = &Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	r.mu.Unlock()

	return token, nil
}

// Validate resolves a token to its username. Missing, expired and revoked
// tokens are indistinguishable to the caller.
func (r *Registry) Validate(token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return "", ErrInvalidSession
	}
	return sess.Username, nil
}

// AttachChannel binds a fresh live channel to the session and returns its
// receive side. Attaching again to the same session replaces the previous
// channel; the prior channel is closed and its reader winds down.
func (r *Registry) AttachChannel(token string) (<-chan models.Push, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, ErrInvalidSession
	}

	if sess.ch != nil {
		close(sess.ch)
	}
	sess.ch = make(chan models.Push, pushBuffer)
	r.attachSeq++
	sess.attachSeq = r.attachSeq
	return sess.ch, nil
}

// DetachChannel closes and removes a session's live channel without
// revoking the session itself. Idempotent.
func (r *Registry) DetachChannel(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[token]; ok && sess.ch != nil {
		close(sess.ch)
		sess.ch = nil
	}
}

// Push attempts live delivery to username's most recently attached
// channel. It reports whether the message was accepted; a missing or full
// channel fails the push and the caller must enqueue instead. The send
// happens under the registry lock, so it can never race a channel close.
func (r *Registry) Push(username string, push models.Push) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *Session
	for _, sess := range r.sessions {
		if sess.Username != username || sess.ch == nil {
			continue
		}
		if latest == nil || sess.attachSeq > latest.attachSeq {
			latest = sess
		}
	}
	if latest == nil {
		return false
	}

	select {
	case latest.ch <- push:
		return true
	default:
		return false
	}
}

// Revoke removes one session. A token that is already gone is a no-op,
// never an error; revocation is terminal.
func (r *Registry) Revoke(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop(token)
}

// RevokeAllForUser removes every session owned by username and tears down
// their live channels. Used by account deletion.
func (r *Registry) RevokeAllForUser(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, sess := range r.sessions {
		if sess.Username == username {
			r.drop(token)
		}
	}
}

// drop removes a session and closes its channel. Callers hold r.mu.
func (r *Registry) drop(token string) {
	sess, ok := r.sessions[token]
	if !ok {
		return
	}
	if sess.ch != nil {
		close(sess.ch)
		sess.ch = nil
	}
	delete(r.sessions, token)
}

// Sweep removes every expired session and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	swept := 0
	for token, sess := range r.sessions {
		if now.After(sess.ExpiresAt) {
			r.drop(token)
			swept++
		}
	}
	return swept
}

// RunSweeper runs Sweep on a fixed interval until ctx is canceled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if swept := r.Sweep(); swept > 0 {
				r.log.Debug().Int("swept", swept).Msg("expired sessions removed")
			}
		}
	}
}

// Count returns the number of live sessions; used by server stats.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Usernames returns the set of users holding at least one session.
func (r *Registry) Usernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	var users []string
	for _, sess := range r.sessions {
		if _, ok := seen[sess.Username]; ok {
			continue
		}
		seen[sess.Username] = struct{}{}
		users = append(users, sess.Username)
	}
	return users
}
