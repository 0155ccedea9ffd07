package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoIdentity means the identity store holds no value for this client.
	ErrNoIdentity = errors.New("session: no stored identity")
	// ErrNotJoined means an operation requiring identity was attempted
	// before the user joined the room.
	ErrNotJoined = errors.New("session: not joined")
)

// IdentityStore persists the user's chosen identity across sessions, the way
// the original client keeps it in a 30-day cookie.
type IdentityStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, userID string) error
	Clear(ctx context.Context) error
}

// Session binds one mounted room view to a user identity.
//
// currentUserID can change through Rename without touching the identity the
// transport was opened with; connectionUserID stays fixed for the connection's
// lifetime. The resulting skew is resolved by a full session reload, which the
// shell triggers when NeedsReload reports true.
type Session struct {
	mu sync.Mutex

	roomID           string
	store            IdentityStore
	currentUserID    string
	connectionUserID string
	joinCutoff       int64
	joined           bool
	needsReload      bool

	now func() time.Time
}

// New creates an unjoined session for roomID backed by store.
func New(roomID string, store IdentityStore) *Session {
	return &Session{
		roomID: roomID,
		store:  store,
		now:    time.Now,
	}
}

// SetClock overrides the session's clock. Mainly for tests.
func (s *Session) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Resume restores a previously persisted identity. It reports whether the
// session is joined afterwards; a missing identity leaves the session in the
// not-joined state without error.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	userID, err := s.store.Get(ctx)
	if errors.Is(err, ErrNoIdentity) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resume session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindLocked(userID)
	return true, nil
}

// Join binds the session to userID and persists it.
func (s *Session) Join(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("session: empty user id")
	}
	if err := s.store.Set(ctx, userID); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindLocked(userID)
	return nil
}

func (s *Session) bindLocked(userID string) {
	s.currentUserID = userID
	if s.connectionUserID == "" {
		s.connectionUserID = userID
	}
	s.joinCutoff = s.now().UnixMilli()
	s.joined = true
}

// Rename changes the identity used for future sends. The transport identity is
// deliberately left alone; the caller announces the change as a regular chat
// message using the returned text and reloads the session afterwards.
func (s *Session) Rename(ctx context.Context, newUserID string) (string, error) {
	newUserID = strings.TrimSpace(newUserID)
	if newUserID == "" {
		return "", errors.New("session: empty user id")
	}

	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return "", ErrNotJoined
	}
	old := s.currentUserID
	s.mu.Unlock()

	if err := s.store.Set(ctx, newUserID); err != nil {
		return "", fmt.Errorf("persist identity: %w", err)
	}

	s.mu.Lock()
	s.currentUserID = newUserID
	s.needsReload = true
	s.mu.Unlock()

	return fmt.Sprintf("%s is now known as %s", old, newUserID), nil
}

// Leave clears the persisted identity and detaches the session.
func (s *Session) Leave(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	s.mu.Lock()
	s.currentUserID = ""
	s.joined = false
	s.mu.Unlock()
	return nil
}

// RoomID returns the room this session is bound to.
func (s *Session) RoomID() string { return s.roomID }

// CurrentUserID returns the identity presenting this client.
func (s *Session) CurrentUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUserID
}

// ConnectionUserID returns the identity the transport was opened with.
func (s *Session) ConnectionUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionUserID
}

// JoinCutoff returns the millisecond timestamp before which join/leave replay
// noise is suppressed.
func (s *Session) JoinCutoff() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinCutoff
}

// Joined reports whether an identity is bound.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// NeedsReload reports whether a rename left the display and transport
// identities skewed, in which case the shell should tear the session down and
// start over.
func (s *Session) NeedsReload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsReload
}
