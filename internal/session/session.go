// Package session tracks per-connection state: identity and current
// working directory. Each accepted connection owns exactly one
// Session for its lifetime.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Session is the per-connection state the engine consults on every
// command: who is logged in (if anyone) and which directory inode is
// "here".
type Session struct {
	ID        string
	Username  string
	UID       uint16
	GID       uint16
	CWDInode  uint16
	LoggedIn  bool
}

// Registry tracks live sessions by id, guarded by its own mutex since
// connections come and go independently of the image-wide lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	rootID   uint16
}

// NewRegistry creates an empty registry. rootID is the inode id new
// sessions start their cwd at.
func NewRegistry(rootID uint16) *Registry {
	return &Registry{sessions: make(map[string]*Session), rootID: rootID}
}

// Open creates and registers a new anonymous session.
func (r *Registry) Open() *Session {
	s := &Session{ID: uuid.NewString(), CWDInode: r.rootID}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Close removes a session from the registry.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session: unknown session %q", id)
	}
	return s, nil
}

// Login records a successful authentication against the session.
func (s *Session) Login(username string, uid, gid uint16) {
	s.Username = username
	s.UID = uid
	s.GID = gid
	s.LoggedIn = true
}

// Logout clears identity but keeps the cwd, mirroring a shell that
// drops privileges without changing directory.
func (s *Session) Logout() {
	s.Username = ""
	s.UID = 0
	s.GID = 0
	s.LoggedIn = false
}
