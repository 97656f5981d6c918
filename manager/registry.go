package manager

import (
	"sync"
	"time"

	"github.com/qbit-dev/sandboxd/provider"
)

type Mode string

const (
	ModeFullstack    Mode = "fullstack"
	ModeFrontendOnly Mode = "frontend_only"
)

// Process is one spawned server process inside a sandbox.
type Process struct {
	Name      string    `json:"name"`
	Port      int       `json:"port"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started-at"`
}

// Session is the in-memory record for one project's sandbox. Handle is nil
// once the sandbox is torn down; ExternalID outlives it so a dead session
// can be told apart from one that never existed.
type Session struct {
	ProjectID    string
	Handle       provider.Handle
	ExternalID   string
	Mode         Mode
	Processes    []*Process
	LastActivity time.Time
	PreviewURL   string
}

// Registry owns all session state. It is an injected object rather than a
// package-level singleton so each test can construct a fresh one. The
// per-project mutexes give every lifecycle operation single-flight
// semantics for its project.
type Registry struct {
	lock     sync.RWMutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// ProjectLock returns the mutex serializing lifecycle operations for one
// project. Locks are never removed; the table grows with the set of
// projects ever touched, which is bounded and small.
func (r *Registry) ProjectLock(projectID string) *sync.Mutex {
	r.lock.Lock()
	defer r.lock.Unlock()
	l, ok := r.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[projectID] = l
	}
	return l
}

func (r *Registry) Get(projectID string) *Session {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.sessions[projectID]
}

func (r *Registry) Put(session *Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.sessions[session.ProjectID] = session
}

func (r *Registry) Remove(projectID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.sessions, projectID)
}

func (r *Registry) Touch(projectID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.sessions[projectID]
	if ok {
		s.LastActivity = time.Now()
	}
}

// LiveCount counts sessions still holding a sandbox handle.
func (r *Registry) LiveCount() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.Handle != nil {
			n++
		}
	}
	return n
}

// LeastRecentlyActive returns the live session with the globally minimum
// LastActivity, or "" when none is live.
func (r *Registry) LeastRecentlyActive() string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	victim := ""
	var min time.Time
	for id, s := range r.sessions {
		if s.Handle == nil {
			continue
		}
		if victim == "" || s.LastActivity.Before(min) {
			victim = id
			min = s.LastActivity
		}
	}
	return victim
}

// IdleSince lists live projects whose LastActivity is before the cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var idle []string
	for id, s := range r.sessions {
		if s.Handle != nil && s.LastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}
