package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("proj-1"))
	r.Put(&Session{ProjectID: "proj-1", Handle: newFakeHandle("sbx-1")})
	s := r.Get("proj-1")
	assert.NotNil(t, s)
	assert.Equal(t, "proj-1", s.ProjectID)
	r.Remove("proj-1")
	assert.Nil(t, r.Get("proj-1"))
}

func TestRegistryLiveCountIgnoresDeadSessions(t *testing.T) {
	r := NewRegistry()
	r.Put(&Session{ProjectID: "live", Handle: newFakeHandle("sbx-1")})
	r.Put(&Session{ProjectID: "dead", ExternalID: "sbx-2"})
	assert.Equal(t, 1, r.LiveCount())
}

func TestRegistryLeastRecentlyActive(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "", r.LeastRecentlyActive())
	now := time.Now()
	r.Put(&Session{ProjectID: "old", Handle: newFakeHandle("sbx-1"), LastActivity: now.Add(-time.Hour)})
	r.Put(&Session{ProjectID: "older-but-dead", LastActivity: now.Add(-2 * time.Hour)})
	r.Put(&Session{ProjectID: "fresh", Handle: newFakeHandle("sbx-3"), LastActivity: now})
	assert.Equal(t, "old", r.LeastRecentlyActive())
}

func TestRegistryTouch(t *testing.T) {
	r := NewRegistry()
	r.Put(&Session{ProjectID: "proj-1", Handle: newFakeHandle("sbx-1"), LastActivity: time.Now().Add(-time.Hour)})
	r.Touch("proj-1")
	assert.WithinDuration(t, time.Now(), r.Get("proj-1").LastActivity, time.Second)
	// Touching an unknown project is a no-op.
	r.Touch("nope")
}

func TestRegistryIdleSince(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Put(&Session{ProjectID: "idle", Handle: newFakeHandle("sbx-1"), LastActivity: now.Add(-time.Hour)})
	r.Put(&Session{ProjectID: "busy", Handle: newFakeHandle("sbx-2"), LastActivity: now})
	r.Put(&Session{ProjectID: "dead", LastActivity: now.Add(-time.Hour)})
	idle := r.IdleSince(now.Add(-30 * time.Minute))
	assert.Equal(t, []string{"idle"}, idle)
}

func TestRegistryProjectLockIsStable(t *testing.T) {
	r := NewRegistry()
	l1 := r.ProjectLock("proj-1")
	l2 := r.ProjectLock("proj-1")
	assert.Same(t, l1, l2)
	assert.NotSame(t, l1, r.ProjectLock("proj-2"))
}
