package progress

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSender struct {
	sent []*SandboxStatus
	err  error
}

func (r *recordingSender) Send(userID string, status *SandboxStatus) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, status)
	return nil
}

func TestBestEffortNotifierDelivers(t *testing.T) {
	s := &recordingSender{}
	n := NewBestEffortNotifier(s)
	n.Notify("user-1", NewSandboxStatus(StageReady, "Sandbox ready", "sbx-1", 100))
	assert.Len(t, s.sent, 1)
	assert.Equal(t, StageReady, s.sent[0].Stage)
}

func TestBestEffortNotifierSwallowsFailures(t *testing.T) {
	n := NewBestEffortNotifier(&recordingSender{err: fmt.Errorf("connection reset")})
	// Must not panic or propagate; lifecycle operations never fail over
	// a lost progress event.
	n.Notify("user-1", NewSandboxStatus(StageDeploying, "Uploading...", "sbx-1", 10))
}

func TestBestEffortNotifierSkipsAnonymous(t *testing.T) {
	s := &recordingSender{}
	n := NewBestEffortNotifier(s)
	n.Notify("", NewSandboxStatus(StageCreating, "Creating sandbox...", "", 5))
	assert.Empty(t, s.sent)
}
