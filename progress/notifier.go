package progress

import "log"

// Sender is anything that can push a status event to a user.
type Sender interface {
	Send(userID string, status *SandboxStatus) error
}

// Notifier is what the lifecycle manager calls. Implementations must never
// let a notification failure surface into the lifecycle operation.
type Notifier interface {
	Notify(userID string, status *SandboxStatus)
}

// BestEffortNotifier drops failed sends after logging them. This is the
// named no-op around notification failures: losing a progress event is
// acceptable, failing a deploy over it is not.
type BestEffortNotifier struct {
	sender Sender
}

func NewBestEffortNotifier(sender Sender) *BestEffortNotifier {
	return &BestEffortNotifier{sender: sender}
}

func (n *BestEffortNotifier) Notify(userID string, status *SandboxStatus) {
	if n.sender == nil || userID == "" {
		return
	}
	err := n.sender.Send(userID, status)
	if err != nil && err != ErrUserNotConnected {
		log.Println("ERROR: progress notify:", err)
	}
}

// NopNotifier is used where no progress channel exists (background sweeps,
// tests).
type NopNotifier struct{}

func (NopNotifier) Notify(string, *SandboxStatus) {}
