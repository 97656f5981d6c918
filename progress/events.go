package progress

// Stages mirror the coarse lifecycle phases pushed to clients while a
// sandbox is being brought up.
const (
	StageCreating   = "creating"
	StageDeploying  = "deploying"
	StageInstalling = "installing"
	StageStarting   = "starting"
	StageReady      = "ready"
	StageError      = "error"
)

type SandboxStatus struct {
	Type      string `json:"type"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	SandboxID string `json:"sandbox-id,omitempty"`
	// Progress is 0-100; negative means unknown.
	Progress int `json:"progress"`
}

func NewSandboxStatus(stage string, message string, sandboxID string, progress int) *SandboxStatus {
	return &SandboxStatus{
		Type:      "sandbox_status",
		Stage:     stage,
		Message:   message,
		SandboxID: sandboxID,
		Progress:  progress,
	}
}
