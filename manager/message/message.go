package message

import "fmt"

var ErrMaxAttemptsExceeded = fmt.Errorf("max attempts exceeded")

// DeployMessage asks for a full pipeline run: ensure a sandbox exists,
// upload the files, install dependencies and start the dev servers.
type DeployMessage struct {
	RequestID string            `json:"request_id"`
	ProjectID string            `json:"project_id"`
	UserID    string            `json:"user_id"`
	Mode      string            `json:"mode"`
	Files     map[string]string `json:"files"`
}

// HotReloadMessage pushes file updates into an already running sandbox.
type HotReloadMessage struct {
	RequestID string            `json:"request_id"`
	ProjectID string            `json:"project_id"`
	UserID    string            `json:"user_id"`
	Files     map[string]string `json:"files"`
}

type ReportMessage struct {
	RequestID         string `json:"request_id"`
	ProjectID         string `json:"project_id"`
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	PreviewURL        string `json:"preview_url"`
	FrontendInstalled bool   `json:"frontend_installed"`
	BackendInstalled  bool   `json:"backend_installed"`
	AIInstalled       bool   `json:"ai_installed"`
	Timestamp         int64  `json:"timestamp"` // time.Now().UnixMicro()
	// We don't use time.Now().UnixNano() as it exceeds js's Number.MAX_SAFE_INTEGER
}
