package provider

import (
	"context"
	"fmt"
	"time"
)

// CommandResult is the outcome of a command run inside a sandbox.
type CommandResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Handle is one live sandbox. The lifecycle manager depends on this
// abstraction only, so the concrete execution provider stays swappable
// and tests can run against an in-memory fake.
type Handle interface {
	// ID is the provider-assigned external identifier.
	ID() string
	WriteFile(ctx context.Context, path string, content string) error
	ReadFile(ctx context.Context, path string) (string, error)
	FileExists(ctx context.Context, path string) (bool, error)
	// RunCommand executes through the sandbox shell. Background commands
	// return immediately with a zero exit status.
	RunCommand(ctx context.Context, command string, cwd string, timeout time.Duration, background bool) (*CommandResult, error)
	// ExposedHost maps an in-sandbox port to its externally reachable
	// hostname.
	ExposedHost(port int) string
	Terminate(ctx context.Context) error
}

// Provider allocates sandboxes from a template.
type Provider interface {
	Create(ctx context.Context, templateID string, timeout time.Duration) (Handle, error)
}

var ErrAllocationFailed = fmt.Errorf("sandbox allocation failed")
var ErrFileNotFound = fmt.Errorf("file not found")
