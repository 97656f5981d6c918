package manager

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/qbit-dev/sandboxd/provider"
)

// waitForServer polls the given port from inside the sandbox until a dev
// server answers or the deadline passes. Any HTTP status below 600 counts
// as alive: during compilation dev servers commonly answer 404 or 500
// while already accepting connections.
func (m *Manager) waitForServer(ctx context.Context, h provider.Handle, port int, timeout time.Duration) bool {
	probe := fmt.Sprintf(`curl -s -o /dev/null -w "%%{http_code}" http://localhost:%d`, port)
	started := time.Now()
	deadline := started.Add(timeout)
	polls := 0
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		polls++
		res, err := h.RunCommand(ctx, probe, "", m.conf.ProbeTimeout, false)
		if err == nil && res.ExitStatus == 0 {
			code, convErr := strconv.Atoi(strings.TrimSpace(res.Stdout))
			if convErr == nil && code >= 200 && code < 600 {
				log.Printf("Server on port %d responded with %d after %s", port, code, time.Since(started).Round(time.Second))
				return true
			}
		}
		if polls%m.conf.HealthLogEvery == 0 {
			log.Printf("Still waiting for server on port %d (%s elapsed)", port, time.Since(started).Round(time.Second))
		}
		time.Sleep(m.conf.HealthPollInterval)
	}
	log.Println("ERROR: server on port", port, "did not respond within", timeout)
	return false
}

// checkSandboxHealth runs a trivial command to see whether the sandbox
// still executes anything at all. It deliberately does not probe the dev
// servers; a live sandbox with a crashed server is still reusable.
func (m *Manager) checkSandboxHealth(ctx context.Context, h provider.Handle) bool {
	pctx, cancel := context.WithTimeout(ctx, m.conf.ProbeTimeout)
	defer cancel()
	res, err := h.RunCommand(pctx, "echo health_check", "", m.conf.ProbeTimeout, false)
	return err == nil && res.ExitStatus == 0
}
