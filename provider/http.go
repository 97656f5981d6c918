package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/qbit-dev/sandboxd/agent"
	"github.com/qbit-dev/sandboxd/common"
)

// Provisioner wire types. The provisioner is the external service that
// boots sandbox environments and tears them down; everything else goes
// through the agent running inside the sandbox.

type CreateSandboxRequest struct {
	TemplateID     string `json:"template-id"`
	TimeoutSeconds int    `json:"timeout-seconds"`
}

type CreateSandboxResponse struct {
	common.ResponseBase
	SandboxID    string `json:"sandbox-id"`
	AgentAddress string `json:"agent-address"`
	AgentKey     string `json:"agent-key"`
	// HostTemplate maps ports to public hostnames, e.g.
	// "{port}-{id}.preview.qbit.dev".
	HostTemplate string `json:"host-template"`
}

type TerminateSandboxRequest struct {
	SandboxID string `json:"sandbox-id"`
}

type TerminateSandboxResponse struct {
	common.ResponseBase
}

// HTTPProvider allocates sandboxes through the provisioner's signed HTTP
// API and hands back handles backed by the per-sandbox agent.
type HTTPProvider struct {
	cc           common.CommonClient
	agentTimeout time.Duration
}

func NewHTTPProvider(address string, secretKey []byte, timeout time.Duration, agentTimeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		cc:           common.NewCommonSignedClient(address, secretKey, timeout),
		agentTimeout: agentTimeout,
	}
}

func (p *HTTPProvider) Create(ctx context.Context, templateID string, timeout time.Duration) (Handle, error) {
	resp := new(CreateSandboxResponse)
	err := p.cc.DoPostRequest("create", &CreateSandboxRequest{
		TemplateID:     templateID,
		TimeoutSeconds: int(timeout / time.Second),
	}, resp)
	if err != nil {
		return nil, err
	}
	if err := resp.GetError(); err != nil {
		return nil, err
	}
	return &httpHandle{
		id:           resp.SandboxID,
		hostTemplate: resp.HostTemplate,
		agent:        agent.NewClient(resp.AgentAddress, []byte(resp.AgentKey), p.agentTimeout),
		provisioner:  p.cc,
	}, nil
}

type httpHandle struct {
	id           string
	hostTemplate string
	agent        *agent.Client
	provisioner  common.CommonClient
}

func (h *httpHandle) ID() string {
	return h.id
}

func (h *httpHandle) WriteFile(ctx context.Context, path string, content string) error {
	return h.agent.WriteFile(ctx, path, content)
}

func (h *httpHandle) ReadFile(ctx context.Context, path string) (string, error) {
	return h.agent.ReadFile(ctx, path)
}

func (h *httpHandle) FileExists(ctx context.Context, path string) (bool, error) {
	return h.agent.FileExists(ctx, path)
}

func (h *httpHandle) RunCommand(ctx context.Context, command string, cwd string, timeout time.Duration, background bool) (*CommandResult, error) {
	resp, err := h.agent.ExecuteCommand(ctx, command, cwd, timeout, background)
	if err != nil {
		return nil, err
	}
	return &CommandResult{
		ExitStatus: resp.ExitStatus,
		Stdout:     resp.StdOut,
		Stderr:     resp.StdErr,
	}, nil
}

func (h *httpHandle) ExposedHost(port int) string {
	r := strings.NewReplacer("{port}", strconv.Itoa(port), "{id}", h.id)
	return r.Replace(h.hostTemplate)
}

func (h *httpHandle) Terminate(ctx context.Context) error {
	// Stop agent-spawned processes first so the provisioner reclaim is
	// clean; agent unreachability is fine here, the sandbox may already
	// be gone.
	_ = h.agent.Terminate(ctx)
	resp := new(TerminateSandboxResponse)
	err := h.provisioner.DoPostRequest("terminate", &TerminateSandboxRequest{
		SandboxID: h.id,
	}, resp)
	if err != nil {
		return err
	}
	return resp.GetError()
}
