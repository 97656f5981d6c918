package manager

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qbit-dev/sandboxd/common/consts"
	"github.com/qbit-dev/sandboxd/progress"
	"github.com/qbit-dev/sandboxd/provider"
	"github.com/qbit-dev/sandboxd/store"
)

// Config carries the externally configurable knobs of the lifecycle
// manager. TemplateID is the only mandatory field.
type Config struct {
	TemplateID   string
	MaxSandboxes int
	IdleTTL      time.Duration
	// SandboxLifetime is the provider-side hard timeout of an allocated
	// environment.
	SandboxLifetime time.Duration
	// PreProvisioned marks templates that ship node_modules, turning
	// dependency installation into an immediate success.
	PreProvisioned bool

	CreateTimeout  time.Duration
	DeployTimeout  time.Duration
	InstallTimeout time.Duration
	StartTimeout   time.Duration
	HealthTimeout  time.Duration
	ProbeTimeout   time.Duration

	DeployBatchSize    int
	HealthPollInterval time.Duration
	HealthLogEvery     int
}

func (c *Config) applyDefaults() {
	if c.MaxSandboxes <= 0 {
		c.MaxSandboxes = 10
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.SandboxLifetime <= 0 {
		c.SandboxLifetime = time.Hour
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = 60 * time.Second
	}
	if c.DeployTimeout <= 0 {
		c.DeployTimeout = 90 * time.Second
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = 180 * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 60 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 240 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.DeployBatchSize <= 0 {
		c.DeployBatchSize = 10
	}
	if c.HealthPollInterval <= 0 {
		c.HealthPollInterval = 500 * time.Millisecond
	}
	if c.HealthLogEvery <= 0 {
		c.HealthLogEvery = 20
	}
}

// Manager drives the sandbox lifecycle: create, deploy, install, start,
// health-check, idle/LRU teardown and recreation from the file store.
type Manager struct {
	conf     *Config
	registry *Registry
	provider provider.Provider
	store    store.FileStore
	notifier progress.Notifier
}

func NewManager(conf *Config, reg *Registry, p provider.Provider, fs store.FileStore, n progress.Notifier) (*Manager, error) {
	if conf.TemplateID == "" {
		return nil, ErrTemplateIDRequired
	}
	conf.applyDefaults()
	if n == nil {
		n = progress.NopNotifier{}
	}
	return &Manager{
		conf:     conf,
		registry: reg,
		provider: p,
		store:    fs,
		notifier: n,
	}, nil
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) notify(userID string, stage string, message string, sandboxID string, pct int) {
	m.notifier.Notify(userID, progress.NewSandboxStatus(stage, message, sandboxID, pct))
}

type CreateResult struct {
	ExternalID string `json:"external-id"`
	Status     string `json:"status"`
}

// CreateSandbox allocates a fresh environment for the project, evicting
// the least-recently-active session first when at capacity. Calling it
// for a project with a live sandbox replaces the tracked handle; callers
// are expected to check liveness through GetActiveSandbox first.
func (m *Manager) CreateSandbox(ctx context.Context, projectID string, userID string) (*CreateResult, error) {
	l := m.registry.ProjectLock(projectID)
	l.Lock()
	defer l.Unlock()
	return m.createSandbox(ctx, projectID, userID)
}

func (m *Manager) createSandbox(ctx context.Context, projectID string, userID string) (*CreateResult, error) {
	m.notify(userID, progress.StageCreating, "Creating sandbox...", "", 5)
	m.enforceSandboxLimit(ctx)
	cctx, cancel := context.WithTimeout(ctx, m.conf.CreateTimeout)
	defer cancel()
	handle, err := m.provider.Create(cctx, m.conf.TemplateID, m.conf.SandboxLifetime)
	if err != nil {
		log.Println("ERROR: sandbox creation failed:", err)
		return nil, err
	}
	session := &Session{
		ProjectID:    projectID,
		Handle:       handle,
		ExternalID:   handle.ID(),
		Processes:    []*Process{},
		LastActivity: time.Now(),
	}
	m.registry.Put(session)
	m.persistMeta(ctx, session)
	log.Println("Sandbox created:", projectID, handle.ID())
	return &CreateResult{
		ExternalID: handle.ID(),
		Status:     "active",
	}, nil
}

// persistMeta records the external id and mode so recreation can tell a
// dead sandbox from a project that never had one. Best-effort.
func (m *Manager) persistMeta(ctx context.Context, s *Session) {
	meta, err := m.store.GetProjectMeta(ctx, s.ProjectID)
	if err != nil {
		meta = &store.ProjectMeta{ProjectID: s.ProjectID}
	}
	meta.ExternalID = s.ExternalID
	if s.Mode != "" {
		meta.Mode = string(s.Mode)
	}
	err = m.store.PutProjectMeta(ctx, s.ProjectID, meta)
	if err != nil {
		log.Println("ERROR:", err)
	}
}

// DeployFiles uploads a full snapshot or partial diff into the live
// sandbox and persists the content back to the file store, which stays
// the durable truth.
func (m *Manager) DeployFiles(ctx context.Context, projectID string, files map[string]string, mode Mode, userID string) error {
	l := m.registry.ProjectLock(projectID)
	l.Lock()
	defer l.Unlock()
	s := m.registry.Get(projectID)
	if s == nil || s.Handle == nil {
		return ErrSandboxNotFound
	}
	if mode != "" {
		s.Mode = mode
	}
	err := m.uploadFiles(ctx, s, files, userID)
	if err != nil {
		return err
	}
	for path, content := range files {
		err := m.store.WriteFile(ctx, projectID, strings.TrimPrefix(path, "/"), content)
		if err != nil {
			log.Println("ERROR: persisting", path, "failed:", err)
		}
	}
	m.persistMeta(ctx, s)
	m.registry.Touch(projectID)
	return nil
}

// uploadFiles writes the file map in fixed-size batches: each batch's
// writes run concurrently, batch N+1 does not begin before batch N is
// fully acknowledged. Any single failure aborts the whole deploy.
func (m *Manager) uploadFiles(ctx context.Context, s *Session, files map[string]string, userID string) error {
	dctx, cancel := context.WithTimeout(ctx, m.conf.DeployTimeout)
	defer cancel()
	m.notify(userID, progress.StageDeploying,
		fmt.Sprintf("Uploading %d files to sandbox...", len(files)), s.ExternalID, 10)
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	total := len(paths)
	uploaded := 0
	for start := 0; start < total; start += m.conf.DeployBatchSize {
		end := start + m.conf.DeployBatchSize
		if end > total {
			end = total
		}
		batch := paths[start:end]
		wg := &sync.WaitGroup{}
		errLock := &sync.Mutex{}
		var firstErr error
		for _, path := range batch {
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				err := s.Handle.WriteFile(dctx, strings.TrimPrefix(path, "/"), files[path])
				if err != nil {
					errLock.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errLock.Unlock()
				}
			}(path)
		}
		wg.Wait()
		if firstErr != nil {
			log.Println("ERROR: file upload failed:", firstErr)
			return firstErr
		}
		uploaded += len(batch)
		m.notify(userID, progress.StageDeploying,
			fmt.Sprintf("Uploaded %d/%d files...", uploaded, total),
			s.ExternalID, 10+uploaded*10/total)
	}
	return nil
}

type InstallResult struct {
	Success           bool   `json:"success"`
	FrontendInstalled bool   `json:"frontend-installed"`
	BackendInstalled  bool   `json:"backend-installed"`
	AIInstalled       bool   `json:"ai-installed"`
	Error             string `json:"error,omitempty"`
}

// InstallDependencies installs npm packages tier by tier. Tiers run
// sequentially to avoid npm lock contention inside the single sandbox
// filesystem. Frontend failure is fatal; backend and AI tiers degrade.
func (m *Manager) InstallDependencies(ctx context.Context, projectID string, mode Mode, userID string) (*InstallResult, error) {
	l := m.registry.ProjectLock(projectID)
	l.Lock()
	defer l.Unlock()
	s := m.registry.Get(projectID)
	if s == nil || s.Handle == nil {
		return nil, ErrSandboxNotFound
	}
	if mode == "" {
		mode = s.Mode
	}
	return m.installDependencies(ctx, s, mode, userID)
}

func (m *Manager) installDependencies(ctx context.Context, s *Session, mode Mode, userID string) (*InstallResult, error) {
	if m.conf.PreProvisioned {
		log.Println("Template pre-provisioned, skipping dependency installation:", s.ProjectID)
		return &InstallResult{
			Success:           true,
			FrontendInstalled: true,
			BackendInstalled:  true,
			AIInstalled:       true,
		}, nil
	}
	result := &InstallResult{}
	hasFrontend, err := s.Handle.FileExists(ctx, consts.TierFrontend+"/"+consts.PackageManifestFile)
	if err != nil {
		return nil, err
	}
	hasBackend := false
	hasAI := false
	if mode != ModeFrontendOnly {
		hasBackend, err = s.Handle.FileExists(ctx, consts.TierBackend+"/"+consts.PackageManifestFile)
		if err != nil {
			return nil, err
		}
		hasAI, err = s.Handle.FileExists(ctx, consts.TierAIServices+"/"+consts.PackageManifestFile)
		if err != nil {
			return nil, err
		}
	}
	log.Printf("Installing dependencies (frontend=%v, backend=%v, ai=%v)", hasFrontend, hasBackend, hasAI)
	m.notify(userID, progress.StageInstalling, "Installing npm packages...", s.ExternalID, 30)
	if hasFrontend {
		m.notify(userID, progress.StageInstalling, "Installing frontend dependencies...", s.ExternalID, 40)
		res, err := m.runInstall(ctx, s, consts.TierFrontend)
		if err != nil || res.ExitStatus != 0 {
			if err != nil {
				log.Println("ERROR:", err)
			} else {
				log.Println("ERROR: frontend install failed:", truncate(res.Stderr, 200))
			}
			result.Error = ErrFrontendInstallFailed.Error()
			return result, nil
		}
		result.FrontendInstalled = true
	}
	if hasBackend {
		m.notify(userID, progress.StageInstalling, "Installing backend dependencies...", s.ExternalID, 60)
		res, err := m.runInstall(ctx, s, consts.TierBackend)
		if err != nil || res.ExitStatus != 0 {
			log.Println("Backend install failed (non-critical)")
		} else {
			result.BackendInstalled = true
		}
	}
	if hasAI {
		m.notify(userID, progress.StageInstalling, "Installing AI service dependencies...", s.ExternalID, 70)
		res, err := m.runInstall(ctx, s, consts.TierAIServices)
		if err != nil || res.ExitStatus != 0 {
			log.Println("AI services install failed (non-critical)")
		} else {
			result.AIInstalled = true
		}
	}
	result.Success = result.FrontendInstalled
	m.registry.Touch(s.ProjectID)
	return result, nil
}

func (m *Manager) runInstall(ctx context.Context, s *Session, tier string) (*provider.CommandResult, error) {
	ictx, cancel := context.WithTimeout(ctx, m.conf.InstallTimeout)
	defer cancel()
	return s.Handle.RunCommand(ictx, consts.InstallCommand, tier, m.conf.InstallTimeout, false)
}

type StartResult struct {
	Success       bool   `json:"success"`
	PreviewURL    string `json:"preview-url,omitempty"`
	FrontendReady bool   `json:"frontend-ready"`
	BackendReady  bool   `json:"backend-ready"`
	AIReady       bool   `json:"ai-ready"`
}

// StartServers launches backend and AI processes first as background
// commands, then the frontend, then polls the frontend port until it
// answers or the health deadline passes. Only the frontend is
// health-checked; backend readiness is best-effort.
func (m *Manager) StartServers(ctx context.Context, projectID string, mode Mode, userID string) (*StartResult, error) {
	l := m.registry.ProjectLock(projectID)
	l.Lock()
	defer l.Unlock()
	s := m.registry.Get(projectID)
	if s == nil || s.Handle == nil {
		return nil, ErrSandboxNotFound
	}
	if mode == "" {
		mode = s.Mode
	}
	return m.startServers(ctx, s, mode, userID)
}

func (m *Manager) startServers(ctx context.Context, s *Session, mode Mode, userID string) (*StartResult, error) {
	m.notify(userID, progress.StageStarting, "Starting development servers...", s.ExternalID, 80)
	hasFrontend, err := s.Handle.FileExists(ctx, consts.TierFrontend)
	if err != nil {
		return nil, err
	}
	hasBackend := false
	hasAI := false
	if mode != ModeFrontendOnly {
		hasBackend, err = s.Handle.FileExists(ctx, consts.TierBackend)
		if err != nil {
			return nil, err
		}
		hasAI, err = s.Handle.FileExists(ctx, consts.TierAIServices)
		if err != nil {
			return nil, err
		}
	}
	if hasBackend {
		err = m.startProcess(ctx, s, consts.TierBackend, consts.BackendPort)
		if err != nil {
			return nil, err
		}
	}
	if hasAI {
		err = m.startProcess(ctx, s, consts.TierAIServices, consts.AIServicesPort)
		if err != nil {
			return nil, err
		}
	}
	if hasFrontend {
		m.notify(userID, progress.StageStarting, "Starting frontend server...", s.ExternalID, 90)
		err = m.startProcess(ctx, s, consts.TierFrontend, consts.FrontendPort)
		if err != nil {
			return nil, err
		}
		ready := m.waitForServer(ctx, s.Handle, consts.FrontendPort, m.conf.HealthTimeout)
		if !ready {
			m.notify(userID, progress.StageError, "Frontend server failed to start", s.ExternalID, -1)
			return &StartResult{Success: false}, ErrFrontendStartTimeout
		}
		s.PreviewURL = "https://" + s.Handle.ExposedHost(consts.FrontendPort)
	}
	m.registry.Touch(s.ProjectID)
	m.notify(userID, progress.StageReady, "Sandbox ready", s.ExternalID, 100)
	return &StartResult{
		Success:       true,
		PreviewURL:    s.PreviewURL,
		FrontendReady: hasFrontend,
		BackendReady:  hasBackend,
		AIReady:       hasAI,
	}, nil
}

func (m *Manager) startProcess(ctx context.Context, s *Session, tier string, port int) error {
	command := fmt.Sprintf("%s > /tmp/%s.log 2>&1 &", consts.DevCommand, tier)
	sctx, cancel := context.WithTimeout(ctx, m.conf.StartTimeout)
	defer cancel()
	_, err := s.Handle.RunCommand(sctx, command, tier, m.conf.StartTimeout, true)
	if err != nil {
		log.Println("ERROR: starting", tier, "failed:", err)
		return err
	}
	s.Processes = append(s.Processes, &Process{
		Name:      tier,
		Port:      port,
		Command:   consts.DevCommand,
		StartedAt: time.Now(),
	})
	return nil
}

// GetActiveSandbox returns a live handle for the project, transparently
// rebuilding the sandbox from stored files when it died or was never
// tracked. Returns ErrNoStoredFiles when recreation is impossible.
func (m *Manager) GetActiveSandbox(ctx context.Context, projectID string, userID string) (provider.Handle, error) {
	l := m.registry.ProjectLock(projectID)
	l.Lock()
	defer l.Unlock()
	s := m.registry.Get(projectID)
	if s == nil || s.Handle == nil {
		log.Println("Sandbox not tracked, attempting recreation:", projectID)
		return m.recreateFromStore(ctx, projectID, userID)
	}
	if !m.checkSandboxHealth(ctx, s.Handle) {
		log.Println("Sandbox unhealthy, recreating:", projectID)
		m.cleanupSession(ctx, s)
		return m.recreateFromStore(ctx, projectID, userID)
	}
	m.registry.Touch(projectID)
	return s.Handle, nil
}

// recreateFromStore replays create, deploy, install and start from the
// durable file content. Unlike a first-time start, any stage failure
// fails the whole recreation: a half-working rebuilt sandbox would look
// broken to a user whose project already worked.
func (m *Manager) recreateFromStore(ctx context.Context, projectID string, userID string) (provider.Handle, error) {
	files, err := m.store.GetAllFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		log.Println("No stored files for project:", projectID)
		return nil, ErrNoStoredFiles
	}
	mode := ModeFullstack
	meta, err := m.store.GetProjectMeta(ctx, projectID)
	if err == nil && meta.Mode != "" {
		mode = Mode(meta.Mode)
	}
	log.Printf("Recreating sandbox %s from store (%d files, mode=%s)", projectID, len(files), mode)
	_, err = m.createSandbox(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	s := m.registry.Get(projectID)
	s.Mode = mode
	err = m.uploadFiles(ctx, s, files, userID)
	if err != nil {
		m.cleanupSession(ctx, s)
		return nil, ErrRecreationFailed
	}
	install, err := m.installDependencies(ctx, s, mode, userID)
	if err != nil || !install.Success {
		if err != nil {
			log.Println("ERROR:", err)
		}
		m.cleanupSession(ctx, s)
		return nil, ErrRecreationFailed
	}
	start, err := m.startServers(ctx, s, mode, userID)
	if err != nil || !start.Success {
		if err != nil {
			log.Println("ERROR:", err)
		}
		m.cleanupSession(ctx, s)
		return nil, ErrRecreationFailed
	}
	log.Println("Sandbox recreated:", projectID, s.ExternalID)
	return s.Handle, nil
}

// UpdateFilesHotReload pushes changed files into the live sandbox without
// restarting anything; the dev servers pick the writes up. Files whose
// content matches what the sandbox already holds are skipped so re-sent
// context does not trigger needless recompiles.
func (m *Manager) UpdateFilesHotReload(ctx context.Context, projectID string, files map[string]string, userID string) error {
	l := m.registry.ProjectLock(projectID)
	l.Lock()
	defer l.Unlock()
	s := m.registry.Get(projectID)
	if s == nil || s.Handle == nil {
		return ErrSandboxNotFound
	}
	changed := make(map[string]string)
	for path, content := range files {
		current, err := s.Handle.ReadFile(ctx, strings.TrimPrefix(path, "/"))
		if err != nil {
			current = ""
		}
		if current != content {
			changed[path] = content
		}
	}
	if len(changed) == 0 {
		log.Println("No files changed, skipping hot reload:", projectID)
		m.registry.Touch(projectID)
		return nil
	}
	log.Printf("Hot reloading %d/%d changed files for %s", len(changed), len(files), projectID)
	err := m.uploadFiles(ctx, s, changed, userID)
	if err != nil {
		return err
	}
	for path, content := range changed {
		err := m.store.WriteFile(ctx, projectID, strings.TrimPrefix(path, "/"), content)
		if err != nil {
			log.Println("ERROR: persisting", path, "failed:", err)
		}
	}
	m.registry.Touch(projectID)
	return nil
}

// CleanupSandbox fully releases the remote environment and drops the
// session. Stored files are untouched; the project stays recreatable.
func (m *Manager) CleanupSandbox(ctx context.Context, projectID string) {
	l := m.registry.ProjectLock(projectID)
	l.Lock()
	defer l.Unlock()
	s := m.registry.Get(projectID)
	if s == nil {
		return
	}
	m.cleanupSession(ctx, s)
}

func (m *Manager) cleanupSession(ctx context.Context, s *Session) {
	if s.Handle != nil {
		err := s.Handle.Terminate(ctx)
		if err != nil {
			log.Println("ERROR: terminating sandbox", s.ExternalID, "failed:", err)
		}
	}
	m.registry.Remove(s.ProjectID)
	log.Println("Sandbox cleaned up:", s.ProjectID)
}

// CleanupInactiveSandboxes tears down every session idle beyond the TTL.
// Called from the service's background sweep.
func (m *Manager) CleanupInactiveSandboxes(ctx context.Context) {
	cutoff := time.Now().Add(-m.conf.IdleTTL)
	for _, projectID := range m.registry.IdleSince(cutoff) {
		log.Println("Cleaning up inactive sandbox:", projectID)
		m.CleanupSandbox(ctx, projectID)
	}
}

// enforceSandboxLimit evicts least-recently-active sessions until a new
// one fits. Eviction tears the remote environment down, it never just
// drops the reference.
func (m *Manager) enforceSandboxLimit(ctx context.Context) {
	for m.registry.LiveCount() >= m.conf.MaxSandboxes {
		victim := m.registry.LeastRecentlyActive()
		if victim == "" {
			return
		}
		log.Println("Sandbox limit reached, evicting:", victim)
		s := m.registry.Get(victim)
		if s == nil {
			return
		}
		m.cleanupSession(ctx, s)
	}
}

type SessionInfo struct {
	ProjectID  string     `json:"project-id"`
	ExternalID string     `json:"external-id"`
	Mode       string     `json:"mode"`
	PreviewURL string     `json:"preview-url,omitempty"`
	Processes  []*Process `json:"processes"`
}

func (m *Manager) GetSessionInfo(projectID string) *SessionInfo {
	s := m.registry.Get(projectID)
	if s == nil || s.Handle == nil {
		return nil
	}
	return &SessionInfo{
		ProjectID:  s.ProjectID,
		ExternalID: s.ExternalID,
		Mode:       string(s.Mode),
		PreviewURL: s.PreviewURL,
		Processes:  s.Processes,
	}
}

func (m *Manager) GetPreviewURL(projectID string) string {
	s := m.registry.Get(projectID)
	if s == nil || s.Handle == nil {
		return ""
	}
	return s.PreviewURL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
