package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containerd/cgroups/v3/cgroup1"
	"github.com/qbit-dev/sandboxd/agent/api"
	"github.com/qbit-dev/sandboxd/agent/configure"
	"github.com/qbit-dev/sandboxd/common"
	"github.com/qbit-dev/sandboxd/spawn"
	"github.com/satori/uuid"
)

// Server is the in-sandbox agent. It exposes the filesystem and command
// surface the lifecycle manager drives, rooted at a single workspace
// directory. One agent serves exactly one sandbox.
type Server struct {
	configure *configure.Configure
	cs        *common.CommonServer
	spawner   *spawn.Spawner

	lock      sync.Mutex
	processes map[string]*backgroundProcess
}

type backgroundProcess struct {
	cmd    *exec.Cmd
	cgroup cgroup1.Cgroup
}

func NewServer(conf *configure.Configure) (*Server, error) {
	srv := &Server{
		configure: conf,
		processes: make(map[string]*backgroundProcess),
	}
	if conf.Cgroups != nil && conf.Cgroups.Enabled {
		srv.spawner = spawn.NewSpawner(conf.Cgroups.BasePath)
		err := srv.spawner.Init()
		if err != nil {
			return nil, err
		}
	}
	var secretKey []byte
	if conf.SecretKey != "" {
		secretKey = []byte(conf.SecretKey)
	}
	srv.cs = common.NewCommonServer(conf.Listen, secretKey)
	srv.registerRoutes(srv.cs.GetMux())
	return srv, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/write-file", s.HandleWriteFile)
	mux.HandleFunc("/read-file", s.HandleReadFile)
	mux.HandleFunc("/file-exists", s.HandleFileExists)
	mux.HandleFunc("/remove-file", s.HandleRemoveFile)
	mux.HandleFunc("/execute-command", s.HandleExecuteCommand)
	mux.HandleFunc("/terminate", s.HandleTerminate)
}

func (s *Server) workspacePath(path string) (string, error) {
	p := filepath.Join(s.configure.WorkspacePath, strings.TrimPrefix(path, "/"))
	if !strings.HasPrefix(p, s.configure.WorkspacePath) {
		return "", api.ErrPathOverflowsWorkspace
	}
	return p, nil
}

func (s *Server) HandleWriteFile(w http.ResponseWriter, r *http.Request) {
	req := new(api.WriteFileRequest)
	if !s.cs.ParseRequest(w, r, req) {
		return
	}
	resp := &api.WriteFileResponse{
		ResponseBase: common.ResponseBase{
			Success: true,
		},
	}
	target, err := s.workspacePath(req.Path)
	if err != nil {
		resp.SetError(err)
		s.cs.Respond(w, resp)
		return
	}
	err = os.MkdirAll(filepath.Dir(target), os.FileMode(0755))
	if err != nil {
		log.Println("ERROR:", err)
		resp.SetError(api.ErrFileCreationError)
		s.cs.Respond(w, resp)
		return
	}
	err = os.WriteFile(target, []byte(req.Content), os.FileMode(0644))
	if err != nil {
		log.Println("ERROR:", err)
		resp.SetError(api.ErrFileCreationError)
	}
	s.cs.Respond(w, resp)
}

func (s *Server) HandleReadFile(w http.ResponseWriter, r *http.Request) {
	req := new(api.ReadFileRequest)
	if !s.cs.ParseRequest(w, r, req) {
		return
	}
	resp := &api.ReadFileResponse{
		ResponseBase: common.ResponseBase{
			Success: true,
		},
	}
	target, err := s.workspacePath(req.Path)
	if err != nil {
		resp.SetError(err)
		s.cs.Respond(w, resp)
		return
	}
	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			resp.SetError(api.ErrFileNotFound)
		} else {
			log.Println("ERROR:", err)
			resp.SetError(err)
		}
		s.cs.Respond(w, resp)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		resp.SetError(err)
		s.cs.Respond(w, resp)
		return
	}
	resp.Content = string(content)
	s.cs.Respond(w, resp)
}

func (s *Server) HandleFileExists(w http.ResponseWriter, r *http.Request) {
	req := new(api.FileExistsRequest)
	if !s.cs.ParseRequest(w, r, req) {
		return
	}
	resp := &api.FileExistsResponse{
		ResponseBase: common.ResponseBase{
			Success: true,
		},
	}
	target, err := s.workspacePath(req.Path)
	if err != nil {
		resp.SetError(err)
		s.cs.Respond(w, resp)
		return
	}
	_, err = os.Stat(target)
	if err == nil {
		resp.Exists = true
	} else if !os.IsNotExist(err) {
		log.Println("ERROR:", err)
		resp.SetError(api.ErrFailedToStatFile)
	}
	s.cs.Respond(w, resp)
}

func (s *Server) HandleRemoveFile(w http.ResponseWriter, r *http.Request) {
	req := new(api.RemoveFileRequest)
	if !s.cs.ParseRequest(w, r, req) {
		return
	}
	resp := &api.RemoveFileResponse{
		ResponseBase: common.ResponseBase{
			Success: true,
		},
	}
	target, err := s.workspacePath(req.Path)
	if err != nil {
		resp.SetError(err)
		s.cs.Respond(w, resp)
		return
	}
	fi, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			resp.SetError(api.ErrFileNotFound)
		} else {
			log.Println("ERROR:", err)
			resp.SetError(api.ErrFailedToStatFile)
		}
		s.cs.Respond(w, resp)
		return
	}
	if fi.IsDir() {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		log.Println("ERROR:", err)
		resp.SetError(api.ErrFailedToRemove)
	}
	s.cs.Respond(w, resp)
}

func (s *Server) HandleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	req := new(api.ExecuteCommandRequest)
	if !s.cs.ParseRequest(w, r, req) {
		return
	}
	resp := &api.ExecuteCommandResponse{
		ResponseBase: common.ResponseBase{
			Success: true,
		},
	}
	wd, err := s.workspacePath(req.WorkDirectory)
	if err != nil {
		resp.SetError(err)
		s.cs.Respond(w, resp)
		return
	}
	if req.Background {
		s.executeBackground(req, wd, resp)
	} else {
		s.executeSync(r.Context(), req, wd, resp)
	}
	s.cs.Respond(w, resp)
}

func (s *Server) executeSync(ctx context.Context, req *api.ExecuteCommandRequest, wd string, resp *api.ExecuteCommandResponse) {
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", req.Command)
	cmd.Dir = wd
	if s.configure.RunAsUser != "" {
		var err error
		cmd, err = spawn.CommandUseUser(cmd, s.configure.RunAsUser)
		if err != nil {
			log.Println("ERROR:", err)
			resp.SetError(api.ErrFailedToStartCommand)
			return
		}
		cmd.Dir = wd
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		resp.SetError(api.ErrCommandTimedOut)
		return
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			resp.SetError(api.ErrFailedToStartCommand)
			return
		}
	}
	resp.StdOut = stdout.String()
	resp.StdErr = stderr.String()
	resp.ExitStatus = cmd.ProcessState.ExitCode()
}

func (s *Server) executeBackground(req *api.ExecuteCommandRequest, wd string, resp *api.ExecuteCommandResponse) {
	cmd := exec.Command("sh", "-c", req.Command)
	cmd.Dir = wd
	id := uuid.NewV4().String()
	var cg cgroup1.Cgroup
	var err error
	if s.spawner != nil && s.configure.Resources != nil {
		cg, err = s.spawner.SpawnCommand(cmd, s.configure.RunAsUser, s.configure.Resources, id)
	} else {
		if s.configure.RunAsUser != "" {
			cmd, err = spawn.CommandUseUser(cmd, s.configure.RunAsUser)
			if err == nil {
				cmd.Dir = wd
				err = cmd.Start()
			}
		} else {
			err = cmd.Start()
		}
	}
	if err != nil {
		log.Println("ERROR:", err)
		resp.SetError(api.ErrFailedToStartCommand)
		return
	}
	s.lock.Lock()
	s.processes[id] = &backgroundProcess{cmd: cmd, cgroup: cg}
	s.lock.Unlock()
	go func() {
		cmd.Wait()
		s.lock.Lock()
		delete(s.processes, id)
		s.lock.Unlock()
		if cg != nil {
			cg.Delete()
		}
	}()
	resp.Pid = cmd.Process.Pid
}

func (s *Server) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	req := new(api.TerminateRequest)
	if !s.cs.ParseRequest(w, r, req) {
		return
	}
	resp := &api.TerminateResponse{
		ResponseBase: common.ResponseBase{
			Success: true,
		},
	}
	s.lock.Lock()
	for _, p := range s.processes {
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
	}
	s.lock.Unlock()
	s.cs.Respond(w, resp)
	// The sandbox environment itself is reclaimed by the provisioner; the
	// agent just stops serving.
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	}()
}

func (s *Server) Start() error {
	log.Println("Agent listening on", s.configure.Listen)
	return s.cs.Start()
}
