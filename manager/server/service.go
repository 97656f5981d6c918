package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/nsqio/go-nsq"
	"github.com/qbit-dev/sandboxd/manager"
	"github.com/qbit-dev/sandboxd/manager/configure"
	"github.com/qbit-dev/sandboxd/manager/message"
	"github.com/qbit-dev/sandboxd/progress"
	"github.com/qbit-dev/sandboxd/provider"
	"github.com/qbit-dev/sandboxd/store"
)

// Service wires the lifecycle manager to its transports: NSQ consumers
// for deploy and hot-reload requests, an NSQ producer for reports, Redis
// for request deduplication and an HTTP surface for progress websockets
// and status queries.
type Service struct {
	configure               *configure.Configure
	manager                 *manager.Manager
	hub                     *progress.Hub
	fileStore               store.FileStore
	redisConn               redis.Conn
	nsqDeployConsumer       *nsq.Consumer
	nsqHotReloadConsumer    *nsq.Consumer
	nsqReport               *nsq.Producer
	nsqMessageTouchInterval time.Duration
}

func NewService(conf *configure.Configure) (*Service, error) {
	s := new(Service)
	s.configure = conf
	s.hub = progress.NewHub()
	return s, nil
}

func (s *Service) Run() error {
	err := s.connectMinIO()
	if err != nil {
		log.Println("Connect to MinIO failed")
		return err
	}
	err = s.connectRedis()
	if err != nil {
		log.Println("Connect to Redis failed")
		return err
	}
	err = s.initManager()
	if err != nil {
		return err
	}
	err = s.connectNSQ()
	if err != nil {
		log.Println("Connect to NSQ failed")
		return err
	}
	go s.sweepInactive()
	return s.serveHTTP()
}

func (s *Service) connectMinIO() error {
	var err error
	s.fileStore, err = store.NewMinIOStore(s.configure.MinIO)
	if err != nil {
		return err
	}
	log.Println("Connected to MinIO Server")
	return nil
}

func (s *Service) connectRedis() error {
	options := []redis.DialOption{}
	if s.configure.Redis.Password != "" {
		options = append(options, redis.DialPassword(s.configure.Redis.Password))
	}
	options = append(options, redis.DialKeepAlive(s.configure.Redis.KeepAlive))
	options = append(options, redis.DialDatabase(s.configure.Redis.Database))
	var err error
	s.redisConn, err = redis.Dial("tcp", s.configure.Redis.Address, options...)
	if err != nil {
		return err
	}
	log.Println("Connected to Redis Server")
	return nil
}

func (s *Service) initManager() error {
	p := provider.NewHTTPProvider(
		s.configure.Provisioner.Address,
		[]byte(s.configure.Provisioner.AccessKey),
		s.configure.Provisioner.Timeout,
		s.configure.Provisioner.AgentTimeout,
	)
	var err error
	s.manager, err = manager.NewManager(&manager.Config{
		TemplateID:      s.configure.Sandbox.TemplateID,
		MaxSandboxes:    s.configure.Sandbox.MaxSandboxes,
		IdleTTL:         s.configure.Sandbox.IdleTTL,
		SandboxLifetime: s.configure.Sandbox.Lifetime,
		PreProvisioned:  s.configure.Sandbox.PreProvisioned,
		DeployBatchSize: s.configure.Sandbox.DeployBatchSize,
		HealthTimeout:   s.configure.Sandbox.HealthTimeout,
		InstallTimeout:  s.configure.Sandbox.InstallTimeout,
	}, manager.NewRegistry(), p, s.fileStore, progress.NewBestEffortNotifier(s.hub))
	return err
}

func (s *Service) connectNSQ() error {
	config := nsq.NewConfig()
	config.AuthSecret = s.configure.Nsq.AuthSecret
	config.MaxAttempts = uint16(s.configure.Nsq.MaxAttempts) + 1
	config.MaxRequeueDelay = s.configure.Nsq.RequeueDelay
	config.MsgTimeout = s.configure.Nsq.MsgTimeout
	if s.configure.Nsq.MsgTimeout >= 3*time.Second {
		s.nsqMessageTouchInterval = s.configure.Nsq.MsgTimeout - (1 * time.Second)
	} else {
		s.nsqMessageTouchInterval = s.configure.Nsq.MsgTimeout * 2 / 3
	}
	var err error
	s.nsqDeployConsumer, err = nsq.NewConsumer(s.configure.Nsq.Topics.Deploy, s.configure.Nsq.Channel, config)
	if err != nil {
		return err
	}
	s.nsqDeployConsumer.AddConcurrentHandlers(nsq.HandlerFunc(s.handleDeployMessage), s.configure.Nsq.Concurrent)
	err = s.nsqDeployConsumer.ConnectToNSQLookupds(s.configure.Nsq.NsqLookupd.Address)
	if err != nil {
		return err
	}
	s.nsqHotReloadConsumer, err = nsq.NewConsumer(s.configure.Nsq.Topics.HotReload, s.configure.Nsq.Channel, config)
	if err != nil {
		return err
	}
	s.nsqHotReloadConsumer.AddConcurrentHandlers(nsq.HandlerFunc(s.handleHotReloadMessage), s.configure.Nsq.Concurrent)
	err = s.nsqHotReloadConsumer.ConnectToNSQLookupds(s.configure.Nsq.NsqLookupd.Address)
	if err != nil {
		return err
	}
	s.nsqReport, err = nsq.NewProducer(s.configure.Nsq.Nsqd.Address, config)
	log.Println("Connected to NSQ Server")
	return err
}

// sweepInactive tears down idle sandboxes on a fixed cadence. Half the
// TTL keeps the worst-case overshoot at fifty percent.
func (s *Service) sweepInactive() {
	interval := s.configure.Sandbox.IdleTTL / 2
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s.manager.CleanupInactiveSandboxes(context.Background())
	}
}

func (s *Service) serveHTTP() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/progress", s.hub.HandleProgress)
	mux.HandleFunc("/status", s.handleStatus)
	log.Println("Listening on", s.configure.Listen)
	return http.ListenAndServe(s.configure.Listen, mux)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	w.Header().Set("Content-Type", "application/json")
	if projectID != "" {
		info := s.manager.GetSessionInfo(projectID)
		if info == nil {
			w.WriteHeader(404)
			w.Write([]byte(`{"error": "sandbox not found"}`))
			return
		}
		j, err := json.Marshal(info)
		if err != nil {
			w.WriteHeader(500)
			return
		}
		w.Write(j)
		return
	}
	j, err := json.Marshal(map[string]interface{}{
		"live-sandboxes": s.manager.Registry().LiveCount(),
	})
	if err != nil {
		w.WriteHeader(500)
		return
	}
	w.Write(j)
}

// checkIfRequestExists is the NSQ redelivery guard: INCR returns 1 only
// for the first observer of a key, every later delivery sees a higher
// count and is dropped.
func (s *Service) checkIfRequestExists(k string, expire time.Duration) (bool, error) {
	key := s.configure.Redis.Prefix + k
	rInteger, err := redis.Int64(s.redisConn.Do("INCR", key))
	if err != nil {
		return true, err
	}
	if rInteger == 1 {
		_, err = s.redisConn.Do("EXPIRE", key, int(expire/time.Second))
		return false, err
	}
	return true, nil
}

func (s *Service) setRequestNotExist(k string) error {
	_, err := s.redisConn.Do("DEL", s.configure.Redis.Prefix+k)
	return err
}

func (s *Service) publishToReport(msg *message.ReportMessage) error {
	msg.Timestamp = time.Now().UnixMicro()
	mText, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.nsqReport.Publish(s.configure.Nsq.Topics.Report, mText)
}

// touchUntil keeps an in-flight NSQ message alive past its timeout while
// a long pipeline runs. Send on the returned channel to stop.
func (s *Service) touchUntil(msg *nsq.Message) chan<- bool {
	finCh := make(chan bool)
	go func() {
		for {
			select {
			case <-finCh:
				return
			case <-time.After(s.nsqMessageTouchInterval):
				msg.Touch()
			}
		}
	}()
	return finCh
}

func (s *Service) handleDeployMessage(msg *nsq.Message) error {
	msg.Touch()
	dMsg := &message.DeployMessage{}
	err := json.Unmarshal(msg.Body, dMsg)
	if err != nil {
		if msg.Attempts > uint16(s.configure.Nsq.MaxAttempts) {
			msg.Finish()
			return nil
		}
		return err
	}
	if msg.Attempts > uint16(s.configure.Nsq.MaxAttempts) {
		err := s.publishToReport(&message.ReportMessage{
			RequestID: dMsg.RequestID,
			ProjectID: dMsg.ProjectID,
			Success:   false,
			Error:     message.ErrMaxAttemptsExceeded.Error(),
		})
		if err != nil {
			log.Println("ERROR:", err)
		}
		msg.Finish()
		return message.ErrMaxAttemptsExceeded
	}
	exists, err := s.checkIfRequestExists(dMsg.RequestID, s.configure.Redis.Expire.Deploy)
	if exists {
		msg.Finish()
		return err
	}
	finCh := s.touchUntil(msg)
	defer func() { finCh <- true }()
	err = s.processDeploy(dMsg)
	if err != nil {
		log.Println("ERROR:", err)
		dErr := s.setRequestNotExist(dMsg.RequestID)
		if dErr != nil {
			log.Println("ERROR:", dErr)
		}
		return err
	}
	msg.Finish()
	return nil
}

func (s *Service) handleHotReloadMessage(msg *nsq.Message) error {
	msg.Touch()
	hMsg := &message.HotReloadMessage{}
	err := json.Unmarshal(msg.Body, hMsg)
	if err != nil {
		if msg.Attempts > uint16(s.configure.Nsq.MaxAttempts) {
			msg.Finish()
			return nil
		}
		return err
	}
	if msg.Attempts > uint16(s.configure.Nsq.MaxAttempts) {
		err := s.publishToReport(&message.ReportMessage{
			RequestID: hMsg.RequestID,
			ProjectID: hMsg.ProjectID,
			Success:   false,
			Error:     message.ErrMaxAttemptsExceeded.Error(),
		})
		if err != nil {
			log.Println("ERROR:", err)
		}
		msg.Finish()
		return message.ErrMaxAttemptsExceeded
	}
	exists, err := s.checkIfRequestExists(hMsg.RequestID, s.configure.Redis.Expire.HotReload)
	if exists {
		msg.Finish()
		return err
	}
	finCh := s.touchUntil(msg)
	defer func() { finCh <- true }()
	err = s.processHotReload(hMsg)
	if err != nil {
		log.Println("ERROR:", err)
		dErr := s.setRequestNotExist(hMsg.RequestID)
		if dErr != nil {
			log.Println("ERROR:", dErr)
		}
		return err
	}
	msg.Finish()
	return nil
}

// processDeploy runs the full pipeline for one request: ensure a live
// sandbox, upload, install, start, then report the outcome.
func (s *Service) processDeploy(dMsg *message.DeployMessage) error {
	ctx := context.Background()
	mode := manager.Mode(dMsg.Mode)
	if mode == "" {
		mode = manager.ModeFullstack
	}
	sess := s.manager.Registry().Get(dMsg.ProjectID)
	if sess == nil || sess.Handle == nil {
		_, err := s.manager.CreateSandbox(ctx, dMsg.ProjectID, dMsg.UserID)
		if err != nil {
			return s.reportFailure(dMsg.RequestID, dMsg.ProjectID, err)
		}
	}
	err := s.manager.DeployFiles(ctx, dMsg.ProjectID, dMsg.Files, mode, dMsg.UserID)
	if err != nil {
		return s.reportFailure(dMsg.RequestID, dMsg.ProjectID, err)
	}
	install, err := s.manager.InstallDependencies(ctx, dMsg.ProjectID, mode, dMsg.UserID)
	if err != nil {
		return s.reportFailure(dMsg.RequestID, dMsg.ProjectID, err)
	}
	if !install.Success {
		return s.publishToReport(&message.ReportMessage{
			RequestID:         dMsg.RequestID,
			ProjectID:         dMsg.ProjectID,
			Success:           false,
			Error:             install.Error,
			FrontendInstalled: install.FrontendInstalled,
			BackendInstalled:  install.BackendInstalled,
			AIInstalled:       install.AIInstalled,
		})
	}
	start, err := s.manager.StartServers(ctx, dMsg.ProjectID, mode, dMsg.UserID)
	if err != nil {
		return s.reportFailure(dMsg.RequestID, dMsg.ProjectID, err)
	}
	return s.publishToReport(&message.ReportMessage{
		RequestID:         dMsg.RequestID,
		ProjectID:         dMsg.ProjectID,
		Success:           start.Success,
		PreviewURL:        start.PreviewURL,
		FrontendInstalled: install.FrontendInstalled,
		BackendInstalled:  install.BackendInstalled,
		AIInstalled:       install.AIInstalled,
	})
}

func (s *Service) processHotReload(hMsg *message.HotReloadMessage) error {
	ctx := context.Background()
	_, err := s.manager.GetActiveSandbox(ctx, hMsg.ProjectID, hMsg.UserID)
	if err != nil {
		return s.reportFailure(hMsg.RequestID, hMsg.ProjectID, err)
	}
	err = s.manager.UpdateFilesHotReload(ctx, hMsg.ProjectID, hMsg.Files, hMsg.UserID)
	if err != nil {
		return s.reportFailure(hMsg.RequestID, hMsg.ProjectID, err)
	}
	return s.publishToReport(&message.ReportMessage{
		RequestID:  hMsg.RequestID,
		ProjectID:  hMsg.ProjectID,
		Success:    true,
		PreviewURL: s.manager.GetPreviewURL(hMsg.ProjectID),
	})
}

func (s *Service) reportFailure(requestID string, projectID string, cause error) error {
	err := s.publishToReport(&message.ReportMessage{
		RequestID: requestID,
		ProjectID: projectID,
		Success:   false,
		Error:     cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("%v (reporting failed: %v)", cause, err)
	}
	return cause
}
