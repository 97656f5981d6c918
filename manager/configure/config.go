package configure

import (
	"time"

	"github.com/qbit-dev/sandboxd/store"
)

type Configure struct {
	Listen      string                `yaml:"listen"`
	Sandbox     *SandboxConfigure     `yaml:"sandbox"`
	Provisioner *ProvisionerConfigure `yaml:"provisioner"`
	Nsq         *NsqConfigure         `yaml:"nsq"`
	Redis       *RedisConfigure       `yaml:"redis"`
	MinIO       *store.MinIOConfigure `yaml:"minio"`
}

type SandboxConfigure struct {
	TemplateID      string        `yaml:"template-id"`
	MaxSandboxes    int           `yaml:"max-sandboxes"`
	IdleTTL         time.Duration `yaml:"idle-ttl"`
	Lifetime        time.Duration `yaml:"lifetime"`
	PreProvisioned  bool          `yaml:"pre-provisioned"`
	DeployBatchSize int           `yaml:"deploy-batch-size"`
	HealthTimeout   time.Duration `yaml:"health-timeout"`
	InstallTimeout  time.Duration `yaml:"install-timeout"`
}

type ProvisionerConfigure struct {
	Address      string        `yaml:"address"`
	AccessKey    string        `yaml:"access-key"`
	Timeout      time.Duration `yaml:"timeout"`
	AgentTimeout time.Duration `yaml:"agent-timeout"`
}

type NsqConfigure struct {
	Nsqd         *NsqdConfigure       `yaml:"nsqd"`
	NsqLookupd   *NsqLookupdConfigure `yaml:"nsqlookupd"`
	Topics       *NsqTopicConfigure   `yaml:"topics"`
	Channel      string               `yaml:"channel"`
	AuthSecret   string               `yaml:"auth-secret"`
	Concurrent   int                  `yaml:"concurrent"`
	MaxAttempts  int                  `yaml:"max-attempts"`
	MsgTimeout   time.Duration        `yaml:"msg-timeout"`
	RequeueDelay time.Duration        `yaml:"requeue-delay"`
}

type NsqdConfigure struct {
	Address string `yaml:"address"`
}

type NsqLookupdConfigure struct {
	Address []string `yaml:"address"`
}

type NsqTopicConfigure struct {
	Deploy    string `yaml:"deploy"`
	HotReload string `yaml:"hot-reload"`
	Report    string `yaml:"report"`
}

type RedisConfigure struct {
	Address   string                `yaml:"address"`
	Password  string                `yaml:"password"`
	Database  int                   `yaml:"database"`
	KeepAlive time.Duration         `yaml:"keep-alive"`
	Prefix    string                `yaml:"prefix"`
	Expire    *RedisExpireConfigure `yaml:"expire"`
}

type RedisExpireConfigure struct {
	Deploy    time.Duration `yaml:"deploy"`
	HotReload time.Duration `yaml:"hot-reload"`
}
