package configure

import "github.com/qbit-dev/sandboxd/spawn"

type Configure struct {
	Listen        string                 `yaml:"listen"`
	SecretKey     string                 `yaml:"secret-key"`
	WorkspacePath string                 `yaml:"workspace-path"`
	RunAsUser     string                 `yaml:"run-as-user"`
	Cgroups       *CgroupsConfigure      `yaml:"cgroups"`
	Resources     *spawn.ResourceControl `yaml:"resources"`
}

type CgroupsConfigure struct {
	Enabled  bool   `yaml:"enabled"`
	BasePath string `yaml:"base-path"`
}
