package spawn

type ResourceControl struct {
	Memory int64 `json:"memory" yaml:"memory"` // Memory limit in MBytes
	CPU    int64 `json:"cpu" yaml:"cpu"`       // 100 for one cpu, 200 for two, ...
}
