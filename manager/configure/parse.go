package configure

import (
	"os"

	"gopkg.in/yaml.v2"
)

func LoadConfigure(path string) (*Configure, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := new(Configure)
	err = yaml.Unmarshal(f, c)
	if err != nil {
		return nil, err
	}
	c.applyEnvironment()
	return c, nil
}

// applyEnvironment fills secrets and the template id from the process
// environment when the yaml leaves them empty, so credentials do not
// have to live in the configure file.
func (c *Configure) applyEnvironment() {
	if c.Sandbox == nil {
		c.Sandbox = &SandboxConfigure{}
	}
	if c.Sandbox.TemplateID == "" {
		c.Sandbox.TemplateID = os.Getenv("SANDBOXD_TEMPLATE_ID")
	}
	if c.Provisioner != nil && c.Provisioner.AccessKey == "" {
		c.Provisioner.AccessKey = os.Getenv("SANDBOXD_PROVISIONER_KEY")
	}
	if c.MinIO != nil && c.MinIO.Credentials != nil {
		if c.MinIO.Credentials.AccessKey == "" {
			c.MinIO.Credentials.AccessKey = os.Getenv("SANDBOXD_MINIO_ACCESS_KEY")
		}
		if c.MinIO.Credentials.SecretKey == "" {
			c.MinIO.Credentials.SecretKey = os.Getenv("SANDBOXD_MINIO_SECRET_KEY")
		}
	}
	if c.Redis != nil && c.Redis.Password == "" {
		c.Redis.Password = os.Getenv("SANDBOXD_REDIS_PASSWORD")
	}
}
