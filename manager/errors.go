package manager

import "fmt"

var ErrTemplateIDRequired = fmt.Errorf("sandbox template id is required")
var ErrSandboxNotFound = fmt.Errorf("sandbox not found")
var ErrDeployFailed = fmt.Errorf("file deployment failed")
var ErrFrontendInstallFailed = fmt.Errorf("frontend dependency installation failed")
var ErrFrontendStartTimeout = fmt.Errorf("frontend server timeout")
var ErrNoStoredFiles = fmt.Errorf("no stored files for project")
var ErrRecreationFailed = fmt.Errorf("sandbox recreation failed")
