package api

import "github.com/qbit-dev/sandboxd/common"

type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type WriteFileResponse struct {
	common.ResponseBase
}

type ReadFileRequest struct {
	Path string `json:"path"`
}

type ReadFileResponse struct {
	common.ResponseBase
	Content string `json:"content"`
}

type FileExistsRequest struct {
	Path string `json:"path"`
}

type FileExistsResponse struct {
	common.ResponseBase
	Exists bool `json:"exists"`
}

type RemoveFileRequest struct {
	Path string `json:"path"`
}

type RemoveFileResponse struct {
	common.ResponseBase
}

type ExecuteCommandRequest struct {
	Command       string `json:"command"`
	WorkDirectory string `json:"work-directory"`
	// TimeoutSeconds bounds synchronous execution; ignored when Background
	// is set.
	TimeoutSeconds int  `json:"timeout-seconds"`
	Background     bool `json:"background"`
}

type ExecuteCommandResponse struct {
	common.ResponseBase
	ExitStatus int    `json:"exit-status"`
	StdOut     string `json:"stdout"`
	StdErr     string `json:"stderr"`
	Pid        int    `json:"pid"`
}

type TerminateRequest struct {
}

type TerminateResponse struct {
	common.ResponseBase
}
