package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/qbit-dev/sandboxd/agent/api"
	"github.com/qbit-dev/sandboxd/common"
)

// Client talks to one sandbox-agent over its signed HTTP API.
type Client struct {
	hc        *http.Client
	address   string
	secretKey []byte
}

func NewClient(address string, secretKey []byte, timeout time.Duration) *Client {
	return &Client{
		hc: &http.Client{
			Timeout: timeout,
		},
		address:   address,
		secretKey: secretKey,
	}
}

func (c *Client) doPostRequest(ctx context.Context, endpoint string, data interface{}, resp common.Response) error {
	j, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.address+"/"+endpoint, bytes.NewReader(j))
	if err != nil {
		return err
	}
	signature, err := common.SignMessage(j, c.secretKey)
	if err != nil {
		return err
	}
	req.Header.Add("X-Signature", string(signature))
	r, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, resp)
}

func (c *Client) WriteFile(ctx context.Context, path string, content string) error {
	resp := new(api.WriteFileResponse)
	err := c.doPostRequest(ctx, "write-file", &api.WriteFileRequest{
		Path:    path,
		Content: content,
	}, resp)
	if err != nil {
		return err
	}
	return resp.GetError()
}

func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	resp := new(api.ReadFileResponse)
	err := c.doPostRequest(ctx, "read-file", &api.ReadFileRequest{
		Path: path,
	}, resp)
	if err != nil {
		return "", err
	}
	return resp.Content, resp.GetError()
}

func (c *Client) FileExists(ctx context.Context, path string) (bool, error) {
	resp := new(api.FileExistsResponse)
	err := c.doPostRequest(ctx, "file-exists", &api.FileExistsRequest{
		Path: path,
	}, resp)
	if err != nil {
		return false, err
	}
	return resp.Exists, resp.GetError()
}

func (c *Client) RemoveFile(ctx context.Context, path string) error {
	resp := new(api.RemoveFileResponse)
	err := c.doPostRequest(ctx, "remove-file", &api.RemoveFileRequest{
		Path: path,
	}, resp)
	if err != nil {
		return err
	}
	return resp.GetError()
}

func (c *Client) ExecuteCommand(
	ctx context.Context, command string, workDirectory string,
	timeout time.Duration, background bool,
) (*api.ExecuteCommandResponse, error) {
	resp := new(api.ExecuteCommandResponse)
	err := c.doPostRequest(ctx, "execute-command", &api.ExecuteCommandRequest{
		Command:        command,
		WorkDirectory:  workDirectory,
		TimeoutSeconds: int(timeout / time.Second),
		Background:     background,
	}, resp)
	if err != nil {
		return nil, err
	}
	return resp, resp.GetError()
}

func (c *Client) Terminate(ctx context.Context) error {
	resp := new(api.TerminateResponse)
	err := c.doPostRequest(ctx, "terminate", &api.TerminateRequest{}, resp)
	if err != nil {
		return err
	}
	return resp.GetError()
}
