package common

import "fmt"

type Request interface{}

type Response interface {
	IsSuccess() bool
	GetError() error
	SetError(e error)
}

// ResponseBase is embedded by every wire response. Error carries the
// failure text when Success is false.
type ResponseBase struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (rb *ResponseBase) IsSuccess() bool {
	return rb.Success
}

func (rb *ResponseBase) GetError() error {
	if rb.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%s", rb.Error)
}

func (rb *ResponseBase) SetError(e error) {
	if e != nil {
		rb.Success = false
		rb.Error = e.Error()
	} else {
		rb.Success = true
	}
}
