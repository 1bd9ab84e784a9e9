package chatclient

import (
	"errors"
	"fmt"
)

// ErrReconnectExhausted is reported once the reconnect ceiling is crossed.
// The client stays closed until Connect is called again.
var ErrReconnectExhausted = errors.New("max reconnection attempts reached")

// ConnectError reports that the chat connection could not be established.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ParseError reports an inbound frame that could not be decoded. The frame
// is dropped and the connection stays open.
type ParseError struct {
	Frame []byte
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SendError reports a failed send request. StatusCode is zero when the
// request never produced a response.
type SendError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to send message: %s", e.Status)
	}
	return fmt.Sprintf("error sending message: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
