package domain

import "fmt"

// PermissionError reports that the microphone could not be acquired.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Connection operations reported by ConnectionError.
const (
	ConnectionOpOpen     = "open"
	ConnectionOpSend     = "send"
	ConnectionOpReceive  = "receive"
	ConnectionOpProtocol = "protocol"
)

// ConnectionError reports a failure talking to the live model service.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("live connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
