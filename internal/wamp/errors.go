package wamp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for client operations.
var (
	ErrNotInitialized     = errors.New("wamp: socket is not initialized or not open")
	ErrAlreadyInitialized = errors.New("wamp: client already initialized")
	ErrHandshake          = errors.New("wamp: handshake failed")
	ErrTimeout            = errors.New("wamp: call timed out")
	ErrConnectionLost     = errors.New("wamp: connection lost")
	ErrSendBufferFull     = errors.New("wamp: send buffer full")
)

// RemoteCallError is returned by Send when the far end answers with a
// CALL_ERROR frame. Details holds the raw error payload.
type RemoteCallError struct {
	ID      string
	Target  string
	Details json.RawMessage
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("wamp: remote error calling %s: %s", e.Target, e.Details)
}
