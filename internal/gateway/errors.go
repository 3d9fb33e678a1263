package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrShardClosed is returned when a command is submitted after the
	// shard has terminated.
	ErrShardClosed = errors.New("shard already closed")

	// ErrDecompress wraps failures from the streaming inflater.
	ErrDecompress = errors.New("decompress event stream")

	// ErrNotConnected is returned when sending before the transport is up.
	ErrNotConnected = errors.New("not connected")
)

// FatalError is a close-code classified error that must not be retried.
// The shard surfaces it to the caller and stops.
type FatalError struct {
	Code CloseCode
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("gateway closed connection: %s (%d)", e.Code, int(e.Code))
}

// IsFatal reports whether err terminates the shard permanently.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
