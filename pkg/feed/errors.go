package feed

import (
	"errors"
	"fmt"
)

// ErrSourceClosed is returned by sources that have been closed.
var ErrSourceClosed = errors.New("feed source closed")

// DecodeError reports a change event that could not be decoded.
type DecodeError struct {
	// Offset identifies the message in its source, if known.
	Offset string

	Err error
}

func (e *DecodeError) Error() string {
	if e.Offset != "" {
		return fmt.Sprintf("decode change event at %s: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("decode change event: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
