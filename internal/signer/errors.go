package signer

import "fmt"

// Error reports an endpoint or credential problem that prevents signing. It
// is never transient.
type Error struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	msg := "sign request"
	if e.Endpoint != "" {
		msg += " for " + e.Endpoint
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
