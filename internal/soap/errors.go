package soap

import (
	"errors"
	"fmt"
)

// Well-known UPnP error codes the control plane treats specially.
const (
	// CodeContentNotReady (701) is returned by Play when the renderer has
	// not finished buffering the URI set by SetAVTransportURI.
	CodeContentNotReady = 701
	// CodeInvalidRole (1023) is returned when an action is invalid for the
	// device's role, typically BecomeCoordinatorOfStandaloneGroup on a
	// stereo-pair slave.
	CodeInvalidRole = 1023
)

// RejectedError is a SOAP fault from a device. The numeric UPnP code is
// preserved verbatim for callers.
type RejectedError struct {
	Action      string
	Code        int
	Description string
}

func (e *RejectedError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("upnp action %s rejected: code %d", e.Action, e.Code)
	}
	return fmt.Sprintf("upnp action %s rejected: code %d (%s)", e.Action, e.Code, e.Description)
}

// TimeoutError indicates a request exceeded the client timeout.
type TimeoutError struct {
	Action string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upnp action %s timed out", e.Action)
}

// UnreachableError indicates the device could not be reached.
type UnreachableError struct {
	Action string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("upnp action %s unreachable: %v", e.Action, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// IsFaultCode reports whether err is a RejectedError carrying code.
func IsFaultCode(err error, code int) bool {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Code == code
	}
	return false
}
