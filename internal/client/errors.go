package client

import (
	"errors"
	"fmt"
)

// ErrConductorTerminated is returned by every synchronous operation once the
// inter-service timeout has fired. The client cannot recover; reconnect with
// a fresh Connect.
var ErrConductorTerminated = errors.New("client conductor terminated")

// ErrCommandQueueFull reports that a command could not be written to the
// to-driver ring after retries.
var ErrCommandQueueFull = errors.New("to-driver command queue is full")

// DriverTimeoutError reports that the media driver has not signalled
// liveness within the allowed interval.
type DriverTimeoutError struct {
	TimeoutMs int64
}

func (e DriverTimeoutError) Error() string {
	return fmt.Sprintf("no response from media driver within %d ms", e.TimeoutMs)
}

// RegistrationError carries a driver-originated rejection of a registration.
type RegistrationError struct {
	Code    int32
	Message string
}

func (e RegistrationError) Error() string {
	return fmt.Sprintf("registration error %d: %s", e.Code, e.Message)
}
