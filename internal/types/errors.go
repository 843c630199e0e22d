package types

import "errors"

var (
	// ErrProtocolViolation: malformed trace or response. The iteration is discarded.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrExecutionTimeout: the target did not answer within the per-execution timeout.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrTargetCrash is a recorded outcome rather than a failure of the loop.
	ErrTargetCrash = errors.New("target crash")
	// ErrNoStatesAvailable is returned by schedulers before any state was discovered.
	ErrNoStatesAvailable = errors.New("no states available")
	// ErrTransportFailure: process or IPC failure; triggers bounded restarts.
	ErrTransportFailure = errors.New("transport failure")
)
