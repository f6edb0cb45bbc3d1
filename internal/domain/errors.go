package domain

import (
	"errors"
	"fmt"
)

// Device acquisition failures. User-correctable.
var (
	ErrPermissionDenied         = errors.New("permission denied")
	ErrNoDeviceFound            = errors.New("no device found")
	ErrConstraintsUnsatisfiable = errors.New("constraints unsatisfiable")
	ErrUserCancelled            = errors.New("user cancelled")
	ErrDeviceFailure            = errors.New("device failure")
)

// Encoder adapter failures.
var (
	ErrConfigInvalid       = errors.New("encoder config invalid")
	ErrEncoderInUse        = errors.New("encoder already in use")
	ErrHandleDestroyed     = errors.New("encoder handle destroyed")
	ErrSlotOccupied        = errors.New("slot occupied")
	ErrDeviceIncompatible  = errors.New("device incompatible with slot")
	ErrIngestUnreachable   = errors.New("ingest unreachable")
	ErrAlreadyBroadcasting = errors.New("already broadcasting")
	ErrNotBroadcasting     = errors.New("not broadcasting")
)

// Backend collaborator failures.
var (
	ErrStreamCreationFailed      = errors.New("stream creation failed")
	ErrIngestConfigUnavailable   = errors.New("ingest configuration unavailable")
	ErrBackendNotificationFailed = errors.New("backend notification failed")
)

// Session state machine failures.
var (
	ErrAlreadySessionActive = errors.New("a broadcast session is already active")
	ErrNotLive              = errors.New("session is not live")
	ErrGoLiveFailed         = errors.New("go live failed")
	ErrDeviceNotActive      = errors.New("device not active")
	ErrInvalidForm          = errors.New("invalid stream form")
)

// DeviceError is a typed device acquisition failure. It matches both its Kind
// sentinel and the underlying cause with errors.Is.
type DeviceError struct {
	Device string
	Kind   error
	Err    error
}

func (e *DeviceError) Error() string {
	kind := ErrDeviceFailure
	if e.Kind != nil {
		kind = e.Kind
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Device, kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Device, kind, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewDeviceError builds a DeviceError, defaulting Kind to ErrDeviceFailure.
func NewDeviceError(device string, kind error, err error) *DeviceError {
	if kind == nil {
		kind = ErrDeviceFailure
	}
	return &DeviceError{Device: device, Kind: kind, Err: err}
}
