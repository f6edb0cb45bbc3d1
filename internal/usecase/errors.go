package usecase

import (
	"fmt"

	"livecast/internal/domain"
)

// GoLiveStep names the go-live step that failed.
type GoLiveStep string

const (
	StepIngest    GoLiveStep = "ingest"
	StepEncoder   GoLiveStep = "encoder"
	StepPreview   GoLiveStep = "preview"
	StepCamera    GoLiveStep = "camera"
	StepScreen    GoLiveStep = "screen"
	StepMic       GoLiveStep = "microphone"
	StepBroadcast GoLiveStep = "broadcast"
)

// GoLiveError is returned when go-live fails after the stream record was
// created. Everything acquired has already been released when it is returned.
type GoLiveError struct {
	Step GoLiveStep
	Err  error
}

func (e *GoLiveError) Error() string {
	return fmt.Sprintf("go live failed at %s: %v", e.Step, e.Err)
}

func (e *GoLiveError) Unwrap() error { return e.Err }

func (e *GoLiveError) Is(target error) bool { return target == domain.ErrGoLiveFailed }
