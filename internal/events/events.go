package events

import (
	"livecast/internal/domain"
	"livecast/internal/ports"
)

// Event names shared by the desktop shell and the remote event stream.
const (
	Session = "livecast:session"
	Toggles = "livecast:toggles"
	Warning = "livecast:warning"
	Error   = "livecast:error"
	// Status carries a full status snapshot, sent to clients as they connect.
	Status  = "livecast:status"
)

// Emitter delivers one named event to a UI.
type Emitter interface {
	Emit(name string, payload any)
}

// Sink turns session callbacks into UI events and fans them out.
type Sink struct {
	emitters []Emitter
}

var _ ports.EventSink = (*Sink)(nil)

func NewSink(emitters ...Emitter) *Sink {
	out := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return &Sink{emitters: out}
}

func (s *Sink) emit(name string, payload any) {
	for _, e := range s.emitters {
		e.Emit(name, payload)
	}
}

func (s *Sink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.emit(Session, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": SessionReasonMessage(reason),
	})
}

func (s *Sink) TogglesChanged(toggles domain.Toggles) {
	s.emit(Toggles, toggles)
}

func (s *Sink) SessionWarning(code domain.WarningCode, detail string) {
	s.emit(Warning, map[string]string{
		"code":    string(code),
		"message": WarningMessage(code, detail),
		"detail":  detail,
	})
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	s.emit(Error, map[string]string{
		"code":    string(code),
		"message": ErrorMessage(code, detail),
		"detail":  detail,
	})
}

func SessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready to go live"
	case domain.SessionReasonAcquiring:
		return "Starting camera, screen and microphone..."
	case domain.SessionReasonWentLive:
		return "You are live"
	case domain.SessionReasonStopRequested:
		return "Ending stream..."
	case domain.SessionReasonStopped:
		return "Stream ended"
	case domain.SessionReasonGoLiveFailed:
		return "Could not go live"
	case domain.SessionReasonEncoderFailed:
		return "Broadcast interrupted"
	case domain.SessionReasonTornDown:
		return "Session closed"
	case domain.SessionReasonNotifyFailed:
		return "Stream ended (server was not notified)"
	case domain.SessionReasonCreationFailed:
		return "Could not create stream"
	case domain.SessionReasonValidationError:
		return "Check the stream details"
	default:
		return ""
	}
}

func ErrorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeValidation:
		return "Invalid stream details"
	case domain.ErrorCodeStreamCreation:
		return "Stream creation failed"
	case domain.ErrorCodeGoLive:
		return "Go live failed"
	case domain.ErrorCodeStopNotify:
		return "Stop notification failed"
	case domain.ErrorCodeEncoder:
		return "Encoder stopped unexpectedly"
	case domain.ErrorCodeDevice:
		return "Device error"
	case domain.ErrorCodeTeardown:
		return "Cleanup issue"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

func WarningMessage(code domain.WarningCode, detail string) string {
	switch code {
	case domain.WarningDeviceNotActive:
		return "That device is not active"
	case domain.WarningDeviceLost:
		return "A device was disconnected"
	case domain.WarningScreenEnded:
		return "Screen sharing ended"
	default:
		return detail
	}
}
