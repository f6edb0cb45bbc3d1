package domain

import "time"

// SessionState models the broadcast lifecycle.
type SessionState string

const (
	SessionStateIdle             SessionState = "idle"
	SessionStateAcquiringDevices SessionState = "acquiring_devices"
	SessionStateLive             SessionState = "live"
	SessionStateStopping         SessionState = "stopping"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady           SessionStateReason = "ready"
	SessionReasonAcquiring       SessionStateReason = "acquiring"
	SessionReasonWentLive        SessionStateReason = "went_live"
	SessionReasonStopRequested   SessionStateReason = "stop_requested"
	SessionReasonStopped         SessionStateReason = "stopped"
	SessionReasonGoLiveFailed    SessionStateReason = "golive_failed"
	SessionReasonEncoderFailed   SessionStateReason = "encoder_failed"
	SessionReasonTornDown        SessionStateReason = "torn_down"
	SessionReasonNotifyFailed    SessionStateReason = "stopped_notify_failed"
	SessionReasonCreationFailed  SessionStateReason = "stream_creation_failed"
	SessionReasonValidationError SessionStateReason = "invalid_form"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup        ErrorCode = "startup"
	ErrorCodeValidation     ErrorCode = "validation"
	ErrorCodeStreamCreation ErrorCode = "stream_creation"
	ErrorCodeGoLive         ErrorCode = "golive"
	ErrorCodeStopNotify     ErrorCode = "stop_notify"
	ErrorCodeEncoder        ErrorCode = "encoder"
	ErrorCodeDevice         ErrorCode = "device"
	ErrorCodeTeardown       ErrorCode = "teardown"
)

// WarningCode identifies conditions the UI should surface without failing.
type WarningCode string

const (
	WarningDeviceNotActive WarningCode = "device_not_active"
	WarningDeviceLost      WarningCode = "device_lost"
	WarningScreenEnded     WarningCode = "screen_share_ended"
)

// SourceMode selects which video sources a go-live attempt acquires.
type SourceMode string

const (
	SourceModeCamera SourceMode = "camera"
	SourceModeScreen SourceMode = "screen"
	SourceModeBoth   SourceMode = "both"
)

// Valid reports whether m is a known mode.
func (m SourceMode) Valid() bool {
	switch m {
	case SourceModeCamera, SourceModeScreen, SourceModeBoth:
		return true
	default:
		return false
	}
}

// WantsCamera reports whether the mode includes the camera.
func (m SourceMode) WantsCamera() bool { return m == SourceModeCamera || m == SourceModeBoth }

// WantsScreen reports whether the mode includes screen capture.
func (m SourceMode) WantsScreen() bool { return m == SourceModeScreen || m == SourceModeBoth }

// Slot names a logical encoder input.
type Slot string

const (
	SlotCamera Slot = "camera1"
	SlotScreen Slot = "screen1"
	SlotMic    Slot = "mic1"
)

// Toggles reflect which active slots are enabled rather than merely paused.
type Toggles struct {
	Audio         bool `json:"audioEnabled"`
	Video         bool `json:"videoEnabled"`
	ScreenSharing bool `json:"screenSharing"`
}

// MessagePolicy controls who may chat during a stream.
type MessagePolicy string

const (
	MessagePolicyEveryone  MessagePolicy = "everyone"
	MessagePolicyFollowers MessagePolicy = "followers"
)

// StreamForm is the metadata submitted with a go-live request.
type StreamForm struct {
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	CategoryID    string        `json:"categoryId"`
	WhoCanMessage MessagePolicy `json:"whoCanMessage"`
	IsPublic      bool          `json:"isPublic"`
	IsMature      bool          `json:"isMature"`
	// ThumbnailPath is a local file uploaded with the stream record.
	ThumbnailPath string `json:"thumbnailPath,omitempty"`
}

// StreamRecord is the backend's view of a created stream.
type StreamRecord struct {
	StreamID string `json:"streamId"`
	Title    string `json:"title,omitempty"`
}

// IngestConfig carries the publish credentials for one stream. StreamKey is
// secret and must not outlive the session.
type IngestConfig struct {
	IngestServer string `json:"ingestServer"`
	StreamKey    string `json:"streamKey"`
	PlaybackURL  string `json:"playbackUrl"`
}

// Status summarizes the current runtime status.
type Status struct {
	State       SessionState `json:"state"`
	Active      bool         `json:"active"`
	StreamID    string       `json:"streamId,omitempty"`
	SourceMode  SourceMode   `json:"sourceMode,omitempty"`
	Slots       []Slot       `json:"slots"`
	Toggles     Toggles      `json:"toggles"`
	PlaybackURL string       `json:"playbackUrl,omitempty"`
	LiveSince   *time.Time   `json:"liveSince,omitempty"`
	Message     string       `json:"message,omitempty"`
}
