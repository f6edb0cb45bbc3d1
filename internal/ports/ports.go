package ports

import (
	"context"

	"livecast/internal/domain"
)

// MediaTrack is one live audio or video source.
type MediaTrack interface {
	ID() string
	Kind() domain.TrackKind
	Label() string
	Format() domain.TrackFormat

	// Enabled reports whether the track emits real media. A disabled track
	// keeps producing black frames or silence.
	Enabled() bool
	SetEnabled(enabled bool)

	// Ended reports whether the track has stopped for any reason.
	Ended() bool
	// Stop ends the track. Idempotent; does not fire OnEnded.
	Stop() error
	// OnEnded registers a callback fired once when the platform ends the track.
	OnEnded(callback func())

	// ReadFrame returns the next raw frame. The slice is valid until the next call.
	ReadFrame() ([]byte, error)
}

// MediaStream is a set of tracks acquired together.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	VideoTracks() []MediaTrack
	AudioTracks() []MediaTrack
	// Active reports whether any track is still running.
	Active() bool
	// Stop stops every track. Idempotent.
	Stop() error
}

// DeviceAcquirer wraps platform capture. Every call is independent; the
// caller owns the returned stream.
type DeviceAcquirer interface {
	AcquireCamera(ctx context.Context, constraints domain.VideoConstraints) (MediaStream, error)
	AcquireMicrophone(ctx context.Context, constraints domain.AudioConstraints) (MediaStream, error)
	AcquireScreen(ctx context.Context, options domain.DisplayOptions) (MediaStream, error)
	Release(stream MediaStream) error
	EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error)
}

// PreviewSurface is a passive sink for the composited output.
type PreviewSurface interface {
	PreviewURL() string
}

// EncoderHandle is one outbound-broadcast client instance.
type EncoderHandle interface {
	AttachPreview(surface PreviewSurface) error
	DetachPreview() error

	AddVideoInput(stream MediaStream, slot domain.Slot, opts domain.InputOptions) error
	RemoveVideoInput(slot domain.Slot) error
	AddAudioInput(stream MediaStream, slot domain.Slot) error
	RemoveAudioInput(slot domain.Slot) error

	StartBroadcast(ctx context.Context, streamKey string) error
	StopBroadcast() error
	Broadcasting() bool

	Slots() []domain.Slot
	// Freeze stops input changes from reaching a running broadcast. Called
	// before the inputs are removed for a teardown.
	Freeze()
	// OnTerminated registers a callback for an unexpected end of broadcast.
	OnTerminated(callback func(err error))

	Destroy() error
}

// Encoder creates encoder handles. At most one handle is alive at a time.
type Encoder interface {
	Create(ctx context.Context, cfg domain.EncoderConfig) (EncoderHandle, error)
}

// Backend is the REST collaborator for stream bookkeeping.
type Backend interface {
	CreateStream(ctx context.Context, form domain.StreamForm) (domain.StreamRecord, error)
	FetchIngest(ctx context.Context, streamID string) (domain.IngestConfig, error)
	NotifyStopped(ctx context.Context, streamID string, playbackURL string) error
}

// EventSink emits session state and events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TogglesChanged(toggles domain.Toggles)
	SessionWarning(code domain.WarningCode, detail string)
	SessionError(code domain.ErrorCode, detail string)
}
