package domain

// TrackKind distinguishes audio and video tracks.
type TrackKind string

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
)

// DeviceKind mirrors MediaDeviceInfo.kind.
type DeviceKind string

const (
	DeviceKindVideoInput DeviceKind = "videoinput"
	DeviceKindAudioInput DeviceKind = "audioinput"
)

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	DeviceID string     `json:"deviceId"`
	Kind     DeviceKind `json:"kind"`
	Label    string     `json:"label"`
	Default  bool       `json:"default"`
}

// VideoConstraints are ideal camera settings; the capture layer scales to match.
type VideoConstraints struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate int
}

// AudioConstraints configure microphone capture.
type AudioConstraints struct {
	DeviceID         string
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DisplayOptions configure screen capture.
type DisplayOptions struct {
	Width     int
	Height    int
	FrameRate int
	// Audio requests system audio alongside the display.
	Audio bool
}

// TrackFormat is the raw frame layout a track produces.
// Video tracks emit yuv420p frames, audio tracks emit interleaved s16le PCM.
type TrackFormat struct {
	Width      int
	Height     int
	FrameRate  int
	SampleRate int
	Channels   int
}

// VideoFrameSize returns the byte length of one yuv420p frame.
func (f TrackFormat) VideoFrameSize() int {
	return f.Width*f.Height + 2*((f.Width/2)*(f.Height/2))
}

// AudioChunkSize returns the byte length of 20ms of s16le PCM.
func (f TrackFormat) AudioChunkSize() int {
	return f.SampleRate / 50 * f.Channels * 2
}

// Rect is a normalised rectangle on the encoder canvas; 0..1 on both axes.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// FullCanvas covers the whole output.
var FullCanvas = Rect{X: 0, Y: 0, W: 1, H: 1}

// InputOptions places a video input on the canvas. Higher Index draws on top.
type InputOptions struct {
	Index    int
	Position Rect
}

// EncoderProfile is the output resolution and bitrate ladder rung.
type EncoderProfile struct {
	Width            int
	Height           int
	FrameRate        int
	VideoBitrateKbps int
	AudioBitrateKbps int
	KeyframeSeconds  int
	Preset           string
}

// EncoderConfig creates an encoder client bound to one ingest endpoint.
type EncoderConfig struct {
	Endpoint string
	Profile  EncoderProfile
}
