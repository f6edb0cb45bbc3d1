package capture

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

// DeviceConfig selects an ffmpeg input format and default device.
type DeviceConfig struct {
	InputFormat  string
	Device       string
	InputOptions []string
}

// MicrophoneConfig adds the echo-cancelled source used when echo
// cancellation is requested.
type MicrophoneConfig struct {
	DeviceConfig
	EchoCancelDevice string
}

// ScreenConfig describes display capture and the optional region picker.
type ScreenConfig struct {
	DeviceConfig
	// PickerCommand prints a "WxH+X+Y" region; a non-zero exit means the
	// user dismissed the picker.
	PickerCommand []string
	AudioFormat   string
	AudioDevice   string
}

// Config controls how devices are captured.
type Config struct {
	Command    string
	Camera     DeviceConfig
	Microphone MicrophoneConfig
	Screen     ScreenConfig
	StartProbe time.Duration
}

// Capturer acquires camera, microphone and screen streams through ffmpeg.
type Capturer struct {
	cfg    Config
	logger zerolog.Logger
}

func NewCapturer(cfg Config, logger zerolog.Logger) *Capturer {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.Camera.InputFormat == "" {
		cfg.Camera.InputFormat = "v4l2"
	}
	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video0"
	}
	if cfg.Microphone.InputFormat == "" {
		cfg.Microphone.InputFormat = "pulse"
	}
	if cfg.Microphone.Device == "" {
		cfg.Microphone.Device = "default"
	}
	if cfg.Screen.InputFormat == "" {
		cfg.Screen.InputFormat = "x11grab"
	}
	if cfg.Screen.Device == "" {
		cfg.Screen.Device = ":0.0"
	}
	if cfg.Screen.AudioFormat == "" {
		cfg.Screen.AudioFormat = cfg.Microphone.InputFormat
	}
	if cfg.StartProbe <= 0 {
		cfg.StartProbe = defaultStartProbe
	}
	return &Capturer{cfg: cfg, logger: logger.With().Str("module", "capture").Logger()}
}

var _ ports.DeviceAcquirer = (*Capturer)(nil)

// AcquireCamera opens a video-only stream scaled to the ideal constraints.
func (c *Capturer) AcquireCamera(ctx context.Context, constraints domain.VideoConstraints) (ports.MediaStream, error) {
	format := videoFormat(constraints.Width, constraints.Height, constraints.FrameRate)
	device := firstNonEmpty(constraints.DeviceID, c.cfg.Camera.Device)

	args := cameraArgs(c.cfg.Camera, device, format)
	proc, err := startProcess(ctx, c.cfg.Command, args, c.cfg.StartProbe)
	if err != nil {
		return nil, classify("camera", err)
	}

	c.logger.Info().Str("device", device).Int("width", format.Width).Int("height", format.Height).Msg("camera acquired")
	return newStream(newTrack(domain.TrackKindVideo, "camera:"+device, format, proc)), nil
}

// AcquireMicrophone opens an audio-only stream.
func (c *Capturer) AcquireMicrophone(ctx context.Context, constraints domain.AudioConstraints) (ports.MediaStream, error) {
	format := audioFormat(constraints.SampleRate, constraints.Channels)
	device := constraints.DeviceID
	if device == "" && constraints.EchoCancellation && c.cfg.Microphone.EchoCancelDevice != "" {
		device = c.cfg.Microphone.EchoCancelDevice
	}
	device = firstNonEmpty(device, c.cfg.Microphone.Device)

	args := microphoneArgs(c.cfg.Microphone.DeviceConfig, device, format, constraints)
	proc, err := startProcess(ctx, c.cfg.Command, args, c.cfg.StartProbe)
	if err != nil {
		return nil, classify("microphone", err)
	}

	c.logger.Info().Str("device", device).Int("sample_rate", format.SampleRate).Msg("microphone acquired")
	return newStream(newTrack(domain.TrackKindAudio, "microphone:"+device, format, proc)), nil
}

// AcquireScreen opens a display-capture stream, running the picker first if
// one is configured. System audio is best-effort.
func (c *Capturer) AcquireScreen(ctx context.Context, options domain.DisplayOptions) (ports.MediaStream, error) {
	format := videoFormat(options.Width, options.Height, options.FrameRate)

	region, err := runPicker(ctx, c.cfg.Screen.PickerCommand)
	if err != nil {
		return nil, err
	}

	args := screenArgs(c.cfg.Screen.DeviceConfig, region, format)
	proc, err := startProcess(ctx, c.cfg.Command, args, c.cfg.StartProbe)
	if err != nil {
		return nil, classify("screen", err)
	}
	tracks := []*Track{newTrack(domain.TrackKindVideo, "screen:"+c.cfg.Screen.Device, format, proc)}

	if options.Audio && c.cfg.Screen.AudioDevice != "" {
		audio := audioFormat(0, 0)
		audioArgs := microphoneArgs(DeviceConfig{InputFormat: c.cfg.Screen.AudioFormat}, c.cfg.Screen.AudioDevice, audio, domain.AudioConstraints{})
		audioProc, err := startProcess(ctx, c.cfg.Command, audioArgs, c.cfg.StartProbe)
		if err != nil {
			c.logger.Warn().Err(err).Msg("system audio unavailable, continuing with video only")
		} else {
			tracks = append(tracks, newTrack(domain.TrackKindAudio, "screen-audio:"+c.cfg.Screen.AudioDevice, audio, audioProc))
		}
	}

	c.logger.Info().Str("region", region.String()).Int("tracks", len(tracks)).Msg("screen acquired")
	return newStream(tracks...), nil
}

// Release stops every track on stream. Safe to call more than once.
func (c *Capturer) Release(stream ports.MediaStream) error {
	if stream == nil {
		return nil
	}
	return stream.Stop()
}

func videoFormat(width, height, fps int) domain.TrackFormat {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	if fps <= 0 {
		fps = 30
	}
	return domain.TrackFormat{Width: (width + 1) &^ 1, Height: (height + 1) &^ 1, FrameRate: fps}
}

func audioFormat(sampleRate, channels int) domain.TrackFormat {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels <= 0 {
		channels = 2
	}
	return domain.TrackFormat{SampleRate: sampleRate, Channels: channels}
}

func baseArgs() []string {
	return []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
}

func cameraArgs(cfg DeviceConfig, device string, format domain.TrackFormat) []string {
	args := baseArgs()
	args = append(args, "-f", cfg.InputFormat)
	args = append(args, cfg.InputOptions...)
	args = append(args, "-i", device)
	return append(args, rawVideoOutput(format)...)
}

func microphoneArgs(cfg DeviceConfig, device string, format domain.TrackFormat, constraints domain.AudioConstraints) []string {
	args := baseArgs()
	args = append(args, "-f", cfg.InputFormat)
	args = append(args, cfg.InputOptions...)
	args = append(args, "-i", device)

	var filters []string
	if constraints.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if constraints.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	return append(args,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"-",
	)
}

func screenArgs(cfg DeviceConfig, region screenRegion, format domain.TrackFormat) []string {
	args := baseArgs()
	args = append(args, "-f", cfg.InputFormat, "-framerate", strconv.Itoa(format.FrameRate))
	args = append(args, cfg.InputOptions...)

	input := cfg.Device
	if !region.empty() {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", region.Width, region.Height))
		if cfg.InputFormat == "x11grab" {
			input = fmt.Sprintf("%s+%d,%d", cfg.Device, region.X, region.Y)
		}
	}
	args = append(args, "-i", input)
	return append(args, rawVideoOutput(format)...)
}

func rawVideoOutput(format domain.TrackFormat) []string {
	return []string{
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d,format=yuv420p",
			format.Width, format.Height, format.Width, format.Height, format.FrameRate),
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-",
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
