package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "LIVECAST"

// Config stores runtime configuration for the broadcaster.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Capture CaptureConfig `mapstructure:"capture"`
	Encoder EncoderConfig `mapstructure:"encoder"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
	Remote  RemoteConfig  `mapstructure:"remote"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type BackendConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	Cookie        string        `mapstructure:"cookie"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type CaptureConfig struct {
	Command    string           `mapstructure:"command"`
	StartProbe time.Duration    `mapstructure:"start_probe"`
	Camera     CameraConfig     `mapstructure:"camera"`
	Microphone MicrophoneConfig `mapstructure:"microphone"`
	Screen     ScreenConfig     `mapstructure:"screen"`
}

type CameraConfig struct {
	InputFormat string `mapstructure:"input_format"`
	Device      string `mapstructure:"device"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	FrameRate   int    `mapstructure:"frame_rate"`
}

type MicrophoneConfig struct {
	InputFormat      string `mapstructure:"input_format"`
	Device           string `mapstructure:"device"`
	EchoCancelDevice string `mapstructure:"echo_cancel_device"`
	SampleRate       int    `mapstructure:"sample_rate"`
	Channels         int    `mapstructure:"channels"`
	EchoCancellation bool   `mapstructure:"echo_cancellation"`
	NoiseSuppression bool   `mapstructure:"noise_suppression"`
	AutoGainControl  bool   `mapstructure:"auto_gain_control"`
}

type ScreenConfig struct {
	InputFormat   string `mapstructure:"input_format"`
	Device        string `mapstructure:"device"`
	PickerCommand string `mapstructure:"picker_command"`
	AudioFormat   string `mapstructure:"audio_format"`
	AudioDevice   string `mapstructure:"audio_device"`
	Width         int    `mapstructure:"width"`
	Height        int    `mapstructure:"height"`
	FrameRate     int    `mapstructure:"frame_rate"`
	Audio         bool   `mapstructure:"audio"`
}

// PickerArgs splits the picker command line on whitespace.
func (s ScreenConfig) PickerArgs() []string {
	return strings.Fields(s.PickerCommand)
}

type EncoderConfig struct {
	Command          string        `mapstructure:"command"`
	Width            int           `mapstructure:"width"`
	Height           int           `mapstructure:"height"`
	FrameRate        int           `mapstructure:"frame_rate"`
	VideoBitrateKbps int           `mapstructure:"video_bitrate_kbps"`
	AudioBitrateKbps int           `mapstructure:"audio_bitrate_kbps"`
	KeyframeSeconds  int           `mapstructure:"keyframe_seconds"`
	Preset           string        `mapstructure:"preset"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	StartProbe       time.Duration `mapstructure:"start_probe"`
	RecomposeDelay   time.Duration `mapstructure:"recompose_delay"`
	SkipProbe        bool          `mapstructure:"skip_probe"`
	// PreviewURL receives a copy of the composited output, e.g. a local udp:// sink.
	PreviewURL string `mapstructure:"preview_url"`
}

type SessionConfig struct {
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type RemoteConfig struct {
	Addr         string        `mapstructure:"addr"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	OutboxLength int           `mapstructure:"outbox_length"`
}

// Load resolves configuration from defaults, an optional yaml file and
// LIVECAST_* environment variables, in increasing priority.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file, err := configFile()
	if err != nil {
		return Config{}, err
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = file
	normalize(&cfg)
	return cfg, nil
}

// configFile returns $LIVECAST_CONFIG, which must exist when set, or the
// per-user default path when present.
func configFile() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	path := filepath.Join(home, ".config", "livecast", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://127.0.0.1:8080")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.cookie", "")
	v.SetDefault("backend.timeout", "15s")
	v.SetDefault("backend.max_attempts", 3)
	v.SetDefault("backend.retry_interval", "500ms")

	v.SetDefault("capture.command", "ffmpeg")
	v.SetDefault("capture.start_probe", "300ms")
	v.SetDefault("capture.camera.input_format", "v4l2")
	v.SetDefault("capture.camera.device", "/dev/video0")
	v.SetDefault("capture.camera.width", 1280)
	v.SetDefault("capture.camera.height", 720)
	v.SetDefault("capture.camera.frame_rate", 30)
	v.SetDefault("capture.microphone.input_format", "pulse")
	v.SetDefault("capture.microphone.device", "default")
	v.SetDefault("capture.microphone.echo_cancel_device", "")
	v.SetDefault("capture.microphone.sample_rate", 48000)
	v.SetDefault("capture.microphone.channels", 2)
	v.SetDefault("capture.microphone.echo_cancellation", true)
	v.SetDefault("capture.microphone.noise_suppression", true)
	v.SetDefault("capture.microphone.auto_gain_control", true)
	v.SetDefault("capture.screen.input_format", "x11grab")
	v.SetDefault("capture.screen.device", ":0.0")
	v.SetDefault("capture.screen.picker_command", "")
	v.SetDefault("capture.screen.audio_format", "pulse")
	v.SetDefault("capture.screen.audio_device", "")
	v.SetDefault("capture.screen.width", 1920)
	v.SetDefault("capture.screen.height", 1080)
	v.SetDefault("capture.screen.frame_rate", 30)
	v.SetDefault("capture.screen.audio", true)

	v.SetDefault("encoder.command", "")
	v.SetDefault("encoder.width", 1280)
	v.SetDefault("encoder.height", 720)
	v.SetDefault("encoder.frame_rate", 30)
	v.SetDefault("encoder.video_bitrate_kbps", 2500)
	v.SetDefault("encoder.audio_bitrate_kbps", 160)
	v.SetDefault("encoder.keyframe_seconds", 2)
	v.SetDefault("encoder.preset", "veryfast")
	v.SetDefault("encoder.probe_timeout", "5s")
	v.SetDefault("encoder.start_probe", "500ms")
	v.SetDefault("encoder.recompose_delay", "250ms")
	v.SetDefault("encoder.skip_probe", false)
	v.SetDefault("encoder.preview_url", "")

	v.SetDefault("session.notify_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("remote.addr", "127.0.0.1:7766")
	v.SetDefault("remote.ping_period", "30s")
	v.SetDefault("remote.write_wait", "10s")
	v.SetDefault("remote.read_limit", 4096)
	v.SetDefault("remote.outbox_length", 32)
}

func normalize(cfg *Config) {
	cfg.Backend.BaseURL = strings.TrimSpace(cfg.Backend.BaseURL)
	cfg.Capture.Command = firstNonEmpty(cfg.Capture.Command, "ffmpeg")
	cfg.Encoder.Command = firstNonEmpty(cfg.Encoder.Command, cfg.Capture.Command)
	cfg.Log.Level = strings.ToLower(firstNonEmpty(cfg.Log.Level, "info"))

	positiveInt(&cfg.Backend.MaxAttempts, 3)
	positiveDuration(&cfg.Backend.Timeout, 15*time.Second)

	positiveInt(&cfg.Capture.Camera.Width, 1280)
	positiveInt(&cfg.Capture.Camera.Height, 720)
	positiveInt(&cfg.Capture.Camera.FrameRate, 30)
	positiveInt(&cfg.Capture.Microphone.SampleRate, 48000)
	positiveInt(&cfg.Capture.Microphone.Channels, 2)
	positiveInt(&cfg.Capture.Screen.Width, 1920)
	positiveInt(&cfg.Capture.Screen.Height, 1080)
	positiveInt(&cfg.Capture.Screen.FrameRate, 30)

	positiveInt(&cfg.Encoder.Width, 1280)
	positiveInt(&cfg.Encoder.Height, 720)
	positiveInt(&cfg.Encoder.FrameRate, 30)
	positiveInt(&cfg.Encoder.VideoBitrateKbps, 2500)
	positiveInt(&cfg.Encoder.AudioBitrateKbps, 160)
	positiveInt(&cfg.Encoder.KeyframeSeconds, 2)
	positiveDuration(&cfg.Encoder.ProbeTimeout, 5*time.Second)
	if cfg.Encoder.RecomposeDelay < 0 {
		cfg.Encoder.RecomposeDelay = 0
	}

	positiveDuration(&cfg.Session.NotifyTimeout, 10*time.Second)

	cfg.Remote.Addr = strings.TrimSpace(cfg.Remote.Addr)
	positiveDuration(&cfg.Remote.PingPeriod, 30*time.Second)
	positiveDuration(&cfg.Remote.WriteWait, 10*time.Second)
	if cfg.Remote.ReadLimit <= 0 {
		cfg.Remote.ReadLimit = 4096
	}
	positiveInt(&cfg.Remote.OutboxLength, 32)
}

func positiveInt(value *int, fallback int) {
	if *value <= 0 {
		*value = fallback
	}
}

func positiveDuration(value *time.Duration, fallback time.Duration) {
	if *value <= 0 {
		*value = fallback
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
