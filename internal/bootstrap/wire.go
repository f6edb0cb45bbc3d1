package bootstrap

import (
	"net/http"

	"github.com/rs/zerolog"

	"livecast/internal/backend"
	"livecast/internal/capture"
	"livecast/internal/config"
	"livecast/internal/domain"
	"livecast/internal/encoder"
	"livecast/internal/logging"
	"livecast/internal/ports"
	"livecast/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Logger     zerolog.Logger
}

// Build loads configuration and wires all dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logging.Init(logger)
	if cfg.File != "" {
		logger.Info().Str("file", cfg.File).Msg("loaded config")
	}
	return Assemble(cfg, eventSink, logger)
}

// Assemble wires the session controller from an already loaded config.
func Assemble(cfg config.Config, eventSink ports.EventSink, logger zerolog.Logger) (Services, error) {
	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Token:         cfg.Backend.Token,
		Cookie:        cfg.Backend.Cookie,
		Timeout:       cfg.Backend.Timeout,
		MaxAttempts:   cfg.Backend.MaxAttempts,
		RetryInterval: cfg.Backend.RetryInterval,
	}, &http.Client{Timeout: cfg.Backend.Timeout}, logger)
	if err != nil {
		return Services{}, err
	}

	capturer := capture.NewCapturer(captureConfig(cfg.Capture), logger)

	profile := domain.EncoderProfile{
		Width:            cfg.Encoder.Width,
		Height:           cfg.Encoder.Height,
		FrameRate:        cfg.Encoder.FrameRate,
		VideoBitrateKbps: cfg.Encoder.VideoBitrateKbps,
		AudioBitrateKbps: cfg.Encoder.AudioBitrateKbps,
		KeyframeSeconds:  cfg.Encoder.KeyframeSeconds,
		Preset:           cfg.Encoder.Preset,
	}
	encoderClient := encoder.NewClient(encoder.Config{
		Command:        cfg.Encoder.Command,
		Profile:        profile,
		ProbeTimeout:   cfg.Encoder.ProbeTimeout,
		StartProbe:     cfg.Encoder.StartProbe,
		RecomposeDelay: cfg.Encoder.RecomposeDelay,
		SkipProbe:      cfg.Encoder.SkipProbe,
	}, logger)

	sessionCfg := usecase.DefaultConfig()
	sessionCfg.Profile = profile
	sessionCfg.NotifyTimeout = cfg.Session.NotifyTimeout
	sessionCfg.Camera = domain.VideoConstraints{
		Width:     cfg.Capture.Camera.Width,
		Height:    cfg.Capture.Camera.Height,
		FrameRate: cfg.Capture.Camera.FrameRate,
	}
	sessionCfg.Microphone = domain.AudioConstraints{
		SampleRate:       cfg.Capture.Microphone.SampleRate,
		Channels:         cfg.Capture.Microphone.Channels,
		EchoCancellation: cfg.Capture.Microphone.EchoCancellation,
		NoiseSuppression: cfg.Capture.Microphone.NoiseSuppression,
		AutoGainControl:  cfg.Capture.Microphone.AutoGainControl,
	}
	sessionCfg.Screen = domain.DisplayOptions{
		Width:     cfg.Capture.Screen.Width,
		Height:    cfg.Capture.Screen.Height,
		FrameRate: cfg.Capture.Screen.FrameRate,
		Audio:     cfg.Capture.Screen.Audio,
	}
	if cfg.Encoder.PreviewURL != "" {
		sessionCfg.Preview = encoder.PreviewSink(cfg.Encoder.PreviewURL)
	}

	controller := usecase.NewSessionController(capturer, encoderClient, backendClient, eventSink, sessionCfg, logger)
	return Services{Controller: controller, Config: cfg, Logger: logger}, nil
}

func captureConfig(cfg config.CaptureConfig) capture.Config {
	return capture.Config{
		Command:    cfg.Command,
		StartProbe: cfg.StartProbe,
		Camera: capture.DeviceConfig{
			InputFormat: cfg.Camera.InputFormat,
			Device:      cfg.Camera.Device,
		},
		Microphone: capture.MicrophoneConfig{
			DeviceConfig: capture.DeviceConfig{
				InputFormat: cfg.Microphone.InputFormat,
				Device:      cfg.Microphone.Device,
			},
			EchoCancelDevice: cfg.Microphone.EchoCancelDevice,
		},
		Screen: capture.ScreenConfig{
			DeviceConfig: capture.DeviceConfig{
				InputFormat: cfg.Screen.InputFormat,
				Device:      cfg.Screen.Device,
			},
			PickerCommand: cfg.Screen.PickerArgs(),
			AudioFormat:   cfg.Screen.AudioFormat,
			AudioDevice:   cfg.Screen.AudioDevice,
		},
	}
}
