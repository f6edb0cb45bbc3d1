package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

const defaultNotifyTimeout = 10 * time.Second

// Config controls what a go-live attempt acquires and how it publishes.
type Config struct {
	Profile       domain.EncoderProfile
	Camera        domain.VideoConstraints
	Microphone    domain.AudioConstraints
	Screen        domain.DisplayOptions
	Preview       ports.PreviewSurface
	NotifyTimeout time.Duration
}

// DefaultConfig returns 720p camera capture, 1080p screen capture with
// system audio, and a processed stereo microphone.
func DefaultConfig() Config {
	return Config{
		Camera: domain.VideoConstraints{Width: 1280, Height: 720, FrameRate: 30},
		Microphone: domain.AudioConstraints{
			SampleRate:       48000,
			Channels:         2,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Screen:        domain.DisplayOptions{Width: 1920, Height: 1080, FrameRate: 30, Audio: true},
		NotifyTimeout: defaultNotifyTimeout,
	}
}

// SessionController is the broadcast session state machine. It owns the
// encoder handle and every acquired device for the lifetime of a session.
type SessionController struct {
	devices ports.DeviceAcquirer
	encoder ports.Encoder
	backend ports.Backend
	events  ports.EventSink
	cfg     Config
	logger  zerolog.Logger

	// opMu serializes every operation, including platform events.
	opMu sync.Mutex

	mu           sync.Mutex
	state        domain.SessionState
	current      *activeSession
	cancelGoLive context.CancelFunc

	platform  chan platformEvent
	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

func NewSessionController(
	devices ports.DeviceAcquirer,
	encoder ports.Encoder,
	backend ports.Backend,
	events ports.EventSink,
	cfg Config,
	logger zerolog.Logger,
) *SessionController {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	c := &SessionController{
		devices:  devices,
		encoder:  encoder,
		backend:  backend,
		events:   events,
		cfg:      cfg,
		logger:   logger.With().Str("module", "session").Logger(),
		state:    domain.SessionStateIdle,
		platform: make(chan platformEvent, 16),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go c.consumePlatformEvents()
	return c
}

// GoLive creates the stream record, acquires devices for mode and starts
// publishing. Any failure after the record exists rolls back everything
// acquired before returning a *GoLiveError.
func (c *SessionController) GoLive(ctx context.Context, form domain.StreamForm, mode domain.SourceMode, toggles domain.Toggles) (domain.Status, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.getState() != domain.SessionStateIdle {
		return c.Status(), domain.ErrAlreadySessionActive
	}

	form = normalizeForm(form)
	if err := validateForm(form, mode); err != nil {
		c.events.SessionError(domain.ErrorCodeValidation, err.Error())
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonValidationError)
		return c.Status(), err
	}

	goCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelGoLive = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelGoLive = nil
		c.mu.Unlock()
		cancel()
	}()

	record, err := c.backend.CreateStream(goCtx, form)
	if err != nil {
		if !errors.Is(err, domain.ErrStreamCreationFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrStreamCreationFailed, err)
		}
		c.logger.Warn().Err(err).Msg("stream creation failed")
		c.events.SessionError(domain.ErrorCodeStreamCreation, err.Error())
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonCreationFailed)
		return c.Status(), err
	}

	active := newActiveSession(record.StreamID, mode)

	// The ingest lookup runs while still Idle: no encoder exists yet.
	ingest, err := c.backend.FetchIngest(goCtx, active.streamID)
	if err != nil {
		err = &GoLiveError{Step: StepIngest, Err: err}
		c.notifyStopped(ctx, active)
		c.logger.Warn().Err(err).Str("stream_id", active.streamID).Msg("go live failed")
		c.events.SessionError(domain.ErrorCodeGoLive, err.Error())
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonGoLiveFailed)
		return c.Status(), err
	}
	active.setPlaybackURL(ingest.PlaybackURL)

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()
	c.transition(domain.SessionStateAcquiringDevices, domain.SessionReasonAcquiring)

	if err := c.acquire(goCtx, active, ingest, toggles); err != nil {
		c.transition(domain.SessionStateStopping, domain.SessionReasonGoLiveFailed)
		c.rollback(active)
		c.notifyStopped(ctx, active)
		c.transition(domain.SessionStateIdle, domain.SessionReasonGoLiveFailed)

		c.logger.Warn().Err(err).Str("stream_id", active.streamID).Msg("go live failed")
		c.events.SessionError(domain.ErrorCodeGoLive, err.Error())
		return c.Status(), err
	}

	active.markLive(time.Now().UTC())
	c.transition(domain.SessionStateLive, domain.SessionReasonWentLive)
	c.events.TogglesChanged(active.getToggles())
	c.logger.Info().Str("stream_id", active.streamID).Str("source_mode", string(mode)).Strs("slots", slotStrings(active.slotNames())).Msg("live")
	return c.Status(), nil
}

// acquire creates the encoder, attaches every source and starts the
// broadcast. The returned error is always a *GoLiveError.
func (c *SessionController) acquire(ctx context.Context, active *activeSession, ingest domain.IngestConfig, toggles domain.Toggles) error {
	handle, err := c.encoder.Create(ctx, domain.EncoderConfig{Endpoint: ingest.IngestServer, Profile: c.cfg.Profile})
	if err != nil {
		return &GoLiveError{Step: StepEncoder, Err: err}
	}
	active.setEncoder(handle)
	handle.OnTerminated(func(err error) {
		c.post(platformEvent{kind: eventEncoderTerminated, session: active, err: err})
	})

	if err := handle.AttachPreview(c.cfg.Preview); err != nil {
		return &GoLiveError{Step: StepPreview, Err: err}
	}

	mode := active.sourceMode
	if mode.WantsCamera() && toggles.Video {
		if err := c.attachCamera(ctx, active, cameraPlacement(mode)); err != nil {
			return &GoLiveError{Step: StepCamera, Err: err}
		}
	}
	if mode.WantsScreen() {
		if err := c.attachScreen(ctx, active, screenPlacement(mode)); err != nil {
			return &GoLiveError{Step: StepScreen, Err: err}
		}
	}
	if toggles.Audio {
		if err := c.attachMicrophone(ctx, active); err != nil {
			return &GoLiveError{Step: StepMic, Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		return &GoLiveError{Step: StepBroadcast, Err: err}
	}
	if err := handle.StartBroadcast(ctx, ingest.StreamKey); err != nil {
		return &GoLiveError{Step: StepBroadcast, Err: err}
	}
	return nil
}

// StopLive ends a live session: devices and encoder are released first,
// then the backend is told. A failed notification still leaves the session
// idle.
func (c *SessionController) StopLive(ctx context.Context) (domain.Status, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	active := c.getCurrent()
	if c.getState() != domain.SessionStateLive || active == nil {
		return c.Status(), domain.ErrNotLive
	}

	c.transition(domain.SessionStateStopping, domain.SessionReasonStopRequested)
	c.rollback(active)

	if err := c.notifyStopped(ctx, active); err != nil {
		c.transition(domain.SessionStateIdle, domain.SessionReasonNotifyFailed)
		return c.Status(), err
	}
	c.transition(domain.SessionStateIdle, domain.SessionReasonStopped)
	c.logger.Info().Str("stream_id", active.streamID).Msg("stopped")
	return c.Status(), nil
}

// ToggleScreenShare adds or removes the screen slot while live.
func (c *SessionController) ToggleScreenShare(ctx context.Context) (domain.Toggles, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	active := c.getCurrent()
	if c.getState() != domain.SessionStateLive || active == nil {
		return domain.Toggles{}, domain.ErrNotLive
	}

	if active.slot(domain.SlotScreen) != nil {
		c.releaseSlot(active, domain.SlotScreen)
		toggles := active.updateToggles(func(t *domain.Toggles) { t.ScreenSharing = false })
		c.events.TogglesChanged(toggles)
		return toggles, nil
	}

	placement := toggledScreenPlacement(active.slot(domain.SlotCamera) != nil)
	if err := c.attachScreen(ctx, active, placement); err != nil {
		c.logger.Warn().Err(err).Msg("screen share failed")
		c.events.SessionError(domain.ErrorCodeDevice, err.Error())
		return active.getToggles(), err
	}
	toggles := active.getToggles()
	c.events.TogglesChanged(toggles)
	return toggles, nil
}

// ToggleAudio mutes or unmutes the microphone track without releasing it.
func (c *SessionController) ToggleAudio() (domain.Toggles, error) {
	return c.toggleTrack(domain.SlotMic, func(t *domain.Toggles) *bool { return &t.Audio })
}

// ToggleVideo blanks or restores the camera track without releasing it.
func (c *SessionController) ToggleVideo() (domain.Toggles, error) {
	return c.toggleTrack(domain.SlotCamera, func(t *domain.Toggles) *bool { return &t.Video })
}

func (c *SessionController) toggleTrack(slot domain.Slot, field func(*domain.Toggles) *bool) (domain.Toggles, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	active := c.getCurrent()
	var entry *slotEntry
	if active != nil && c.getState() == domain.SessionStateLive {
		entry = active.slot(slot)
	}
	if entry == nil {
		c.logger.Debug().Err(domain.ErrDeviceNotActive).Str("slot", string(slot)).Msg("toggle ignored")
		c.events.SessionWarning(domain.WarningDeviceNotActive, string(slot))
		if active == nil {
			return domain.Toggles{}, nil
		}
		return active.getToggles(), nil
	}

	toggles := active.updateToggles(func(t *domain.Toggles) {
		flag := field(t)
		*flag = !*flag
		for _, track := range entry.stream.Tracks() {
			track.SetEnabled(*flag)
		}
	})
	c.events.TogglesChanged(toggles)
	return toggles, nil
}

// Teardown releases everything regardless of state. An in-flight GoLive is
// cancelled and its rollback awaited.
func (c *SessionController) Teardown(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancelGoLive
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	active := c.getCurrent()
	if active == nil {
		return nil
	}

	c.transition(domain.SessionStateStopping, domain.SessionReasonTornDown)
	c.rollback(active)
	_ = c.notifyStopped(ctx, active)
	c.transition(domain.SessionStateIdle, domain.SessionReasonTornDown)
	c.logger.Info().Str("stream_id", active.streamID).Msg("torn down")
	return nil
}

// Close tears the session down and stops consuming platform events.
func (c *SessionController) Close(ctx context.Context) error {
	err := c.Teardown(ctx)
	c.closeOnce.Do(func() { close(c.done) })
	<-c.loopDone
	return err
}

// Status returns a snapshot of the session.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	state, active := c.state, c.current
	c.mu.Unlock()

	status := domain.Status{
		State:  state,
		Active: state != domain.SessionStateIdle,
		Slots:  []domain.Slot{},
	}
	if active != nil {
		active.fill(&status)
	}
	return status
}

// EnumerateDevices lists capture devices for the setup UI.
func (c *SessionController) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	return c.devices.EnumerateDevices(ctx)
}

func (c *SessionController) attachCamera(ctx context.Context, active *activeSession, opts domain.InputOptions) error {
	stream, err := c.devices.AcquireCamera(ctx, c.cfg.Camera)
	if err != nil {
		return err
	}
	if err := c.register(ctx, active, domain.SlotCamera, domain.TrackKindVideo, stream, func(h ports.EncoderHandle) error {
		return h.AddVideoInput(stream, domain.SlotCamera, opts)
	}); err != nil {
		return err
	}
	active.updateToggles(func(t *domain.Toggles) { t.Video = true })
	return nil
}

func (c *SessionController) attachScreen(ctx context.Context, active *activeSession, opts domain.InputOptions) error {
	stream, err := c.devices.AcquireScreen(ctx, c.cfg.Screen)
	if err != nil {
		return err
	}
	if err := c.register(ctx, active, domain.SlotScreen, domain.TrackKindVideo, stream, func(h ports.EncoderHandle) error {
		return h.AddVideoInput(stream, domain.SlotScreen, opts)
	}); err != nil {
		return err
	}
	active.updateToggles(func(t *domain.Toggles) { t.ScreenSharing = true })
	return nil
}

func (c *SessionController) attachMicrophone(ctx context.Context, active *activeSession) error {
	stream, err := c.devices.AcquireMicrophone(ctx, c.cfg.Microphone)
	if err != nil {
		return err
	}
	if err := c.register(ctx, active, domain.SlotMic, domain.TrackKindAudio, stream, func(h ports.EncoderHandle) error {
		return h.AddAudioInput(stream, domain.SlotMic)
	}); err != nil {
		return err
	}
	active.updateToggles(func(t *domain.Toggles) { t.Audio = true })
	return nil
}

// register adds an acquired stream to the encoder and the slot table. The
// stream is released at once if either step fails.
func (c *SessionController) register(ctx context.Context, active *activeSession, slot domain.Slot, kind domain.TrackKind, stream ports.MediaStream, add func(ports.EncoderHandle) error) error {
	if err := ctx.Err(); err != nil {
		c.release(stream)
		return err
	}
	handle := active.getEncoder()
	if handle == nil {
		c.release(stream)
		return domain.ErrHandleDestroyed
	}
	// OnEnded is set before the add; an end racing it is still delivered.
	for _, track := range stream.Tracks() {
		track.OnEnded(func() {
			c.post(platformEvent{kind: eventTrackEnded, session: active, slot: slot, stream: stream})
		})
	}
	if err := add(handle); err != nil {
		c.release(stream)
		return err
	}

	active.putSlot(slot, kind, stream)
	return nil
}

// releaseSlot removes slot from the encoder, stops its tracks and forgets it.
func (c *SessionController) releaseSlot(active *activeSession, slot domain.Slot) {
	entry := active.slot(slot)
	if entry == nil {
		return
	}
	if handle := active.getEncoder(); handle != nil {
		if err := removeInput(handle, slot, entry.kind); err != nil {
			c.logger.Warn().Err(err).Str("slot", string(slot)).Msg("remove input failed")
		}
	}
	c.release(entry.stream)
	active.deleteSlot(slot)
}

func (c *SessionController) release(stream ports.MediaStream) {
	if err := c.devices.Release(stream); err != nil {
		c.logger.Warn().Err(err).Msg("release stream failed")
	}
}

// notifyStopped tells the backend the stream ended. It runs even when ctx
// is already cancelled, bounded by the notify timeout.
func (c *SessionController) notifyStopped(ctx context.Context, active *activeSession) error {
	if active == nil || active.streamID == "" {
		return nil
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.NotifyTimeout)
	defer cancel()

	err := c.backend.NotifyStopped(notifyCtx, active.streamID, active.getPlaybackURL())
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrBackendNotificationFailed) {
		err = fmt.Errorf("%w: %w", domain.ErrBackendNotificationFailed, err)
	}
	c.logger.Warn().Err(err).Str("stream_id", active.streamID).Msg("stop notification failed")
	c.events.SessionError(domain.ErrorCodeStopNotify, err.Error())
	return err
}

func (c *SessionController) transition(state domain.SessionState, reason domain.SessionStateReason) {
	c.mu.Lock()
	c.state = state
	if state == domain.SessionStateIdle {
		c.current = nil
	}
	c.mu.Unlock()

	c.logger.Debug().Str("state", string(state)).Str("reason", string(reason)).Msg("session state changed")
	c.events.SessionStateChanged(state, reason)
}

func (c *SessionController) getState() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SessionController) getCurrent() *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func removeInput(handle ports.EncoderHandle, slot domain.Slot, kind domain.TrackKind) error {
	if kind == domain.TrackKindAudio {
		return handle.RemoveAudioInput(slot)
	}
	return handle.RemoveVideoInput(slot)
}

func slotStrings(slots []domain.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, string(s))
	}
	return out
}
