package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

type fakeTrack struct {
	id      string
	kind    domain.TrackKind
	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded func()
}

func newFakeTrack(id string, kind domain.TrackKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string                 { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind     { return t.kind }
func (t *fakeTrack) Label() string              { return t.id }
func (t *fakeTrack) Format() domain.TrackFormat { return domain.TrackFormat{} }
func (t *fakeTrack) Enabled() bool              { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool)    { t.enabled.Store(enabled) }
func (t *fakeTrack) Ended() bool                { return t.stopped.Load() }
func (t *fakeTrack) ReadFrame() ([]byte, error) { return nil, errors.New("not readable") }

func (t *fakeTrack) Stop() error {
	t.stopped.Store(true)
	return nil
}

func (t *fakeTrack) OnEnded(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = callback
}

// end simulates the platform ending the track.
func (t *fakeTrack) end() {
	t.stopped.Store(true)
	t.mu.Lock()
	cb := t.onEnded
	t.mu.Unlock()
	if cb != nil {
		go cb()
	}
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func newFakeStream(id string, kinds ...domain.TrackKind) *fakeStream {
	s := &fakeStream{id: id}
	for i, kind := range kinds {
		s.tracks = append(s.tracks, newFakeTrack(id+"-"+string(kind)+string(rune('0'+i)), kind))
	}
	return s
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *fakeStream) VideoTracks() []ports.MediaTrack { return s.byKind(domain.TrackKindVideo) }
func (s *fakeStream) AudioTracks() []ports.MediaTrack { return s.byKind(domain.TrackKindAudio) }

func (s *fakeStream) Active() bool {
	for _, t := range s.tracks {
		if !t.Ended() {
			return true
		}
	}
	return false
}

func (s *fakeStream) Stop() error {
	for _, t := range s.tracks {
		_ = t.Stop()
	}
	return nil
}

func (s *fakeStream) stopped() bool { return !s.Active() }

func (s *fakeStream) byKind(kind domain.TrackKind) []ports.MediaTrack {
	var out []ports.MediaTrack
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type fakeDevices struct {
	mu sync.Mutex

	cameraErr error
	screenErr error
	micErr    error

	// cameraGate, when set, blocks AcquireCamera until closed or ctx ends.
	cameraGate    chan struct{}
	cameraWaiting chan struct{}

	acquired []*fakeStream
	released int
	calls    []string
}

func (f *fakeDevices) acquire(ctx context.Context, name string, err error, kinds ...domain.TrackKind) (ports.MediaStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if err != nil {
		return nil, domain.NewDeviceError(name, err, errors.New("fake failure"))
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewDeviceError(name, domain.ErrDeviceFailure, err)
	}
	stream := newFakeStream(name, kinds...)
	f.acquired = append(f.acquired, stream)
	return stream, nil
}

func (f *fakeDevices) AcquireCamera(ctx context.Context, _ domain.VideoConstraints) (ports.MediaStream, error) {
	if f.cameraGate != nil {
		if f.cameraWaiting != nil {
			close(f.cameraWaiting)
		}
		select {
		case <-f.cameraGate:
		case <-ctx.Done():
			return nil, domain.NewDeviceError("camera", domain.ErrDeviceFailure, ctx.Err())
		}
	}
	return f.acquire(ctx, "camera", f.cameraErr, domain.TrackKindVideo)
}

func (f *fakeDevices) AcquireMicrophone(ctx context.Context, _ domain.AudioConstraints) (ports.MediaStream, error) {
	return f.acquire(ctx, "microphone", f.micErr, domain.TrackKindAudio)
}

func (f *fakeDevices) AcquireScreen(ctx context.Context, _ domain.DisplayOptions) (ports.MediaStream, error) {
	return f.acquire(ctx, "screen", f.screenErr, domain.TrackKindVideo, domain.TrackKindAudio)
}

func (f *fakeDevices) Release(stream ports.MediaStream) error {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
	return stream.Stop()
}

func (f *fakeDevices) EnumerateDevices(context.Context) ([]domain.DeviceInfo, error) {
	return []domain.DeviceInfo{{DeviceID: "cam0", Kind: domain.DeviceKindVideoInput, Label: "Camera"}}, nil
}

func (f *fakeDevices) snapshotAcquired() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeStream, len(f.acquired))
	copy(out, f.acquired)
	return out
}

func (f *fakeDevices) streamNamed(name string) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.acquired) - 1; i >= 0; i-- {
		if f.acquired[i].id == name {
			return f.acquired[i]
		}
	}
	return nil
}

type fakeEncoder struct {
	mu        sync.Mutex
	createErr error
	startErr  error
	handles   []*fakeHandle

	// onAdd runs before a handle registers an input.
	onAdd func(ports.MediaStream, domain.Slot)
}

func (f *fakeEncoder) Create(_ context.Context, cfg domain.EncoderConfig) (ports.EncoderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, h := range f.handles {
		if !h.isDestroyed() {
			return nil, domain.ErrEncoderInUse
		}
	}
	h := &fakeHandle{endpoint: cfg.Endpoint, slots: map[domain.Slot]domain.InputOptions{}, startErr: f.startErr, onAdd: f.onAdd}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeEncoder) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

type fakeHandle struct {
	mu           sync.Mutex
	endpoint     string
	slots        map[domain.Slot]domain.InputOptions
	preview      string
	startErr     error
	started      bool
	broadcasting bool
	destroyed    bool
	streamKey    string
	onTerminated func(error)
	onAdd        func(ports.MediaStream, domain.Slot)
	frozen       bool
	liveRemovals int
}

func (h *fakeHandle) AttachPreview(surface ports.PreviewSurface) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	if surface != nil {
		h.preview = surface.PreviewURL()
	}
	return nil
}

func (h *fakeHandle) DetachPreview() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	h.preview = ""
	return nil
}

func (h *fakeHandle) add(slot domain.Slot, opts domain.InputOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	if _, ok := h.slots[slot]; ok {
		return domain.ErrSlotOccupied
	}
	h.slots[slot] = opts
	return nil
}

func (h *fakeHandle) remove(slot domain.Slot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	if h.broadcasting && !h.frozen {
		h.liveRemovals++
	}
	delete(h.slots, slot)
	return nil
}

func (h *fakeHandle) Freeze() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frozen = true
}

func (h *fakeHandle) unfrozenLiveRemovals() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveRemovals
}

func (h *fakeHandle) AddVideoInput(stream ports.MediaStream, slot domain.Slot, opts domain.InputOptions) error {
	if h.onAdd != nil {
		h.onAdd(stream, slot)
	}
	return h.add(slot, opts)
}

func (h *fakeHandle) RemoveVideoInput(slot domain.Slot) error { return h.remove(slot) }

func (h *fakeHandle) AddAudioInput(stream ports.MediaStream, slot domain.Slot) error {
	if h.onAdd != nil {
		h.onAdd(stream, slot)
	}
	return h.add(slot, domain.InputOptions{})
}

func (h *fakeHandle) RemoveAudioInput(slot domain.Slot) error { return h.remove(slot) }

func (h *fakeHandle) StartBroadcast(_ context.Context, streamKey string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	if h.started {
		return domain.ErrAlreadyBroadcasting
	}
	if h.startErr != nil {
		return h.startErr
	}
	h.started = true
	h.broadcasting = true
	h.streamKey = streamKey
	return nil
}

func (h *fakeHandle) StopBroadcast() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	if !h.broadcasting {
		return domain.ErrNotBroadcasting
	}
	h.broadcasting = false
	return nil
}

func (h *fakeHandle) Broadcasting() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcasting
}

func (h *fakeHandle) Slots() []domain.Slot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Slot, 0, len(h.slots))
	for slot := range h.slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (h *fakeHandle) OnTerminated(callback func(err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTerminated = callback
}

func (h *fakeHandle) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
	h.broadcasting = false
	h.slots = map[domain.Slot]domain.InputOptions{}
	return nil
}

func (h *fakeHandle) isDestroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

func (h *fakeHandle) slotOptions(slot domain.Slot) (domain.InputOptions, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	opts, ok := h.slots[slot]
	return opts, ok
}

// terminate simulates the compositing process dying.
func (h *fakeHandle) terminate(err error) {
	h.mu.Lock()
	h.broadcasting = false
	cb := h.onTerminated
	h.mu.Unlock()
	if cb != nil {
		go cb(err)
	}
}

type fakeBackend struct {
	mu        sync.Mutex
	createErr error
	ingestErr error
	notifyErr error
	onIngest  func()

	created  []domain.StreamForm
	notified []notifyCall
}

type notifyCall struct {
	streamID    string
	playbackURL string
}

func (f *fakeBackend) CreateStream(_ context.Context, form domain.StreamForm) (domain.StreamRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, form)
	if f.createErr != nil {
		return domain.StreamRecord{}, f.createErr
	}
	return domain.StreamRecord{StreamID: "stream-1", Title: form.Title}, nil
}

func (f *fakeBackend) FetchIngest(ctx context.Context, _ string) (domain.IngestConfig, error) {
	if f.onIngest != nil {
		f.onIngest()
	}
	if f.ingestErr != nil {
		return domain.IngestConfig{}, f.ingestErr
	}
	if err := ctx.Err(); err != nil {
		return domain.IngestConfig{}, err
	}
	return domain.IngestConfig{
		IngestServer: "ingest.example.com",
		StreamKey:    "sk_secret",
		PlaybackURL:  "https://play.example.com/stream-1.m3u8",
	}, nil
}

func (f *fakeBackend) NotifyStopped(_ context.Context, streamID string, playbackURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, notifyCall{streamID: streamID, playbackURL: playbackURL})
	return f.notifyErr
}

func (f *fakeBackend) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeBackend) notifyCalls() []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notifyCall, len(f.notified))
	copy(out, f.notified)
	return out
}

type fakeEventSink struct {
	mu sync.Mutex

	states   []stateEvent
	toggles  []domain.Toggles
	warnings []warnEvent
	errors   []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type warnEvent struct {
	code   domain.WarningCode
	detail string
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TogglesChanged(toggles domain.Toggles) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, toggles)
}

func (f *fakeEventSink) SessionWarning(code domain.WarningCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, warnEvent{code: code, detail: detail})
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotWarnings() []warnEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]warnEvent, len(f.warnings))
	copy(out, f.warnings)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

type harness struct {
	devices    *fakeDevices
	encoder    *fakeEncoder
	backend    *fakeBackend
	events     *fakeEventSink
	controller *SessionController
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		devices: &fakeDevices{},
		encoder: &fakeEncoder{},
		backend: &fakeBackend{},
		events:  &fakeEventSink{},
	}
	h.controller = NewSessionController(h.devices, h.encoder, h.backend, h.events, DefaultConfig(), zerolog.Nop())
	t.Cleanup(func() { _ = h.controller.Close(context.Background()) })
	return h
}

func validForm() domain.StreamForm {
	return domain.StreamForm{Title: "Friday build", WhoCanMessage: domain.MessagePolicyEveryone, IsPublic: true}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// assertInvariants checks that the encoder handle exists exactly when the
// session is not idle, and that the slot table matches the encoder.
func assertInvariants(t *testing.T, h *harness) {
	t.Helper()
	c := h.controller
	status := c.Status()
	active := c.getCurrent()

	var handle ports.EncoderHandle
	if active != nil {
		handle = active.getEncoder()
	}
	if (handle != nil) != (status.State != domain.SessionStateIdle) {
		t.Fatalf("encoder handle presence %v does not match state %s", handle != nil, status.State)
	}
	if handle == nil {
		if len(status.Slots) != 0 {
			t.Fatalf("slots %v present without an encoder handle", status.Slots)
		}
		return
	}
	encoderSlots := handle.Slots()
	if len(encoderSlots) != len(status.Slots) {
		t.Fatalf("slot table %v does not match encoder slots %v", status.Slots, encoderSlots)
	}
	for i := range encoderSlots {
		if encoderSlots[i] != status.Slots[i] {
			t.Fatalf("slot table %v does not match encoder slots %v", status.Slots, encoderSlots)
		}
	}
}
