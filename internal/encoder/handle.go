package encoder

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

// Handle is a ports.EncoderHandle backed by an ffmpeg compositing process.
type Handle struct {
	client   *Client
	endpoint *url.URL
	profile  domain.EncoderProfile
	logger   zerolog.Logger
	debounce func(func())

	mu           sync.Mutex
	inputs       map[domain.Slot]*input
	previewURL   string
	publishURL   string
	started      bool
	broadcasting bool
	destroyed    bool
	frozen       bool
	run          *encodeRun
	onTerminated func(error)
}

func newHandle(client *Client, endpoint *url.URL, profile domain.EncoderProfile) *Handle {
	h := &Handle{
		client:   client,
		endpoint: endpoint,
		profile:  profile,
		logger:   client.logger,
		inputs:   make(map[domain.Slot]*input),
	}
	if client.cfg.RecomposeDelay > 0 {
		h.debounce = debounce.New(client.cfg.RecomposeDelay)
	}
	return h
}

var _ ports.EncoderHandle = (*Handle)(nil)

// AttachPreview adds a preview output. A nil surface or one without a URL
// is ignored.
func (h *Handle) AttachPreview(surface ports.PreviewSurface) error {
	if surface == nil || strings.TrimSpace(surface.PreviewURL()) == "" {
		return h.checkAlive()
	}

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return domain.ErrHandleDestroyed
	}
	changed := h.previewURL != surface.PreviewURL()
	h.previewURL = surface.PreviewURL()
	live := h.broadcasting
	h.mu.Unlock()

	if changed && live {
		h.scheduleRecompose()
	}
	return nil
}

func (h *Handle) DetachPreview() error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return domain.ErrHandleDestroyed
	}
	changed := h.previewURL != ""
	h.previewURL = ""
	live := h.broadcasting
	h.mu.Unlock()

	if changed && live {
		h.scheduleRecompose()
	}
	return nil
}

func (h *Handle) AddVideoInput(stream ports.MediaStream, slot domain.Slot, opts domain.InputOptions) error {
	return h.addInput(stream, slot, domain.TrackKindVideo, opts)
}

func (h *Handle) AddAudioInput(stream ports.MediaStream, slot domain.Slot) error {
	return h.addInput(stream, slot, domain.TrackKindAudio, domain.InputOptions{})
}

// RemoveVideoInput unregisters slot. An absent slot is not an error.
func (h *Handle) RemoveVideoInput(slot domain.Slot) error {
	return h.removeInput(slot, domain.TrackKindVideo)
}

// RemoveAudioInput unregisters slot. An absent slot is not an error.
func (h *Handle) RemoveAudioInput(slot domain.Slot) error {
	return h.removeInput(slot, domain.TrackKindAudio)
}

func (h *Handle) addInput(stream ports.MediaStream, slot domain.Slot, kind domain.TrackKind, opts domain.InputOptions) error {
	track := liveTrack(stream, kind)
	if track == nil {
		return fmt.Errorf("%w: slot %s needs a live %s track", domain.ErrDeviceIncompatible, slot, kind)
	}

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return domain.ErrHandleDestroyed
	}
	if _, exists := h.inputs[slot]; exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrSlotOccupied, slot)
	}
	in := newInput(slot, kind, track, opts)
	h.inputs[slot] = in
	live := h.broadcasting
	h.mu.Unlock()

	go in.pump()
	h.logger.Debug().Str("slot", string(slot)).Str("kind", string(kind)).Int("index", opts.Index).Msg("input added")

	if live {
		h.scheduleRecompose()
	}
	return nil
}

func (h *Handle) removeInput(slot domain.Slot, kind domain.TrackKind) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return domain.ErrHandleDestroyed
	}
	in, exists := h.inputs[slot]
	if !exists || in.kind != kind {
		h.mu.Unlock()
		return nil
	}
	delete(h.inputs, slot)
	live := h.broadcasting
	h.mu.Unlock()

	in.close()
	h.logger.Debug().Str("slot", string(slot)).Msg("input removed")

	if live {
		h.scheduleRecompose()
	}
	return nil
}

// StartBroadcast probes the ingest and starts publishing. It may be called
// once per handle.
func (h *Handle) StartBroadcast(ctx context.Context, streamKey string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	if h.started {
		return domain.ErrAlreadyBroadcasting
	}
	if strings.TrimSpace(streamKey) == "" {
		return fmt.Errorf("%w: stream key is required", domain.ErrConfigInvalid)
	}

	if !h.client.cfg.SkipProbe {
		if err := probeIngest(ctx, h.endpoint, h.client.cfg.ProbeTimeout); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.publishURL = publishURL(h.endpoint, streamKey)
	if err := h.startRunLocked(); err != nil {
		h.publishURL = ""
		return fmt.Errorf("%w: %v", domain.ErrIngestUnreachable, err)
	}
	h.started = true
	h.broadcasting = true

	h.logger.Info().Str("ingest", h.endpoint.Host).Int("inputs", len(h.inputs)).Msg("broadcast started")
	return nil
}

// StopBroadcast halts publishing without destroying the handle.
func (h *Handle) StopBroadcast() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	if !h.broadcasting {
		return domain.ErrNotBroadcasting
	}
	h.stopRunLocked()
	h.broadcasting = false
	h.publishURL = ""

	h.logger.Info().Msg("broadcast stopped")
	return nil
}

func (h *Handle) Broadcasting() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcasting
}

// Slots returns the registered slot names in order.
func (h *Handle) Slots() []domain.Slot {
	h.mu.Lock()
	defer h.mu.Unlock()
	slots := lo.Keys(h.inputs)
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// Freeze keeps the running process as it is: later input changes only
// update the slot table, and a process exit is no longer reported.
func (h *Handle) Freeze() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.frozen {
		h.frozen = true
		h.logger.Debug().Msg("composition frozen")
	}
}

func (h *Handle) OnTerminated(callback func(err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTerminated = callback
}

// Destroy stops publishing and releases every input. Idempotent.
func (h *Handle) Destroy() error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil
	}
	h.destroyed = true
	h.stopRunLocked()
	h.broadcasting = false
	h.publishURL = ""
	inputs := lo.Values(h.inputs)
	h.inputs = make(map[domain.Slot]*input)
	h.onTerminated = nil
	h.mu.Unlock()

	for _, in := range inputs {
		in.close()
	}
	h.client.release(h)
	h.logger.Debug().Msg("encoder handle destroyed")
	return nil
}

func (h *Handle) checkAlive() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return domain.ErrHandleDestroyed
	}
	return nil
}

func (h *Handle) scheduleRecompose() {
	if h.debounce == nil {
		h.recompose()
		return
	}
	h.debounce(h.recompose)
}

// recompose restarts the process with the current input set.
func (h *Handle) recompose() {
	h.mu.Lock()
	if h.destroyed || h.frozen || !h.broadcasting {
		h.mu.Unlock()
		return
	}
	h.stopRunLocked()
	err := h.startRunLocked()
	var cb func(error)
	if err != nil {
		h.broadcasting = false
		h.publishURL = ""
		cb = h.onTerminated
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Error().Err(err).Msg("recompose failed")
		if cb != nil {
			cb(err)
		}
		return
	}
	h.logger.Debug().Msg("recomposed")
}

// startRunLocked requires h.mu.
func (h *Handle) startRunLocked() error {
	comp := newComposition(h.profile, h.inputs, h.publishURL, h.previewURL)
	ordered := comp.ordered()

	run, err := startRun(h.client.cfg.Command, comp.args(), len(ordered), h.client.cfg.StartProbe)
	if err != nil {
		return err
	}
	for i, in := range ordered {
		in.attach(run.pipes[i])
	}
	h.run = run
	go h.watch(run)
	return nil
}

// stopRunLocked requires h.mu.
func (h *Handle) stopRunLocked() {
	if h.run == nil {
		return
	}
	for _, in := range h.inputs {
		in.attach(nil)
	}
	h.run.stop()
	h.run = nil
}

// watch reports a process that exits while it is still the current run.
func (h *Handle) watch(run *encodeRun) {
	<-run.exited
	if run.stopping.Load() {
		return
	}

	h.mu.Lock()
	if h.run != run {
		h.mu.Unlock()
		return
	}
	for _, in := range h.inputs {
		in.attach(nil)
	}
	for _, w := range run.pipes {
		_ = w.Close()
	}
	h.run = nil
	h.broadcasting = false
	h.publishURL = ""
	cb := h.onTerminated
	if h.frozen {
		cb = nil
	}
	h.mu.Unlock()

	err := run.err()
	h.logger.Error().Err(err).Msg("broadcast terminated")
	if cb != nil {
		cb(err)
	}
}

func liveTrack(stream ports.MediaStream, kind domain.TrackKind) ports.MediaTrack {
	if stream == nil {
		return nil
	}
	tracks := stream.VideoTracks()
	if kind == domain.TrackKindAudio {
		tracks = stream.AudioTracks()
	}
	for _, t := range tracks {
		if !t.Ended() {
			return t
		}
	}
	return nil
}

// input is one registered slot and the pump draining its track.
type input struct {
	slot   domain.Slot
	kind   domain.TrackKind
	track  ports.MediaTrack
	opts   domain.InputOptions
	format domain.TrackFormat

	mu     sync.Mutex
	sink   *os.File
	closed bool
	done   chan struct{}
}

func newInput(slot domain.Slot, kind domain.TrackKind, track ports.MediaTrack, opts domain.InputOptions) *input {
	return &input{
		slot:   slot,
		kind:   kind,
		track:  track,
		opts:   opts,
		format: track.Format(),
		done:   make(chan struct{}),
	}
}

func (in *input) attach(sink *os.File) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.sink = sink
}

func (in *input) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.sink = nil
}

// pump copies frames into the current sink, or drops them when there is
// none, until the track ends or the input is closed.
func (in *input) pump() {
	defer close(in.done)
	for {
		frame, err := in.track.ReadFrame()
		if err != nil {
			return
		}

		in.mu.Lock()
		sink, closed := in.sink, in.closed
		in.mu.Unlock()
		if closed {
			return
		}
		if sink == nil {
			continue
		}
		if _, err := sink.Write(frame); err != nil {
			in.mu.Lock()
			if in.sink == sink {
				in.sink = nil
			}
			in.mu.Unlock()
		}
	}
}
