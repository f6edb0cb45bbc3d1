package capture

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"livecast/internal/domain"
)

// frameSource is what a track reads raw frames from.
type frameSource interface {
	io.Reader
	Stop() error
	Stopping() bool
	Exited() <-chan struct{}
}

// Track is a capture-backed ports.MediaTrack.
type Track struct {
	id     string
	label  string
	kind   domain.TrackKind
	format domain.TrackFormat
	src    frameSource

	buf   []byte
	blank []byte

	enabled atomic.Bool
	ended   atomic.Bool
	stopped atomic.Bool

	mu           sync.Mutex
	endedCb      func()
	endedPending bool
	endedFired   bool
	endOnce      sync.Once
}

func newTrack(kind domain.TrackKind, label string, format domain.TrackFormat, src frameSource) *Track {
	size := format.AudioChunkSize()
	if kind == domain.TrackKindVideo {
		size = format.VideoFrameSize()
	}

	t := &Track{
		id:     uuid.NewString(),
		label:  label,
		kind:   kind,
		format: format,
		src:    src,
		buf:    make([]byte, size),
		blank:  blankFrame(kind, format, size),
	}
	t.enabled.Store(true)

	go func() {
		<-src.Exited()
		t.finish()
	}()
	return t
}

func (t *Track) ID() string                 { return t.id }
func (t *Track) Kind() domain.TrackKind     { return t.kind }
func (t *Track) Label() string              { return t.label }
func (t *Track) Format() domain.TrackFormat { return t.format }
func (t *Track) Enabled() bool              { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)    { t.enabled.Store(enabled) }
func (t *Track) Ended() bool                { return t.ended.Load() }

// OnEnded registers callback. It fires once, and only if the track ends
// without Stop being called. A track that already ended that way fires the
// callback as soon as it is registered.
func (t *Track) OnEnded(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endedCb = callback
	if t.endedPending && !t.endedFired && callback != nil {
		t.endedFired = true
		go callback()
	}
}

func (t *Track) Stop() error {
	t.stopped.Store(true)
	err := t.src.Stop()
	t.ended.Store(true)
	return err
}

// ReadFrame reads one full frame. Disabled tracks return a blank frame of
// the same size so downstream timing is preserved.
func (t *Track) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(t.src, t.buf); err != nil {
		t.finish()
		return nil, err
	}
	if !t.enabled.Load() {
		copy(t.buf, t.blank)
	}
	return t.buf, nil
}

func (t *Track) finish() {
	t.endOnce.Do(func() {
		t.ended.Store(true)
		if t.stopped.Load() || t.src.Stopping() {
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		t.endedPending = true
		if t.endedCb != nil && !t.endedFired {
			t.endedFired = true
			go t.endedCb()
		}
	})
}

func blankFrame(kind domain.TrackKind, format domain.TrackFormat, size int) []byte {
	frame := make([]byte, size)
	if kind != domain.TrackKindVideo {
		return frame
	}
	luma := format.Width * format.Height
	for i := range frame {
		if i < luma {
			frame[i] = 16
		} else {
			frame[i] = 128
		}
	}
	return frame
}
