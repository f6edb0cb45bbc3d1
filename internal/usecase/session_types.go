package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

// slotEntry is one populated device slot.
type slotEntry struct {
	kind   domain.TrackKind
	stream ports.MediaStream
}

// activeSession owns the encoder handle and device slots of one attempt.
// Writes happen under the controller's operation lock; mu lets Status read
// concurrently.
type activeSession struct {
	id         string
	streamID   string
	sourceMode domain.SourceMode

	mu          sync.Mutex
	encoder     ports.EncoderHandle
	slots       map[domain.Slot]*slotEntry
	toggles     domain.Toggles
	playbackURL string
	liveSince   *time.Time
}

func newActiveSession(streamID string, mode domain.SourceMode) *activeSession {
	return &activeSession{
		id:         uuid.NewString(),
		streamID:   streamID,
		sourceMode: mode,
		slots:      make(map[domain.Slot]*slotEntry),
	}
}

func (s *activeSession) setEncoder(handle ports.EncoderHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoder = handle
}

func (s *activeSession) getEncoder() ports.EncoderHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoder
}

func (s *activeSession) putSlot(slot domain.Slot, kind domain.TrackKind, stream ports.MediaStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = &slotEntry{kind: kind, stream: stream}
}

func (s *activeSession) slot(slot domain.Slot) *slotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slot]
}

func (s *activeSession) deleteSlot(slot domain.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, slot)
}

func (s *activeSession) slotNames() []domain.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := lo.Keys(s.slots)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (s *activeSession) updateToggles(update func(*domain.Toggles)) domain.Toggles {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.toggles)
	return s.toggles
}

func (s *activeSession) getToggles() domain.Toggles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toggles
}

func (s *activeSession) setPlaybackURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playbackURL = url
}

func (s *activeSession) getPlaybackURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackURL
}

func (s *activeSession) markLive(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveSince = &at
}

func (s *activeSession) fill(status *domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status.StreamID = s.streamID
	status.SourceMode = s.sourceMode
	status.Toggles = s.toggles
	status.PlaybackURL = s.playbackURL
	status.LiveSince = s.liveSince
	names := lo.Keys(s.slots)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	status.Slots = names
}
