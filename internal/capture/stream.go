package capture

import (
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

// Stream groups the tracks acquired by one call.
type Stream struct {
	id     string
	tracks []*Track
}

func newStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Stream) VideoTracks() []ports.MediaTrack { return s.byKind(domain.TrackKindVideo) }
func (s *Stream) AudioTracks() []ports.MediaTrack { return s.byKind(domain.TrackKindAudio) }

func (s *Stream) Active() bool {
	for _, t := range s.tracks {
		if !t.Ended() {
			return true
		}
	}
	return false
}

func (s *Stream) Stop() error {
	var result *multierror.Error
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Stream) byKind(kind domain.TrackKind) []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}
