package media

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Track pumps samples from a Source into a pion sample track.
// A disabled track stays attached to its senders but writes nothing.
type Track struct {
	Local *webrtc.TrackLocalStaticSample

	src     Source
	enabled atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func newTrack(kind webrtc.RTPCodecType, streamID string, src Source) (*Track, error) {
	var codec webrtc.RTPCodecCapability
	var id string
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		id = "audio"
	default:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		id = "video"
	}
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{Local: local, src: src, done: make(chan struct{})}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

func (t *Track) pump() {
	defer close(t.done)
	for {
		sample, err := t.src.ReadSample()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("module", "media").Str("track", t.Local.ID()).Msg("source read")
			}
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.Local.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Debug().Err(err).Str("module", "media").Str("track", t.Local.ID()).Msg("write sample")
		}
	}
}

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) setEnabled(v bool) { t.enabled.Store(v) }

// Stop closes the source and waits for the pump to exit. Idempotent.
func (t *Track) Stop() {
	t.once.Do(func() {
		_ = t.src.Close()
		<-t.done
	})
}

// Stream is the local capture stream. The Controller is its only mutator.
type Stream struct {
	id string

	mu    sync.RWMutex
	audio *Track
	video *Track
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]webrtc.TrackLocal, 0, 2)
	if s.audio != nil {
		out = append(out, s.audio.Local)
	}
	if s.video != nil {
		out = append(out, s.video.Local)
	}
	return out
}

func (s *Stream) Audio() *Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

func (s *Stream) Video() *Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

func (s *Stream) stop() {
	s.mu.Lock()
	audio, video := s.audio, s.video
	s.audio, s.video = nil, nil
	s.mu.Unlock()
	if audio != nil {
		audio.Stop()
	}
	if video != nil {
		video.Stop()
	}
}
