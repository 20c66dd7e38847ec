package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoStream = errors.New("no local stream acquired")

// Controller owns the local capture stream and is the only place tracks are
// stopped or replaced.
type Controller struct {
	device   Device
	replacer core.TrackReplacer

	mu          sync.Mutex
	stream      *Stream
	constraints core.MediaConstraints
}

func NewController(device Device, replacer core.TrackReplacer) *Controller {
	return &Controller{device: device, replacer: replacer}
}

// Acquire opens the requested tracks. A second call returns the live stream.
// Failures are never retried here.
func (c *Controller) Acquire(ctx context.Context, mc core.MediaConstraints) (core.LocalStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return c.stream, nil
	}
	if mc.Facing == "" {
		mc.Facing = core.FacingFront
	}

	s := &Stream{id: uuid.NewString()}
	if mc.Audio {
		t, err := c.open(ctx, webrtc.RTPCodecTypeAudio, s.id, mc)
		if err != nil {
			return nil, err
		}
		s.audio = t
	}
	if mc.Video {
		t, err := c.open(ctx, webrtc.RTPCodecTypeVideo, s.id, mc)
		if err != nil {
			s.stop()
			return nil, err
		}
		s.video = t
	}
	if s.audio == nil && s.video == nil {
		return nil, &core.MediaAcquisitionError{Err: core.ErrDeviceUnavailable}
	}

	c.stream = s
	c.constraints = mc
	log.Info().Str("module", "media").Str("stream", s.id).Bool("audio", s.audio != nil).Bool("video", s.video != nil).Str("facing", string(mc.Facing)).Msg("local stream acquired")
	return s, nil
}

func (c *Controller) open(ctx context.Context, kind webrtc.RTPCodecType, streamID string, mc core.MediaConstraints) (*Track, error) {
	src, err := c.device.Open(ctx, kind, mc)
	if err != nil {
		return nil, &core.MediaAcquisitionError{Err: err}
	}
	t, err := newTrack(kind, streamID, src)
	if err != nil {
		_ = src.Close()
		return nil, &core.MediaAcquisitionError{Err: fmt.Errorf("%s track: %w", kind, err)}
	}
	return t, nil
}

func (c *Controller) Stream() core.LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	return c.stream
}

// Facing is the facing mode of the current camera.
func (c *Controller) Facing() core.FacingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.constraints.Facing
}

// ToggleAudio flips the microphone enabled flag and returns the new value.
// Nothing is signaled to the remote side.
func (c *Controller) ToggleAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.stream.Audio() == nil {
		return false
	}
	t := c.stream.Audio()
	t.setEnabled(!t.Enabled())
	return t.Enabled()
}

func (c *Controller) ToggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.stream.Video() == nil {
		return false
	}
	t := c.stream.Video()
	t.setEnabled(!t.Enabled())
	return t.Enabled()
}

// SwitchCamera stops the current camera, opens the opposite one and swaps the
// new track into the live connection in place.
func (c *Controller) SwitchCamera(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.stream.Video() == nil {
		return ErrNoStream
	}
	old := c.stream.Video()
	enabled := old.Enabled()
	prev := c.constraints
	next := prev
	next.Facing = prev.Facing.Opposite()

	// Many phones cannot keep both cameras open.
	old.Stop()

	t, err := c.open(ctx, webrtc.RTPCodecTypeVideo, c.stream.id, next)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Str("facing", string(next.Facing)).Msg("switch camera failed, restoring")
		restored, rerr := c.open(ctx, webrtc.RTPCodecTypeVideo, c.stream.id, prev)
		if rerr != nil {
			c.setVideo(nil)
			return errors.Join(err, rerr)
		}
		restored.setEnabled(enabled)
		c.setVideo(restored)
		c.replace(restored)
		return err
	}
	t.setEnabled(enabled)
	c.setVideo(t)
	c.constraints = next
	c.replace(t)
	log.Info().Str("module", "media").Str("facing", string(next.Facing)).Msg("camera switched")
	return nil
}

func (c *Controller) setVideo(t *Track) {
	c.stream.mu.Lock()
	c.stream.video = t
	c.stream.mu.Unlock()
}

func (c *Controller) replace(t *Track) {
	if c.replacer == nil {
		return
	}
	if err := c.replacer.ReplaceVideoTrack(t.Local); err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("replace video track on live connection")
	}
}

// Release stops every track. Idempotent.
func (c *Controller) Release() {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.stop()
	log.Info().Str("module", "media").Str("stream", s.id).Msg("local stream released")
}
