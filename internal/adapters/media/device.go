package media

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Source produces encoded samples for one capture track.
// ReadSample blocks until a sample is ready and returns io.EOF after Close.
type Source interface {
	ReadSample() (pmedia.Sample, error)
	Close() error
}

// Device opens capture sources. It fails with core.ErrPermissionDenied or
// core.ErrDeviceUnavailable.
type Device interface {
	Open(ctx context.Context, kind webrtc.RTPCodecType, c core.MediaConstraints) (Source, error)
}

// opusSilence is a valid 20ms Opus frame carrying silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticDevice stands in for camera and microphone on headless clients.
type SyntheticDevice struct {
	// Facings lists the cameras present; empty means front only.
	Facings []core.FacingMode
	NoMic   bool
	Denied  bool
}

func (d SyntheticDevice) Open(ctx context.Context, kind webrtc.RTPCodecType, c core.MediaConstraints) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Denied {
		return nil, core.ErrPermissionDenied
	}
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		if d.NoMic {
			return nil, core.ErrDeviceUnavailable
		}
		return newTickSource(20*time.Millisecond, opusSilence), nil
	case webrtc.RTPCodecTypeVideo:
		facings := d.Facings
		if len(facings) == 0 {
			facings = []core.FacingMode{core.FacingFront}
		}
		facing := c.Facing
		if facing == "" {
			facing = core.FacingFront
		}
		if !slices.Contains(facings, facing) {
			return nil, core.ErrDeviceUnavailable
		}
		fps := c.FrameRate
		if fps <= 0 {
			fps = 15
		}
		size := c.Width * c.Height / 64
		if size <= 0 {
			size = 1200
		}
		frame := make([]byte, size)
		frame[0] = 0x10 // VP8 payload descriptor start bit
		return newTickSource(time.Second/time.Duration(fps), frame), nil
	default:
		return nil, core.ErrDeviceUnavailable
	}
}

type tickSource struct {
	ticker  *time.Ticker
	period  time.Duration
	payload []byte
	done    chan struct{}
	once    sync.Once
}

func newTickSource(period time.Duration, payload []byte) *tickSource {
	return &tickSource{
		ticker:  time.NewTicker(period),
		period:  period,
		payload: payload,
		done:    make(chan struct{}),
	}
}

func (s *tickSource) ReadSample() (pmedia.Sample, error) {
	select {
	case <-s.done:
		return pmedia.Sample{}, io.EOF
	case <-s.ticker.C:
		return pmedia.Sample{Data: s.payload, Duration: s.period}, nil
	}
}

func (s *tickSource) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
