//go:build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"mitra/internal/ports"
)

// PortAudioAvailable reports whether the binary was built with PortAudio.
const PortAudioAvailable = true

// PortAudioCapture reads the default input device through PortAudio.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Start(_ context.Context, cfg ports.CaptureConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	buf := make([]float32, cfg.FrameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.FrameSize, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open default input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &portAudioSession{stream: stream, buf: buf}, nil
}

type portAudioSession struct {
	stream *portaudio.Stream
	buf    []float32

	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioSession) ReadFrame(dst []float32) (int, error) {
	if s.stopped.Load() {
		return 0, io.EOF
	}
	if err := s.stream.Read(); err != nil {
		if s.stopped.Load() {
			return 0, io.EOF
		}
		// Overflow drops samples but the stream is still usable.
		if errors.Is(err, portaudio.InputOverflowed) {
			return copy(dst, s.buf), nil
		}
		return 0, err
	}
	return copy(dst, s.buf), nil
}

func (s *portAudioSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.stopErr = errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
	})
	return s.stopErr
}
