//go:build !portaudio

package audio

import (
	"context"

	"mitra/internal/ports"
)

// PortAudioAvailable reports whether the binary was built with PortAudio.
const PortAudioAvailable = false

// PortAudioCapture is a placeholder that always fails to start.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Start(context.Context, ports.CaptureConfig) (ports.AudioSession, error) {
	return nil, ErrPortAudioUnavailable
}
