package ports

import (
	"context"

	"mitra/internal/domain"
	"mitra/internal/pcm"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate  int
	InputFormat string
	InputDevice string
	FrameSize   int
}

// AudioSession is a live microphone capture session producing mono float
// samples in [-1, 1].
type AudioSession interface {
	// ReadFrame fills dst with up to len(dst) samples.
	ReadFrame(dst []float32) (int, error)
	Stop() error
}

// AudioCapture acquires the microphone.
type AudioCapture interface {
	Start(ctx context.Context, cfg CaptureConfig) (AudioSession, error)
}

// OutputConfig describes the playback device context.
type OutputConfig struct {
	SampleRate int
	Channels   int
}

// PlaybackSource is a buffer scheduled on an output context.
type PlaybackSource interface {
	Stop() error
}

// OutputContext is an open playback device with its own clock.
type OutputContext interface {
	// CurrentTime returns the output clock in seconds.
	CurrentTime() float64
	// Play starts buffer at the given clock time. onEnded fires exactly once,
	// when playback finishes or the source is stopped.
	Play(buffer *pcm.AudioBuffer, at float64, onEnded func()) (PlaybackSource, error)
	Close() error
}

// AudioOutput opens playback device contexts.
type AudioOutput interface {
	Open(ctx context.Context, cfg OutputConfig) (OutputContext, error)
}

// LiveConfig is the session open configuration sent to the model service.
type LiveConfig struct {
	Model               string
	Voice               string
	SystemInstruction   string
	ResponseModality    string
	OutputTranscription bool
}

// LiveConnection is an open bidirectional model session.
type LiveConnection interface {
	// SendRealtimeInput queues one chunk without waiting for delivery.
	SendRealtimeInput(blob domain.EncodedBlob) error
	// Events delivers lifecycle and inbound messages in order. The channel is
	// closed after the connection is fully shut down.
	Events() <-chan domain.LiveEvent
	Close() error
}

// LiveProvider opens live model sessions.
type LiveProvider interface {
	Connect(ctx context.Context, cfg LiveConfig) (LiveConnection, error)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptUpdated(text string)
	TurnCompleted(turn domain.TurnRecord)
	SessionError(code domain.ErrorCode, detail string)
}
