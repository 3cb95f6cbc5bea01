package usecase

import (
	"context"
	"log/slog"
	"sync"

	"mitra/internal/domain"
	"mitra/internal/ports"
)

// activeSession owns every resource acquired for one live session.
type activeSession struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	capture   ports.AudioSession
	output    ports.OutputContext
	conn      ports.LiveConnection
	scheduler *PlaybackScheduler

	transcript *transcriptionBuffer

	stateMu        sync.Mutex
	state          domain.SessionState
	stopReason     domain.SessionStateReason
	captureStarted bool

	captureDone  chan struct{}
	eventsDone   chan struct{}
	teardownOnce sync.Once
}

func newActiveSession(ctx context.Context, id string, logger *slog.Logger) *activeSession {
	sessionCtx, cancel := context.WithCancel(ctx)
	return &activeSession{
		id:          id,
		ctx:         sessionCtx,
		cancel:      cancel,
		logger:      logger.With("session_id", id),
		transcript:  newTranscriptionBuffer(),
		state:       domain.SessionStateIdle,
		captureDone: make(chan struct{}),
		eventsDone:  make(chan struct{}),
	}
}

func (s *activeSession) setState(state domain.SessionState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == domain.SessionStateClosed || s.state == state {
		return false
	}
	s.state = state
	return true
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// requestStop records why the session is being stopped; the first caller wins.
func (s *activeSession) requestStop(reason domain.SessionStateReason) {
	s.stateMu.Lock()
	if s.stopReason == "" {
		s.stopReason = reason
	}
	s.stateMu.Unlock()
	s.cancel()
}

func (s *activeSession) stopReasonOr(fallback domain.SessionStateReason) domain.SessionStateReason {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stopReason == "" {
		return fallback
	}
	return s.stopReason
}

func (s *activeSession) markCaptureStarted() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.captureStarted {
		return false
	}
	s.captureStarted = true
	return true
}

// teardown releases the microphone, the connection and the output device.
// Safe to call from any exit path; only the first call has an effect.
func (s *activeSession) teardown() {
	s.teardownOnce.Do(func() {
		s.cancel()

		if s.capture != nil {
			if err := s.capture.Stop(); err != nil {
				s.logger.Warn("failed to stop audio capture cleanly", "error", err)
			}
		}

		s.stateMu.Lock()
		started := s.captureStarted
		s.stateMu.Unlock()
		if started {
			<-s.captureDone
		}

		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Warn("failed to close live connection", "error", err)
			}
		}
		if s.output != nil {
			if err := s.output.Close(); err != nil {
				s.logger.Warn("failed to close output device", "error", err)
			}
		}
	})
}
