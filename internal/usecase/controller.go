package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"mitra/internal/domain"
	"mitra/internal/metrics"
	"mitra/internal/pcm"
	"mitra/internal/ports"
)

var ErrNoActiveSession = errors.New("no active live session")

// ResponseModalityAudio requests spoken responses from the model.
const ResponseModalityAudio = "AUDIO"

// Config controls live session behavior.
type Config struct {
	Capture      ports.CaptureConfig
	Playback     ports.OutputConfig
	Live         ports.LiveConfig
	HistoryLimit int
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// SessionController owns the live voice session lifecycle: microphone,
// model connection, playback and transcript state.
type SessionController struct {
	capture  ports.AudioCapture
	output   ports.AudioOutput
	provider ports.LiveProvider
	events   ports.EventSink
	turns    *turnRecorder
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	current *activeSession
}

func NewSessionController(
	capture ports.AudioCapture,
	output ports.AudioOutput,
	provider ports.LiveProvider,
	rules ports.RulesEngine,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.Capture.FrameSize <= 0 {
		cfg.Capture.FrameSize = defaultFrameSize
	}
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = 16000
	}
	if cfg.Playback.SampleRate <= 0 {
		cfg.Playback.SampleRate = 24000
	}
	if cfg.Playback.Channels <= 0 {
		cfg.Playback.Channels = 1
	}
	if cfg.Live.ResponseModality == "" {
		cfg.Live.ResponseModality = ResponseModalityAudio
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &SessionController{
		capture:  capture,
		output:   output,
		provider: provider,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
	c.turns = newTurnRecorder(rules, events, c.reportError, cfg.HistoryLimit)
	return c
}

// Start opens a new live session. A session that is still running is
// stopped first. Start returns once the connection has been requested; the
// session becomes active when the service acknowledges it. A Stop that lands
// while resources are still being acquired closes the session without
// reporting an error, and Start returns the context error.
func (c *SessionController) Start(ctx context.Context) error {
	active := newActiveSession(ctx, uuid.NewString(), c.logger)

	c.mu.Lock()
	previous := c.current
	c.current = active
	c.mu.Unlock()

	if previous != nil && previous.getState() != domain.SessionStateClosed {
		c.stopSession(previous, domain.SessionReasonRestarting)
	}
	if active.ctx.Err() != nil {
		return c.abandon(active)
	}

	c.metrics.SessionStarted()
	c.transition(active, domain.SessionStateConnecting, domain.SessionReasonConnecting)

	captureSession, err := c.capture.Start(active.ctx, c.cfg.Capture)
	if err == nil {
		active.capture = captureSession
	}
	if active.ctx.Err() != nil {
		return c.abandon(active)
	}
	if err != nil {
		permErr := &domain.PermissionError{Err: err}
		c.fail(active, domain.ErrorCodeMicrophone, domain.SessionReasonMicrophoneDenied, permErr)
		return permErr
	}

	output, err := c.output.Open(active.ctx, c.cfg.Playback)
	if err == nil {
		active.output = output
	}
	if active.ctx.Err() != nil {
		return c.abandon(active)
	}
	if err != nil {
		err = fmt.Errorf("open output device: %w", err)
		c.fail(active, domain.ErrorCodePlayback, domain.SessionReasonOutputUnavailable, err)
		return err
	}
	active.scheduler = NewPlaybackScheduler(output, active.logger, c.metrics)

	conn, err := c.provider.Connect(active.ctx, c.cfg.Live)
	if err == nil {
		active.conn = conn
	}
	if active.ctx.Err() != nil {
		return c.abandon(active)
	}
	if err != nil {
		var connErr *domain.ConnectionError
		if !errors.As(err, &connErr) {
			connErr = &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: err}
		}
		c.fail(active, domain.ErrorCodeConnection, domain.SessionReasonConnectFailed, connErr)
		return connErr
	}

	go c.consumeLiveEvents(active)
	return nil
}

// Stop ends the current session. It is safe to call at any time, including
// repeatedly or after the session already closed.
func (c *SessionController) Stop() error {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active != nil {
		c.stopSession(active, domain.SessionReasonUserStopped)
	}
	return nil
}

// Shutdown releases the current session when the host is going away.
func (c *SessionController) Shutdown() {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active != nil {
		c.stopSession(active, domain.SessionReasonShutdown)
	}
}

// Interrupt cuts off model audio that is playing or queued.
func (c *SessionController) Interrupt() (int, error) {
	active, err := c.getLive()
	if err != nil {
		return 0, err
	}
	stopped := active.scheduler.Interrupt()
	active.logger.Info("playback interrupted by user", "sources", stopped)
	return stopped, nil
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	state := c.current.getState()
	return domain.Status{
		State:     state,
		Active:    state == domain.SessionStateConnecting || state == domain.SessionStateActive,
		SessionID: c.current.id,
	}
}

// Transcript returns the transcription accumulated for the current turn.
func (c *SessionController) Transcript() string {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil {
		return ""
	}
	return active.transcript.Text()
}

// History returns completed turns, oldest first.
func (c *SessionController) History() []domain.TurnRecord {
	return c.turns.History()
}

func (c *SessionController) getLive() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.getState() != domain.SessionStateActive {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func (c *SessionController) stopSession(active *activeSession, reason domain.SessionStateReason) {
	active.requestStop(reason)
	<-active.eventsDone
}

// fail ends a session that never reached the event loop.
func (c *SessionController) fail(active *activeSession, code domain.ErrorCode, reason domain.SessionStateReason, err error) {
	active.logger.Error("live session failed to start", "reason", reason, "error", err)
	active.teardown()
	c.reportError(code, err.Error())
	c.transition(active, domain.SessionStateClosed, reason)
	close(active.eventsDone)
}

// abandon ends a session that was stopped or replaced before it reached the
// event loop. A session that never announced itself closes silently.
func (c *SessionController) abandon(active *activeSession) error {
	reason := active.stopReasonOr(domain.SessionReasonShutdown)
	active.logger.Info("live session start cancelled", "reason", reason)
	active.teardown()
	if active.getState() == domain.SessionStateIdle {
		active.setState(domain.SessionStateClosed)
	} else {
		c.transition(active, domain.SessionStateClosed, reason)
	}
	close(active.eventsDone)
	return active.ctx.Err()
}

func (c *SessionController) closeSession(active *activeSession, reason domain.SessionStateReason) {
	active.teardown()
	c.transition(active, domain.SessionStateClosed, reason)
}

func (c *SessionController) transition(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	if !active.setState(state) {
		return
	}
	active.logger.Info("live session state changed", "state", state, "reason", reason)
	c.metrics.StateChanged(string(state))
	c.events.SessionStateChanged(state, reason)
}

func (c *SessionController) reportError(code domain.ErrorCode, detail string) {
	c.metrics.ErrorReported(string(code))
	c.events.SessionError(code, detail)
}

func (c *SessionController) consumeLiveEvents(active *activeSession) {
	defer close(active.eventsDone)

	events := active.conn.Events()
	for {
		select {
		case <-active.ctx.Done():
			c.closeSession(active, active.stopReasonOr(domain.SessionReasonShutdown))
			return
		case event, ok := <-events:
			if !ok {
				c.closeSession(active, active.stopReasonOr(domain.SessionReasonRemoteClosed))
				return
			}
			if closed := c.dispatch(active, event); closed {
				return
			}
		}
	}
}

// dispatch handles one live event and reports whether the session ended.
func (c *SessionController) dispatch(active *activeSession, event domain.LiveEvent) bool {
	switch event.Kind {
	case domain.LiveEventOpened:
		if active.getState() != domain.SessionStateConnecting {
			return false
		}
		c.transition(active, domain.SessionStateActive, domain.SessionReasonConnected)
		c.startCapture(active)
	case domain.LiveEventMessage:
		c.handleInbound(active, event.Message)
	case domain.LiveEventError:
		c.handleConnectionError(active, event.Err)
	case domain.LiveEventClosed:
		if event.Err != nil {
			active.logger.Warn("live connection closed with error", "error", event.Err)
		}
		c.closeSession(active, active.stopReasonOr(domain.SessionReasonRemoteClosed))
		return true
	}
	return false
}

func (c *SessionController) startCapture(active *activeSession) {
	if !active.markCaptureStarted() {
		return
	}
	go runCapturePipeline(
		active.ctx,
		active.capture,
		c.cfg.Capture.FrameSize,
		c.cfg.Capture.SampleRate,
		func(blob domain.EncodedBlob) { c.sendChunk(active, blob) },
		active.logger,
		active.captureDone,
	)
}

// sendChunk forwards one captured chunk. Failed sends drop the chunk.
func (c *SessionController) sendChunk(active *activeSession, blob domain.EncodedBlob) {
	if err := active.conn.SendRealtimeInput(blob); err != nil {
		c.metrics.ChunkDropped()
		active.logger.Warn("dropped audio chunk", "error", err)
		return
	}
	c.metrics.ChunkSent()
}

func (c *SessionController) handleConnectionError(active *activeSession, err error) {
	if err == nil {
		return
	}
	var connErr *domain.ConnectionError
	if errors.As(err, &connErr) && connErr.Op == domain.ConnectionOpSend {
		c.metrics.ChunkDropped()
		active.logger.Warn("dropped audio chunk", "error", err)
		return
	}
	active.logger.Error("live connection error", "error", err)
	c.reportError(domain.ErrorCodeConnection, err.Error())
}

// handleInbound applies every signal carried by message, in a fixed order.
func (c *SessionController) handleInbound(active *activeSession, message domain.InboundMessage) {
	c.metrics.InboundMessage()

	if message.HasTranscription {
		c.events.TranscriptUpdated(active.transcript.Append(message.Transcription))
	}
	if message.AudioPayload != "" {
		c.playAudio(active, message.AudioPayload)
	}
	if message.Interrupted {
		stopped := active.scheduler.Interrupt()
		active.logger.Debug("model signalled interruption", "sources", stopped)
	}
	if message.TurnComplete {
		raw := active.transcript.Clear()
		c.turns.Record(raw)
		c.metrics.TurnCompleted()
		c.events.TranscriptUpdated("")
	}
}

func (c *SessionController) playAudio(active *activeSession, payload string) {
	raw, err := pcm.Decode(payload)
	if err != nil {
		c.dropAudio(active, err)
		return
	}
	buffer, err := pcm.DecodeAudioData(raw, c.cfg.Playback.SampleRate, c.cfg.Playback.Channels)
	if err != nil {
		c.dropAudio(active, err)
		return
	}
	if _, err := active.scheduler.Schedule(buffer); err != nil {
		active.logger.Error("failed to schedule playback", "error", err)
		c.reportError(domain.ErrorCodePlayback, err.Error())
	}
}

func (c *SessionController) dropAudio(active *activeSession, err error) {
	c.metrics.DecodeError()
	active.logger.Warn("dropped malformed audio payload", "error", err)
	c.reportError(domain.ErrorCodeAudioDecode, err.Error())
}
