package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mitra/internal/domain"
	"mitra/internal/metrics"
	"mitra/internal/pcm"
	"mitra/internal/ports"
)

type harness struct {
	controller *SessionController
	audio      *fakeAudioSession
	output     *fakeOutputContext
	conn       *fakeConnection
	provider   *fakeProvider
	events     *fakeEventSink
}

func newHarness(rules ports.RulesEngine, frames ...[]float32) *harness {
	h := &harness{
		audio:  newFakeAudioSession(frames...),
		output: &fakeOutputContext{},
		conn:   newFakeConnection(),
		events: &fakeEventSink{},
	}
	h.provider = &fakeProvider{conns: []*fakeConnection{h.conn}}
	h.controller = NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{h.audio}},
		&fakeAudioOutput{contexts: []*fakeOutputContext{h.output}},
		h.provider,
		rules,
		h.events,
		Config{
			Capture:  ports.CaptureConfig{SampleRate: 16000, FrameSize: 4},
			Playback: ports.OutputConfig{SampleRate: 24000, Channels: 1},
		},
	)
	return h
}

func (h *harness) startActive(t *testing.T) {
	t.Helper()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.conn.open()
	waitFor(t, "active session", func() bool {
		return h.controller.Status().State == domain.SessionStateActive
	})
}

func (h *harness) scheduler() *PlaybackScheduler {
	h.controller.mu.Lock()
	defer h.controller.mu.Unlock()
	return h.controller.current.scheduler
}

func TestSessionControllerStreamsFramesInOrder(t *testing.T) {
	t.Parallel()

	frames := [][]float32{
		{0.1, 0.1, 0.1, 0.1},
		{0.2, 0.2, 0.2, 0.2},
		{0.3, 0.3, 0.3, 0.3},
	}
	h := newHarness(&fakeRules{}, frames...)
	h.startActive(t)

	waitFor(t, "three chunks", func() bool { return len(h.conn.snapshotSent()) == 3 })

	sent := h.conn.snapshotSent()
	for i, frame := range frames {
		want := encodeFrame(frame, "audio/pcm;rate=16000")
		if sent[i] != want {
			t.Fatalf("chunk %d mismatch: got %+v want %+v", i, sent[i], want)
		}
	}

	states := h.events.snapshotStates()
	if len(states) != 2 {
		t.Fatalf("expected 2 transitions, got %+v", states)
	}
	if states[0].state != domain.SessionStateConnecting || states[0].reason != domain.SessionReasonConnecting {
		t.Fatalf("unexpected first transition: %+v", states[0])
	}
	if states[1].state != domain.SessionStateActive || states[1].reason != domain.SessionReasonConnected {
		t.Fatalf("unexpected second transition: %+v", states[1])
	}
	if !h.controller.Status().Active {
		t.Fatalf("expected active status")
	}
}

func TestSessionControllerDoesNotSendBeforeOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{}, []float32{0.5, 0.5, 0.5, 0.5})
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if status := h.controller.Status(); status.State != domain.SessionStateConnecting || !status.Active {
		t.Fatalf("unexpected status before open: %+v", status)
	}
	if got := len(h.conn.snapshotSent()); got != 0 {
		t.Fatalf("expected no chunks before open, got %d", got)
	}

	h.conn.open()
	waitFor(t, "first chunk", func() bool { return len(h.conn.snapshotSent()) == 1 })
}

func TestSessionControllerSchedulesAudioBackToBack(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.startActive(t)

	h.conn.message(domain.InboundMessage{AudioPayload: silentPayload(24000)})
	h.conn.message(domain.InboundMessage{AudioPayload: silentPayload(12000)})
	waitFor(t, "two scheduled buffers", func() bool { return len(h.output.snapshotPlays()) == 2 })

	plays := h.output.snapshotPlays()
	if plays[0].at != 0 || plays[0].duration != 1.0 {
		t.Fatalf("unexpected first play: %+v", plays[0])
	}
	if plays[1].at != 1.0 || plays[1].duration != 0.5 {
		t.Fatalf("unexpected second play: %+v", plays[1])
	}
	if next := h.scheduler().NextStartTime(); next != 1.5 {
		t.Fatalf("expected next start 1.5, got %v", next)
	}
	if active := h.scheduler().Active(); active != 2 {
		t.Fatalf("expected 2 active sources, got %d", active)
	}
}

func TestSessionControllerModelInterruptStopsPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.startActive(t)

	h.conn.message(domain.InboundMessage{AudioPayload: silentPayload(24000)})
	h.conn.message(domain.InboundMessage{AudioPayload: silentPayload(12000)})
	waitFor(t, "two scheduled buffers", func() bool { return len(h.output.snapshotPlays()) == 2 })

	h.output.setTime(0.4)
	h.conn.message(domain.InboundMessage{Interrupted: true})
	waitFor(t, "interrupt", func() bool { return h.scheduler().Active() == 0 })

	for i, play := range h.output.snapshotPlays() {
		if !play.source.stopped() {
			t.Fatalf("source %d was not stopped", i)
		}
	}

	h.conn.message(domain.InboundMessage{AudioPayload: silentPayload(12000)})
	waitFor(t, "third buffer", func() bool { return len(h.output.snapshotPlays()) == 3 })
	if at := h.output.snapshotPlays()[2].at; at != 0.4 {
		t.Fatalf("expected post-interrupt buffer at 0.4, got %v", at)
	}
}

func TestSessionControllerTurnCompleteClearsTranscriptOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{transform: "Hello there!"})
	h.startActive(t)

	h.conn.message(domain.InboundMessage{Transcription: "Hello", HasTranscription: true})
	h.conn.message(domain.InboundMessage{
		Transcription:    "there",
		HasTranscription: true,
		AudioPayload:     silentPayload(2400),
	})
	waitFor(t, "transcript", func() bool { return h.controller.Transcript() == "Hello there" })

	h.conn.message(domain.InboundMessage{TurnComplete: true})
	waitFor(t, "turn", func() bool { return len(h.events.snapshotTurns()) == 1 })

	if got := h.controller.Transcript(); got != "" {
		t.Fatalf("expected empty transcript after turn, got %q", got)
	}
	transcripts := h.events.snapshotTranscripts()
	want := []string{"Hello", "Hello there", ""}
	if len(transcripts) != len(want) {
		t.Fatalf("unexpected transcript events: %q", transcripts)
	}
	for i := range want {
		if transcripts[i] != want[i] {
			t.Fatalf("transcript event %d: got %q want %q", i, transcripts[i], want[i])
		}
	}

	turn := h.events.snapshotTurns()[0]
	if turn.Raw != "Hello there" || turn.Text != "Hello there!" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if history := h.controller.History(); len(history) != 1 || history[0].ID != turn.ID {
		t.Fatalf("unexpected history: %+v", history)
	}
	if active := h.scheduler().Active(); active != 1 {
		t.Fatalf("turn completion must not stop playback, active=%d", active)
	}
}

func TestSessionControllerMalformedAudioKeepsOtherSignals(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.startActive(t)

	h.conn.message(domain.InboundMessage{
		Transcription:    "hi",
		HasTranscription: true,
		AudioPayload:     "ab$d",
		TurnComplete:     true,
	})
	waitFor(t, "turn", func() bool { return len(h.events.snapshotTurns()) == 1 })

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeAudioDecode {
		t.Fatalf("expected one audio decode error, got %+v", errs)
	}
	if len(h.output.snapshotPlays()) != 0 {
		t.Fatalf("malformed audio must not be scheduled")
	}
	if h.controller.Status().State != domain.SessionStateActive {
		t.Fatalf("decode errors must not close the session")
	}
}

func TestSessionControllerOddLengthAudioIsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.startActive(t)

	h.conn.message(domain.InboundMessage{AudioPayload: pcm.Encode([]byte{1, 2, 3})})
	waitFor(t, "decode error", func() bool { return len(h.events.snapshotErrors()) == 1 })

	if len(h.output.snapshotPlays()) != 0 {
		t.Fatalf("odd-length audio must not be scheduled")
	}
}

func TestSessionControllerMicrophoneDenied(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	output := &fakeAudioOutput{contexts: []*fakeOutputContext{{}}}
	provider := &fakeProvider{}
	controller := NewSessionController(
		&fakeAudioCapture{err: errors.New("permission denied")},
		output,
		provider,
		&fakeRules{},
		events,
		Config{},
	)

	err := controller.Start(context.Background())
	var permErr *domain.PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if provider.connectCalls() != 0 || output.calls != 0 {
		t.Fatalf("nothing else should be acquired after microphone failure")
	}

	last := events.lastState()
	if last.state != domain.SessionStateClosed || last.reason != domain.SessionReasonMicrophoneDenied {
		t.Fatalf("unexpected final state: %+v", last)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeMicrophone {
		t.Fatalf("expected microphone error, got %+v", errs)
	}
	if err := controller.Stop(); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
}

func TestSessionControllerConnectFailureReleasesResources(t *testing.T) {
	t.Parallel()

	audio := newFakeAudioSession()
	output := &fakeOutputContext{}
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{audio}},
		&fakeAudioOutput{contexts: []*fakeOutputContext{output}},
		&fakeProvider{err: errors.New("dial refused")},
		&fakeRules{},
		events,
		Config{},
	)

	err := controller.Start(context.Background())
	var connErr *domain.ConnectionError
	if !errors.As(err, &connErr) || connErr.Op != domain.ConnectionOpOpen {
		t.Fatalf("expected open ConnectionError, got %v", err)
	}
	if audio.stops() != 1 {
		t.Fatalf("expected microphone released, stops=%d", audio.stops())
	}
	if output.closes() != 1 {
		t.Fatalf("expected output closed, closes=%d", output.closes())
	}
	last := events.lastState()
	if last.state != domain.SessionStateClosed || last.reason != domain.SessionReasonConnectFailed {
		t.Fatalf("unexpected final state: %+v", last)
	}
}

func TestSessionControllerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.startActive(t)

	if err := h.controller.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if h.audio.stops() != 1 {
		t.Fatalf("expected capture stopped once, got %d", h.audio.stops())
	}
	if h.conn.closes() != 1 {
		t.Fatalf("expected connection closed once, got %d", h.conn.closes())
	}
	if h.output.closes() != 1 {
		t.Fatalf("expected output closed once, got %d", h.output.closes())
	}

	closed := 0
	for _, state := range h.events.snapshotStates() {
		if state.state == domain.SessionStateClosed {
			closed++
			if state.reason != domain.SessionReasonUserStopped {
				t.Fatalf("unexpected close reason: %s", state.reason)
			}
		}
	}
	if closed != 1 {
		t.Fatalf("expected a single closed transition, got %d", closed)
	}
	if status := h.controller.Status(); status.State != domain.SessionStateClosed || status.Active {
		t.Fatalf("unexpected status after stop: %+v", status)
	}
}

func TestSessionControllerStopWithoutSession(t *testing.T) {
	t.Parallel()

	controller := NewSessionController(
		&fakeAudioCapture{},
		&fakeAudioOutput{},
		&fakeProvider{},
		&fakeRules{},
		&fakeEventSink{},
		Config{},
	)

	if err := controller.Stop(); err != nil {
		t.Fatalf("stop without session: %v", err)
	}
	if status := controller.Status(); status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected idle status: %+v", status)
	}
	if _, err := controller.Interrupt(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestSessionControllerRemoteClose(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.startActive(t)

	h.conn.emit(domain.LiveEvent{Kind: domain.LiveEventClosed})
	waitFor(t, "closed", func() bool {
		return h.controller.Status().State == domain.SessionStateClosed
	})

	last := h.events.lastState()
	if last.reason != domain.SessionReasonRemoteClosed {
		t.Fatalf("expected remote_closed, got %s", last.reason)
	}
	if h.audio.stops() != 1 || h.output.closes() != 1 {
		t.Fatalf("expected resources released after remote close")
	}
}

func TestSessionControllerConnectionErrorIsReported(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.startActive(t)

	h.conn.emit(domain.LiveEvent{
		Kind: domain.LiveEventError,
		Err:  &domain.ConnectionError{Op: domain.ConnectionOpReceive, Err: errors.New("bad frame")},
	})
	waitFor(t, "error event", func() bool { return len(h.events.snapshotErrors()) == 1 })

	if code := h.events.snapshotErrors()[0].code; code != domain.ErrorCodeConnection {
		t.Fatalf("unexpected error code: %s", code)
	}
	if h.controller.Status().State != domain.SessionStateActive {
		t.Fatalf("a non-close error must not end the session")
	}
}

func TestSessionControllerSendFailureDropsChunk(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{}, []float32{0.1, 0.2, 0.3, 0.4})
	h.conn.sendErr = errors.New("queue full")
	h.startActive(t)

	h.conn.emit(domain.LiveEvent{
		Kind: domain.LiveEventError,
		Err:  &domain.ConnectionError{Op: domain.ConnectionOpSend, Err: errors.New("write failed")},
	})
	h.conn.message(domain.InboundMessage{TurnComplete: true})
	waitFor(t, "turn processed", func() bool {
		transcripts := h.events.snapshotTranscripts()
		return len(transcripts) == 1 && transcripts[0] == ""
	})

	if errs := h.events.snapshotErrors(); len(errs) != 0 {
		t.Fatalf("send failures must not surface as UI errors: %+v", errs)
	}
	if h.controller.Status().State != domain.SessionStateActive {
		t.Fatalf("send failures must not end the session")
	}
}

func TestSessionControllerUserInterrupt(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.startActive(t)

	h.conn.message(domain.InboundMessage{AudioPayload: silentPayload(2400)})
	waitFor(t, "scheduled buffer", func() bool { return len(h.output.snapshotPlays()) == 1 })

	stopped, err := h.controller.Interrupt()
	if err != nil {
		t.Fatalf("interrupt failed: %v", err)
	}
	if stopped != 1 {
		t.Fatalf("expected 1 stopped source, got %d", stopped)
	}
	if !h.output.snapshotPlays()[0].source.stopped() {
		t.Fatalf("expected source to be stopped")
	}
}

func TestSessionControllerRestartStopsPreviousSession(t *testing.T) {
	t.Parallel()

	firstAudio := newFakeAudioSession()
	secondAudio := newFakeAudioSession()
	firstConn := newFakeConnection()
	secondConn := newFakeConnection()
	firstOut := &fakeOutputContext{}
	secondOut := &fakeOutputContext{}
	events := &fakeEventSink{}

	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{firstAudio, secondAudio}},
		&fakeAudioOutput{contexts: []*fakeOutputContext{firstOut, secondOut}},
		&fakeProvider{conns: []*fakeConnection{firstConn, secondConn}},
		&fakeRules{},
		events,
		Config{},
	)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	firstConn.open()
	waitFor(t, "first active", func() bool {
		return controller.Status().State == domain.SessionStateActive
	})
	firstID := controller.Status().SessionID

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	if firstAudio.stops() != 1 || firstConn.closes() != 1 || firstOut.closes() != 1 {
		t.Fatalf("expected first session released on restart")
	}

	var restarted bool
	for _, state := range events.snapshotStates() {
		if state.state == domain.SessionStateClosed && state.reason == domain.SessionReasonRestarting {
			restarted = true
		}
	}
	if !restarted {
		t.Fatalf("expected restarting close reason")
	}

	status := controller.Status()
	if status.State != domain.SessionStateConnecting || status.SessionID == firstID {
		t.Fatalf("unexpected status after restart: %+v", status)
	}
}

func TestSessionControllerCaptureFailureDoesNotCloseSession(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeRules{})
	h.audio.readErr = errors.New("device unplugged")
	h.startActive(t)

	h.controller.mu.Lock()
	captureDone := h.controller.current.captureDone
	h.controller.mu.Unlock()

	waitFor(t, "capture exit", func() bool {
		select {
		case <-captureDone:
			return true
		default:
			return false
		}
	})
	if h.controller.Status().State != domain.SessionStateActive {
		t.Fatalf("capture failure must not close the session")
	}
	if err := h.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestSessionControllerOverlappingRestartsReleaseEverySession(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	firstMic := newFakeAudioSession()
	firstMic.stopGate = gate
	firstMic.stopEntered = make(chan struct{})

	capture := &fakeAudioCapture{sessions: []ports.AudioSession{firstMic, newFakeAudioSession(), newFakeAudioSession()}}
	provider := &fakeProvider{conns: []*fakeConnection{newFakeConnection(), newFakeConnection(), newFakeConnection()}}
	outputs := []*fakeOutputContext{{}, {}, {}}
	controller := NewSessionController(
		capture,
		&fakeAudioOutput{contexts: outputs},
		provider,
		&fakeRules{},
		&fakeEventSink{},
		Config{},
	)
	current := func() *activeSession {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return controller.current
	}

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	results := make(chan error, 2)
	go func() { results <- controller.Start(context.Background()) }()
	select {
	case <-firstMic.stopEntered:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the first microphone to stop")
	}
	replaced := current()

	go func() { results <- controller.Start(context.Background()) }()
	waitFor(t, "second restart installed", func() bool { return current() != replaced })
	close(gate)

	var succeeded int
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err == nil {
				succeeded++
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for restarts")
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one restart to open a session, got %d", succeeded)
	}

	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	mics := capture.acquired()
	if len(mics) != 2 {
		t.Fatalf("expected the replaced restart to acquire nothing, got %d microphones", len(mics))
	}
	for i, mic := range mics {
		if got := mic.(*fakeAudioSession).stops(); got != 1 {
			t.Fatalf("microphone %d stopped %d times", i, got)
		}
	}
	for i, conn := range provider.acquired() {
		if got := conn.closes(); got != 1 {
			t.Fatalf("connection %d closed %d times", i, got)
		}
	}
	for i, out := range outputs[:len(mics)] {
		if got := out.closes(); got != 1 {
			t.Fatalf("output %d closed %d times", i, got)
		}
	}
	if state := controller.Status().State; state != domain.SessionStateClosed {
		t.Fatalf("expected closed session, got %s", state)
	}
}

func TestSessionControllerStopDuringStartIsNotAnError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		captureErr error
	}{
		{name: "microphone granted after stop"},
		{name: "microphone request aborted", captureErr: context.Canceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mic := newFakeAudioSession()
			capture := &fakeAudioCapture{
				sessions: []ports.AudioSession{mic},
				err:      tc.captureErr,
				gate:     make(chan struct{}),
				entered:  make(chan struct{}, 1),
			}
			provider := &fakeProvider{conns: []*fakeConnection{newFakeConnection()}}
			events := &fakeEventSink{}
			controller := NewSessionController(
				capture,
				&fakeAudioOutput{contexts: []*fakeOutputContext{{}}},
				provider,
				&fakeRules{},
				events,
				Config{},
			)

			started := make(chan error, 1)
			go func() { started <- controller.Start(context.Background()) }()
			select {
			case <-capture.entered:
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for microphone request")
			}

			stopped := make(chan error, 1)
			go func() { stopped <- controller.Stop() }()
			waitFor(t, "stop requested", func() bool {
				controller.mu.Lock()
				defer controller.mu.Unlock()
				return controller.current.ctx.Err() != nil
			})
			close(capture.gate)

			select {
			case err := <-started:
				if !errors.Is(err, context.Canceled) {
					t.Fatalf("expected context.Canceled, got %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for start")
			}
			if err := <-stopped; err != nil {
				t.Fatalf("stop failed: %v", err)
			}

			if errs := events.snapshotErrors(); len(errs) != 0 {
				t.Fatalf("a stopped start must not report errors, got %+v", errs)
			}
			states := events.snapshotStates()
			last := states[len(states)-1]
			if last.state != domain.SessionStateClosed || last.reason != domain.SessionReasonUserStopped {
				t.Fatalf("expected closed/user_stopped, got %+v", last)
			}
			if tc.captureErr == nil && mic.stops() != 1 {
				t.Fatalf("expected late microphone to be released")
			}
			if provider.connectCalls() != 0 {
				t.Fatalf("stopped start must not connect")
			}
		})
	}
}

func TestSessionControllerRulesFailureIsCounted(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	conn := newFakeConnection()
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession()}},
		&fakeAudioOutput{contexts: []*fakeOutputContext{{}}},
		&fakeProvider{conns: []*fakeConnection{conn}},
		&fakeRules{err: errors.New("rule loops")},
		events,
		Config{Metrics: m},
	)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conn.open()
	conn.message(domain.InboundMessage{Transcription: "hello", HasTranscription: true, TurnComplete: true})
	waitFor(t, "turn recorded", func() bool { return len(events.snapshotTurns()) == 1 })

	if got := testutil.ToFloat64(m.SessionErrors.WithLabelValues(string(domain.ErrorCodeRules))); got != 1 {
		t.Fatalf("expected one rules error counted, got %v", got)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeRules {
		t.Fatalf("expected rules error event, got %+v", errs)
	}
	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}
