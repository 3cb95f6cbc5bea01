package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"mitra/internal/domain"
	"mitra/internal/pcm"
	"mitra/internal/ports"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func silentPayload(samples int) string {
	return pcm.Encode(pcm.FloatToPCM16(make([]float32, samples)))
}

// fakeAudioCapture hands out sessions in order. When gate is set, Start
// signals entered and waits for the gate before acquiring.
type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int

	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.CaptureConfig) (ports.AudioSession, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

func (f *fakeAudioCapture) acquired() []ports.AudioSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.AudioSession(nil), f.sessions[:f.calls]...)
}

// fakeAudioSession hands out its frames one per read, then blocks like a
// live microphone until Stop is called.
type fakeAudioSession struct {
	mu        sync.Mutex
	frames    [][]float32
	index     int
	readErr   error
	stopCalls int
	stopped   chan struct{}

	// stopGate, when set, holds Stop until it is closed.
	stopGate     chan struct{}
	stopEntered  chan struct{}
	stopSignaled sync.Once
}

func newFakeAudioSession(frames ...[]float32) *fakeAudioSession {
	return &fakeAudioSession{frames: frames, stopped: make(chan struct{})}
}

func (f *fakeAudioSession) ReadFrame(dst []float32) (int, error) {
	f.mu.Lock()
	if f.index < len(f.frames) {
		n := copy(dst, f.frames[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	readErr := f.readErr
	f.mu.Unlock()
	if readErr != nil {
		return 0, readErr
	}
	<-f.stopped
	return 0, io.EOF
}

func (f *fakeAudioSession) Stop() error {
	if f.stopGate != nil {
		f.stopSignaled.Do(func() { close(f.stopEntered) })
		<-f.stopGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopCalls == 1 {
		close(f.stopped)
	}
	return nil
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeAudioOutput struct {
	mu       sync.Mutex
	contexts []*fakeOutputContext
	err      error
	calls    int
}

func (f *fakeAudioOutput) Open(_ context.Context, _ ports.OutputConfig) (ports.OutputContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.contexts) {
		return nil, errors.New("no output context configured")
	}
	out := f.contexts[f.calls]
	f.calls++
	return out, nil
}

type playCall struct {
	at       float64
	duration float64
	source   *fakeSource
}

// fakeOutputContext has a manual clock; sources end only when stopped or
// finished explicitly.
type fakeOutputContext struct {
	mu         sync.Mutex
	now        float64
	plays      []playCall
	playErr    error
	closeCalls int
}

func (f *fakeOutputContext) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeOutputContext) setTime(now float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *fakeOutputContext) Play(buffer *pcm.AudioBuffer, at float64, onEnded func()) (ports.PlaybackSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return nil, f.playErr
	}
	source := &fakeSource{onEnded: onEnded}
	f.plays = append(f.plays, playCall{at: at, duration: buffer.Duration(), source: source})
	return source, nil
}

func (f *fakeOutputContext) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeOutputContext) snapshotPlays() []playCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]playCall, len(f.plays))
	copy(out, f.plays)
	return out
}

func (f *fakeOutputContext) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeSource struct {
	mu        sync.Mutex
	onEnded   func()
	ended     bool
	stopCalls int
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.finish()
	return nil
}

func (f *fakeSource) finish() {
	f.mu.Lock()
	if f.ended {
		f.mu.Unlock()
		return
	}
	f.ended = true
	onEnded := f.onEnded
	f.mu.Unlock()
	if onEnded != nil {
		onEnded()
	}
}

func (f *fakeSource) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls > 0
}

type fakeProvider struct {
	mu      sync.Mutex
	conns   []*fakeConnection
	err     error
	calls   int
	configs []ports.LiveConfig
}

func (f *fakeProvider) Connect(_ context.Context, cfg ports.LiveConfig) (ports.LiveConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.conns) {
		return nil, errors.New("no live connection configured")
	}
	conn := f.conns[f.calls]
	f.calls++
	return conn, nil
}

func (f *fakeProvider) acquired() []*fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConnection(nil), f.conns[:f.calls]...)
}

func (f *fakeProvider) connectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

type fakeConnection struct {
	mu         sync.Mutex
	events     chan domain.LiveEvent
	sent       []domain.EncodedBlob
	sendErr    error
	closeCalls int
	closed     bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{events: make(chan domain.LiveEvent, 64)}
}

func (f *fakeConnection) SendRealtimeInput(blob domain.EncodedBlob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, blob)
	return nil
}

func (f *fakeConnection) Events() <-chan domain.LiveEvent { return f.events }

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeConnection) emit(event domain.LiveEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- event
}

func (f *fakeConnection) open() {
	f.emit(domain.LiveEvent{Kind: domain.LiveEventOpened})
}

func (f *fakeConnection) message(msg domain.InboundMessage) {
	f.emit(domain.LiveEvent{Kind: domain.LiveEventMessage, Message: msg})
}

func (f *fakeConnection) snapshotSent() []domain.EncodedBlob {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EncodedBlob, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConnection) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeEventSink struct {
	mu sync.Mutex

	states      []stateEvent
	transcripts []string
	turns       []domain.TurnRecord
	errors      []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptUpdated(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
}

func (f *fakeEventSink) TurnCompleted(turn domain.TurnRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotTranscripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transcripts))
	copy(out, f.transcripts)
	return out
}

func (f *fakeEventSink) snapshotTurns() []domain.TurnRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TurnRecord, len(f.turns))
	copy(out, f.turns)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) lastState() stateEvent {
	states := f.snapshotStates()
	if len(states) == 0 {
		return stateEvent{}
	}
	return states[len(states)-1]
}
