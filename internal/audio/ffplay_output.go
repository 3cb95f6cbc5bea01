package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"mitra/internal/pcm"
	"mitra/internal/ports"
)

// pcmSink is a real-time 16-bit PCM stream to the speaker.
type pcmSink interface {
	Write(p []byte) error
	// Reset discards audio that was written but not played yet.
	Reset() error
	Close() error
}

// FFPlayOutput plays scheduled PCM buffers through an ffplay subprocess.
type FFPlayOutput struct {
	command  string
	logLevel string
	volume   int
}

func NewFFPlayOutput(command string) *FFPlayOutput {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlayOutput{command: command, logLevel: "error", volume: 100}
}

func (o *FFPlayOutput) Open(ctx context.Context, cfg ports.OutputConfig) (ports.OutputContext, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	sink := &ffplaySink{
		command:    o.command,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		logLevel:   o.logLevel,
		volume:     o.volume,
	}
	if err := sink.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}

	out := newOutputContext(sink, time.Now)
	go func() {
		<-ctx.Done()
		_ = out.Close()
	}()
	return out, nil
}

// outputContext schedules buffers against a monotonic clock that starts when
// the context is opened.
type outputContext struct {
	sink  pcmSink
	now   func() time.Time
	epoch time.Time

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	sources map[uint64]*scheduledSource
}

func newOutputContext(sink pcmSink, now func() time.Time) *outputContext {
	return &outputContext{
		sink:    sink,
		now:     now,
		epoch:   now(),
		sources: make(map[uint64]*scheduledSource),
	}
}

func (o *outputContext) CurrentTime() float64 {
	return o.now().Sub(o.epoch).Seconds()
}

func (o *outputContext) Play(buffer *pcm.AudioBuffer, at float64, onEnded func()) (ports.PlaybackSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrOutputClosed
	}

	o.nextID++
	source := &scheduledSource{
		id:       o.nextID,
		output:   o,
		data:     buffer.PCM16(),
		duration: seconds(buffer.Duration()),
		onEnded:  onEnded,
	}
	o.sources[source.id] = source

	delay := seconds(at - o.CurrentTime())
	if delay < 0 {
		delay = 0
	}
	source.mu.Lock()
	source.timer = time.AfterFunc(delay, source.start)
	source.mu.Unlock()
	return source, nil
}

func (o *outputContext) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	sources := make([]*scheduledSource, 0, len(o.sources))
	for _, source := range o.sources {
		sources = append(sources, source)
	}
	o.mu.Unlock()

	for _, source := range sources {
		source.halt(false)
	}
	return o.sink.Close()
}

func (o *outputContext) forget(id uint64) {
	o.mu.Lock()
	delete(o.sources, id)
	o.mu.Unlock()
}

type sourceState int

const (
	sourcePending sourceState = iota
	sourcePlaying
	sourceEnded
)

type scheduledSource struct {
	id       uint64
	output   *outputContext
	data     []byte
	duration time.Duration
	onEnded  func()

	mu    sync.Mutex
	state sourceState
	timer *time.Timer
}

func (s *scheduledSource) start() {
	s.mu.Lock()
	if s.state != sourcePending {
		s.mu.Unlock()
		return
	}
	s.state = sourcePlaying
	s.mu.Unlock()

	// Returns once the data is piped, not when it has been heard.
	_ = s.output.sink.Write(s.data)

	s.mu.Lock()
	if s.state == sourcePlaying {
		s.timer = time.AfterFunc(s.duration, s.finish)
	}
	s.mu.Unlock()
}

func (s *scheduledSource) finish() {
	s.mu.Lock()
	if s.state == sourceEnded {
		s.mu.Unlock()
		return
	}
	s.state = sourceEnded
	s.mu.Unlock()
	s.ended()
}

// Stop cancels a pending source or cuts off one that is playing.
func (s *scheduledSource) Stop() error {
	return s.halt(true)
}

func (s *scheduledSource) halt(resetSink bool) error {
	s.mu.Lock()
	if s.state == sourceEnded {
		s.mu.Unlock()
		return nil
	}
	wasPlaying := s.state == sourcePlaying
	s.state = sourceEnded
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	var err error
	if wasPlaying && resetSink {
		err = s.output.sink.Reset()
	}
	s.ended()
	return err
}

func (s *scheduledSource) ended() {
	s.output.forget(s.id)
	if s.onEnded != nil {
		s.onEnded()
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// ffplaySink feeds raw s16le PCM to ffplay's stdin. Reset restarts the
// process, which is the only way to drop audio ffplay has already buffered.
type ffplaySink struct {
	command    string
	sampleRate int
	channels   int
	logLevel   string
	volume     int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (s *ffplaySink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *ffplaySink) startLocked() error {
	if s.cmd != nil {
		return nil
	}
	// ffplay takes -ch_layout rather than ffmpeg's -ac.
	layout := "mono"
	if s.channels == 2 {
		layout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", s.logLevel,
		"-nostats",
		"-autoexit",
		"-volume", strconv.Itoa(s.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", strconv.Itoa(s.sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.command, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}

	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

func (s *ffplaySink) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return errors.New("ffplay is not running")
	}
	_, err := stdin.Write(p)
	return err
}

func (s *ffplaySink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return s.startLocked()
}

func (s *ffplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *ffplaySink) closeLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}
