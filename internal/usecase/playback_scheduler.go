package usecase

import (
	"log/slog"
	"sync"

	"mitra/internal/metrics"
	"mitra/internal/pcm"
	"mitra/internal/ports"
)

// PlaybackScheduler plays decoded buffers back to back on one output context
// and tracks every scheduled source so playback can be cut off on barge-in.
type PlaybackScheduler struct {
	output  ports.OutputContext
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	nextStartTime float64
	nextID        uint64
	generation    uint64
	active        map[uint64]ports.PlaybackSource
}

func NewPlaybackScheduler(output ports.OutputContext, logger *slog.Logger, m *metrics.Metrics) *PlaybackScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackScheduler{
		output:  output,
		logger:  logger,
		metrics: m,
		active:  make(map[uint64]ports.PlaybackSource),
	}
}

// Schedule queues buffer right after the previously scheduled one, or now if
// the queue has drained. It returns the chosen start time.
func (s *PlaybackScheduler) Schedule(buffer *pcm.AudioBuffer) (float64, error) {
	duration := buffer.Duration()

	s.mu.Lock()
	previous := s.nextStartTime
	start := previous
	if now := s.output.CurrentTime(); now > start {
		start = now
	}
	s.nextID++
	id := s.nextID
	generation := s.generation
	// Reserve the slot before Play: onEnded may fire before Play returns.
	s.active[id] = nil
	s.nextStartTime = start + duration
	s.mu.Unlock()

	source, err := s.output.Play(buffer, start, func() { s.release(id) })

	s.mu.Lock()
	if err != nil {
		delete(s.active, id)
		if s.generation == generation && s.nextStartTime == start+duration {
			s.nextStartTime = previous
		}
		s.mu.Unlock()
		return 0, err
	}
	interrupted := s.generation != generation
	if _, pending := s.active[id]; pending && !interrupted {
		s.active[id] = source
	}
	count := len(s.active)
	s.mu.Unlock()

	if interrupted {
		// Interrupt ran while Play was in flight.
		_ = source.Stop()
	}

	s.metrics.BufferScheduled(duration)
	s.metrics.SetActiveSources(count)
	return start, nil
}

// Interrupt stops every scheduled source immediately and resets the queue so
// the next buffer starts at the current clock time.
func (s *PlaybackScheduler) Interrupt() int {
	s.mu.Lock()
	sources := make([]ports.PlaybackSource, 0, len(s.active))
	for _, source := range s.active {
		if source != nil {
			sources = append(sources, source)
		}
	}
	stopped := len(s.active)
	s.active = make(map[uint64]ports.PlaybackSource)
	s.nextStartTime = 0
	s.generation++
	s.mu.Unlock()

	for _, source := range sources {
		if err := source.Stop(); err != nil {
			s.logger.Warn("failed to stop playback source", "error", err)
		}
	}

	s.metrics.Interrupted()
	s.metrics.SetActiveSources(0)
	return stopped
}

// Active returns the number of sources scheduled or playing.
func (s *PlaybackScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime returns the clock time the next buffer would be queued at.
func (s *PlaybackScheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStartTime
}

func (s *PlaybackScheduler) release(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	count := len(s.active)
	s.mu.Unlock()

	s.metrics.SetActiveSources(count)
}
