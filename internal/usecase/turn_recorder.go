package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mitra/internal/domain"
	"mitra/internal/ports"
)

const defaultHistoryLimit = 100

// turnRecorder keeps the transcripts of completed model turns, after
// substitution rules have been applied.
type turnRecorder struct {
	rules  ports.RulesEngine
	events ports.EventSink
	report func(domain.ErrorCode, string)
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	history []domain.TurnRecord
}

// newTurnRecorder builds a recorder that reports rules failures through
// report, or straight to events when report is nil.
func newTurnRecorder(rules ports.RulesEngine, events ports.EventSink, report func(domain.ErrorCode, string), limit int) *turnRecorder {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if report == nil {
		report = events.SessionError
	}
	return &turnRecorder{rules: rules, events: events, report: report, limit: limit, now: time.Now}
}

// Record stores raw as a completed turn. Empty turns are skipped. A rules
// failure keeps the raw text and is reported to the UI.
func (r *turnRecorder) Record(raw string) (domain.TurnRecord, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.TurnRecord{}, false
	}

	text := raw
	if r.rules != nil {
		transformed, err := r.rules.Apply(raw)
		if err != nil {
			r.report(domain.ErrorCodeRules, err.Error())
		} else {
			text = transformed
		}
	}

	record := domain.TurnRecord{
		ID:          uuid.NewString(),
		Raw:         raw,
		Text:        text,
		CompletedAt: r.now(),
	}

	r.mu.Lock()
	r.history = append(r.history, record)
	if overflow := len(r.history) - r.limit; overflow > 0 {
		r.history = append([]domain.TurnRecord(nil), r.history[overflow:]...)
	}
	r.mu.Unlock()

	r.events.TurnCompleted(record)
	return record, true
}

func (r *turnRecorder) History() []domain.TurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TurnRecord, len(r.history))
	copy(out, r.history)
	return out
}
