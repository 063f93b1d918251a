package scheduler

import (
	"errors"
	"time"

	"courtbot/internal/task/engine"
	logx "courtbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(kind, name string, err error) {
	if err == nil {
		return
	}
	// Overlap skips are the normal outcome of a slow tick.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("tick skipped, previous still in flight", logx.String("job", name))
		s.metrics.ObserveTick(kind, "skipped")
		return
	}

	s.metrics.ObserveTick(kind, "dropped")

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("tick could not be enqueued", logx.String("job", name), logx.Err(err))
}
