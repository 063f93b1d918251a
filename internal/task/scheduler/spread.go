package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays only the first run, so many polling targets armed
// together do not query the gateway in the same second.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq atomic.Uint64

func intervalWithSpread(every time.Duration, now time.Time, tag string) cron.Schedule {
	base := cron.Every(every)
	spreadMax := every
	if spreadMax > maxStartupSpread {
		spreadMax = maxStartupSpread
	}
	if spreadMax <= 0 {
		return base
	}
	seed := now.UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(fnv64a(tag))
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(spreadMax)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// compile turns a parsed spec into a cron schedule. Intervals get a
// startup spread when spread is set.
func (s *Service) compile(p ParsedSpec, spread bool, now time.Time, tag string) (cron.Schedule, error) {
	switch p.Kind {
	case SpecInterval:
		if spread {
			return intervalWithSpread(p.Every, now, tag), nil
		}
		return cron.Every(p.Every), nil
	case SpecCron:
		return s.parser.Parse(p.Cron)
	}
	return nil, errUnknownSpec
}
