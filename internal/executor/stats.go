package executor

import (
	"sync/atomic"

	"github.com/vk/treepump/internal/task"
)

// Totals is a snapshot of what a Pool did.
type Totals struct {
	Executed   int64 `yaml:"executed"`
	Continued  int64 `yaml:"continued"`
	Stopped    int64 `yaml:"stopped"`
	Escalated  int64 `yaml:"escalated"`
	Dropped    int64 `yaml:"dropped"`
	Errors     int64 `yaml:"errors"`
	Reconnects int64 `yaml:"reconnects"`
	Runners    int64 `yaml:"runners"`
}

type stats struct {
	executed, continued, stopped, escalated atomic.Int64
	dropped, errors, reconnects, runners    atomic.Int64
}

func (s *stats) outcome(o task.Outcome) {
	s.executed.Add(1)
	switch o {
	case task.Continue:
		s.continued.Add(1)
	case task.Stop:
		s.stopped.Add(1)
	case task.Escalated:
		s.escalated.Add(1)
	}
}

func (s *stats) snapshot() Totals {
	return Totals{
		Executed:   s.executed.Load(),
		Continued:  s.continued.Load(),
		Stopped:    s.stopped.Load(),
		Escalated:  s.escalated.Load(),
		Dropped:    s.dropped.Load(),
		Errors:     s.errors.Load(),
		Reconnects: s.reconnects.Load(),
		Runners:    s.runners.Load(),
	}
}
