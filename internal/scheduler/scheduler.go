package scheduler

import (
	"sort"
	"sync"

	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/task"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLatch makes signaled keys stay satisfied for tasks added later.
func WithLatch() Option {
	return func(s *Scheduler) {
		s.satisfied = make(map[precond.Key]struct{})
	}
}

// Scheduler is the pair of blocked and runnable tables.
type Scheduler struct {
	mu        sync.Mutex
	blocked   map[precond.Key][]*task.Task
	runnable  map[model.Identity][]*task.Task
	satisfied map[precond.Key]struct{} // nil unless latching
	wake      chan struct{}
}

var _ task.Scheduler = (*Scheduler)(nil)

// New creates an empty Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		blocked:  make(map[precond.Key][]*task.Task),
		runnable: make(map[model.Identity][]*task.Task),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBlocked queues t under its key.
func (s *Scheduler) AddBlocked(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.satisfied[t.Key]; ok {
		s.makeRunnableLocked(t)
		s.notify()
		return
	}
	s.blocked[t.Key] = append(s.blocked[t.Key], t)
}

// Signal moves every task blocked on key, in order, to the runnable queue
// of its own actor. Signaling a key nobody waits on changes nothing unless
// latching is enabled.
func (s *Scheduler) Signal(key precond.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.satisfied != nil {
		s.satisfied[key] = struct{}{}
	}
	queue, ok := s.blocked[key]
	if !ok {
		return
	}
	delete(s.blocked, key)
	for _, t := range queue {
		s.makeRunnableLocked(t)
	}
	s.notify()
}

func (s *Scheduler) makeRunnableLocked(t *task.Task) {
	s.runnable[t.Actor] = append(s.runnable[t.Actor], t)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// PollRunnable pops the head of id's runnable queue, or returns nil. The
// queue entry disappears once drained.
func (s *Scheduler) PollRunnable(id model.Identity) *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, ok := s.runnable[id]
	if !ok {
		return nil
	}
	head := queue[0]
	queue[0] = nil
	if len(queue) == 1 {
		delete(s.runnable, id)
	} else {
		s.runnable[id] = queue[1:]
	}
	return head
}

// CountBlockedKeys returns the number of keys still awaiting a signal.
func (s *Scheduler) CountBlockedKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocked)
}

// BlockedKeys lists the keys still awaiting a signal, ordered by their string form.
func (s *Scheduler) BlockedKeys() []precond.Key {
	s.mu.Lock()
	keys := make([]precond.Key, 0, len(s.blocked))
	for k := range s.blocked {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// BlockedTasks returns how many tasks are still blocked.
func (s *Scheduler) BlockedTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.blocked {
		n += len(q)
	}
	return n
}

// PendingIdentities lists the identities with runnable work, ordered by name.
func (s *Scheduler) PendingIdentities() []model.Identity {
	s.mu.Lock()
	ids := make([]model.Identity, 0, len(s.runnable))
	for id := range s.runnable {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// HasRunnable reports whether any identity has runnable work.
func (s *Scheduler) HasRunnable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runnable) > 0
}

// Wake returns the channel notified when runnable work appears.
func (s *Scheduler) Wake() <-chan struct{} {
	return s.wake
}
