package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/task"
)

type noopStep struct{ path string }

func (s noopStep) Kind() string { return "noop" }
func (s noopStep) Path() string { return s.path }
func (s noopStep) Run(context.Context, *task.Task, task.Env) (task.Outcome, error) {
	return task.Continue, nil
}

var (
	alice = model.NewIdentity("alice", "z")
	bob   = model.NewIdentity("bob", "z")
)

func newTask(key precond.Key, actor model.Identity, path string) *task.Task {
	return task.New(key, actor, true, noopStep{path: path})
}

func drain(s *Scheduler, id model.Identity) []string {
	var paths []string
	for t := s.PollRunnable(id); t != nil; t = s.PollRunnable(id) {
		paths = append(paths, t.Step.Path())
	}
	return paths
}

func TestBlockedTaskNotRunnableBeforeSignal(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	s := New()
	key := precond.Exists("/z/home/a")
	s.AddBlocked(newTask(key, alice, "/z/home/a/1"))

	// --- Act & Assert ---
	assert.Nil(t, s.PollRunnable(alice))
	assert.Equal(t, 1, s.CountBlockedKeys())
	assert.False(t, s.HasRunnable())

	s.Signal(key)

	assert.Equal(t, 0, s.CountBlockedKeys())
	assert.Equal(t, []model.Identity{alice}, s.PendingIdentities())
	got := s.PollRunnable(alice)
	require.NotNil(t, got)
	assert.Equal(t, "/z/home/a/1", got.Step.Path())
	assert.Nil(t, s.PollRunnable(alice))
	assert.Empty(t, s.PendingIdentities(), "a drained queue must disappear")
}

func TestSignal_UnknownKeyIsNoop(t *testing.T) {
	t.Parallel()

	s := New()
	s.AddBlocked(newTask(precond.Admin("/z/a"), alice, "/z/a/x"))

	s.Signal(precond.Admin("/z/b"))

	assert.Equal(t, 1, s.CountBlockedKeys())
	assert.Equal(t, 1, s.BlockedTasks())
	assert.False(t, s.HasRunnable())
}

func TestBlockedKeys_ListsStrandedKeysInOrder(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	s := New()
	s.AddBlocked(newTask(precond.Metadata("/z/b"), alice, "/z/b"))
	s.AddBlocked(newTask(precond.Exists("/z/a"), alice, "/z/a/1"))
	s.AddBlocked(newTask(precond.Exists("/z/a"), bob, "/z/a/2"))
	s.AddBlocked(newTask(precond.Admin("/z/c"), bob, "/z/c/1"))

	// --- Act ---
	s.Signal(precond.Admin("/z/c"))
	got := s.BlockedKeys()

	// --- Assert ---
	assert.Equal(t, []precond.Key{precond.Exists("/z/a"), precond.Metadata("/z/b")}, got)
	assert.Equal(t, 3, s.BlockedTasks())
}

func TestSignal_RoutesToEachTasksOwnActor(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	s := New()
	key := precond.Admin("/z/home/a")
	s.AddBlocked(newTask(key, alice, "a1"))
	s.AddBlocked(newTask(key, bob, "b1"))
	s.AddBlocked(newTask(key, alice, "a2"))
	s.AddBlocked(newTask(precond.Admin("/z/other"), bob, "b-other"))

	// --- Act ---
	s.Signal(key)

	// --- Assert ---
	assert.Equal(t, []model.Identity{alice, bob}, s.PendingIdentities())
	assert.Equal(t, []string{"a1", "a2"}, drain(s, alice))
	assert.Equal(t, []string{"b1"}, drain(s, bob))
	assert.Equal(t, []precond.Key{precond.Admin("/z/other")}, s.BlockedKeys())
}

func TestSignal_KeyIsForgottenWithoutLatch(t *testing.T) {
	t.Parallel()

	s := New()
	key := precond.Exists("/z/a")
	s.Signal(key)
	s.AddBlocked(newTask(key, alice, "late"))

	assert.Nil(t, s.PollRunnable(alice))
	assert.Equal(t, 1, s.CountBlockedKeys())
}

func TestWithLatch_LateArrivalRunsImmediately(t *testing.T) {
	t.Parallel()

	s := New(WithLatch())
	key := precond.Exists("/z/a")
	s.Signal(key)
	s.AddBlocked(newTask(key, alice, "late"))

	assert.Equal(t, 0, s.CountBlockedKeys())
	assert.Equal(t, []string{"late"}, drain(s, alice))
}

func TestConcurrentAddBlocked_NoLostUpdates(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	const writers, perWriter = 16, 200
	s := New()
	key := precond.Admin("/z/home/shared")
	actors := make([]model.Identity, writers)
	for i := range actors {
		actors[i] = model.NewIdentity(fmt.Sprintf("user%02d", i), "z")
	}

	// --- Act ---
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.AddBlocked(newTask(key, actors[w], fmt.Sprintf("%d", i)))
			}
		}(w)
	}
	wg.Wait()
	s.Signal(key)

	// --- Assert ---
	total := 0
	for _, actor := range actors {
		got := drain(s, actor)
		require.Len(t, got, perWriter)
		for i, p := range got {
			require.Equal(t, fmt.Sprintf("%d", i), p, "insertion order must be preserved for %s", actor)
		}
		total += len(got)
	}
	assert.Equal(t, writers*perWriter, total)
}

func TestConcurrentSignalAndPoll(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	const keys = 500
	s := New()
	for i := 0; i < keys; i++ {
		s.AddBlocked(newTask(precond.Exists(fmt.Sprintf("/z/%d", i)), alice, fmt.Sprintf("%d", i)))
	}

	// --- Act ---
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Signal(precond.Exists(fmt.Sprintf("/z/%d", i)))
		}(i)
	}

	seen := make(map[string]bool)
	polled := 0
	var mu sync.Mutex
	var pollers sync.WaitGroup
	done := make(chan struct{})
	for p := 0; p < 4; p++ {
		pollers.Add(1)
		go func() {
			defer pollers.Done()
			for {
				if t := s.PollRunnable(alice); t != nil {
					mu.Lock()
					seen[t.Step.Path()] = true
					polled++
					mu.Unlock()
					continue
				}
				select {
				case <-done:
					if !s.HasRunnable() {
						return
					}
				default:
				}
			}
		}()
	}
	wg.Wait()
	close(done)
	pollers.Wait()

	// --- Assert ---
	assert.Len(t, seen, keys, "every task must be polled")
	assert.Equal(t, keys, polled, "no task may be polled twice")
	assert.Equal(t, 0, s.CountBlockedKeys())
}

func TestWake_NotifiedOnNewRunnableWork(t *testing.T) {
	t.Parallel()

	s := New()
	key := precond.Exists("/z/a")
	s.AddBlocked(newTask(key, alice, "x"))

	select {
	case <-s.Wake():
		t.Fatal("no wake-up expected before a signal")
	default:
	}

	s.Signal(key)

	select {
	case <-s.Wake():
	default:
		t.Fatal("expected a wake-up after the signal")
	}
}
