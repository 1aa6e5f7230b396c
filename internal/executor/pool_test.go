package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/vk/treepump/internal/metrics"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/scheduler"
	"github.com/vk/treepump/internal/task"
	"github.com/vk/treepump/internal/testutil"
)

type fnStep struct {
	path string
	fn   func(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error)
}

func (s *fnStep) Kind() string { return "fn" }
func (s *fnStep) Path() string { return s.path }
func (s *fnStep) Run(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error) {
	return s.fn(ctx, t, env)
}

type harness struct {
	*testutil.Endpoints
	admin      model.Identity
	alice, bob model.Identity
	sched      *scheduler.Scheduler
	cfg        Config
}

func newHarness(width int) *harness {
	e := testutil.NewEndpoints()
	return &harness{
		Endpoints: e,
		admin:     e.Admin(),
		alice:     e.AddOwner("alice"),
		bob:       e.AddOwner("bob"),
		sched:     scheduler.New(),
		cfg: Config{
			Width:        width,
			Session:      e.Options("/", "/"),
			PollInterval: 5 * time.Millisecond,
		},
	}
}

func (h *harness) run(t *testing.T) Totals {
	t.Helper()
	ctx, _ := testutil.Context(t)
	totals, err := NewPool(h.sched, h.cfg).Run(ctx)
	require.NoError(t, err)
	return totals
}

func ok(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error) {
	return task.Continue, nil
}

func TestPool_AtMostOneRunnerPerIdentity(t *testing.T) {
	// --- Arrange ---
	h := newHarness(4)
	var mu sync.Mutex
	inFlight := map[model.Identity]int{}
	violated := atomic.Bool{}
	step := func(ctx context.Context, tk *task.Task, env task.Env) (task.Outcome, error) {
		mu.Lock()
		inFlight[tk.Actor]++
		if inFlight[tk.Actor] > 1 {
			violated.Store(true)
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight[tk.Actor]--
		mu.Unlock()
		return task.Continue, nil
	}
	key := precond.Exists("/src/home")
	for i := 0; i < 20; i++ {
		for _, id := range []model.Identity{h.alice, h.bob} {
			h.sched.AddBlocked(task.New(key, id, true, &fnStep{path: fmt.Sprintf("/%s/%d", id.Name, i), fn: step}))
		}
	}
	h.sched.Signal(key)

	// --- Act ---
	totals := h.run(t)

	// --- Assert ---
	assert.False(t, violated.Load(), "two runners served one identity at once")
	assert.Equal(t, int64(40), totals.Executed)
	assert.Equal(t, int64(40), totals.Continued)
}

func TestPool_SpawnsRunnersForNewlyRunnableIdentities(t *testing.T) {
	// --- Arrange ---
	h := newHarness(1)
	var order []string
	var mu sync.Mutex
	record := func(name string, signal ...precond.Key) func(context.Context, *task.Task, task.Env) (task.Outcome, error) {
		return func(ctx context.Context, tk *task.Task, env task.Env) (task.Outcome, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			for _, k := range signal {
				env.Signal(k)
			}
			return task.Continue, nil
		}
	}
	h.sched.AddBlocked(task.New(precond.Exists("/a"), h.alice, true, &fnStep{path: "/a", fn: record("alice", precond.Admin("/a"))}))
	h.sched.AddBlocked(task.New(precond.Admin("/a"), h.bob, true, &fnStep{path: "/b", fn: record("bob", precond.Exists("/c"))}))
	h.sched.AddBlocked(task.New(precond.Exists("/c"), h.alice, true, &fnStep{path: "/c", fn: record("alice-again")}))
	h.sched.AddBlocked(task.New(precond.Admin("/never"), h.bob, true, &fnStep{path: "/x", fn: ok}))
	h.sched.Signal(precond.Exists("/a"))

	// --- Act ---
	totals := h.run(t)

	// --- Assert ---
	assert.Equal(t, []string{"alice", "bob", "alice-again"}, order)
	assert.Equal(t, int64(3), totals.Runners)
	assert.Equal(t, 1, h.sched.CountBlockedKeys(), "the unsignaled key stays stranded")
	assert.Equal(t, int64(0), h.Source.OpenSessions(), "runners must disconnect on exit")
	assert.Equal(t, int64(0), h.Destination.OpenSessions())
}

func TestPool_StoppedTaskStrandsDependents(t *testing.T) {
	h := newHarness(2)
	h.sched.AddBlocked(task.New(precond.Exists("/root"), h.admin, false, &fnStep{path: "/f", fn: func(context.Context, *task.Task, task.Env) (task.Outcome, error) {
		return task.Stop, nil
	}}))
	h.sched.AddBlocked(task.New(precond.Exists("/f"), h.admin, false, &fnStep{path: "/f", fn: ok}))
	h.sched.AddBlocked(task.New(precond.Admin("/f"), h.admin, false, &fnStep{path: "/f", fn: ok}))
	h.sched.Signal(precond.Exists("/root"))

	totals := h.run(t)

	assert.Equal(t, int64(1), totals.Stopped)
	assert.Equal(t, 2, h.sched.CountBlockedKeys())
}

func TestRunner_LoginFailureDropsTask(t *testing.T) {
	// --- Arrange ---
	h := newHarness(2)
	h.Destination.FailLogin(model.NewIdentity("alice", testutil.DestinationZone))
	var ran atomic.Int64
	count := func(context.Context, *task.Task, task.Env) (task.Outcome, error) {
		ran.Add(1)
		return task.Continue, nil
	}
	key := precond.Exists("/root")
	h.sched.AddBlocked(task.New(key, h.alice, true, &fnStep{path: "/a1", fn: count}))
	h.sched.AddBlocked(task.New(key, h.alice, true, &fnStep{path: "/a2", fn: count}))
	h.sched.AddBlocked(task.New(key, h.bob, true, &fnStep{path: "/b1", fn: count}))
	h.sched.Signal(key)

	// --- Act ---
	totals := h.run(t)

	// --- Assert ---
	assert.Equal(t, int64(2), totals.Dropped)
	assert.Equal(t, int64(1), ran.Load())
}

func TestRunner_ReconnectsAfterSessionTaskLimit(t *testing.T) {
	h := newHarness(1)
	h.cfg.MaxTasksPerSession = 2
	key := precond.Exists("/root")
	for i := 0; i < 5; i++ {
		h.sched.AddBlocked(task.New(key, h.admin, false, &fnStep{path: fmt.Sprintf("/%d", i), fn: ok}))
	}
	h.sched.Signal(key)

	totals := h.run(t)

	assert.Equal(t, int64(2), totals.Reconnects)
	assert.Equal(t, int64(3), h.Source.Dials())
	assert.Equal(t, int64(3), h.Destination.Dials())
}

func TestRunner_PanicForcesReconnect(t *testing.T) {
	// --- Arrange ---
	h := newHarness(1)
	reg := prometheus.NewRegistry()
	h.cfg.Metrics = metrics.New(reg)
	key := precond.Exists("/root")
	h.sched.AddBlocked(task.New(key, h.admin, false, &fnStep{path: "/boom", fn: func(context.Context, *task.Task, task.Env) (task.Outcome, error) {
		panic("endpoint returned garbage")
	}}))
	h.sched.AddBlocked(task.New(key, h.admin, false, &fnStep{path: "/fine", fn: ok}))
	h.sched.Signal(key)

	// --- Act ---
	totals := h.run(t)

	// --- Assert ---
	assert.Equal(t, int64(1), totals.Errors)
	assert.Equal(t, int64(1), totals.Stopped)
	assert.Equal(t, int64(1), totals.Continued)
	assert.Equal(t, int64(2), h.Source.Dials(), "the failed session must be replaced")
	assert.Equal(t, 1.0, promtest.ToFloat64(h.cfg.Metrics.Tasks.WithLabelValues("fn", "stop")))
}

func TestPool_EscalationRunsReplacementAsElevated(t *testing.T) {
	// --- Arrange ---
	h := newHarness(2)
	var modes []bool
	var mu sync.Mutex
	probe := func(ctx context.Context, tk *task.Task, env task.Env) (task.Outcome, error) {
		mu.Lock()
		modes = append(modes, env.Session.Impersonating())
		mu.Unlock()
		if tk.Impersonate {
			return task.Escalate, nil
		}
		return task.Continue, nil
	}
	key := precond.Exists("/root")
	h.sched.AddBlocked(task.New(key, h.alice, true, &fnStep{path: "/c", fn: probe}))
	h.sched.Signal(key)

	// --- Act ---
	totals := h.run(t)

	// --- Assert ---
	assert.Equal(t, []bool{true, false}, modes)
	assert.Equal(t, int64(1), totals.Escalated)
	assert.Equal(t, int64(1), totals.Continued)
	assert.Equal(t, 0, h.sched.CountBlockedKeys())
}

func TestPool_CancelledWhileThrottled(t *testing.T) {
	// --- Arrange ---
	h := newHarness(1)
	h.cfg.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	key := precond.Exists("/root")
	for i := 0; i < 3; i++ {
		h.sched.AddBlocked(task.New(key, h.admin, false, &fnStep{path: fmt.Sprintf("/%d", i), fn: ok}))
	}
	h.sched.Signal(key)

	base, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(base)
	time.AfterFunc(30*time.Millisecond, cancel)

	// --- Act ---
	totals, err := NewPool(h.sched, h.cfg).Run(ctx)

	// --- Assert ---
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), totals.Executed, "only the burst token may pass")
	assert.True(t, h.sched.HasRunnable(), "throttled tasks stay queued")
}
