package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/session"
)

type recordingScheduler struct {
	added    []*Task
	signaled []precond.Key
}

func (s *recordingScheduler) AddBlocked(t *Task)     { s.added = append(s.added, t) }
func (s *recordingScheduler) Signal(key precond.Key) { s.signaled = append(s.signaled, key) }

// probeStep escalates whenever it runs impersonated.
type probeStep struct {
	runs []bool
	err  error
}

func (p *probeStep) Kind() string { return "probe" }
func (p *probeStep) Path() string { return "/z/home/a" }

func (p *probeStep) Run(ctx context.Context, t *Task, env Env) (Outcome, error) {
	p.runs = append(p.runs, t.Impersonate)
	if p.err != nil {
		return Continue, p.err
	}
	if t.Impersonate {
		return Escalate, nil
	}
	env.Signal(precond.Exists(p.Path()))
	return Continue, nil
}

func newEnv(s Scheduler) Env {
	sess := session.New(session.Options{
		Source: session.Endpoint{Credentials: endpoint.Credentials{Username: "rods", Zone: "srcZone"}},
	})
	return Env{Session: sess, Scheduler: s}
}

func TestExecute_EscalationIsSingleShot(t *testing.T) {
	// --- Arrange ---
	ctx := ctxlog.Discard(context.Background())
	sched := &recordingScheduler{}
	env := newEnv(sched)
	step := &probeStep{}
	owner := model.NewIdentity("alice", "srcZone")
	original := New(precond.Exists("/z/home"), owner, true, step)

	// --- Act ---
	first, err := original.Execute(ctx, env)
	require.NoError(t, err)
	require.Len(t, sched.added, 1)
	replacement := sched.added[0]
	second, err := replacement.Execute(ctx, env)
	require.NoError(t, err)

	// --- Assert ---
	assert.Equal(t, Escalated, first)
	assert.Equal(t, Continue, second)
	assert.Len(t, sched.added, 1, "replacement must not escalate again")
	assert.Equal(t, original.Key, replacement.Key)
	assert.Equal(t, model.NewIdentity("rods", "srcZone"), replacement.Actor)
	assert.False(t, replacement.Impersonate)
	assert.Equal(t, 1, replacement.Attempt())
	assert.Equal(t, []precond.Key{precond.Exists("/z/home"), precond.Exists("/z/home/a")}, sched.signaled)
	assert.Equal(t, []bool{true, false}, step.runs)
}

func TestExecute_EscalateWhileElevatedStops(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	sched := &recordingScheduler{}
	task := New(precond.Admin("/z"), model.NewIdentity("rods", "srcZone"), false, escalateAlways{})

	outcome, err := task.Execute(ctx, newEnv(sched))

	require.NoError(t, err)
	assert.Equal(t, Stop, outcome)
	assert.Empty(t, sched.added)
	assert.Empty(t, sched.signaled)
}

func TestExecute_StepErrorStops(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	boom := errors.New("connection lost")
	task := New(precond.Admin("/z"), model.NewIdentity("rods", "srcZone"), false, &probeStep{err: boom})

	outcome, err := task.Execute(ctx, newEnv(&recordingScheduler{}))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Stop, outcome)
}

type escalateAlways struct{}

func (escalateAlways) Kind() string { return "always" }
func (escalateAlways) Path() string { return "/z" }
func (escalateAlways) Run(context.Context, *Task, Env) (Outcome, error) {
	return Escalate, nil
}

func TestString(t *testing.T) {
	task := New(precond.Admin("/z/a"), model.NewIdentity("alice", "z"), true, escalateAlways{})
	assert.Equal(t, "always /z [admin:/z/a] as alice#z", task.String())
}
