// Package task defines the unit of work the scheduler moves around: a step
// bound to one precondition key and one acting identity.
package task

import (
	"context"
	"fmt"

	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/session"
)

// Outcome is the result of executing a task.
type Outcome int

const (
	// Continue: the step finished and signaled whatever it satisfied.
	Continue Outcome = iota
	// Stop: the branch failed; nothing was signaled.
	Stop
	// Escalate: the impersonated actor lacks privilege. Steps return it
	// before any mutating call; Execute turns it into a re-queue.
	Escalate
	// Escalated is reported by Execute after a successful re-queue.
	Escalated
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case Escalate:
		return "escalate"
	case Escalated:
		return "escalated"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Scheduler is the part of the scheduler a running task may touch.
type Scheduler interface {
	AddBlocked(t *Task)
	Signal(key precond.Key)
}

// Env is what a step sees while it runs.
type Env struct {
	Session   *session.Context
	Scheduler Scheduler
}

// Signal marks key as satisfied.
func (e Env) Signal(key precond.Key) {
	e.Scheduler.Signal(key)
}

// Step is one kind of migration work.
type Step interface {
	// Kind names the step, e.g. "create-collection".
	Kind() string
	// Path is the source object the step works on.
	Path() string
	Run(ctx context.Context, t *Task, env Env) (Outcome, error)
}

// Task is one step waiting on Key, run by Actor.
type Task struct {
	Key   precond.Key
	Actor model.Identity
	// Impersonate runs the step on behalf of Actor instead of as the
	// elevated identity. Cleared on escalation.
	Impersonate bool
	Step        Step

	attempt int
}

// New creates a first-attempt task.
func New(key precond.Key, actor model.Identity, impersonate bool, step Step) *Task {
	return &Task{Key: key, Actor: actor, Impersonate: impersonate, Step: step}
}

// Attempt is 0 for an original task and 1 for its escalated replacement.
func (t *Task) Attempt() int { return t.attempt }

func (t *Task) String() string {
	mode := "elevated"
	if t.Impersonate {
		mode = "as " + t.Actor.String()
	}
	return fmt.Sprintf("%s %s [%s] %s", t.Step.Kind(), t.Step.Path(), t.Key, mode)
}

// Execute runs the step and applies the shared escalation policy. An error
// means the session may be unusable; the caller treats the task as stopped.
func (t *Task) Execute(ctx context.Context, env Env) (Outcome, error) {
	outcome, err := t.Step.Run(ctx, t, env)
	if err != nil {
		return Stop, err
	}
	if outcome != Escalate {
		return outcome, nil
	}
	if !t.Impersonate {
		ctxlog.FromContext(ctx).Error("Step requested escalation while already elevated; stopping branch.", "task", t.String())
		return Stop, nil
	}
	t.escalate(ctx, env)
	return Escalated, nil
}

// escalate re-queues a copy of t under the elevated identity and the same
// key, then re-signals the key so the copy becomes runnable at once. The
// copy never impersonates, so it cannot escalate again.
func (t *Task) escalate(ctx context.Context, env Env) {
	elevated := env.Session.Elevated()
	ctxlog.FromContext(ctx).Info("Insufficient privilege; retrying as elevated identity.",
		"task", t.String(), "identity", elevated)

	replacement := &Task{
		Key:     t.Key,
		Actor:   elevated,
		Step:    t.Step,
		attempt: t.attempt + 1,
	}
	env.Scheduler.AddBlocked(replacement)
	env.Scheduler.Signal(t.Key)
}
