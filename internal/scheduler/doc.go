// Package scheduler holds every task of a run in one of two tables and moves
// tasks between them.
//
// # Tables
//
//   - Blocked: precondition key -> FIFO of tasks waiting for that key.
//   - Runnable: identity -> FIFO of tasks that may run once a session for
//     that identity exists.
//
// Signal moves the whole queue of one key into the runnable queues of each
// task's own actor. Both tables sit behind a single mutex, so a Signal is
// observed as one atomic step by concurrent AddBlocked and PollRunnable
// calls.
//
// # Late arrivals
//
// By default a key is forgotten once signaled: a task added afterwards under
// that key stays blocked. Callers therefore add every task before the first
// Signal. WithLatch records satisfied keys instead, so late arrivals become
// runnable immediately.
//
// # Wake-ups
//
// Wake returns a channel that receives a value whenever a runnable queue
// gains work. The buffer of one coalesces bursts; the pool uses it to spawn
// runners for identities that had no pending work before.
package scheduler
