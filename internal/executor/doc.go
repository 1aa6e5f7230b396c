// Package executor drives a scheduler to quiescence.
//
// A Pool starts at most one Runner per identity with runnable work, bounded
// by a fixed number of slots. A Runner owns one session.Context and drains
// its identity's runnable queue sequentially, logging in the way each task
// requires, then exits. The Pool re-spawns a Runner whenever that identity
// gains work again, and stops once no work is runnable and no Runner is
// active.
package executor
