// Package testutil holds helpers shared by the test suites: a concurrency
// safe log buffer, a logger-carrying test context, and a pair of seeded
// in-memory endpoints.
package testutil
