// Package memendpoint provides an ephemeral, thread-safe, in-memory storage
// endpoint implementing endpoint.Dialer and endpoint.Session.
//
// # Purpose
//
// A Server holds a complete catalog (users, collections, data items, access
// lists and metadata) in memory. It backs unit and end-to-end tests of the
// migration engine and can be seeded directly through its administrative
// methods (AddUser, MkColl, Put, Grant, AddAVU).
//
// # Fault injection
//
// Tests steer failure paths with FailDials, FailLogin and FailWriteAfter,
// which make the next dials, logins of one identity, or writes beyond an
// offset fail the way a flaky remote endpoint would.
//
// # Concurrency Model
//
// A single RWMutex guards the whole catalog. Sessions returned by Dial are
// cheap handles onto the shared Server; each is meant for one goroutine.
package memendpoint
