/*
Package precond provides the typed condition a task waits on before it may
run.

A Key pairs a condition kind with an object path and is compared by value,
so it can be used directly as a map key. The canonical string form is
`kind:path`, e.g. `admin:/zone/home/research-x`.
*/
package precond
