// Package app contains the core application logic. It wires one migration
// run together (configuration, endpoints, preflight checks, the task graph,
// the runner pool and the end-of-run report), decoupled from any specific
// entrypoint like a CLI.
package app
