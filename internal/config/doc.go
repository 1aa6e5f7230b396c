// Package config defines the format-agnostic, run-scoped configuration of a
// migration, along with the Loader interface implemented by the concrete
// file formats.
//
// A Config is built once at startup and handed to the scheduler, session
// and executor constructors. Nothing reads configuration after that.
package config
