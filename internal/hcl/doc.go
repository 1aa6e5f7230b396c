// Package hcl provides the HCL implementation of config.Loader. It parses
// a single `.hcl` file with `source`, `destination` and `run` blocks and
// evaluates attribute expressions with a small function table, so secrets
// can be pulled from the environment with `env("NAME")`.
package hcl
