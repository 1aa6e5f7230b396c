// Package report writes the end-of-run summary as YAML.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vk/treepump/internal/executor"
)

// Graph counts what graph construction produced.
type Graph struct {
	Objects      int `yaml:"objects"`
	Skipped      int `yaml:"skipped"`
	Tasks        int `yaml:"tasks"`
	Impersonated int `yaml:"impersonated"`
}

// Report is the summary of one run.
type Report struct {
	RunID       string          `yaml:"run_id"`
	Source      string          `yaml:"source"`
	Destination string          `yaml:"destination"`
	Started     time.Time       `yaml:"started"`
	Finished    time.Time       `yaml:"finished"`
	Graph       Graph           `yaml:"graph"`
	Tasks       executor.Totals `yaml:"tasks"`
	BytesCopied int64           `yaml:"bytes_copied"`
	Stranded    []string        `yaml:"stranded_keys"`
}

// Encode writes r to w.
func Encode(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

// Write replaces the file at path with r.
func Write(path string, r *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Encode(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
