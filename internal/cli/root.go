package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vk/treepump/internal/app"
	"github.com/vk/treepump/internal/report"
)

// DefaultConfigPath is the configuration file read when --config is not given.
const DefaultConfigPath = "treepump.hcl"

var (
	ValidFormats = []string{"text", "json"}
	ValidLevels  = []string{"debug", "info", "warn", "error"}
)

// RootOptions holds the flags of the treepump command.
type RootOptions struct {
	Config      string
	Log         string
	Resume      string
	Threads     int
	Streams     int
	Verbose     bool
	Debug       bool
	LogFormat   string
	LogLevel    string
	Report      string
	MetricsAddr string
}

// NewRootCommand creates the treepump command. Diagnostic logs go to logW;
// the run summary goes to the command's output.
func NewRootCommand(logW io.Writer) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "treepump [flags] <source> <destination-collection>",
		Short: "Migrate a collection tree between storage endpoints",
		Long: `Migrate a collection or a single data item from a source endpoint into a
collection on a destination endpoint.

Objects are created on behalf of their owners where possible, with the
service account taking over when an owner lacks access. Finished objects
are appended to the completion log; pass that log to --resume to skip them
on the next run.

Example:
  treepump -c treepump.hcl /srcZone/home/research-a /dstZone/home/research-a
  treepump -c legacy.ini --resume treepump.log -t 8 /srcZone/home/research-a/file.dat /dstZone/home/research-a`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Migrate(ctx, cmd.OutOrStdout(), logW, opts.appOptions(args[0], args[1]))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Config, "config", "c", DefaultConfigPath, "configuration file (.hcl, .ini, .properties or .conf)")
	flags.StringVarP(&opts.Log, "log", "l", app.DefaultCompletionLog, "completion log the run appends to")
	flags.StringVar(&opts.Resume, "resume", "", "completion log of a previous run; its finished objects are skipped")
	flags.IntVarP(&opts.Threads, "threads", "t", 0, "concurrent runners (overrides run.workers)")
	flags.IntVar(&opts.Streams, "streams", 0, "parallel transfer streams for large items (overrides run.transfer_streams)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log progress (level info)")
	flags.BoolVarP(&opts.Debug, "debug", "d", false, "log everything (level debug)")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "log output format (text|json)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error); overrides -v and -d")
	flags.StringVar(&opts.Report, "report", "", "write a YAML run report to this file (overrides run.report_file)")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /health and /metrics on this address (overrides run.metrics_addr)")

	return cmd
}

func (o *RootOptions) validate() error {
	if !slices.Contains(ValidFormats, o.LogFormat) {
		return WrapExitError(ExitUsage, fmt.Sprintf("invalid log-format %q: must be one of %v", o.LogFormat, ValidFormats), nil)
	}
	if o.LogLevel != "" && !slices.Contains(ValidLevels, strings.ToLower(o.LogLevel)) {
		return WrapExitError(ExitUsage, fmt.Sprintf("invalid log-level %q: must be one of %v", o.LogLevel, ValidLevels), nil)
	}
	if o.Threads < 0 || o.Streams < 0 {
		return WrapExitError(ExitUsage, "threads and streams must not be negative", nil)
	}
	return nil
}

// level resolves the explicit level and the -v / -d shortcuts.
func (o *RootOptions) level() string {
	switch {
	case o.LogLevel != "":
		return strings.ToLower(o.LogLevel)
	case o.Debug:
		return "debug"
	case o.Verbose:
		return "info"
	default:
		return "warn"
	}
}

func (o *RootOptions) appOptions(source, destination string) app.Options {
	return app.Options{
		ConfigPath:    o.Config,
		Source:        source,
		Destination:   destination,
		CompletionLog: o.Log,
		Resume:        o.Resume,
		LogFormat:     o.LogFormat,
		LogLevel:      o.level(),
		Workers:       o.Threads,
		Streams:       o.Streams,
		MetricsAddr:   o.MetricsAddr,
		ReportFile:    o.Report,
	}
}

// Migrate runs one migration and prints its summary to outW. Failures are
// returned as *ExitError.
func Migrate(ctx context.Context, outW, logW io.Writer, opts app.Options, options ...app.Option) error {
	a, err := app.NewApp(logW, opts, options...)
	if err != nil {
		return exitError(err)
	}
	rep, err := a.Run(ctx)
	if rep != nil {
		printSummary(outW, rep)
	}
	if err != nil {
		return exitError(err)
	}
	return nil
}

func printSummary(w io.Writer, rep *report.Report) {
	fmt.Fprintf(w, "Run %s: %d objects scheduled, %d skipped as already done.\n",
		rep.RunID, rep.Graph.Objects, rep.Graph.Skipped)
	fmt.Fprintf(w, "Tasks: %d executed, %d stopped, %d escalated, %d dropped. %d bytes copied.\n",
		rep.Tasks.Executed, rep.Tasks.Stopped, rep.Tasks.Escalated, rep.Tasks.Dropped, rep.BytesCopied)
	if len(rep.Stranded) > 0 {
		fmt.Fprintf(w, "%d preconditions were never satisfied; see the log for the stranded keys.\n", len(rep.Stranded))
	}
}
