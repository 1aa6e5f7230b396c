package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/vk/treepump/internal/cli"
)

// main is the entrypoint for the treepump command.
func main() {
	_, _ = maxprocs.Set()
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}

// run executes the command and returns the process exit code. Logs and
// errors go to errW; the run summary goes to outW.
func run(outW, errW io.Writer, args []string) (code int) {
	// A panic escaping the run still yields a clean message and exit code.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(errW, "treepump: unexpected failure: %v\n", r)
			code = cli.ExitUsage
		}
	}()

	cmd := cli.NewRootCommand(errW)
	cmd.SetOut(outW)
	cmd.SetErr(errW)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(errW, "treepump:", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitOK
}
