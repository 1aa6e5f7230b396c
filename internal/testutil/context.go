package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/vk/treepump/internal/ctxlog"
)

// LogsEnv makes every test print its captured log output when set to "true".
const LogsEnv = "TREEPUMP_TEST_LOGS"

// Context returns a context carrying a debug logger that writes to the
// returned buffer. The output is printed when the test fails.
func Context(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	t.Cleanup(func() {
		if t.Failed() || os.Getenv(LogsEnv) == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
	return ctxlog.WithLogger(context.Background(), logger), buf
}
