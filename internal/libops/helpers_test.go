package libops

import (
	"io"
	"log/slog"
)

// testLogger returns a logger that discards output, keeping test output
// readable while exercising the logging paths.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
