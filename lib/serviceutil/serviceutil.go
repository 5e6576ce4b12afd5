package serviceutil

import (
	"log/slog"
	"os"
)

// Fatal logs a fatal error and exits. For use in command entrypoints
// only; library code returns errors.
func Fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
