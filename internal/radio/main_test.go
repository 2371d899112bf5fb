package radio_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/lmittmann/tint"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: slog.LevelDebug,
	}))
}
