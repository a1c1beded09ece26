package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-access-bot/internal/sysutil"
)

// SetupLogger configures the global zerolog logger: JSON to w (stderr when
// nil), or a human-readable console writer when pretty is set. Every entry
// carries the service name.
func SetupLogger(w io.Writer, level string, pretty bool, service string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	sysutil.SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	lg := zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	log.Logger = lg
	return lg
}
