package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Config selects where log records go and how they look.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
	Output string // stdout, stderr, discard or a file path
}

const ModuleKey = "module"

var ErrorKey = zerolog.ErrorFieldName

// New builds a logger from cfg. The returned closer releases the output
// file, it is a no-op for the standard streams.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), nil, errors.Wrapf(err, "log level %q", cfg.Level)
		}
		level = l
	}

	out, closer, err := output(cfg.Output)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	switch strings.ToLower(cfg.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000000", NoColor: !isTerminal(out)}
	case "json":
	default:
		closer.Close()
		return zerolog.Nop(), nil, errors.Newf("unknown log format %q", cfg.Format)
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return l, closer, nil
}

// Module returns a sub-logger tagged with the module name.
func Module(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(ModuleKey, name).Logger()
}

type nopCloserT struct{}

func (nopCloserT) Close() error { return nil }

var nopCloser io.Closer = nopCloserT{}

func output(name string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(name) {
	case "", "stderr":
		return os.Stderr, nopCloser, nil
	case "stdout":
		return os.Stdout, nopCloser, nil
	case "discard":
		return io.Discard, nopCloser, nil
	}
	f, err := os.OpenFile(filepath.Clean(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open log file")
	}
	return f, f, nil
}

// isTerminal reports whether w is a terminal, colour is only written there.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
