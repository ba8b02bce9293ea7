package obs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
	level      = new(slog.LevelVar)
	out        = &swapWriter{w: os.Stdout}
)

// swapWriter lets tests redirect output of loggers that were already handed out.
type swapWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *swapWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Logger returns the shared JSON logger used across the service.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		}))
	})
	return logger
}

// SetOutput redirects the shared logger and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	out.mu.Lock()
	defer out.mu.Unlock()
	prev := out.w
	out.w = w
	return prev
}

// SetLevel accepts debug, info, warn or error.
func SetLevel(name string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	level.Set(l)
	return nil
}

// LogRequest emits one access log line.
func LogRequest(ctx context.Context, attrs ...slog.Attr) {
	Logger().LogAttrs(ctx, slog.LevelInfo, "request_complete", attrs...)
}
