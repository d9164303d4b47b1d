package kernel

import (
	"bytes"
	"log/slog"
	"sync"
)

// LogWriter forwards an interpreter's own stderr to the logger, one record
// per line. Output captured from executed code never reaches it; only what
// bypasses the capture (C extensions, fd-level writes, driver crashes) does.
type LogWriter struct {
	logger *slog.Logger
	attrs  []any

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogWriter returns a LogWriter that tags every record with attrs.
func NewLogWriter(logger *slog.Logger, attrs ...any) *LogWriter {
	return &LogWriter{logger: logger, attrs: attrs}
}

// Write implements io.Writer.
func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		if line != "" {
			w.logger.Warn("interpreter stderr", append([]any{slog.String("line", line)}, w.attrs...)...)
		}
	}
	return len(p), nil
}
