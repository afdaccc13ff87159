package logging

import (
	"bytes"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerWriter struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLoggerWriter returns a writer that logs each non-empty line written to it as its own entry.
// It is used to pipe engine and progress streams into the structured log.
func NewLoggerWriter(logger *zap.Logger, level zapcore.Level) io.Writer {
	return &loggerWriter{logger: logger, level: level}
}

func (w *loggerWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if ce := w.logger.Check(w.level, string(line)); ce != nil {
			ce.Write()
		}
	}
	return len(p), nil
}
