package blambda

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// unboundRequestID is the request id field of records logged outside any
// invocation.
const unboundRequestID = "-"

// Sink writes handler visible log records to stderr, one line per record, in
// the shape CloudWatch ingests: level, request id, message, tab separated.
// The invocation loop binds the current request id on entry to the handler
// and clears it on exit.
//
// In builds with the "release" tag only error level records are retained;
// the other levels reduce to a branch on a constant.
type Sink struct {
	base  *zap.Logger
	bound *zap.Logger
}

// NewSink creates a sink writing to w. The runtime constructs one over
// stderr; tests hand in their own write syncer.
func NewSink(w zapcore.WriteSyncer) *Sink {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		NameKey:          "rid",
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: "\t",
	})
	base := zap.New(zapcore.NewCore(enc, w, zapcore.DebugLevel))
	return &Sink{base: base, bound: base.Named(unboundRequestID)}
}

func newStderrSink() *Sink {
	return NewSink(zapcore.Lock(os.Stderr))
}

// setRequestID binds the request id stamped on subsequent records. An empty
// id unbinds, restoring the "-" placeholder.
func (s *Sink) setRequestID(id string) {
	if id == "" {
		id = unboundRequestID
	}
	s.bound = s.base.Named(id)
}

func (s *Sink) log(lvl zapcore.Level, msg string) {
	if releaseBuild && lvl < zapcore.ErrorLevel {
		return
	}
	if ce := s.bound.Check(lvl, msg); ce != nil {
		ce.Write()
	}
}

// Error logs msg at error level.
func (s *Sink) Error(msg string) { s.log(zapcore.ErrorLevel, msg) }

// Errorf logs a formatted message at error level.
func (s *Sink) Errorf(format string, args ...any) {
	s.log(zapcore.ErrorLevel, fmt.Sprintf(format, args...))
}

// Warn logs msg at warn level.
func (s *Sink) Warn(msg string) { s.log(zapcore.WarnLevel, msg) }

// Warnf logs a formatted message at warn level.
func (s *Sink) Warnf(format string, args ...any) {
	s.log(zapcore.WarnLevel, fmt.Sprintf(format, args...))
}

// Info logs msg at info level.
func (s *Sink) Info(msg string) { s.log(zapcore.InfoLevel, msg) }

// Infof logs a formatted message at info level.
func (s *Sink) Infof(format string, args ...any) {
	s.log(zapcore.InfoLevel, fmt.Sprintf(format, args...))
}

// Debug logs msg at debug level.
func (s *Sink) Debug(msg string) { s.log(zapcore.DebugLevel, msg) }

// Debugf logs a formatted message at debug level.
func (s *Sink) Debugf(format string, args ...any) {
	s.log(zapcore.DebugLevel, fmt.Sprintf(format, args...))
}
