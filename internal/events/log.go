package events

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink writes events to a zap logger. log_output messages are logged at a
// level derived from their tag; other events at debug.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a sink backed by log. A nil logger yields a no-op sink.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

// Emit logs e.
func (s *LogSink) Emit(e Event) {
	switch d := e.Data.(type) {
	case Message:
		s.log.Check(levelFor(d.Tag), d.Message).Write(zap.String("tag", string(d.Tag)))
	case Status:
		lvl := zapcore.InfoLevel
		if !d.Connected && d.ErrorDetails != nil {
			lvl = zapcore.WarnLevel
		}
		s.log.Check(lvl, "connection status").Write(
			zap.Bool("connected", d.Connected),
			zap.String("message", d.Message),
		)
	case Flavor:
		s.log.Info("flavor detected", zap.String("flavor", d.Flavor), zap.String("key", d.Key))
	default:
		s.log.Debug("event", zap.String("name", e.Name))
	}
}

func levelFor(tag Tag) zapcore.Level {
	switch tag {
	case TagError:
		return zapcore.ErrorLevel
	case TagWarning:
		return zapcore.WarnLevel
	case TagCommand, TagNormal:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
