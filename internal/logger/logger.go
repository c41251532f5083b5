package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Log is the process-wide logger. It is a no-op until InitLogger is called.
var Log = zap.NewNop()

func InitLogger(level, format string) error {
	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	zc.DisableStacktrace = true

	ll := zapcore.InfoLevel
	if level != "" {
		if err := ll.Set(level); err != nil {
			return err
		}
	}
	zc.Level.SetLevel(ll)

	switch format {
	case FormatConsole:
		zc.Encoding = FormatConsole
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		zc.Encoding = FormatJSON
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zc.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(l)
	Log = l

	Log.Debug("Logger created", zap.String("log_level", ll.String()))
	return nil
}

func Sync() {
	_ = Log.Sync()
}

// CronLogger adapts Log to the cron.Logger interface.
type CronLogger struct{}

func (CronLogger) Info(msg string, keysAndValues ...interface{}) {
	Log.Sugar().Debugw(msg, keysAndValues...)
}

func (CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	Log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
