package server

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging builds the shared logger and a startup logger that always
// writes to stdout so boot failures are visible even with file-only output.
func SetupLogging(config *LoggerConfig) (*zap.Logger, *zap.Logger) {
	level := zap.NewAtomicLevelAt(parseLevel(config.Level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	newEncoder := func() zapcore.Encoder {
		if config.Format == "console" {
			return zapcore.NewConsoleEncoder(encoderConfig)
		}
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := make([]zapcore.Core, 0, 2)
	if config.Stdout {
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), level))
	}
	if config.File != "" {
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxAge:     config.MaxAgeDays,
			MaxBackups: config.MaxBackups,
		})
		cores = append(cores, zapcore.NewCore(newEncoder(), writer, level))
	}
	if len(cores) == 0 {
		// Nothing configured, still keep errors visible.
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stderr), level))
	}

	options := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	logger := zap.New(zapcore.NewTee(cores...), options...)

	startupLogger := logger
	if !config.Stdout {
		startupCore := zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), level)
		startupLogger = zap.New(zapcore.NewTee(append(cores, startupCore)...), options...)
	}

	return logger, startupLogger
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
