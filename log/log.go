// Copyright 2023 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package log

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultLogger = zap.NewNop()
	mu            sync.RWMutex
)

func init() {
	if l, err := newLogger(NewOptions()); err == nil {
		defaultLogger = l
	}
}

// Init initializes the default logger with specified options.
func Init(opts *Options) error {
	l, err := newLogger(opts)
	if err != nil {
		return err
	}
	replace(l)

	return nil
}

// InitLogger initializes the default logger with preset options.
func InitLogger(development bool) error {
	opts := NewOptions()
	if development {
		opts.Level = zapcore.DebugLevel.String()
		opts.Development = true
		opts.EnableColor = true
	} else {
		opts.Format = jsonFormat
	}

	return Init(opts)
}

func replace(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()

	defaultLogger = l
}

func newLogger(opts *Options) (*zap.Logger, error) {
	if opts == nil {
		opts = NewOptions()
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	encodeLevel := zapcore.CapitalLevelEncoder
	// only console output may carry colors
	if opts.Format == consoleFormat && opts.EnableColor {
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeLevel,
		EncodeTime:     timeEncoder,
		EncodeDuration: milliSecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	loggerConfig := &zap.Config{
		Level:             zap.NewAtomicLevelAt(zapLevel),
		Development:       opts.Development,
		DisableCaller:     opts.DisableCaller,
		DisableStacktrace: opts.DisableStacktrace,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      opts.OutputPaths,
		ErrorOutputPaths: opts.ErrorOutputPaths,
	}

	l, err := loggerConfig.Build(zap.AddStacktrace(zapcore.PanicLevel), zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	if opts.Name != "" {
		l = l.Named(opts.Name)
	}

	return l, nil
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

func milliSecondsDurationEncoder(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendFloat64(float64(d) / float64(time.Millisecond))
}

// Logger returns the default zap logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return defaultLogger
}

// SugarLogger returns the default sugared logger.
func SugarLogger() *zap.SugaredLogger {
	return Logger().Sugar()
}

// Flush flushes any buffered log entries. Applications should take care to call before exiting.
func Flush() {
	_ = Logger().Sync()
}

func Debug(args ...any) { SugarLogger().Debug(args...) }

func Debugf(format string, v ...any) { SugarLogger().Debugf(format, v...) }

func Debugw(msg string, keysAndValues ...any) { SugarLogger().Debugw(msg, keysAndValues...) }

func Info(args ...any) { SugarLogger().Info(args...) }

func Infof(format string, v ...any) { SugarLogger().Infof(format, v...) }

func Infow(msg string, keysAndValues ...any) { SugarLogger().Infow(msg, keysAndValues...) }

func Warn(args ...any) { SugarLogger().Warn(args...) }

func Warnf(format string, v ...any) { SugarLogger().Warnf(format, v...) }

func Warnw(msg string, keysAndValues ...any) { SugarLogger().Warnw(msg, keysAndValues...) }

func Error(args ...any) { SugarLogger().Error(args...) }

func Errorf(format string, v ...any) { SugarLogger().Errorf(format, v...) }

func Errorw(msg string, keysAndValues ...any) { SugarLogger().Errorw(msg, keysAndValues...) }

// Fatal logs at fatal level and then calls os.Exit(1).
func Fatal(args ...any) { SugarLogger().Fatal(args...) }

func Fatalf(format string, v ...any) { SugarLogger().Fatalf(format, v...) }
