// Package logging builds the process logger. Every entry goes to the console
// sink; ERROR and above is also written to the rotating error log.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is a zap level name ("debug", "info", ...); "" means info.
	Level string
	// Development switches to the console encoder.
	Development bool
	// Output receives every entry; nil means stderr.
	Output zapcore.WriteSyncer
	// ErrorSink, if set, additionally receives ERROR and above as JSON.
	ErrorSink zapcore.WriteSyncer
}

// New builds a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	out := opts.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}

	var encoder zapcore.Encoder
	if opts.Development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, out, level)}
	if opts.ErrorSink != nil {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			opts.ErrorSink,
			zapcore.ErrorLevel,
		))
	}

	zopts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Development {
		zopts = append(zopts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...), nil
}

// Named returns logger.Named(name), tolerating a nil logger.
func Named(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(name)
}
