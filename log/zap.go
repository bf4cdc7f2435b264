/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package log

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	level  Level
	lg     *zap.Logger
	sg     *zap.SugaredLogger
	closer []io.Closer
}

// New returns a zap backed logger writing to output and to every
// additional file.
func New(cfg *Config, output io.Writer, files ...io.WriteCloser) Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if cfg.Encoding == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	syncers := []zapcore.WriteSyncer{zapcore.AddSync(output)}

	l := &zapLogger{level: cfg.Level}
	for _, f := range files {
		syncers = append(syncers, zapcore.AddSync(f))
		l.closer = append(l.closer, f)
	}
	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(syncers...), zapLevel(cfg.Level))

	// skip logf and the package level helper
	l.lg = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(3))
	l.sg = l.lg.Sugar()
	return l
}

func (l *zapLogger) Level() Level {
	return l.level
}

func (l *zapLogger) Log(level Level, msg string) {
	switch level {
	case DebugLevel:
		l.sg.Debug(msg)
	case InfoLevel:
		l.sg.Info(msg)
	case WarningLevel:
		l.sg.Warn(msg)
	case ErrorLevel:
		l.sg.Error(msg)
	case FatalLevel:
		// exit is handled by the package
		l.sg.DPanic(msg)
	}
	_ = l.lg.Sync()
}

func (l *zapLogger) Close() error {
	_ = l.lg.Sync()
	for _, c := range l.closer {
		_ = c.Close()
	}
	return nil
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarningLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	}
	return zapcore.DPanicLevel
}
