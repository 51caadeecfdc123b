package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger in the given namespace. Development loggers are
// human-readable, production ones write JSON.
func New(ns, level string, development bool) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(zap.Fields(zap.String("ns", ns)))
	if err != nil {
		return nil, err
	}

	return l.Sugar(), nil
}

// ForUser returns a child logger tagging every entry with the user.
func ForUser(l *zap.SugaredLogger, usr any) *zap.SugaredLogger {
	return l.With("usr", usr)
}

// ForChat returns a child logger tagging every entry with the chat.
func ForChat(l *zap.SugaredLogger, cht int64) *zap.SugaredLogger {
	return l.With("cht", cht)
}
