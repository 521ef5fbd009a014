// Package logging provides the engine's logr.Logger, backed by
// go.uber.org/zap the same way the teacher wires
// ctrl.SetLogger(zap.New(...)) — minus the controller-runtime manager
// this in-process engine has no use for.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logr.Logger. development selects zap's human-friendly,
// console-encoded development config (matching the teacher's
// zap.Options{Development: true}); the production config otherwise
// emits JSON at info level and above.
func New(development bool) logr.Logger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	zl, err := cfg.Build()
	if err != nil {
		// A logger that fails to build is a configuration bug we can't
		// usefully recover from; fall back to a no-op rather than panic,
		// so a bad logging config never takes down the engine itself.
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}

// Discard returns a logger that drops everything, used as the Engine's
// default when the caller doesn't supply one via WithLogger.
func Discard() logr.Logger {
	return logr.Discard()
}
