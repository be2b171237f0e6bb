// Package logger provides structured logging for the whole module.
//
// It is a thin wrapper around zap's sugared logger exposing package-level
// helpers, so callers never carry a logger instance around. The level can be
// raised at runtime with Initialise; the default is Info on stdout.
package logger

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log      *zap.SugaredLogger
	initLock sync.Mutex
	inited   bool
)

// DebugEnabled is cached as a plain bool so hot paths can skip building
// debug arguments without going through zap's level check.
var DebugEnabled = false

func init() {
	initialise(zapcore.InfoLevel, "console", false)
}

// Config holds the logging settings an embedder may tweak.
type Config struct {
	Format string // "console" or "json"
	Level  string // "debug", "info", "warn" or "error"
}

func (cfg *Config) Configure() error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format != "console" && format != "json" {
		return errors.New("log format must be one of 'console' or 'json'")
	}
	Initialise(level, format)
	return nil
}

// Initialise replaces the active logger. Safe to call more than once.
func Initialise(level zapcore.Level, encoding string) {
	initialise(level, encoding, true)
}

func initialise(level zapcore.Level, encoding string, override bool) {
	initLock.Lock()
	defer initLock.Unlock()
	if inited && !override {
		return
	}
	log = createLogger(level, encoding).Sugar()
	DebugEnabled = log.Desugar().Core().Enabled(zap.DebugLevel)
	inited = true
}

func createLogger(level zapcore.Level, encoding string) *zap.Logger {
	encoderConf := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	conf := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          encoding,
		EncoderConfig:     encoderConf,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stdout"},
		DisableCaller:     true,
		DisableStacktrace: true,
	}
	l, _ := conf.Build()
	return l
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.999999"))
}

func Debug(args ...interface{}) {
	if !DebugEnabled {
		return
	}
	log.Debug(args...)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Info(args ...interface{}) {
	log.Info(args...)
}

func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warn(args ...interface{}) {
	log.Warn(args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Error(args ...interface{}) {
	log.Error(args...)
}

func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
