package logging

import (
	pionlog "github.com/pion/logging"
	"github.com/rs/zerolog"
)

// pionLogger adapts a zerolog logger to pion's LeveledLogger so WebRTC
// internals log through the same pipeline as everything else.
type pionLogger struct {
	logger *zerolog.Logger
}

func (p *pionLogger) Trace(msg string) { p.logger.Trace().Msg(msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) {
	p.logger.Trace().Msgf(format, args...)
}

func (p *pionLogger) Debug(msg string) { p.logger.Debug().Msg(msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) {
	p.logger.Debug().Msgf(format, args...)
}

func (p *pionLogger) Info(msg string) { p.logger.Info().Msg(msg) }
func (p *pionLogger) Infof(format string, args ...interface{}) {
	p.logger.Info().Msgf(format, args...)
}

func (p *pionLogger) Warn(msg string) { p.logger.Warn().Msg(msg) }
func (p *pionLogger) Warnf(format string, args ...interface{}) {
	p.logger.Warn().Msgf(format, args...)
}

func (p *pionLogger) Error(msg string) { p.logger.Error().Msg(msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) {
	p.logger.Error().Msgf(format, args...)
}

type pionLoggerFactory struct{}

func (f *pionLoggerFactory) NewLogger(scope string) pionlog.LeveledLogger {
	l := GetDefaultLogger().With().Str("component", "pion").Str("scope", scope).Logger()
	return &pionLogger{logger: &l}
}

// GetPionDefaultLoggerFactory returns a pion LoggerFactory backed by the
// default zerolog logger.
func GetPionDefaultLoggerFactory() pionlog.LoggerFactory {
	return &pionLoggerFactory{}
}
