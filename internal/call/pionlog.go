package call

import (
	logging "github.com/ipfs/go-log/v2"
	pionlogging "github.com/pion/logging"
)

// pionLoggerFactory routes pion's scoped loggers into go-log, one subsystem
// per pion scope ("pion/ice", "pion/dtls", ...).
type pionLoggerFactory struct{}

func (pionLoggerFactory) NewLogger(scope string) pionlogging.LeveledLogger {
	return &pionLogger{l: logging.Logger("pion/" + scope)}
}

type pionLogger struct {
	l *logging.ZapEventLogger
}

// Trace output is far too chatty for ICE and DTLS; it is folded into debug.
func (p *pionLogger) Trace(msg string)                          { p.l.Debug(msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) { p.l.Debugf(format, args...) }
func (p *pionLogger) Debug(msg string)                          { p.l.Debug(msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) { p.l.Debugf(format, args...) }
func (p *pionLogger) Info(msg string)                           { p.l.Info(msg) }
func (p *pionLogger) Infof(format string, args ...interface{})  { p.l.Infof(format, args...) }
func (p *pionLogger) Warn(msg string)                           { p.l.Warn(msg) }
func (p *pionLogger) Warnf(format string, args ...interface{})  { p.l.Warnf(format, args...) }
func (p *pionLogger) Error(msg string)                          { p.l.Error(msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) { p.l.Errorf(format, args...) }
