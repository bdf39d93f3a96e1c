package logger

import (
	"go.uber.org/zap/zapcore"
)

// DBCore tees warn-and-above entries to the DB writer.
type DBCore struct {
	zapcore.Core
	writer *DBLogWriter
	level  zapcore.Level
	fields []zapcore.Field
}

// NewDBCore wraps an existing core (like console logger) and adds DB logging
func NewDBCore(baseCore zapcore.Core, writer *DBLogWriter) zapcore.Core {
	return &DBCore{
		Core:   baseCore,
		writer: writer,
		level:  zapcore.WarnLevel,
	}
}

func (c *DBCore) With(fields []zapcore.Field) zapcore.Core {
	return &DBCore{
		Core:   c.Core.With(fields),
		writer: c.writer,
		level:  c.level,
		fields: append(c.fields[:len(c.fields):len(c.fields)], fields...),
	}
}

// Write is called for every log entry
func (c *DBCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level >= c.level {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range c.fields {
			f.AddTo(enc)
		}
		for _, f := range fields {
			f.AddTo(enc)
		}
		c.writer.AddLog(LogEntry{
			Level:   entry.Level,
			Message: entry.Message,
			Logger:  entry.LoggerName,
			Caller:  entry.Caller.Function,
			Fields:  enc.Fields,
		})
	}

	return c.Core.Write(entry, fields)
}

// Check decides if we should log this level
func (c *DBCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}
