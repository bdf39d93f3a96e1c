package logger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	common_models "go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/database"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap/zapcore"
)

// LogEntry holds the data passed from Zap to our worker
type LogEntry struct {
	Level   zapcore.Level
	Message string
	Logger  string
	Caller  string
	Fields  map[string]interface{}
}

type logSink interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// DBLogWriter handles the async writing
type DBLogWriter struct {
	sink    logSink
	logChan chan LogEntry
	appId   string
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDBLogWriter initializes the worker
func NewDBLogWriter(mongodb *database.MongodbDB, cfg *config.Config) *DBLogWriter {
	return newDBLogWriter(mongodb.DB.Collection("logs"), cfg.AppId, 1000)
}

func newDBLogWriter(sink logSink, appId string, buffer int) *DBLogWriter {
	writer := &DBLogWriter{
		sink:    sink,
		logChan: make(chan LogEntry, buffer),
		appId:   appId,
		done:    make(chan struct{}),
	}

	go writer.processLogs()

	return writer
}

// AddLog never blocks: a full buffer drops the entry.
func (w *DBLogWriter) AddLog(entry LogEntry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.logChan <- entry:
	default:
		fmt.Fprintln(os.Stderr, "DB Log Channel Full! Dropping log:", entry.Message)
	}
}

// Close flushes buffered entries and stops the worker.
func (w *DBLogWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.logChan)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *DBLogWriter) processLogs() {
	defer close(w.done)
	for entry := range w.logChan {
		logRecord := common_models.Log{
			Message:      entry.Message,
			Logger:       entry.Logger,
			Caller:       entry.Caller,
			AppId:        w.appId,
			LogLevelId:   mapLevelToInt(entry.Level),
			CreatedOnUtc: time.Now().UTC(),
		}
		if len(entry.Fields) > 0 {
			logRecord.Fields = entry.Fields
		}

		// errors are ignored to keep the app running
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		w.sink.InsertOne(ctx, logRecord)
		cancel()
	}
}

func mapLevelToInt(l zapcore.Level) int {
	switch l {
	case zapcore.DebugLevel:
		return 10
	case zapcore.InfoLevel:
		return 20
	case zapcore.WarnLevel:
		return 30
	case zapcore.ErrorLevel:
		return 40
	case zapcore.FatalLevel:
		return 50
	default:
		return 20
	}
}
