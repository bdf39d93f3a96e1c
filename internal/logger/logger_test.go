package logger

import (
	"context"
	"sync"
	"testing"
	"time"

	common_models "go-hermes/internal/common/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memSink struct {
	mu   sync.Mutex
	docs []common_models.Log
}

func (m *memSink) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc.(common_models.Log))
	return &mongo.InsertOneResult{}, nil
}

func TestDBCore_StoresWarnAndAbove(t *testing.T) {
	base, observed := observer.New(zapcore.DebugLevel)
	sink := &memSink{}
	writer := newDBLogWriter(sink, "hermes-test", 10)
	log := zap.New(NewDBCore(base, writer)).Named("sync").With(zap.String("system", "crm"))

	log.Info("Pushed record")
	log.Warn("Retrying task", zap.Int("attempt", 2))
	log.Error("Task failed")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, writer.Close(ctx))

	assert.Equal(t, 3, observed.Len())
	require.Len(t, sink.docs, 2)

	warn := sink.docs[0]
	assert.Equal(t, "Retrying task", warn.Message)
	assert.Equal(t, "sync", warn.Logger)
	assert.Equal(t, "hermes-test", warn.AppId)
	assert.Equal(t, 30, warn.LogLevelId)
	fields := warn.Fields.(map[string]interface{})
	assert.Equal(t, "crm", fields["system"])
	assert.EqualValues(t, 2, fields["attempt"])

	assert.Equal(t, 40, sink.docs[1].LogLevelId)

	// entries after close are dropped
	log.Error("Late")
	assert.Len(t, sink.docs, 2)
}

func TestDBLogWriter_DropsWhenFull(t *testing.T) {
	w := &DBLogWriter{logChan: make(chan LogEntry, 1), done: make(chan struct{})}
	w.AddLog(LogEntry{Message: "a"})
	w.AddLog(LogEntry{Message: "b"})
	assert.Len(t, w.logChan, 1)
}
