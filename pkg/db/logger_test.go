package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), logger.Warn, 100*time.Millisecond, false)
	stmt := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), stmt, nil)
	require.Zero(t, logs.Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	require.Equal(t, 1, logs.FilterMessage("slow query").Len())

	l.Trace(context.Background(), time.Now(), stmt, errors.New("boom"))
	failed := logs.FilterMessage("query failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "SELECT 1", failed[0].ContextMap()["sql"])

	l.Trace(context.Background(), time.Now(), stmt, logger.ErrRecordNotFound)
	require.Equal(t, 2, logs.Len())
}

func TestGormLoggerSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), logger.Warn, time.Millisecond, true).LogMode(logger.Silent)

	l.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	require.Zero(t, logs.Len())
}
