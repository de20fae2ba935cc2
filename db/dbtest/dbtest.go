// Package dbtest поднимает хранилище на временном файле SQLite для тестов.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"issueflow/db"
	"issueflow/db/migrations"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const pragmas = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

// NewStorage возвращает мигрированное хранилище, которое закроется вместе с тестом.
func NewStorage(t *testing.T, opts ...db.Option) *db.Storage {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "issueflow.db")+pragmas)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.Run(ctx, conn.DB, "sqlite", zap.NewNop()))
	return db.NewStorage(conn, opts...)
}

// Clock - управляемые часы для тестов.
type Clock struct {
	T time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }
