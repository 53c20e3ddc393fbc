package store

import (
	"database/sql"
	"encoding/json"
	"testing"

	"lifeline-sync/internal/feed"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}

// makeEvent 构造一条变更事件（record 放入 new，old 放入 old）
func makeEvent(t *testing.T, table string, kind feed.EventKind, record, old interface{}) feed.ChangeEvent {
	event := feed.ChangeEvent{
		Table: table,
		Kind:  kind,
	}

	if record != nil {
		data, err := json.Marshal(record)
		require.NoError(t, err)
		event.New = data
	}
	if old != nil {
		data, err := json.Marshal(old)
		require.NoError(t, err)
		event.Old = data
	}

	return event
}
