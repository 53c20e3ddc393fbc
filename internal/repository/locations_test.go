package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"lifeline-sync/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocationsUpsert_Success(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewLocationsRepository(db, zap.NewNop())

	now := time.Now()
	accuracy := 10.0
	loc := models.UserLocation{
		Latitude:  37.0,
		Longitude: -122.0,
		Accuracy:  &accuracy,
		Timestamp: now,
	}

	mock.ExpectExec(`INSERT INTO user_locations`).
		WithArgs("user-1", 37.0, -122.0, 10.0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), "user-1", loc)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationsUpsert_MissingUserID(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()

	repo := NewLocationsRepository(db, zap.NewNop())

	err := repo.Upsert(context.Background(), "", models.UserLocation{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "user_id is required")
}

func TestLocationsGet_Success(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewLocationsRepository(db, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows([]string{"latitude", "longitude", "accuracy", "location_timestamp"}).
		AddRow(37.0, -122.0, nil, now)

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1").
		WillReturnRows(rows)

	loc, err := repo.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 37.0, loc.Latitude)
	assert.Equal(t, -122.0, loc.Longitude)
	assert.Nil(t, loc.Accuracy)
}

func TestLocationsGet_MissingRowIsBenign(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewLocationsRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)

	loc, err := repo.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, loc)
}
