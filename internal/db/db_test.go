package db

import (
	"errors"
	"testing"

	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBClient_Close(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	client := NewFromDB(sqlx.NewDb(sqlDB, "pgx"), logger.NewNop())
	assert.Same(t, sqlDB, client.DB().DB)

	mock.ExpectClose().WillReturnError(errors.New("close failed"))
	err = client.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close database connection")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	data, err := migrations.ReadFile("migrations/" + entries[0].Name())
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "-- +goose Up")
	assert.Contains(t, body, "subscriptions")
	assert.Contains(t, body, "cancellation_requests")
	assert.Contains(t, body, "coach_plans")
}
