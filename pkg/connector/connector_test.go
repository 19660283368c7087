package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/config"
	"github.com/David-Botos/lexicon-migrate/pkg/lexicon"
)

func newMockConnector(t *testing.T) (*PostgresConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.PostgresConfig{Host: "localhost", Port: 5432, Database: "lexicon"}
	return newPostgresConnector(sqlx.NewDb(db, "pgx"), cfg, zap.NewNop()), mock
}

func TestValidate(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`SELECT version\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("PostgreSQL 16.2"))
	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("public", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("dictionary").AddRow("word_forms").AddRow("word_translations").AddRow("form_translations"))

	require.NoError(t, c.Validate(context.Background(), lexicon.Tables()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateReportsMissingTables(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`SELECT version\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("PostgreSQL 16.2"))
	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("public", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("dictionary").AddRow("word_forms"))

	err := c.Validate(context.Background(), lexicon.Tables())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public.form_translations")
	assert.Contains(t, err.Error(), "public.word_translations")
}

func TestValidateVersionFailure(t *testing.T) {
	c, mock := newMockConnector(t)
	mock.ExpectQuery(`SELECT version\(\)`).WillReturnError(errors.New("connection refused"))

	err := c.Validate(context.Background(), lexicon.Tables())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query PostgreSQL version")
}

func TestPingAndClose(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectPing()
	require.NoError(t, c.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("broken pipe"))
	assert.Error(t, c.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTunePool(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tunePool(db, &config.PostgresConfig{MaxOpenConns: 7, MaxIdleConns: 3, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)

	tunePool(db, &config.PostgresConfig{})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}

func TestCreateRedisConnectorDisabled(t *testing.T) {
	f := NewConnectorFactory(&config.Config{Redis: &config.RedisConfig{}}, zap.NewNop())

	conn, err := f.CreateRedisConnector(context.Background())
	require.NoError(t, err)
	assert.Nil(t, conn)
}
