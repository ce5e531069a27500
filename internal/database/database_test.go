package database

import (
	"database/sql"
	"errors"
	"testing"

	"bloodreport/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubOpen makes sqlOpen hand out db (or fail with err) and records the DSN it was given.
func stubOpen(t *testing.T, db *sql.DB, err error) *string {
	t.Helper()
	var dsn string
	orig := sqlOpen
	sqlOpen = func(_, dataSourceName string) (*sql.DB, error) {
		dsn = dataSourceName
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	t.Cleanup(func() { sqlOpen = orig })
	return &dsn
}

func TestBuildPostgresDSN(t *testing.T) {
	base := config.DatabaseConfig{Host: "db", Port: "5432", User: "analyser", Name: "bloodreport"}

	withPass := base
	withPass.Password = "s3cret"
	withPass.SSLMode = "disable"
	got, err := BuildPostgresDSN(withPass)
	require.NoError(t, err)
	assert.Equal(t, "postgres://analyser:s3cret@db:5432/bloodreport?sslmode=disable", got)

	noPass := base
	noPass.SSLMode = "require"
	got, err = BuildPostgresDSN(noPass)
	require.NoError(t, err)
	assert.Equal(t, "postgres://analyser@db:5432/bloodreport?sslmode=require", got)

	for _, field := range []string{"host", "port", "user", "name"} {
		c := base
		switch field {
		case "host":
			c.Host = ""
		case "port":
			c.Port = ""
		case "user":
			c.User = ""
		case "name":
			c.Name = ""
		}
		_, err := BuildPostgresDSN(c)
		assert.Error(t, err, "missing %s", field)
	}
}

func TestBuildSQLiteDSN(t *testing.T) {
	got, err := BuildSQLiteDSN(config.DatabaseConfig{Path: "blood_analysis.db"})
	require.NoError(t, err)
	assert.Equal(t, "file:blood_analysis.db?_busy_timeout=5000&_foreign_keys=on", got)

	_, err = BuildSQLiteDSN(config.DatabaseConfig{})
	assert.Error(t, err)
}

func TestBindDriver(t *testing.T) {
	assert.Equal(t, "pgx", BindDriver(config.DriverPostgres))
	assert.Equal(t, "sqlite3", BindDriver(config.DriverSQLite))
	assert.Equal(t, "sqlite3", BindDriver(""))
}

func TestOpen(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		db, err := Open(config.DatabaseConfig{Driver: "oracle"})
		assert.ErrorContains(t, err, `unsupported database driver "oracle"`)
		assert.Nil(t, db)
	})

	t.Run("sqlite is pinned to one connection", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		dsn := stubOpen(t, db, nil)
		mock.ExpectPing()

		got, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: "test.db", MaxOpenConns: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, got.Stats().MaxOpenConnections)
		assert.Contains(t, *dsn, "file:test.db")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty driver means sqlite", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		dsn := stubOpen(t, db, nil)
		mock.ExpectPing()

		_, err = Open(config.DatabaseConfig{Path: "x.db"})
		require.NoError(t, err)
		assert.Contains(t, *dsn, "file:x.db")
	})
}

func TestNewPostgres(t *testing.T) {
	conf := config.DatabaseConfig{
		Driver:             config.DriverPostgres,
		Host:               "db",
		Port:               "5432",
		User:               "analyser",
		Password:           "pass",
		Name:               "bloodreport",
		MaxOpenConns:       10,
		MaxIdleConns:       5,
		ConnMaxLifetimeSec: 300,
	}

	tests := []struct {
		name    string
		openErr error
		pingErr error
		wantErr string
	}{
		{name: "connected"},
		{name: "open fails", openErr: errors.New("open error"), wantErr: "sql open: open error"},
		{name: "ping fails", pingErr: errors.New("ping failed"), wantErr: "db ping: ping failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			defer db.Close()
			stubOpen(t, db, tt.openErr)
			if tt.openErr == nil {
				mock.ExpectPing().WillReturnError(tt.pingErr)
			}

			got, err := Open(conf)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 10, got.Stats().MaxOpenConnections)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("invalid DSN", func(t *testing.T) {
		got, err := NewPostgres(config.DatabaseConfig{})
		assert.Error(t, err)
		assert.Nil(t, got)
	})
}
