package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectapi/internal/config"
	"projectapi/internal/database/migration"
)

func mockOpener(t *testing.T) (opener, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return func(context.Context, *config.AppConfig) (*sql.DB, error) { return db, nil }, mock
}

func execute(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&config.AppConfig{JWT: config.JWTConfig{Secret: "s"}}, open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestShowMigrations(t *testing.T) {
	open, mock := mockOpener(t)
	mock.ExpectQuery("SELECT to_regclass").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT name FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow(migration.Steps[0].Name))
	mock.ExpectClose()

	out, err := execute(t, open, "showmigrations")
	require.NoError(t, err)
	assert.Contains(t, out, "[X] "+migration.Steps[0].Name)
	assert.Contains(t, out, "[ ] "+migration.Steps[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_NothingPending(t *testing.T) {
	open, mock := mockOpener(t)
	rows := sqlmock.NewRows([]string{"name"})
	for _, s := range migration.Steps {
		rows.AddRow(s.Name)
	}
	mock.ExpectQuery("SELECT to_regclass").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT name FROM schema_migrations").WillReturnRows(rows)
	mock.ExpectClose()

	out, err := execute(t, open, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations to apply.")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectFailure(t *testing.T) {
	open := func(context.Context, *config.AppConfig) (*sql.DB, error) { return nil, errors.New("refused") }

	_, err := execute(t, open, "migrate")
	assert.ErrorContains(t, err, "connect database: refused")
}

func TestCreateSuperuser(t *testing.T) {
	t.Run("missing flags", func(t *testing.T) {
		open := func(context.Context, *config.AppConfig) (*sql.DB, error) {
			t.Fatal("database must not be opened")
			return nil, nil
		}
		_, err := execute(t, open, "createsuperuser", "--email", "admin@example.com")
		assert.ErrorContains(t, err, "required flag")
	})

	t.Run("created", func(t *testing.T) {
		open, mock := mockOpener(t)
		mock.ExpectQuery("INSERT INTO users").WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "first_name", "last_name", "password_hash", "is_active", "is_staff", "is_superuser", "date_joined", "last_login",
		}).AddRow(uuid.NewString(), "admin@example.com", "Admin", "User", "$2a$10$x", true, true, true, time.Now(), nil))
		mock.ExpectClose()

		out, err := execute(t, open, "createsuperuser",
			"--email", "admin@example.com", "--password", "adminpass123",
			"--first-name", "Admin", "--last-name", "User")
		require.NoError(t, err)
		assert.Contains(t, out, "Superuser created: admin@example.com")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid input", func(t *testing.T) {
		open, mock := mockOpener(t)
		mock.ExpectClose()

		_, err := execute(t, open, "createsuperuser",
			"--email", "not-an-email", "--password", "short",
			"--first-name", "A", "--last-name", "B")
		assert.ErrorContains(t, err, "validation failed")
	})
}
