package provision

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

func TestProvisionDB(t *testing.T) {
	db, mock := newMockDB(t)
	ok := sqlmock.NewResult(0, 0)

	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS `demo-1`").WillReturnResult(ok)
	mock.ExpectExec("CREATE USER IF NOT EXISTS 'demo-1'@'%' IDENTIFIED BY 'p''w'").WillReturnResult(ok)
	mock.ExpectExec("GRANT ALL PRIVILEGES ON `demo-1`.* TO 'demo-1'@'%'").WillReturnResult(ok)
	mock.ExpectExec("GRANT SELECT, UPDATE, INSERT ON `shared`.`user` TO 'demo-1'@'%'").WillReturnResult(ok)
	mock.ExpectExec("GRANT SELECT, UPDATE, INSERT, DELETE ON `shared`.`user_properties` TO 'demo-1'@'%'").WillReturnResult(ok)
	mock.ExpectExec("GRANT SELECT, UPDATE, INSERT ON `shared`.`actor` TO 'demo-1'@'%'").WillReturnResult(ok)
	mock.ExpectExec("GRANT SELECT ON `shared`.`oauth_registered_consumer` TO 'demo-1'@'%'").WillReturnResult(ok)
	mock.ExpectExec("GRANT SELECT ON `shared`.`oauth_accepted_consumer` TO 'demo-1'@'%'").WillReturnResult(ok)
	mock.ExpectExec("GRANT SELECT ON `shared`.`oauth2_access_tokens` TO 'demo-1'@'%'").WillReturnResult(ok)
	mock.ExpectExec("FLUSH PRIVILEGES").WillReturnResult(ok)

	err := ProvisionDB(context.Background(), db, "demo-1", "demo-1", "p'w", "shared")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionDBRejectsBadIdentifiers(t *testing.T) {
	db, _ := newMockDB(t)
	ctx := context.Background()

	assert.Error(t, ProvisionDB(ctx, db, "bad`name", "user", "pw", "shared"))
	assert.Error(t, ProvisionDB(ctx, db, "db", "bad user", "pw", "shared"))
	assert.Error(t, ProvisionDB(ctx, db, "db", "user", "pw", "shared;drop"))
}

func TestProvisionDBRejectsControlChars(t *testing.T) {
	db, _ := newMockDB(t)
	assert.Error(t, ProvisionDB(context.Background(), db, "db", "user", "p\x00w", "shared"))
	assert.Error(t, ProvisionDB(context.Background(), db, "db", "user", "p\nw", "shared"))
}

func TestDeprovisionDBBestEffort(t *testing.T) {
	db, mock := newMockDB(t)
	ok := sqlmock.NewResult(0, 0)

	mock.ExpectExec("DROP USER IF EXISTS 'demo-1'@'%'").WillReturnError(assert.AnError)
	mock.ExpectExec("DROP DATABASE IF EXISTS `demo-1`").WillReturnResult(ok)
	mock.ExpectExec("FLUSH PRIVILEGES").WillReturnResult(ok)

	// A failed drop is logged, not returned.
	err := DeprovisionDB(context.Background(), db, "demo-1", "demo-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLiteral(t *testing.T) {
	got, err := escapeLiteral("it's")
	require.NoError(t, err)
	assert.Equal(t, "it''s", got)

	_, err = escapeLiteral("bad\x00")
	assert.Error(t, err)
}
