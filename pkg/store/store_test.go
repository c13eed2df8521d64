package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubwiki/wikifarm/pkg/types"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "mysql")), mock
}

func TestCreateTask(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("INSERT INTO wikifarm_tasks (id, type, status, progress, created_by_user_id, created_by_username) VALUES (?, ?, 'queued', 0, ?, ?)").
		WithArgs("task-1", types.TaskTypeCreateWiki, uint64(7), []byte("tester")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateTask(context.Background(), "task-1", types.Owner{ID: 7, Username: "tester"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTaskTerminal(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("UPDATE wikifarm_tasks SET status='succeeded', progress=100, finished_at=NOW(), wiki_id=? WHERE id = ?").
		WithArgs(uint64(42), "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE wikifarm_tasks SET status='failed', finished_at=NOW(), message=? WHERE id = ?").
		WithArgs("boom", "task-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkTaskSucceeded(context.Background(), "task-1", 42))
	require.NoError(t, s.MarkTaskFailed(context.Background(), "task-2", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlugExists(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT 1 FROM wikifarm_wikis WHERE slug = ? LIMIT 1").
		WithArgs("demo-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM wikifarm_wikis WHERE slug = ? LIMIT 1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	exists, err := s.SlugExists(context.Background(), "demo-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.SlugExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWiki(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("INSERT INTO wikifarm_wikis (name, slug, domain, path, language, owner_user_id, owner_username, visibility, status, is_featured) VALUES (?, ?, NULL, NULL, ?, ?, ?, ?, 'ready', 0)").
		WithArgs("Demo", "demo-1", "en", uint64(7), []byte("tester"), "public").
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := s.InsertWiki(context.Background(), "Demo", "demo-1", "en", "public", types.Owner{ID: 7, Username: "tester"})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePermissions(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wikifarm_wiki_group_permissions WHERE wiki_id=?").
		WithArgs(uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO wikifarm_wiki_group_permissions (wiki_id, group_name, permission, allowed) VALUES (?,?,?,?)").
		WithArgs(uint64(42), "sysop", "edit", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wikifarm_wiki_group_permissions (wiki_id, group_name, permission, allowed) VALUES (?,?,?,?)").
		WithArgs(uint64(42), "*", "createaccount", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ReplacePermissions(context.Background(), 42, []types.GroupPermission{
		{WikiID: 42, GroupName: "sysop", Permission: "edit", Allowed: true},
		{WikiID: 42, GroupName: "*", Permission: "createaccount", Allowed: false},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantOwnerGroups(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("INSERT IGNORE INTO `demo-1`.user_groups (ug_user, ug_group) VALUES (?, 'bureaucrat'), (?, 'translator'), (?, 'sysop')").
		WithArgs(uint64(7), uint64(7), uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.GrantOwnerGroups(context.Background(), "demo-1", 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantOwnerGroupsRejectsIdent(t *testing.T) {
	s, _ := newMock(t)
	err := s.GrantOwnerGroups(context.Background(), "bad`name", 7)
	assert.Error(t, err)
}

func TestGetWikiBySlugMiss(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT id, name, slug, domain, path, language, owner_user_id, owner_username, visibility, status, is_featured, created_at, updated_at FROM wikifarm_wikis WHERE slug = ? LIMIT 1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w, err := s.GetWikiBySlug(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.NoError(t, mock.ExpectationsWereMet())
}
