package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pubwiki/wikifarm/pkg/types"
	"github.com/pubwiki/wikifarm/pkg/validate"
)

// Store persists tasks, wikis and group permissions in the shared MySQL
// database. The DSN must carry parseTime=true so timestamp columns scan
// into time.Time.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the schema-level provisioning
// statements that operate outside the wikifarm tables.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// CreateTask inserts a queued create_wiki task row.
func (s *Store) CreateTask(ctx context.Context, taskID string, owner types.Owner) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO wikifarm_tasks (id, type, status, progress, created_by_user_id, created_by_username) VALUES (?, ?, 'queued', 0, ?, ?)",
		taskID, types.TaskTypeCreateWiki, owner.ID, []byte(owner.Username))
	if err != nil {
		return fmt.Errorf("failed to insert task row: %w", err)
	}
	return nil
}

// GetTask fetches a task by id. Returns (nil, nil) when no row exists.
func (s *Store) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	var t types.Task
	err := s.db.GetContext(ctx, &t,
		"SELECT id, type, status, progress, created_by_user_id, created_by_username, created_at, started_at, finished_at, wiki_id, message FROM wikifarm_tasks WHERE id = ?",
		taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task: %w", err)
	}
	return &t, nil
}

// MarkTaskRunning records entry into the running state.
func (s *Store) MarkTaskRunning(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE wikifarm_tasks SET status='running', started_at=NOW() WHERE id = ?", taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	return nil
}

// MarkTaskSucceeded writes the terminal success state.
func (s *Store) MarkTaskSucceeded(ctx context.Context, taskID string, wikiID uint64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE wikifarm_tasks SET status='succeeded', progress=100, finished_at=NOW(), wiki_id=? WHERE id = ?",
		wikiID, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task succeeded: %w", err)
	}
	return nil
}

// MarkTaskFailed writes the terminal failure state with its cause.
func (s *Store) MarkTaskFailed(ctx context.Context, taskID, message string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE wikifarm_tasks SET status='failed', finished_at=NOW(), message=? WHERE id = ?",
		message, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// SlugExists reports whether a wiki row claims the slug. The check is racy
// by itself; the unique slug constraint is authoritative.
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var one int64
	err := s.db.GetContext(ctx, &one, "SELECT 1 FROM wikifarm_wikis WHERE slug = ? LIMIT 1", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return true, nil
}

// InsertWiki records the post-provision handoff row and returns its id.
func (s *Store) InsertWiki(ctx context.Context, name, slug, language, visibility string, owner types.Owner) (uint64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO wikifarm_wikis (name, slug, domain, path, language, owner_user_id, owner_username, visibility, status, is_featured) VALUES (?, ?, NULL, NULL, ?, ?, ?, ?, 'ready', 0)",
		name, slug, language, owner.ID, []byte(owner.Username), visibility)
	if err != nil {
		return 0, fmt.Errorf("failed to insert wiki row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read wiki id: %w", err)
	}
	return uint64(id), nil
}

// DeleteWikiByID removes a wiki row.
func (s *Store) DeleteWikiByID(ctx context.Context, wikiID uint64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM wikifarm_wikis WHERE id=?", wikiID)
	if err != nil {
		return fmt.Errorf("failed to delete wiki row: %w", err)
	}
	return nil
}

// GetWikiBySlug fetches a wiki by slug. Returns (nil, nil) on a miss.
func (s *Store) GetWikiBySlug(ctx context.Context, slug string) (*types.Wiki, error) {
	var w types.Wiki
	err := s.db.GetContext(ctx, &w,
		"SELECT id, name, slug, domain, path, language, owner_user_id, owner_username, visibility, status, is_featured, created_at, updated_at FROM wikifarm_wikis WHERE slug = ? LIMIT 1",
		slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wiki: %w", err)
	}
	return &w, nil
}

// ListFeatured returns ready public wikis, restricted to featured ones when
// featured is true.
func (s *Store) ListFeatured(ctx context.Context, featured bool, limit, offset int) ([]types.Wiki, error) {
	query := "SELECT id, name, slug, domain, path, language, owner_user_id, owner_username, visibility, status, is_featured, created_at, updated_at FROM wikifarm_wikis WHERE status='ready' AND visibility='public'"
	if featured {
		query += " AND is_featured=1"
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"

	wikis := []types.Wiki{}
	if err := s.db.SelectContext(ctx, &wikis, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list wikis: %w", err)
	}
	return wikis, nil
}

// ListByOwner returns every wiki owned by a user, newest first.
func (s *Store) ListByOwner(ctx context.Context, userID uint64) ([]types.Wiki, error) {
	wikis := []types.Wiki{}
	err := s.db.SelectContext(ctx, &wikis,
		"SELECT id, name, slug, domain, path, language, owner_user_id, owner_username, visibility, status, is_featured, created_at, updated_at FROM wikifarm_wikis WHERE owner_user_id = ? ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user wikis: %w", err)
	}
	return wikis, nil
}

// SetVisibility updates a wiki's visibility.
func (s *Store) SetVisibility(ctx context.Context, wikiID uint64, visibility string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE wikifarm_wikis SET visibility=? WHERE id=?", visibility, wikiID)
	if err != nil {
		return fmt.Errorf("failed to set visibility: %w", err)
	}
	return nil
}

// ListReadySlugs returns the slugs of all ready wikis in id order.
func (s *Store) ListReadySlugs(ctx context.Context) ([]string, error) {
	slugs := []string{}
	err := s.db.SelectContext(ctx, &slugs,
		"SELECT slug FROM wikifarm_wikis WHERE status='ready' ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list ready wikis: %w", err)
	}
	return slugs, nil
}

// ReplacePermissions swaps the whole permission set of a wiki inside one
// transaction: delete all rows, then insert the new entries.
func (s *Store) ReplacePermissions(ctx context.Context, wikiID uint64, entries []types.GroupPermission) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin permissions tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM wikifarm_wiki_group_permissions WHERE wiki_id=?", wikiID); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}
	for _, e := range entries {
		allowed := 0
		if e.Allowed {
			allowed = 1
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO wikifarm_wiki_group_permissions (wiki_id, group_name, permission, allowed) VALUES (?,?,?,?)",
			wikiID, e.GroupName, e.Permission, allowed); err != nil {
			return fmt.Errorf("failed to insert permission row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permissions: %w", err)
	}
	return nil
}

// DeletePermissions removes all permission rows of a wiki.
func (s *Store) DeletePermissions(ctx context.Context, wikiID uint64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM wikifarm_wiki_group_permissions WHERE wiki_id=?", wikiID)
	if err != nil {
		return fmt.Errorf("failed to delete permissions: %w", err)
	}
	return nil
}

// GetPermissions returns a wiki's permission rows ordered by group then
// permission, the same order the generated file uses.
func (s *Store) GetPermissions(ctx context.Context, wikiID uint64) ([]types.GroupPermission, error) {
	perms := []types.GroupPermission{}
	err := s.db.SelectContext(ctx, &perms,
		"SELECT wiki_id, group_name, permission, allowed FROM wikifarm_wiki_group_permissions WHERE wiki_id=? ORDER BY group_name, permission",
		wikiID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", err)
	}
	return perms, nil
}

// GrantOwnerGroups enrolls the owner into the elevated groups of the newly
// provisioned wiki database. The database name is re-validated and inlined
// with backticks; schema positions cannot be parameterized.
func (s *Store) GrantOwnerGroups(ctx context.Context, dbName string, userID uint64) error {
	if err := validate.Ident(dbName); err != nil {
		return err
	}
	query := fmt.Sprintf(
		"INSERT IGNORE INTO `%s`.user_groups (ug_user, ug_group) VALUES (?, 'bureaucrat'), (?, 'translator'), (?, 'sysop')",
		dbName)
	if _, err := s.db.ExecContext(ctx, query, userID, userID, userID); err != nil {
		return fmt.Errorf("failed to grant owner groups: %w", err)
	}
	return nil
}

// UserGroups returns the sorted, deduplicated group names of a user inside
// a wiki database.
func (s *Store) UserGroups(ctx context.Context, dbName string, userID uint64) ([]string, error) {
	if err := validate.Ident(dbName); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT DISTINCT ug_group FROM `%s`.user_groups WHERE ug_user=? ORDER BY ug_group", dbName)
	raw := [][]byte{}
	if err := s.db.SelectContext(ctx, &raw, query, userID); err != nil {
		return nil, fmt.Errorf("failed to fetch user groups: %w", err)
	}
	groups := make([]string, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, string(g))
	}
	return groups, nil
}
