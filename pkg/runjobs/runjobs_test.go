package runjobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubwiki/wikifarm/pkg/store"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PHP_BIN", "/usr/bin/php8")
	t.Setenv("RUNJOBS_INTERVAL_SECS", "30")
	t.Setenv("RUNJOBS_CONCURRENCY", "2")

	cfg := ConfigFromEnv("/srv/wikis")
	assert.Equal(t, "/usr/bin/php8", cfg.PHPBin)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "/srv/wikis", cfg.WikifarmDir)
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("RUNJOBS_INTERVAL_SECS", "bogus")
	cfg := ConfigFromEnv("/srv/wikis")
	assert.Equal(t, "php", cfg.PHPBin)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestRunForWikiSkipsWithoutRunScript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "demo-1"), 0755))

	r := NewRunner(Config{WikifarmDir: dir, PHPBin: "php", Concurrency: 1}, nil)
	assert.NoError(t, r.runForWiki(context.Background(), "demo-1"))
}

func TestRunOnceEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT slug FROM wikifarm_wikis").
		WillReturnRows(sqlmock.NewRows([]string{"slug"}))

	r := NewRunner(Config{WikifarmDir: t.TempDir(), Concurrency: 1}, store.NewStore(sqlx.NewDb(db, "mysql")))
	assert.NoError(t, r.runOnce(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
