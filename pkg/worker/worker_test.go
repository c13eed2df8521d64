package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubwiki/wikifarm/pkg/config"
	"github.com/pubwiki/wikifarm/pkg/events"
	"github.com/pubwiki/wikifarm/pkg/provision"
	"github.com/pubwiki/wikifarm/pkg/queue"
	"github.com/pubwiki/wikifarm/pkg/store"
	"github.com/pubwiki/wikifarm/pkg/types"
)

type stubExecer struct {
	calls int
	err   error
}

func (s *stubExecer) Exec(context.Context, string, []string, string) error {
	s.calls++
	return s.err
}

func newTestWorker(t *testing.T, exec provision.Execer) (*Worker, sqlmock.Sqlmock, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	template := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(template, "extensions"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(template, "skins"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(template, "permissions.json"),
		[]byte(`{"allow":{"sysop":["delete"]},"deny":{"*":["createaccount"]}}`), 0644))

	root := t.TempDir()
	cfg := &config.Config{
		WikifarmDir:       filepath.Join(root, "wikis"),
		WikifarmTemplate:  template,
		WikifarmConfigDir: filepath.Join(root, "config"),
		WikifarmInstance:  "pubwiki",
		WikiHost:          "wiki.example.org",
		WikiDBHost:        "db",
		WikiSharedDBName:  "shared",
		WikiAWSRegion:     "useast1",
	}
	require.NoError(t, os.MkdirAll(cfg.WikifarmDir, 0755))

	w := NewWorker(&Config{
		Cfg:   cfg,
		Store: store.NewStore(sqlx.NewDb(db, "mysql")),
		Jobs:  queue.NewJobs(rdb),
		Bus:   queue.NewBus(rdb),
		Exec:  exec,
	})
	return w, mock, rdb
}

func enqueueJob(t *testing.T, w *Worker) types.Job {
	job := types.Job{
		TaskID:     "task-1",
		Name:       "Demo",
		Slug:       "demo-1",
		Language:   "en",
		Visibility: "public",
		Owner:      types.Owner{ID: 7, Username: "tester"},
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	require.NoError(t, w.jobs.Enqueue(context.Background(), payload))
	return job
}

func TestProcessOneSuccess(t *testing.T) {
	exec := &stubExecer{}
	w, mock, rdb := newTestWorker(t, exec)
	ok := sqlmock.NewResult(0, 1)

	mock.ExpectExec("UPDATE wikifarm_tasks SET status='running'").WillReturnResult(ok)
	for i := 0; i < 10; i++ { // database provisioning statements
		mock.ExpectExec("").WillReturnResult(ok)
	}
	mock.ExpectExec("INSERT INTO wikifarm_wikis").WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wikifarm_wiki_group_permissions").WillReturnResult(ok)
	mock.ExpectExec("INSERT INTO wikifarm_wiki_group_permissions").WillReturnResult(ok)
	mock.ExpectExec("INSERT INTO wikifarm_wiki_group_permissions").WillReturnResult(ok)
	mock.ExpectCommit()
	mock.ExpectExec("INSERT IGNORE INTO").WillReturnResult(ok)
	mock.ExpectExec("UPDATE wikifarm_tasks SET status='succeeded'").WillReturnResult(ok)

	job := enqueueJob(t, w)

	ps := rdb.Subscribe(context.Background(), events.ChannelKey(job.TaskID))
	_, err := ps.Receive(context.Background())
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, w.processOne(context.Background()))
	assert.Equal(t, 5, exec.calls)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The terminal status event lands on the task channel.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ps.Channel():
			evt, err := events.Unmarshal([]byte(msg.Payload))
			require.NoError(t, err)
			if st, isStatus := evt.(events.Status); isStatus {
				assert.Equal(t, events.StateSucceeded, st.Status)
				assert.Equal(t, uint64(42), st.WikiID)
				return
			}
		case <-deadline:
			t.Fatal("no terminal status event received")
		}
	}
}

func TestProcessOneFailureRollsBack(t *testing.T) {
	exec := &stubExecer{err: &provision.ExecError{Code: 1, Stderr: "boom"}}
	w, mock, _ := newTestWorker(t, exec)
	ok := sqlmock.NewResult(0, 1)

	mock.ExpectExec("UPDATE wikifarm_tasks SET status='running'").WillReturnResult(ok)
	for i := 0; i < 10; i++ {
		mock.ExpectExec("").WillReturnResult(ok)
	}
	mock.ExpectExec("INSERT INTO wikifarm_wikis").WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wikifarm_wiki_group_permissions").WillReturnResult(ok)
	mock.ExpectExec("INSERT INTO wikifarm_wiki_group_permissions").WillReturnResult(ok)
	mock.ExpectExec("INSERT INTO wikifarm_wiki_group_permissions").WillReturnResult(ok)
	mock.ExpectCommit()
	// rollback: delete permissions, delete wiki row, deprovision db
	mock.ExpectExec("DELETE FROM wikifarm_wiki_group_permissions").WillReturnResult(ok)
	mock.ExpectExec("DELETE FROM wikifarm_wikis").WillReturnResult(ok)
	for i := 0; i < 3; i++ {
		mock.ExpectExec("").WillReturnResult(ok)
	}
	mock.ExpectExec("UPDATE wikifarm_tasks SET status='failed'").WillReturnResult(ok)

	enqueueJob(t, w)
	require.NoError(t, w.processOne(context.Background()))
	assert.Equal(t, 1, exec.calls) // failed at docker_install
	assert.NoError(t, mock.ExpectationsWereMet())

	// Rollback removed both directories.
	_, err := os.Stat(w.cfg.TargetDir("demo-1"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(w.cfg.SlugConfigDir("demo-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessOneMalformedPayloadDropped(t *testing.T) {
	w, mock, _ := newTestWorker(t, &stubExecer{})
	require.NoError(t, w.jobs.Enqueue(context.Background(), []byte("not json")))

	err := w.processOne(context.Background())
	assert.Error(t, err)

	// Nothing was executed and the message is gone.
	assert.NoError(t, mock.ExpectationsWereMet())
	n, err := w.jobs.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessOneTimeoutReturnsNil(t *testing.T) {
	w, _, _ := newTestWorker(t, &stubExecer{})
	start := time.Now()
	require.NoError(t, w.processOne(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestGeneratePassword(t *testing.T) {
	pw, err := generatePassword()
	require.NoError(t, err)
	assert.Len(t, pw, 32)
	for _, c := range pw {
		valid := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		assert.True(t, valid, string(c))
	}
}
