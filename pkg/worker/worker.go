package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pubwiki/wikifarm/pkg/config"
	"github.com/pubwiki/wikifarm/pkg/events"
	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/metrics"
	"github.com/pubwiki/wikifarm/pkg/provision"
	"github.com/pubwiki/wikifarm/pkg/queue"
	"github.com/pubwiki/wikifarm/pkg/store"
	"github.com/pubwiki/wikifarm/pkg/types"
)

// Worker drains the shared job queue and drives provisioning runs. Exactly
// one worker runs per service instance; the queue's pop semantics give
// at-least-once delivery within that instance.
type Worker struct {
	cfg   *config.Config
	store *store.Store
	jobs  *queue.Jobs
	bus   *queue.Bus
	exec  provision.Execer

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config holds worker collaborators.
type Config struct {
	Cfg   *config.Config
	Store *store.Store
	Jobs  *queue.Jobs
	Bus   *queue.Bus
	Exec  provision.Execer
}

// NewWorker creates a worker instance.
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		cfg:    cfg.Cfg,
		store:  cfg.Store,
		jobs:   cfg.Jobs,
		bus:    cfg.Bus,
		exec:   cfg.Exec,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the blocking pop loop in a goroutine.
func (w *Worker) Start() {
	go w.loop()
}

// Stop signals the loop to exit and waits for the in-flight pop (and job,
// if any) to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) loop() {
	defer close(w.doneCh)
	l := log.WithComponent("worker")
	l.Info().Msg("worker loop started")

	for {
		select {
		case <-w.stopCh:
			l.Info().Msg("worker loop stopped")
			return
		default:
		}

		if err := w.processOne(context.Background()); err != nil {
			l.Error().Err(err).Msg("error when processing job")
		}
	}
}

// processOne pops at most one job. A pop timeout returns nil so the loop
// can observe the stop channel. A malformed payload is logged and dropped.
func (w *Worker) processOne(ctx context.Context) error {
	payload, err := w.jobs.Dequeue(ctx)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil
	}

	var job types.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to parse job payload: %w", err)
	}

	l := log.WithTask(job.TaskID)
	l.Info().Str("slug", job.Slug).Str("name", job.Name).Msg("dequeued provisioning job")

	wikiID, runErr := w.runJob(ctx, &job)
	if runErr == nil {
		l.Info().Uint64("wiki_id", wikiID).Str("slug", job.Slug).Msg("provisioning succeeded")
		metrics.ProvisionTotal.WithLabelValues(string(events.StateSucceeded)).Inc()
		if err := w.store.MarkTaskSucceeded(ctx, job.TaskID, wikiID); err != nil {
			return err
		}
		return w.bus.Publish(ctx, job.TaskID, events.Status{
			Status: events.StateSucceeded,
			WikiID: wikiID,
		})
	}

	msg := fmt.Sprintf("provision error: %s", runErr)
	l.Warn().Str("slug", job.Slug).Str("error", msg).Msg("provisioning failed")
	metrics.ProvisionTotal.WithLabelValues(string(events.StateFailed)).Inc()
	if err := w.store.MarkTaskFailed(ctx, job.TaskID, msg); err != nil {
		return err
	}
	return w.bus.Publish(ctx, job.TaskID, events.Status{
		Status:  events.StateFailed,
		Message: msg,
	})
}

// runJob marks the task running, builds the provisioning context and drives
// the orchestrator, rolling back on failure unless disabled.
func (w *Worker) runJob(ctx context.Context, job *types.Job) (uint64, error) {
	if err := w.store.MarkTaskRunning(ctx, job.TaskID); err != nil {
		log.WithTask(job.TaskID).Warn().Err(err).Msg("failed to mark task running")
	}

	password, err := generatePassword()
	if err != nil {
		return 0, err
	}

	pc := &provision.Context{
		Cfg:        w.cfg,
		TaskID:     job.TaskID,
		Name:       job.Name,
		Slug:       job.Slug,
		Language:   job.Language,
		Visibility: types.NormalizeVisibility(job.Visibility),
		Owner:      job.Owner,
		TargetDir:  w.cfg.TargetDir(job.Slug),
		DBName:     job.Slug,
		DBUser:     job.Slug,
		DBPassword: password,
		DB:         w.db(),
		Store:      w.store,
		Bus:        w.bus,
		Exec:       w.exec,
	}

	wikiID, err := pc.Run(ctx)
	if err == nil {
		return wikiID, nil
	}

	if w.cfg.DisableRollback {
		log.WithTask(job.TaskID).Warn().Err(err).Msg("orchestrator run failed; rollback disabled")
		return 0, err
	}
	log.WithTask(job.TaskID).Warn().Err(err).Msg("orchestrator run failed; invoking rollback")
	pc.Rollback(ctx)
	return 0, err
}

func (w *Worker) db() *sqlx.DB {
	return w.store.DB()
}

// generatePassword returns 32 lowercase hex characters for the per-wiki
// database user.
func generatePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
