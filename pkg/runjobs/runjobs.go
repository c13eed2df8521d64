package runjobs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/store"
)

// Config controls the periodic maintenance runner.
type Config struct {
	WikifarmDir string
	PHPBin      string
	Interval    time.Duration
	Concurrency int
}

// ConfigFromEnv reads the runner's knobs, falling back to defaults.
func ConfigFromEnv(wikifarmDir string) Config {
	cfg := Config{
		WikifarmDir: wikifarmDir,
		PHPBin:      "php",
		Interval:    10 * time.Second,
		Concurrency: 4,
	}
	if v := os.Getenv("PHP_BIN"); v != "" {
		cfg.PHPBin = v
	}
	if v := os.Getenv("RUNJOBS_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Interval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("RUNJOBS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	return cfg
}

// Runner executes the MediaWiki job queue for every ready wiki on a fixed
// interval with bounded concurrency.
type Runner struct {
	cfg   Config
	store *store.Store
}

// NewRunner creates a runner.
func NewRunner(cfg Config, st *store.Store) *Runner {
	return &Runner{cfg: cfg, store: st}
}

// Run loops until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	l := log.WithComponent("runjobs")
	l.Info().Dur("interval", r.cfg.Interval).Str("base_dir", r.cfg.WikifarmDir).Msg("runjobs started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := r.runOnce(ctx); err != nil {
			l.Error().Err(err).Msg("run once failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	slugs, err := r.store.ListReadySlugs(ctx)
	if err != nil {
		return err
	}
	l := log.WithComponent("runjobs")
	if len(slugs) == 0 {
		l.Info().Msg("no wikis found (status=ready)")
		return nil
	}
	l.Info().Int("count", len(slugs)).Msg("running jobs for wikis")

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, slug := range slugs {
		sem <- struct{}{}
		wg.Add(1)
		go func(slug string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := r.runForWiki(ctx, slug); err != nil {
				l.Error().Err(err).Str("slug", slug).Msg("runjobs failed for wiki")
			}
		}(slug)
	}
	wg.Wait()
	return nil
}

// runForWiki runs the notification batch first, then a bounded general
// batch, inside the wiki's directory.
func (r *Runner) runForWiki(ctx context.Context, slug string) error {
	wikiDir := filepath.Join(r.cfg.WikifarmDir, slug)
	runScript := filepath.Join(wikiDir, "maintenance", "run.php")
	l := log.WithSlug(slug)

	if _, err := os.Stat(runScript); err != nil {
		l.Warn().Str("path", runScript).Msg("maintenance/run not found; skip")
		return nil
	}

	batches := [][]string{
		{runScript, "runJobs", "--maxtime=3600", "--type=enotifNotify"},
		{runScript, "runJobs", "--maxtime=3600", "--wait", "--maxjobs=20"},
	}
	for _, args := range batches {
		cmd := exec.CommandContext(ctx, r.cfg.PHPBin, args...)
		cmd.Dir = wikiDir
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		l.Info().Strs("args", args).Msg("runJobs batch start")
		err := cmd.Run()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return err
		}
		l.Info().Int("code", cmd.ProcessState.ExitCode()).Msg("runJobs batch done")
	}
	return nil
}
