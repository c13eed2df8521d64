package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pubwiki/wikifarm/pkg/api"
	"github.com/pubwiki/wikifarm/pkg/config"
	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/metrics"
	"github.com/pubwiki/wikifarm/pkg/provision"
	"github.com/pubwiki/wikifarm/pkg/queue"
	"github.com/pubwiki/wikifarm/pkg/store"
	"github.com/pubwiki/wikifarm/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the provisioning API and its job worker",
	Long: `Serve the provisioner HTTP API and start the single in-process worker
that drains the shared job queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")

		cfg, err := config.Gather()
		if err != nil {
			return err
		}

		db, err := sqlx.Connect("mysql", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		db.SetMaxOpenConns(10)
		defer db.Close()

		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		execer, err := provision.NewDockerExecer(cfg.DockerSocket)
		if err != nil {
			return err
		}
		defer execer.Close()

		st := store.NewStore(db)
		jobs := queue.NewJobs(rdb)
		bus := queue.NewBus(rdb)

		w := worker.NewWorker(&worker.Config{
			Cfg:   cfg,
			Store: st,
			Jobs:  jobs,
			Bus:   bus,
			Exec:  execer,
		})
		w.Start()
		defer w.Stop()

		sampler := metrics.NewSampler(jobs)
		sampler.Start()
		defer sampler.Stop()

		srv := api.NewServer(cfg, st, jobs, bus)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(listen)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().String("listen", "0.0.0.0:8080", "HTTP listen address")
}
