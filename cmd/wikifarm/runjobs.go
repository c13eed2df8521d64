package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/pubwiki/wikifarm/pkg/runjobs"
	"github.com/pubwiki/wikifarm/pkg/store"
)

var runjobsCmd = &cobra.Command{
	Use:   "runjobs",
	Short: "Run periodic MediaWiki maintenance batches for every ready wiki",
	RunE: func(cmd *cobra.Command, args []string) error {
		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			return fmt.Errorf("missing env DATABASE_URL")
		}
		wikifarmDir := os.Getenv("WIKIFARM_DIR")
		if wikifarmDir == "" {
			wikifarmDir = "/srv/wikis"
		}

		db, err := sqlx.Connect("mysql", databaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		db.SetMaxOpenConns(5)
		defer db.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		runner := runjobs.NewRunner(runjobs.ConfigFromEnv(wikifarmDir), store.NewStore(db))
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
