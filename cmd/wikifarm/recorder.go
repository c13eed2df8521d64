package main

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/recorder"
)

var recorderCmd = &cobra.Command{
	Use:   "recorder",
	Short: "Accept and log MediaWiki EventBus envelopes",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := os.Getenv("RECORDER_ADDR")
		if addr == "" {
			addr = "0.0.0.0:8080"
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           recorder.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Logger.Info().Str("addr", addr).Msg("recorder listening")
		return srv.ListenAndServe()
	},
}
