package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/minder/internal/tracing"
	"github.com/harun/minder/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the minder API server",
	Long: `Run the API server: memory endpoints, knowledge retrieval,
agent planning, metrics, and the run-event WebSocket stream.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := tracing.InitOpenTelemetry("minder"); err != nil {
		a.zlog.Warn().Err(err).Msg("OpenTelemetry init failed, tracing disabled")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.ShutdownOpenTelemetry(ctx)
		}()
	}

	srv, err := server.New(server.Options{
		Host:               a.cfg.Server.Host,
		Port:               a.cfg.Server.Port,
		Version:            version,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, server.Deps{
		Loop:      a.loop,
		Retrieval: a.ret,
		Knowledge: a.store,
		Sessions:  a.sess,
		Playbooks: a.pbooks,
		Hub:       a.hub,
		Logger:    a.zlog,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.zlog.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
