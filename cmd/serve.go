package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"examflow/internal/logger"
	"examflow/internal/session"
	"examflow/internal/web"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operator web interface",
	Long: `Start the web interface where the operator logs in, uploads an exam image with
the patient data and receives the names of the stored documents.

Sessions expire after SESSION_IDLE_TIMEOUT without activity. The server stops
gracefully on SIGINT or SIGTERM, letting a running exam finish.`,
	Example: `  # Listen on the configured address
  examflow serve

  # Override the listen address
  examflow serve --addr 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: LISTEN_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Clients outlive the signal context so in-flight runs can finish during shutdown.
	orchestrator, opened, err := buildPipeline(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer opened.Close(log)

	idle := cfg.Server.IdleTimeout.Duration
	sessions := session.NewManager(idle)
	auth := session.NewAuthenticator(cfg.Server.Username, cfg.Server.Password)

	// A response is written after a full run: recognition, five store or register calls and mail.
	processing := cfg.Timeouts.OCR.Duration + 5*cfg.Timeouts.Store.Duration + cfg.Timeouts.Mail.Duration
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           web.NewRouter(orchestrator, sessions, auth),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      processing + time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go sweepSessions(ctx, sessions, idle)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Dur("session_idle_timeout", idle).
			Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	log.Info().Msg("Server stopped")
	return nil
}

// sweepSessions drops expired sessions until ctx is done.
func sweepSessions(ctx context.Context, sessions *session.Manager, every time.Duration) {
	log := logger.WithComponent("session")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := sessions.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("Expired sessions removed")
			}
		}
	}
}
