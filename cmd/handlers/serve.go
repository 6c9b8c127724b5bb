package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"topicflow/internal/config"
	"topicflow/internal/logger"
	"topicflow/internal/server"
)

// NewServeCmd creates the serve command for starting the read API
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API",
		Long: `Serve runs, topics and topic trends as JSON.

Endpoints:
  GET /health
  GET /api/runs?limit=N
  GET /api/runs/{id}
  GET /api/topics
  GET /api/topics/{id}
  GET /api/topics/{id}/trends

The server only reads. Runs are started with 'topicflow init' and
'topicflow update', typically from a scheduler.

Examples:
  topicflow serve
  topicflow serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 127.0.0.1)")

	return cmd
}

func runServe(ctx context.Context, port int, host string) error {
	// Override server config from flags if provided
	serverCfg := config.GetServer()
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	logger.Info("Connecting to database", "driver", config.GetDatabase().Driver)
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := server.New(db, serverCfg)

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Block until we receive our signal or an error from server
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("Server shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverCfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", err)
			return err
		}
		logger.Info("Server stopped successfully")
	}

	return nil
}
