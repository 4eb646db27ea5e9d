package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/server"
	"github.com/MeKo-Tech/arenacal/internal/session"
	"github.com/MeKo-Tech/arenacal/internal/store"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the calibration HTTP server",
	Long: `Start an HTTP server that drives one calibration session.

The server provides the following endpoints:
  GET    /health                   - Health check
  GET    /metrics                  - Prometheus metrics
  GET    /session                  - Session status
  POST   /session/images           - Upload the four camera stills
  POST   /session/match            - Detect and match keypoints
  POST   /session/stitch           - Start stitching (?wait=true blocks)
  GET    /session/previews/{index} - Image, keypoint or match preview
  GET    /session/panorama         - Panorama preview with corners
  GET    /session/corners          - List picked corners
  POST   /session/corners          - Pick a corner
  DELETE /session/corners/last     - Remove the last corner
  POST   /session/square           - Square the arena
  GET    /session/squared          - Squared preview (?x=&y= pans)
  POST   /session/save             - Write the calibration record
  GET    /ws                       - Live status over websocket

With --watch, every complete set of four new stills dropped into the directory
is matched and stitched automatically.

Examples:
  arenacal serve
  arenacal serve --port 8080
  arenacal serve --host 0.0.0.0 --port 3000 --watch ./captures`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		srvCfg := cfg.ToServerConfig()

		if cmd.Flags().Changed("host") {
			srvCfg.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			srvCfg.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("cors-origin") {
			srvCfg.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
		}
		if cmd.Flags().Changed("max-upload-size") {
			mb, _ := cmd.Flags().GetInt("max-upload-size")
			srvCfg.MaxUploadMB = int64(mb)
		}
		if cmd.Flags().Changed("timeout") {
			srvCfg.TimeoutSec, _ = cmd.Flags().GetInt("timeout")
		}
		if cmd.Flags().Changed("watch") {
			srvCfg.WatchDir, _ = cmd.Flags().GetString("watch")
		}
		if cmd.Flags().Changed("rate-limit") {
			srvCfg.RateLimit, _ = cmd.Flags().GetInt("rate-limit")
		}
		if cmd.Flags().Changed("output") {
			srvCfg.RecordPath, _ = cmd.Flags().GetString("output")
		}
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		if srvCfg.Port < 1 || srvCfg.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", srvCfg.Port)
		}

		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()

		hub := server.NewHub()
		opts := []session.Option{
			session.WithObserver(session.NewMultiObserver(
				session.NewLogObserver(slog.Default(), slog.LevelInfo), hub)),
		}
		if cfg.Store.HistoryPath != "" {
			history, err := store.OpenHistory(cfg.Store.HistoryPath)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer func() {
				if err := history.Close(); err != nil {
					slog.Error("History close error", "error", err)
				}
			}()
			opts = append(opts, session.WithHistory(history))
		}
		sess := session.New(cfg.ToSessionConfig(), opts...)
		defer sess.Close()

		calServer := server.NewServer(srvCfg, sess, hub)
		if srvCfg.WatchDir != "" {
			if err := calServer.StartWatcher(ctx, srvCfg.WatchDir, server.DefaultWatchDebounce); err != nil {
				_ = calServer.Close()
				return err
			}
			slog.Info("Watching for image sets", "dir", srvCfg.WatchDir)
		}

		mux := http.NewServeMux()
		calServer.SetupRoutes(mux)

		// Writes outlast the request timeout so ?wait=true stitches can still respond.
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", srvCfg.Host, srvCfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(srvCfg.TimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(srvCfg.TimeoutSec+10) * time.Second,
		}

		go func() {
			slog.Info("Starting calibration server", "host", srvCfg.Host, "port", srvCfg.Port, "session", sess.ID())
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := calServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 120, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("watch", "", "directory to watch for new four-image sets")
	serveCmd.Flags().Int("rate-limit", 0, "compute requests per minute per client (0 disables)")
	serveCmd.Flags().StringP("output", "o", "calibration.yaml", "calibration record path")
}
