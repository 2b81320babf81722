package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	posoffline "github.com/posdesk/offline-sdk-go"
	"github.com/spf13/cobra"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from serve.addr, then 127.0.0.1:8787)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline layer with a local status API",
	Long: "Run the offline manager: watch connectivity, replay the queue in the background,\n" +
		"and expose queue and cache state over HTTP for the register UI.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger := newLogger()

		storage, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := &posoffline.ManagerOptions{
			Logger:        logger,
			Retry:         retryPolicy(cfg),
			FlushInterval: durationOr(cfg.Queue.FlushInterval, 0),
		}
		if cfg.Monitor.URL != "" {
			monitor := posoffline.NewWebSocketMonitor(posoffline.MonitorConfig{
				URL:               cfg.Monitor.URL,
				Token:             cfg.Default.APIKey,
				HeartbeatInterval: durationOr(cfg.Monitor.Heartbeat, 0),
				Logger:            logger.With("component", "monitor"),
			})
			monitor.Start(ctx)
			defer monitor.Stop()
			opts.Signal = monitor
		}

		mgr := posoffline.NewOfflineManager(storage, getClient(cfg), opts)
		if err := mgr.Init(ctx); err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := mgr.Close(closeCtx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
			}
		}()

		addr := serveAddr
		if addr == "" {
			addr = valueOrDefault(cfg.Serve.Addr, "127.0.0.1:8787")
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           posoffline.NewStatusHandler(mgr),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		fmt.Printf("Status API listening on http://%s\n", addr)

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status API: %w", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("status API shutdown: %w", err)
			}
		}
		return nil
	},
}
