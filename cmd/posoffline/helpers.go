package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	posoffline "github.com/posdesk/offline-sdk-go"
	"gopkg.in/yaml.v3"
)

// newLogger logs to stderr with -v, and only errors otherwise.
func newLogger() *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getClient creates a POS client from the stored configuration.
func getClient(cfg *Config) *posoffline.Client {
	var opts []posoffline.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, posoffline.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.StationID != "" {
		opts = append(opts, posoffline.WithStationID(cfg.Default.StationID))
	}
	return posoffline.NewClient(cfg.Default.APIKey, opts...)
}

func openStorage(cfg *Config) (*posoffline.SQLiteStorage, error) {
	path := cfg.Storage.Path
	if path == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "offline.db")
	}
	return posoffline.OpenSQLiteStorage(path)
}

func retryPolicy(cfg *Config) *posoffline.RetryPolicy {
	def := posoffline.DefaultRetryPolicy()
	if cfg.Queue.MaxAttempts == 0 && cfg.Queue.BaseDelay == "" && cfg.Queue.MaxDelay == "" {
		return def
	}
	attempts := def.MaxAttempts
	if cfg.Queue.MaxAttempts > 0 {
		attempts = cfg.Queue.MaxAttempts
	}
	return posoffline.NewRetryPolicy(attempts,
		durationOr(cfg.Queue.BaseDelay, def.BaseDelay),
		durationOr(cfg.Queue.MaxDelay, def.MaxDelay),
		def.Jitter,
	)
}

// durationOr parses s; config validation already rejected malformed values.
func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// openQueue loads the persisted queue for a one-shot command. The returned
// func closes the queue and the database.
func openQueue(ctx context.Context, cfg *Config) (*posoffline.Queue, func(), error) {
	storage, err := openStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	q := posoffline.NewQueue(storage, getClient(cfg),
		posoffline.WithQueueLogger(newLogger()),
		posoffline.WithRetryPolicy(retryPolicy(cfg)),
	)
	if err := q.Init(ctx); err != nil {
		storage.Close()
		return nil, nil, err
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: queue close: %v\n", err)
		}
		storage.Close()
	}
	return q, closeFn, nil
}

func openCache(cfg *Config) (*posoffline.Cache, func(), error) {
	storage, err := openStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	c := posoffline.NewCache(storage,
		posoffline.WithCacheLogger(newLogger()),
		posoffline.WithFetcher(getClient(cfg)),
	)
	return c, func() { storage.Close() }, nil
}

// printValue writes v as JSON or YAML per -o, or calls table for the default
// human-readable format. A nil table falls back to YAML.
func printValue(v any, table func(w io.Writer)) error {
	w := os.Stdout
	switch {
	case outputFormat == "json":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		fmt.Fprintln(w, string(b))
		return nil
	case outputFormat == "yaml" || table == nil:
		// Round-trip through JSON so json.RawMessage fields print as data.
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		table(w)
		return nil
	}
}

// maskKey shows the first 8 and last 4 characters of a key.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
