package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	posoffline "github.com/posdesk/offline-sdk-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	queueListStatus string

	queueFlushTimeout time.Duration

	queueRetryNow bool

	queueEnqueueData string
	queueEnqueueFile string
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queueFlushCmd, queueRetryCmd, queueDropCmd, queueEnqueueCmd)

	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Only show actions in this status (pending, processing, failed, succeeded)")
	queueFlushCmd.Flags().DurationVar(&queueFlushTimeout, "timeout", 2*time.Minute, "Give up on the replay pass after this long")
	queueRetryCmd.Flags().BoolVar(&queueRetryNow, "now", false, "Replay immediately after resetting")
	queueEnqueueCmd.Flags().StringVarP(&queueEnqueueData, "data", "d", "", "JSON request body")
	queueEnqueueCmd.Flags().StringVarP(&queueEnqueueFile, "file", "f", "", "Read the JSON request body from a file")
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and replay the offline action queue",
	Long: "Inspect and replay the offline action queue.\n" +
		"Commands that change the queue should not run while 'posoffline serve' is up; use its HTTP API instead.",
}

// ============================================================================
// queue list
// ============================================================================

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions in creation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		storage, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		actions, err := posoffline.Snapshot(ctx, storage)
		if err != nil {
			return err
		}
		if queueListStatus != "" {
			filtered := actions[:0]
			for _, a := range actions {
				if string(a.Status) == queueListStatus {
					filtered = append(filtered, a)
				}
			}
			actions = filtered
		}

		return printValue(actions, func(w io.Writer) {
			if len(actions) == 0 {
				fmt.Fprintln(w, "Queue is empty.")
				return
			}
			fmt.Fprintf(w, "%-36s  %-10s  %-15s  %-7s  %-28s  %s\n", "ID", "STATUS", "KIND", "METHOD", "ENDPOINT", "ATTEMPTS")
			for _, a := range actions {
				fmt.Fprintf(w, "%-36s  %-10s  %-15s  %-7s  %-28s  %d\n", a.ID, a.Status, a.Kind, a.Method, a.Endpoint, a.Attempts)
				if a.LastError != "" {
					fmt.Fprintf(w, "    last error: %s\n", a.LastError)
				}
				if a.Status == posoffline.StatusPending && !a.NextAttemptAt.IsZero() {
					fmt.Fprintf(w, "    next attempt: %s\n", shortTime(a.NextAttemptAt))
				}
			}
		})
	},
}

// ============================================================================
// queue flush
// ============================================================================

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay every due pending action now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), queueFlushTimeout)
		defer cancel()

		q, closeQueue, err := openQueue(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeQueue()

		before := q.PendingCount()
		if err := q.ProcessQueue(ctx); err != nil {
			if errors.Is(err, posoffline.ErrLeaseHeld) {
				return fmt.Errorf("another process is replaying the queue")
			}
			return fmt.Errorf("replay failed: %w", err)
		}

		actions := q.GetQueue()
		return printValue(actions, func(w io.Writer) {
			fmt.Fprintf(w, "Replayed: %d pending before, %d pending now\n", before, q.PendingCount())
			for _, a := range actions {
				if a.Status == posoffline.StatusFailed {
					fmt.Fprintf(w, "  failed %s %s %s: %s\n", a.ID, a.Method, a.Endpoint, a.LastError)
				}
			}
		})
	},
}

// ============================================================================
// queue retry / drop
// ============================================================================

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Reset a failed action to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		q, closeQueue, err := openQueue(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeQueue()

		if err := q.Retry(ctx, args[0]); err != nil {
			return err
		}
		if queueRetryNow {
			if err := q.ProcessQueue(ctx); err != nil {
				return fmt.Errorf("replay failed: %w", err)
			}
		}

		a, err := q.Get(args[0])
		if errors.Is(err, posoffline.ErrActionNotFound) {
			fmt.Printf("Action %s delivered\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		return printValue(a, func(w io.Writer) {
			fmt.Fprintf(w, "Action %s is %s (attempts %d)\n", a.ID, a.Status, a.Attempts)
		})
	},
}

var queueDropCmd = &cobra.Command{
	Use:   "drop <id>",
	Short: "Discard a failed or succeeded action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		q, closeQueue, err := openQueue(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeQueue()

		if err := q.Remove(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Dropped %s\n", args[0])
		return nil
	},
}

// ============================================================================
// queue enqueue
// ============================================================================

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <method> <endpoint>",
	Short: "Queue a mutation for replay",
	Long:  "Queue a mutation for replay.\nExample: posoffline queue enqueue POST /orders -d '{\"customerId\":\"c1\",\"items\":[...]}'",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, endpoint := args[0], args[1]

		var body json.RawMessage
		switch {
		case queueEnqueueFile != "":
			data, err := os.ReadFile(queueEnqueueFile)
			if err != nil {
				return fmt.Errorf("cannot read body file: %w", err)
			}
			body = data
		case queueEnqueueData != "":
			body = json.RawMessage(queueEnqueueData)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		q, closeQueue, err := openQueue(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeQueue()

		a, err := q.Enqueue(ctx, endpoint, method, body)
		if a == nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		return printValue(a, func(w io.Writer) {
			fmt.Fprintf(w, "Queued %s (%s)\n", a.ID, a.Kind)
			fmt.Fprintf(w, "  Idempotency-Key: %s\n", a.IdempotencyKey)
		})
	},
}
