package main

import (
	"context"
	"fmt"
	"io"
	"time"

	posoffline "github.com/posdesk/offline-sdk-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	BaseURL   string                     `json:"baseUrl"`
	APIKey    string                     `json:"apiKey"`
	StationID string                     `json:"stationId,omitempty"`
	Storage   string                     `json:"storage"`
	Queue     posoffline.Status          `json:"queue"`
	Cache     map[string]*cachedResource `json:"cache"`
}

type cachedResource struct {
	StoredAt time.Time `json:"storedAt"`
	Age      string    `json:"age"`
	Bytes    int       `json:"bytes"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, queue counts and cached reference data",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		storage, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		actions, err := posoffline.Snapshot(ctx, storage)
		if err != nil {
			return err
		}

		report := statusReport{
			BaseURL:   getClient(cfg).BaseURL(),
			APIKey:    valueOrDefault(maskKey(cfg.Default.APIKey), "(not set)"),
			StationID: cfg.Default.StationID,
			Storage:   valueOrDefault(cfg.Storage.Path, "(default)"),
			Cache:     make(map[string]*cachedResource),
		}
		for _, a := range actions {
			switch a.Status {
			case posoffline.StatusPending:
				report.Queue.Pending++
			case posoffline.StatusProcessing:
				report.Queue.Processing++
			case posoffline.StatusFailed:
				report.Queue.Failed++
			case posoffline.StatusSucceeded:
				report.Queue.Succeeded++
			}
		}

		cache := posoffline.NewCache(storage)
		now := time.Now()
		for _, res := range posoffline.CriticalResources {
			if e, ok := cache.Lookup(ctx, posoffline.Key(res, nil)); ok {
				report.Cache[res] = &cachedResource{
					StoredAt: e.StoredAt,
					Age:      e.Age(now).Round(time.Second).String(),
					Bytes:    len(e.Value),
				}
			}
		}

		return printValue(report, func(w io.Writer) {
			fmt.Fprintln(w, "Configuration:")
			fmt.Fprintf(w, "  Base URL:    %s\n", report.BaseURL)
			fmt.Fprintf(w, "  API Key:     %s\n", report.APIKey)
			fmt.Fprintf(w, "  Station:     %s\n", valueOrDefault(report.StationID, "(not set)"))
			fmt.Fprintf(w, "  Storage:     %s\n", report.Storage)

			fmt.Fprintln(w)
			fmt.Fprintln(w, "Queue:")
			fmt.Fprintf(w, "  Pending:     %d\n", report.Queue.Pending)
			fmt.Fprintf(w, "  Processing:  %d\n", report.Queue.Processing)
			fmt.Fprintf(w, "  Failed:      %d\n", report.Queue.Failed)

			fmt.Fprintln(w)
			fmt.Fprintln(w, "Cached reference data:")
			for _, res := range posoffline.CriticalResources {
				c, ok := report.Cache[res]
				if !ok {
					fmt.Fprintf(w, "  %-11s (not cached)\n", res+":")
					continue
				}
				fmt.Fprintf(w, "  %-11s %s old, %d bytes\n", res+":", c.Age, c.Bytes)
			}
		})
	},
}
