package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	posoffline "github.com/posdesk/offline-sdk-go"
	"github.com/spf13/cobra"
)

var (
	cacheGetQuery      []string
	cacheClearResource string
	cacheClearAssets   bool
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePreloadCmd, cacheGetCmd, cacheClearCmd)

	cacheGetCmd.Flags().StringArrayVarP(&cacheGetQuery, "query", "q", nil, "Query parameter as key=value (repeatable)")
	cacheClearCmd.Flags().StringVar(&cacheClearResource, "resource", "", "Only clear entries of this resource")
	cacheClearCmd.Flags().BoolVar(&cacheClearAssets, "assets", false, "Also clear static assets")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the response cache",
}

var cachePreloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Fetch customers, services, discounts and stations into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cache, closeCache, err := openCache(cfg)
		if err != nil {
			return err
		}
		defer closeCache()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := cache.PreloadCriticalData(ctx); err != nil {
			fmt.Println("Preload incomplete:")
			for _, line := range strings.Split(err.Error(), "\n") {
				fmt.Printf("  %s\n", line)
			}
			return fmt.Errorf("some resources could not be cached")
		}
		fmt.Printf("Cached %s\n", strings.Join(posoffline.CriticalResources, ", "))
		return nil
	},
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <resource>",
	Short: "Show a cached response and its age",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		for _, kv := range cacheGetQuery {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("query must be key=value, got %q", kv)
			}
			query.Add(k, v)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cache, closeCache, err := openCache(cfg)
		if err != nil {
			return err
		}
		defer closeCache()

		key := posoffline.Key(args[0], query)
		e, ok := cache.Lookup(context.Background(), key)
		if !ok {
			return fmt.Errorf("%s is not cached", key)
		}
		return printValue(e, func(w io.Writer) {
			fmt.Fprintf(w, "Key:       %s\n", e.Key)
			fmt.Fprintf(w, "Stored at: %s (%s ago)\n", shortTime(e.StoredAt), e.Age(time.Now()).Round(time.Second))
			if e.TTL > 0 {
				fmt.Fprintf(w, "TTL:       %s\n", e.TTL)
			}
			fmt.Fprintln(w, string(e.Value))
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached API responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cache, closeCache, err := openCache(cfg)
		if err != nil {
			return err
		}
		defer closeCache()

		ctx := context.Background()
		scope := posoffline.RuntimeScope
		if cacheClearResource != "" {
			scope = posoffline.ResourceScope(cacheClearResource)
		}
		n, err := cache.Clear(ctx, scope)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d cached responses\n", n)

		if cacheClearAssets {
			n, err := cache.ClearAssets(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d static assets\n", n)
		}
		return nil
	},
}
