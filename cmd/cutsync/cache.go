package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/config"
	"github.com/jamesainslie/cutsync/pkg/cutsync/hashcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the digest cache",
	Long: `Commands for managing the digest cache.

The cache memoizes content hashes by path, size, and modification time,
so unchanged files are never re-read. It is an optimization only:
clearing it is always safe and costs one full re-hash on the next run.`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all cached digests",
	Long:  `Removes every cached digest. The next refresh or sync re-hashes from scratch.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		dir := config.DefaultDigestCacheDir()

		if _, err := os.Stat(dir); os.IsNotExist(err) {
			fmt.Println("Digest cache is already empty.")
			return nil
		}

		cache, err := hashcache.Open(dir)
		if err != nil {
			// The store cannot be opened; removing the directory wipes it
			// just the same.
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("failed to clear digest cache: %w", err)
			}
			fmt.Println("Digest cache cleared.")
			return nil
		}
		defer func() { _ = cache.Close() }()

		if err := cache.Clear(); err != nil {
			return fmt.Errorf("failed to clear digest cache: %w", err)
		}
		fmt.Println("Digest cache cleared.")
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show digest cache statistics",
	Long:  `Displays the cache location, entry count, and size on disk.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		dir := config.DefaultDigestCacheDir()

		info, err := os.Stat(dir)
		if os.IsNotExist(err) {
			fmt.Println("Digest cache: empty")
			fmt.Printf("Cache location: %s\n", dir)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to stat cache: %w", err)
		}

		var size int64
		walkErr := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				size += info.Size()
			}
			return nil
		})
		if walkErr != nil {
			return fmt.Errorf("failed to calculate cache size: %w", walkErr)
		}

		fmt.Printf("Cache location: %s\n", dir)
		fmt.Printf("Cache size: %.2f MB\n", float64(size)/1024/1024)

		cache, err := hashcache.Open(dir)
		if err != nil {
			fmt.Println("Cache entries: unavailable (cache is in use)")
		} else {
			defer func() { _ = cache.Close() }()
			if n, lerr := cache.Len(); lerr == nil {
				fmt.Printf("Cache entries: %d\n", n)
			}
		}

		fmt.Printf("Last modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		return nil
	},
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show cache location",
	Long:  `Prints the path to the digest cache directory.`,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(config.DefaultDigestCacheDir())
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePathCmd)
	rootCmd.AddCommand(cacheCmd)
}
