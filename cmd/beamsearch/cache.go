// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gomlx/autotune/pkg/search/cache"
	"github.com/gomlx/autotune/pkg/support/fsutil"
)

var (
	cacheTables = []string{cache.TimingTable, cache.BeamTable}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persistent autotune cache",
	}
	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Number of entries per table",
		Args:  cobra.NoArgs,
		RunE:  runCacheStats,
	}
	cacheClearCmd = &cobra.Command{
		Use:   "clear [table...]",
		Short: "Remove the entries of the given tables, all of them by default",
		RunE:  runCacheClear,
	}
)

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}

func openCache(dir string) (*cache.BadgerStore, error) {
	return cache.Open(cache.DefaultConfig(dir))
}

func runCacheStats(_ *cobra.Command, _ []string) error {
	dir, err := fsutil.ResolveCacheDir(current.Search.CacheDir)
	if err != nil {
		return err
	}
	exists, err := fsutil.FileExists(dir)
	if err != nil {
		return err
	}
	if !exists {
		// Opening would create an empty cache.
		fmt.Printf("No cache in %q\n", dir)
		return nil
	}
	store, err := openCache(dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	stats, err := store.Stats(cacheTables...)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Cache " + store.Path()))
	t := newTable("Table", "Entries")
	for _, table := range cacheTables {
		t.Row(false, table, humanize.Comma(int64(stats[table])))
	}
	fmt.Println(t.Render())
	return nil
}

func runCacheClear(_ *cobra.Command, args []string) error {
	tables := args
	if len(tables) == 0 {
		tables = cacheTables
	}
	for _, table := range tables {
		if table != cache.TimingTable && table != cache.BeamTable {
			return errors.Errorf("unknown cache table %q, valid values are %q and %q", table, cache.TimingTable, cache.BeamTable)
		}
	}
	dir, err := fsutil.ResolveCacheDir(current.Search.CacheDir)
	if err != nil {
		return err
	}
	store, err := openCache(dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.Clear(tables...); err != nil {
		return err
	}
	fmt.Printf("Cleared %v from %q\n", tables, store.Path())
	return nil
}
