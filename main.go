// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/cmd"
	"github.com/mtreilly/arc-marginalia/internal/config"
	"github.com/mtreilly/arc-marginalia/internal/kv"
	"github.com/mtreilly/arc-marginalia/internal/logging"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arc-marginalia: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	// Storage backend: "sqlite" (default) or "memory". If SQLite cannot be
	// opened, fall back to memory so the tool still works without persistence.
	var backing kv.Store
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		path := cfg.Storage.Path
		if path == "" {
			path = kv.DefaultPath()
		}
		db, err := kv.OpenSQLiteStore(path)
		if err != nil {
			logger.Warn("cannot open SQLite store, falling back to in-memory store (no persistence)",
				"path", path, "error", err)
			backing = kv.NewMemoryStore()
			break
		}
		backing = db

	case config.BackendMemory:
		backing = kv.NewMemoryStore()

	default:
		fmt.Fprintf(os.Stderr, "arc-marginalia: unknown storage backend %q (choose sqlite or memory)\n", cfg.Storage.Backend)
		os.Exit(1)
	}
	defer backing.Close()

	store, err := annotation.NewKVStore(backing, cfg.Storage.Key, annotation.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "arc-marginalia: failed to init annotation store: %v\n", err)
		os.Exit(1)
	}

	root := cmd.NewRootCmd(cfg, store, logger)
	if err := root.Execute(); err != nil {
		backing.Close()
		os.Exit(1)
	}
}
