// Package config holds the transfer engine's process-wide tunables, mirroring
// aistore's cmn.GCO idiom: a single global, loaded once from the environment,
// cloned before any caller mutates it so concurrent readers never observe a
// half-written config.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds defaults that apply when a constructor or CLI flag doesn't
// override them explicitly.
type Config struct {
	// BlockSize is the read/write chunk size for the synchronous variant
	// (spec §6.4: compile-time constant, 8-64KiB range).
	BlockSize int
	// DefaultIdleTimeout is the period of Transfer.StartIdleTick's check and
	// how long no bytes may move before it calls the caller's onIdle.
	DefaultIdleTimeout time.Duration
	// MaxRateLimit caps the rate a caller may request via Limit(), 0 = no cap.
	MaxRateLimit uint64
	// DryRun disables all real stream I/O, exercising only the controller's
	// state machine and governor/reporter bookkeeping (AIS_STREAM_DRY_RUN
	// in the teacher's transport package).
	DryRun bool
}

var (
	mu      sync.Mutex
	current = load()
)

func load() Config {
	c := Config{
		BlockSize:          64 * 1024,
		DefaultIdleTimeout: 5 * time.Second,
		MaxRateLimit:       0,
	}
	if v := os.Getenv("XFER_BLOCK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BlockSize = n
		}
	}
	if v := os.Getenv("XFER_MAX_RATE_LIMIT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.MaxRateLimit = n
		}
	}
	if v := os.Getenv("XFER_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DryRun = b
		}
	}
	return c
}

// Global returns a copy of the current process-wide config, safe to mutate
// by the caller without affecting other readers.
func Global() Config {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// SetGlobal replaces the process-wide config, e.g. for tests.
func SetGlobal(c Config) {
	mu.Lock()
	defer mu.Unlock()
	current = c
}
