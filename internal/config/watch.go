// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// FILE WATCHING
// =============================================================================

// watchDebounce coalesces the event bursts editors produce on save.
const watchDebounce = 250 * time.Millisecond

// pollInterval is the fallback cadence when inotify is unavailable.
const pollInterval = 2 * time.Second

// Watch invokes onChange whenever the config file at path changes, until
// ctx is cancelled. It prefers fsnotify and falls back to mtime polling
// when the watcher cannot be created (some network and container
// filesystems).
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("config: fsnotify unavailable (%v), polling %s", err, path)
		go pollFile(ctx, path, onChange)
		return nil
	}

	// Watch the directory, not the file: atomic saves replace the inode
	// and a file watch would go stale after the first write.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		log.Printf("config: cannot watch %s (%v), polling instead", dir, err)
		go pollFile(ctx, path, onChange)
		return nil
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		fire := func() {
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, onChange)
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					fire()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", err)
			}
		}
	}()
	return nil
}

// pollFile is the mtime-polling fallback for Watch.
func pollFile(ctx context.Context, path string, onChange func()) {
	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				onChange()
			}
		}
	}
}
