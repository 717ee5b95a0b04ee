// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package keyfile

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/hexinfra/shrpx/internal/logger"
	"github.com/hexinfra/shrpx/internal/ticketkey"
)

// Publisher receives a freshly reloaded ticket-key set. WorkerPool
// implements it, same as rotator.Publisher and remotekey.Publisher.
type Publisher interface {
	PublishTicketKeys(set *ticketkey.Set)
}

// Metrics receives reload outcome counts.
type Metrics interface {
	ObserveKeyFileReload(ok bool)
}

// Watcher reloads and republishes the ticket-key set named by Paths
// whenever any of those files changes on disk (SPEC_FULL.md §4.3.2 — an
// operator rewriting tls_ticket_key_files should not require a restart).
type Watcher struct {
	paths     []string
	publisher Publisher
	metrics   Metrics
	log       *logger.Logger
}

// NewWatcher builds a Watcher over paths, which must be the same slice
// (and ordering) passed to Load.
func NewWatcher(paths []string, publisher Publisher, metrics Metrics, log *logger.Logger) *Watcher {
	return &Watcher{paths: paths, publisher: publisher, metrics: metrics, log: log}
}

// Run watches every configured file's containing directory (editors and
// config-management tools commonly replace a file rather than write it in
// place, which only a directory watch reliably observes) and reloads the
// full Set on any event naming one of Paths. It returns when ctx is
// cancelled or the watcher fails to start.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dirs := map[string]struct{}{}
	watched := map[string]struct{}{}
	for _, p := range w.paths {
		watched[p] = struct{}{}
		dirs[dirOf(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, relevant := watched[ev.Name]; !relevant {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Logf("keyfile watch error: %s\n", err.Error())
		}
	}
}

func (w *Watcher) reload() {
	set, err := Load(w.paths)
	if err != nil {
		w.log.Logf("keyfile reload failed: %s\n", err.Error())
		if w.metrics != nil {
			w.metrics.ObserveKeyFileReload(false)
		}
		return
	}
	w.log.Logf("keyfile reload: size=%d\n", set.Len())
	if w.metrics != nil {
		w.metrics.ObserveKeyFileReload(true)
	}
	w.publisher.PublishTicketKeys(set)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
