package agent

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
)

// Watcher hot-reloads scripted capabilities from a source directory.
// Each <name>.go file in the directory is treated as the source of the
// agent called <name>; saving the file re-registers and recompiles it
// without a restart.
type Watcher struct {
	registry *Registry
	dir      string
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher starts watching dir for scripted agent sources.
func NewWatcher(registry *Registry, dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		registry: registry,
		dir:      dir,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.loop()
	logging.AgentsDebug("watching %s for agent source changes", dir)
	return w, nil
}

// Close stops the watcher and waits for its event loop to drain.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Editors fire bursts of events per save; debounce per file.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(ev.Name) != ".go" {
				continue
			}
			pending[ev.Name] = time.Now()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryAgents).Warnw("watch error", "error", err)

		case now := <-ticker.C:
			for path, at := range pending {
				if now.Sub(at) < 150*time.Millisecond {
					continue
				}
				delete(pending, path)
				w.reloadFrom(path)
			}
		}
	}
}

func (w *Watcher) reloadFrom(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".go")
	source, err := os.ReadFile(path)
	if err != nil {
		logging.Get(logging.CategoryAgents).Warnw("failed to read changed source", "path", path, "error", err)
		return
	}

	desc := &Descriptor{Name: name, Source: string(source)}
	if existing, loadErr := w.registry.catalog.Get(name); loadErr == nil {
		existing.Source = string(source)
		desc = existing
	}

	if err := w.registry.Register(desc); err != nil {
		logging.Get(logging.CategoryAgents).Warnw("failed to re-register agent", "agent", name, "error", err)
		return
	}
	if _, err := w.registry.Reload(name); err != nil {
		logging.Get(logging.CategoryAgents).Warnw("failed to reload agent", "agent", name, "error", err)
		return
	}
	logging.Agents("hot-reloaded agent %s from %s", name, path)
}
