package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	appErrors "github.com/flowbot-app/flowbot/internal/errors"
)

// ErrFlowNotFound indicates that no definition is loaded for the requested id.
var ErrFlowNotFound = errors.New("flow definition not found")

// Registry loads flow definitions from a directory and serves them by id.
// With Watch enabled it hot-reloads files on change; a file that fails to
// parse is logged and skipped while the previous good definition stays
// served.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]*Definition
	dir   string
	log   *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry creates a Registry populated from every *.json file in dir.
func NewRegistry(dir string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}

	r := &Registry{
		flows: make(map[string]*Definition),
		dir:   dir,
		log:   log,
	}

	if err := r.loadDir(); err != nil {
		return nil, err
	}

	return r, nil
}

// Get returns the definition registered under id.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}

	return def, nil
}

// All returns every loaded definition.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.flows))
	for _, def := range r.flows {
		defs = append(defs, def)
	}

	return defs
}

// Register adds or replaces a definition directly, bypassing the directory.
func (r *Registry) Register(def *Definition) {
	if def == nil || def.ID == "" {
		return
	}

	r.mu.Lock()
	r.flows[def.ID] = def
	r.mu.Unlock()
}

// Watch starts hot reloading of the flows directory until Close is called.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create flow watcher: %w", err)
	}

	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch flows dir %q: %w", r.dir, err)
	}

	r.watcher = watcher
	r.done = make(chan struct{})

	go r.watchLoop()

	return nil
}

// Close stops the directory watcher if one is running.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}

	close(r.done)
	return r.watcher.Close()
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}

			if err := r.loadFile(event.Name); err != nil {
				r.log.Error("flow reload failed, keeping previous definition",
					slog.String("file", event.Name), slog.Any("error", err))
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Error("flow watcher error", slog.Any("error", err))
		}
	}
}

func (r *Registry) loadDir() error {
	files, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("scan flows dir %q: %w", r.dir, err)
	}

	for _, file := range files {
		if err := r.loadFile(file); err != nil {
			r.log.Error("flow file skipped", slog.String("file", file), slog.Any("error", err))
		}
	}

	return nil
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read flow file: %w", err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return appErrors.NewFlowLoadError(strings.TrimSuffix(filepath.Base(path), ".json"), err)
	}

	for _, warning := range def.Warnings {
		r.log.Warn("flow load warning", slog.String("flow", def.ID), slog.String("detail", warning))
	}

	r.mu.Lock()
	r.flows[def.ID] = def
	r.mu.Unlock()

	r.log.Info("flow definition loaded",
		slog.String("flow", def.ID),
		slog.Int("menus", len(def.Menus)),
		slog.Int("nodes", len(def.Nodes)),
	)

	return nil
}
