package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	apperrors "edge-router/internal/common/errors"
	"edge-router/internal/common/logging"
	"edge-router/internal/routing"
)

// FileProvider watches a YAML definitions file and emits the delta between
// consecutive file states. Editors typically replace files by rename, so
// the watch is placed on the parent directory and filtered by name.
type FileProvider struct {
	path   string
	logger logging.Logger

	last *Definitions
}

// NewFileProvider creates a provider over a YAML definitions file.
func NewFileProvider(path string, logger logging.Logger) *FileProvider {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &FileProvider{path: path, logger: logger}
}

// Name identifies the provider.
func (p *FileProvider) Name() string { return "file" }

// Watch emits the file's definitions, then re-reads and diffs on every
// change until ctx is canceled. Unreadable or unparsable file states are
// reported as errors so the watcher retries with backoff.
func (p *FileProvider) Watch(ctx context.Context, events chan<- routing.Event) error {
	defs, err := p.load()
	if err != nil {
		return err
	}
	if err := p.emit(ctx, defs, events); err != nil {
		return nil // ctx canceled
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			defs, err := p.load()
			if err != nil {
				// A half-written file must not wipe the served
				// routes; keep the previous state and wait for
				// the next change.
				p.logger.Warn("Ignoring unreadable definitions file",
					logging.Field{Key: "path", Value: p.path},
					logging.Field{Key: "error", Value: err.Error()},
				)
				continue
			}
			if err := p.emit(ctx, defs, events); err != nil {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			return fmt.Errorf("file watcher: %w", err)
		}
	}
}

func (p *FileProvider) load() (*Definitions, error) {
	return LoadDefinitionsFile(p.path)
}

// LoadDefinitionsFile reads and decodes a YAML definitions file. The static
// provider uses it for its one-shot read at startup.
func LoadDefinitionsFile(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.DiscoveryError("read definitions file", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, apperrors.DiscoveryError("parse definitions file", err)
	}
	return &defs, nil
}

func (p *FileProvider) emit(ctx context.Context, defs *Definitions, events chan<- routing.Event) error {
	for _, ev := range diffDefinitions(p.last, defs) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case events <- ev:
		}
	}
	p.last = defs
	return nil
}
