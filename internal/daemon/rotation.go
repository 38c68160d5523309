package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/basecamp/daemon-console/internal/token"
)

// DefaultRotationDebounce batches the burst of events a single file
// replacement produces.
const DefaultRotationDebounce = 300 * time.Millisecond

// Rotator is a token provider that rebuilds itself when a credential file
// changes on disk, so a renewed certificate is picked up without a restart.
// A failed rebuild keeps the previous provider.
type Rotator struct {
	build    func() (token.Provider, error)
	files    map[string]bool
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current token.Provider
	reloads int

	// reloaded is signalled after every rebuild attempt, for tests.
	reloaded chan error
}

// NewRotator wraps initial and rebuilds it with build when files change.
func NewRotator(initial token.Provider, build func() (token.Provider, error), files []string, logger *slog.Logger) (*Rotator, error) {
	if initial == nil {
		return nil, errors.New("rotator needs an initial provider")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Rotator{
		build:    build,
		files:    make(map[string]bool, len(files)),
		logger:   logger,
		debounce: DefaultRotationDebounce,
		current:  initial,
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		r.files[abs] = true
	}
	return r, nil
}

// AcquireToken delegates to the current provider.
func (r *Rotator) AcquireToken(ctx context.Context, scopes []string) (*token.Result, error) {
	r.mu.RLock()
	p := r.current
	r.mu.RUnlock()
	return p.AcquireToken(ctx, scopes)
}

// Reloads returns how many rebuilds succeeded.
func (r *Rotator) Reloads() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reloads
}

// Reload rebuilds the provider now.
func (r *Rotator) Reload() error {
	p, err := r.build()
	if err != nil {
		r.logger.Warn("credential reload failed, keeping previous provider", "error", err)
		return err
	}
	r.mu.Lock()
	r.current = p
	r.reloads++
	r.mu.Unlock()
	r.logger.Info("credential reloaded")
	return nil
}

// Watch blocks until ctx is done, rebuilding the provider after the
// watched files settle. The parent directories are watched so that
// atomic replacement by rename is seen.
func (r *Rotator) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating credential watcher: %w", err)
	}
	defer watcher.Close()

	dirs := make(map[string]bool)
	for f := range r.files {
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	timer := time.NewTimer(r.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !r.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug("credential file changed", "file", event.Name, "op", event.Op.String())
			timer.Reset(r.debounce)

		case <-timer.C:
			err := r.Reload()
			if r.reloaded != nil {
				r.reloaded <- err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				timer.Reset(r.debounce)
				continue
			}
			r.logger.Warn("credential watcher error", "error", err)
		}
	}
}
