// Package resilience gates poll ticks behind a circuit breaker whose state is
// persisted to disk with file locking, so concurrent daemons polling the same
// API share it.
package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultDirName is the subdirectory of the cache dir holding breaker files.
const DefaultDirName = "resilience"

// lockWait bounds how long a tick waits for another daemon's lock. After it
// the update runs unlocked; a lost update lets at most one extra tick through.
const lockWait = 100 * time.Millisecond

// Store keeps breaker State in a JSON file next to a flock lock file.
type Store struct {
	path string
}

// NewStore opens the store for key in dir. Daemons polling with the same key,
// such as the API URL and client ID, share one state file.
func NewStore(dir, key string) *Store {
	name := "breaker.json"
	if key != "" {
		sum := sha256.Sum256([]byte(key))
		name = "breaker-" + hex.EncodeToString(sum[:8]) + ".json"
	}
	return &Store{path: filepath.Join(dir, name)}
}

// Load returns the stored state, or a closed state when there is none.
func (s *Store) Load() (*State, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.read()
}

// Update applies fn to the stored state and writes it back under one lock.
func (s *Store) Update(fn func(*State) error) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.write(st)
}

func (s *Store) lock() (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, err
	}
	fl := flock.New(s.path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), lockWait)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	switch {
	case errors.Is(err, context.DeadlineExceeded), err == nil && !locked:
		return func() {}, nil
	case err != nil:
		return nil, err
	}
	return func() { _ = fl.Unlock() }, nil
}

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, err
	}
	var st State
	if json.Unmarshal(data, &st) != nil {
		// A corrupt file closes the breaker.
		return NewState(), nil
	}
	return &st, nil
}

// write replaces the state file through a temp file in the same directory.
func (s *Store) write(st *State) error {
	st.Version = StateVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
