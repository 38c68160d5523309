package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/daemon-console/internal/poll"
	"github.com/basecamp/daemon-console/internal/token"
)

// staticProvider returns a token carrying its generation.
type staticProvider struct{ gen string }

func (p staticProvider) AcquireToken(context.Context, []string) (*token.Result, error) {
	return &token.Result{AccessToken: p.gen}, nil
}

func countingBuild(fail *atomic.Bool) (func() (token.Provider, error), *atomic.Int32) {
	var n atomic.Int32
	return func() (token.Provider, error) {
		if fail != nil && fail.Load() {
			return nil, errors.New("bad pem")
		}
		gen := n.Add(1)
		return staticProvider{gen: string(rune('0' + gen))}, nil
	}, &n
}

func currentToken(t *testing.T, r *Rotator) string {
	t.Helper()
	res, err := r.AcquireToken(context.Background(), nil)
	require.NoError(t, err)
	return res.AccessToken
}

func TestRotatorStartsWithInitialProvider(t *testing.T) {
	build, n := countingBuild(nil)
	r, err := NewRotator(staticProvider{gen: "0"}, build, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(0), n.Load(), "the initial provider is not rebuilt")
	assert.Equal(t, "0", currentToken(t, r))
	assert.Equal(t, 0, r.Reloads())
}

func TestRotatorRequiresInitialProvider(t *testing.T) {
	build, _ := countingBuild(nil)
	_, err := NewRotator(nil, build, nil, nil)
	assert.Error(t, err)
}

func TestRotatorReloadKeepsProviderOnFailure(t *testing.T) {
	var fail atomic.Bool
	build, _ := countingBuild(&fail)
	r, err := NewRotator(staticProvider{gen: "0"}, build, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.Reload())
	assert.Equal(t, "1", currentToken(t, r))

	fail.Store(true)
	assert.EqualError(t, r.Reload(), "bad pem")
	assert.Equal(t, "1", currentToken(t, r))
	assert.Equal(t, 1, r.Reloads())
}

func TestRotatorWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	pem := filepath.Join(dir, "daemon.pem")
	require.NoError(t, os.WriteFile(pem, []byte("v1"), 0o600))

	build, _ := countingBuild(nil)
	r, err := NewRotator(staticProvider{gen: "0"}, build, []string{pem}, nil)
	require.NoError(t, err)
	r.debounce = 20 * time.Millisecond
	r.reloaded = make(chan error, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// The watcher has no ready signal; retry the write until a reload is seen.
	var reloadErr error
	require.Eventually(t, func() bool {
		_ = os.WriteFile(pem, []byte("v2"), 0o600)
		select {
		case reloadErr = <-r.reloaded:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, reloadErr)
	assert.NotEqual(t, "0", currentToken(t, r))

	cancel()
	require.NoError(t, <-done)
}

func TestRotatorWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	pem := filepath.Join(dir, "daemon.pem")
	require.NoError(t, os.WriteFile(pem, []byte("v1"), 0o600))

	build, _ := countingBuild(nil)
	r, err := NewRotator(staticProvider{gen: "0"}, build, []string{pem}, nil)
	require.NoError(t, err)
	r.debounce = 10 * time.Millisecond
	r.reloaded = make(chan error, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Watch(ctx) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-r.reloaded:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, r.Reloads())
}

func TestRotatorWatchMissingDirectory(t *testing.T) {
	build, _ := countingBuild(nil)
	r, err := NewRotator(staticProvider{gen: "0"}, build, []string{filepath.Join(t.TempDir(), "gone", "daemon.pem")}, nil)
	require.NoError(t, err)

	assert.Error(t, r.Watch(context.Background()))
}

func TestDaemonRotationFailureDoesNotStop(t *testing.T) {
	build, _ := countingBuild(nil)
	r, err := NewRotator(staticProvider{gen: "0"}, build, []string{filepath.Join(t.TempDir(), "gone", "daemon.pem")}, nil)
	require.NoError(t, err)

	ticks := make(chan struct{}, 8)
	d := &Daemon{
		Scheduler: &poll.Scheduler{Interval: 5 * time.Millisecond, Job: func(context.Context) error {
			select {
			case ticks <- struct{}{}:
			default:
			}
			return nil
		}},
		Rotation: r,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler stopped after the watcher failed")
		}
	}
	cancel()
	assert.NoError(t, <-done)
}
