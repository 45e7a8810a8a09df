package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTarget struct {
	calls     atomic.Int32
	olderThan atomic.Int64
	err       error
}

func (c *countingTarget) SweepStale(_ context.Context, olderThan time.Duration) (int, error) {
	c.calls.Add(1)
	c.olderThan.Store(int64(olderThan))
	return 3, c.err
}

type memoryLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released atomic.Int32
}

type memoryLock struct {
	locker *memoryLocker
	key    string
}

func (l *memoryLock) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	l.locker.released.Add(1)
	return nil
}

func (m *memoryLocker) Obtain(_ context.Context, key string, _ time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	if m.held[key] {
		return nil, ErrLocked
	}
	m.held[key] = true
	return &memoryLock{locker: m, key: key}, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, Config{Schedule: "@every 5m", StaleAfter: time.Minute}, nil)
	assert.Error(t, err)

	_, err = New(&countingTarget{}, nil, Config{Schedule: "@every 5m"}, nil)
	assert.Error(t, err)

	_, err = New(&countingTarget{}, nil, Config{Schedule: "every five minutes", StaleAfter: time.Minute}, nil)
	assert.Error(t, err)
}

func TestRunOnce_WithoutLocker(t *testing.T) {
	target := &countingTarget{}
	s, err := New(target, nil, Config{Schedule: "@every 5m", StaleAfter: 15 * time.Minute}, nil)
	require.NoError(t, err)

	swept, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 3, swept)
	assert.Equal(t, int64(15*time.Minute), target.olderThan.Load())
	assert.Equal(t, int64(1), s.Runs())
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	target := &countingTarget{}
	locker := &memoryLocker{}
	s, err := New(target, locker, Config{Schedule: "@every 5m", StaleAfter: time.Minute}, nil)
	require.NoError(t, err)

	held, err := locker.Obtain(context.Background(), LockKey, time.Minute)
	require.NoError(t, err)

	_, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, target.calls.Load())
	assert.Equal(t, int64(1), s.Skipped())

	require.NoError(t, held.Release(context.Background()))

	_, ran, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), target.calls.Load())
	assert.Equal(t, int32(2), locker.released.Load(), "the sweep releases its lock")
}

func TestRunOnce_LockErrorsAndSweepErrors(t *testing.T) {
	target := &countingTarget{err: errors.New("db down")}
	locker := &memoryLocker{err: errors.New("redis unreachable")}
	s, err := New(target, locker, Config{Schedule: "@every 5m", StaleAfter: time.Minute}, nil)
	require.NoError(t, err)

	_, _, err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, target.calls.Load())

	locker.err = nil
	_, ran, err := s.RunOnce(context.Background())
	assert.True(t, ran)
	assert.EqualError(t, err, "db down")
	assert.Equal(t, int32(1), locker.released.Load())
}

func TestRunOnce_ConcurrentReplicasSweepOnce(t *testing.T) {
	locker := &memoryLocker{}
	target := &blockingTarget{release: make(chan struct{}), started: make(chan struct{}, 2)}

	a, err := New(target, locker, Config{Schedule: "@every 5m", StaleAfter: time.Minute}, nil)
	require.NoError(t, err)
	b, err := New(target, locker, Config{Schedule: "@every 5m", StaleAfter: time.Minute}, nil)
	require.NoError(t, err)

	done := make(chan bool)
	go func() {
		_, ran, _ := a.RunOnce(context.Background())
		done <- ran
	}()
	<-target.started

	_, ran, err := b.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	close(target.release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), target.calls.Load())
}

type blockingTarget struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingTarget) SweepStale(ctx context.Context, _ time.Duration) (int, error) {
	b.calls.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return 0, nil
}

func TestStartRunsOnSchedule(t *testing.T) {
	target := &countingTarget{}
	s, err := New(target, &memoryLocker{}, Config{Schedule: "@every 1s", StaleAfter: time.Minute}, nil)
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return target.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestDialRedis_InvalidURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "://not-a-url")
	assert.Error(t, err)
}
