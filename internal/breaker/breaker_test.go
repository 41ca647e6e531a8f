package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func failing(ctx context.Context) error { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("test", DefaultConfig(), nil)

	assert.Equal(t, CircuitClosed, b.State())
	assert.False(t, b.IsOpen())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	config := Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: time.Minute}
	b := New("test", config, nil)

	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), failing)
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	config := Config{FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: time.Minute}
	b := New("test", config, nil)

	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), succeeding)
	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)

	// Two failures, a success, two failures: never three in a row.
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_RejectsWithoutInvokingWhileOpen(t *testing.T) {
	config := Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: time.Minute}
	b := New("test", config, nil)

	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), failing)
	}

	invoked := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	config := Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: 20 * time.Millisecond}
	b := New("test", config, nil)

	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	assert.Equal(t, CircuitOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	// Next call is allowed through as a trial.
	err := b.Execute(context.Background(), succeeding)
	assert.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, b.State())

	// Three consecutive successes close the circuit.
	assert.NoError(t, b.Execute(context.Background(), succeeding))
	assert.NoError(t, b.Execute(context.Background(), succeeding))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	config := Config{FailureThreshold: 2, SuccessThreshold: 2, RecoveryTimeout: 20 * time.Millisecond}
	b := New("test", config, nil)

	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	assert.Equal(t, CircuitOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	err := b.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, CircuitOpen, b.State())

	// The open timer restarted, so the next call is rejected again.
	err = b.Execute(context.Background(), succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_StatsTracksOutcomes(t *testing.T) {
	b := New("test", DefaultConfig(), nil)

	_ = b.Execute(context.Background(), succeeding)
	_ = b.Execute(context.Background(), failing)

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, 1, stats.ConsecutiveFailures)
}

func TestBreaker_Reset(t *testing.T) {
	config := Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Minute}
	b := New("test", config, nil)

	_ = b.Execute(context.Background(), failing)
	assert.Equal(t, CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
	assert.NoError(t, b.Execute(context.Background(), succeeding))
}

func TestManager_RegisterAndGet(t *testing.T) {
	m := NewManager(nil)

	b := m.Register("musicbrainz", DefaultConfig())
	got, ok := m.Get("musicbrainz")
	assert.True(t, ok)
	assert.Same(t, b, got)

	_, ok = m.Get("unknown")
	assert.False(t, ok)
}

func TestManager_RegisterReplaces(t *testing.T) {
	m := NewManager(nil)

	first := m.Register("wordnik", Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Minute})
	_ = first.Execute(context.Background(), failing)
	assert.Equal(t, CircuitOpen, first.State())

	second := m.Register("wordnik", DefaultConfig())
	got, _ := m.Get("wordnik")
	assert.Same(t, second, got)
	assert.Equal(t, CircuitClosed, got.State())
}
