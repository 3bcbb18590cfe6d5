package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestScope_EndRunsHooksInReverseOrder(t *testing.T) {
	s := NewScope(context.Background(), "view")
	var calls []string
	s.OnEnd(func() { calls = append(calls, "first") })
	s.OnEnd(func() { calls = append(calls, "second") })

	s.End()

	assert.Equal(t, []string{"second", "first"}, calls)
	assert.True(t, s.Ended())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
	select {
	case <-s.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestScope_EndIsIdempotent(t *testing.T) {
	s := NewScope(context.Background(), "view")
	count := 0
	s.OnEnd(func() { count++ })

	s.End()
	s.End()

	assert.Equal(t, 1, count)
}

func TestScope_RemovedHookDoesNotRun(t *testing.T) {
	s := NewScope(context.Background(), "view")
	called := false
	remove := s.OnEnd(func() { called = true })
	remove()

	s.End()

	assert.False(t, called)
}

func TestScope_RemovedHooksAreReleased(t *testing.T) {
	s := NewScope(context.Background(), "view")
	var calls []string
	s.OnEnd(func() { calls = append(calls, "kept first") })
	for i := 0; i < 1000; i++ {
		remove := s.OnEnd(func() { calls = append(calls, "removed") })
		remove()
	}
	s.OnEnd(func() { calls = append(calls, "kept last") })

	s.mu.Lock()
	assert.Len(t, s.hooks, 2)
	s.mu.Unlock()

	s.End()
	assert.Equal(t, []string{"kept last", "kept first"}, calls)
}

func TestScope_OnEndAfterEndRunsImmediately(t *testing.T) {
	s := NewScope(context.Background(), "view")
	s.End()

	called := false
	remove := s.OnEnd(func() { called = true })
	require.NotNil(t, remove)
	remove()

	assert.True(t, called)
}

func TestScope_ParentCancellationEndsScope(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewScope(parent, "view")
	ended := make(chan struct{})
	s.OnEnd(func() { close(ended) })

	cancel()

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("scope did not end after parent cancellation")
	}
	assert.True(t, s.Ended())
	assert.Equal(t, "view", s.Name())
}
