package alerting

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type scriptedNotifier struct {
	failures map[string]int // message -> retryable failures before success
	fatal    map[string]bool
	sent     []string
	attempts map[string]int
}

func newScriptedNotifier() *scriptedNotifier {
	return &scriptedNotifier{
		failures: make(map[string]int),
		fatal:    make(map[string]bool),
		attempts: make(map[string]int),
	}
}

func (s *scriptedNotifier) Notify(_ context.Context, message string) error {
	s.attempts[message]++
	if s.fatal[message] {
		return fmt.Errorf("%w: permanent", ErrTransport)
	}
	if s.failures[message] > 0 {
		s.failures[message]--
		return fmt.Errorf("%w: try later", ErrRateLimited)
	}
	s.sent = append(s.sent, message)
	return nil
}

func fastDispatcher(n Notifier, maxAttempts int) *Dispatcher {
	d := NewDispatcher(n, maxAttempts, testLogger())
	d.minDelay = 0
	d.maxDelay = 0
	return d
}

func TestDispatchRetriesRateLimited(t *testing.T) {
	notifier := newScriptedNotifier()
	notifier.failures["a"] = 2

	sent, dropped := fastDispatcher(notifier, 4).Dispatch(context.Background(), []string{"a"})

	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 3, notifier.attempts["a"])
}

func TestDispatchDropsAfterExhaustingRetries(t *testing.T) {
	notifier := newScriptedNotifier()
	notifier.failures["a"] = 10

	sent, dropped := fastDispatcher(notifier, 3).Dispatch(context.Background(), []string{"a", "b"})

	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 3, notifier.attempts["a"])
	assert.Equal(t, []string{"b"}, notifier.sent, "later batches still go out after a drop")
}

func TestDispatchPreservesOrder(t *testing.T) {
	notifier := newScriptedNotifier()
	notifier.failures["b"] = 1

	sent, dropped := fastDispatcher(notifier, 4).Dispatch(context.Background(), []string{"a", "b", "c"})

	assert.Equal(t, 3, sent)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, []string{"a", "b", "c"}, notifier.sent)
}

func TestDispatchContextCancelStops(t *testing.T) {
	notifier := newScriptedNotifier()
	notifier.failures["a"] = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sent, dropped := fastDispatcher(notifier, 4).Dispatch(ctx, []string{"a"})
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, dropped)
}
