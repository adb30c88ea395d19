package kafka

import (
	"context"
	"errors"
	"invoice-assistant-go/pkg/tasks"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProcessor 前 failures 次返回错误，之后成功。
type flakyProcessor struct {
	failures int
	calls    int
}

func (p *flakyProcessor) Process(ctx context.Context, event tasks.SubscriptionEvent) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("database is locked")
	}
	return nil
}

func withFastBackoff(t *testing.T) {
	old := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = old })
}

func TestProcessWithRetry(t *testing.T) {
	withFastBackoff(t)
	event := tasks.SubscriptionEvent{EventID: "evt-1", UserID: 1, Tier: "premium"}

	t.Run("same event is retried until it succeeds", func(t *testing.T) {
		p := &flakyProcessor{failures: 2}
		require.NoError(t, processWithRetry(context.Background(), p, event))
		assert.Equal(t, 3, p.calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		p := &flakyProcessor{failures: maxAttempts + 10}
		err := processWithRetry(context.Background(), p, event)
		assert.EqualError(t, err, "database is locked")
		assert.Equal(t, maxAttempts, p.calls)
	})

	t.Run("cancellation stops retrying", func(t *testing.T) {
		retryBackoff = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &flakyProcessor{failures: maxAttempts}
		err := processWithRetry(ctx, p, event)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, p.calls)
	})
}
