package repository

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeepAlive(t *testing.T) {
	t.Run("extends until stopped", func(t *testing.T) {
		var calls int32
		stop := keepAlive(5*time.Millisecond, func() (bool, error) {
			atomic.AddInt32(&calls, 1)
			return true, nil
		})
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
		stop()
		stop() // 重复调用无副作用

		after := atomic.LoadInt32(&calls)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, after, atomic.LoadInt32(&calls), "no extension after stop returns")
	})

	t.Run("extend errors do not stop renewal", func(t *testing.T) {
		var calls int32
		stop := keepAlive(5*time.Millisecond, func() (bool, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return false, errors.New("connection reset")
			}
			return true, nil
		})
		defer stop()
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
	})

	t.Run("lost lock ends renewal", func(t *testing.T) {
		var calls int32
		stop := keepAlive(5*time.Millisecond, func() (bool, error) {
			atomic.AddInt32(&calls, 1)
			return false, nil
		})
		defer stop()
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}
