package repository

import (
	"context"
	"errors"
	"fmt"
	"invoice-assistant-go/pkg/log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrTurnLockTimeout 表示在等待时间内没有拿到回合锁。
var ErrTurnLockTimeout = errors.New("timed out waiting for previous chat turn")

// TurnLocker 串行化同一用户的聊天回合，不同用户之间互不影响。
type TurnLocker interface {
	Acquire(ctx context.Context, userID uint) (release func(), err error)
}

// 只有持有者才能释放锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// 持有期间续期，防止长回合中锁过期被下一个请求拿走
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

type redisTurnLocker struct {
	redisClient *redis.Client
	ttl         time.Duration
	wait        time.Duration
	poll        time.Duration
}

// NewRedisTurnLocker 创建一个基于 Redis SETNX 的分布式回合锁。
func NewRedisTurnLocker(redisClient *redis.Client, ttl, wait time.Duration) TurnLocker {
	return &redisTurnLocker{redisClient: redisClient, ttl: ttl, wait: wait, poll: 100 * time.Millisecond}
}

func (l *redisTurnLocker) Acquire(ctx context.Context, userID uint) (func(), error) {
	key := fmt.Sprintf("chat:lock:%d", userID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.redisClient.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire turn lock: %w", err)
		}
		if ok {
			stop := keepAlive(l.ttl/3, func() (bool, error) {
				return extendScript.Run(context.Background(), l.redisClient, []string{key}, token, l.ttl.Milliseconds()).Bool()
			})
			var once sync.Once
			return func() {
				once.Do(func() {
					stop()
					// 使用独立上下文，请求取消后也要释放
					_ = releaseScript.Run(context.Background(), l.redisClient, []string{key}, token).Err()
				})
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTurnLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// keepAlive 每隔 interval 调用一次 extend，直到返回的 stop 被调用，
// 或 extend 报告锁已不属于自己。stop 返回时续期协程已退出。
func keepAlive(interval time.Duration, extend func() (bool, error)) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := extend()
				if err != nil {
					log.Warnw("extend turn lock failed", "error", err)
					continue
				}
				if !held {
					log.Warnw("turn lock lost before release")
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

// localTurnLocker 是进程内的按用户互斥锁，用于内存模式与测试。
type localTurnLocker struct {
	mu    sync.Mutex
	locks map[uint]chan struct{}
}

// NewLocalTurnLocker 创建一个进程内的 TurnLocker。
func NewLocalTurnLocker() TurnLocker {
	return &localTurnLocker{locks: make(map[uint]chan struct{})}
}

func (l *localTurnLocker) slot(userID uint) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[userID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[userID] = ch
	}
	return ch
}

func (l *localTurnLocker) Acquire(ctx context.Context, userID uint) (func(), error) {
	ch := l.slot(userID)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
