package broadcast

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentRedis accepts connections, reads everything and never replies.
func silentRedis(t *testing.T) *redis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
			go func() { _, _ = io.Copy(io.Discard, c) }()
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:         ln.Addr().String(),
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		MaxRetries:   -1,
	})
	t.Cleanup(func() {
		_ = rdb.Close()
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return rdb
}

func TestRedisRelay_PublishDoesNotWaitForRedis(t *testing.T) {
	relay := NewRedisRelay(silentRedis(t), NewHub(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.drain(ctx)

	ids := make([]string, 0, 2*relayQueueSize)
	for i := 0; i < 2*relayQueueSize; i++ {
		ids = append(ids, string(rune('a'+i%26)))
	}

	start := time.Now()
	relay.Publish(context.Background(), jobs(ids...))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "Publish must not block on an unresponsive Redis")
}

func TestRedisRelay_FullQueueDrops(t *testing.T) {
	relay := NewRedisRelay(silentRedis(t), NewHub(nil), nil)

	// No drain running: the queue fills and the rest is dropped.
	relay.Publish(context.Background(), jobs(make([]string, relayQueueSize+10)...))
	assert.Len(t, relay.queue, relayQueueSize)
}

func TestRedisRelay_DrainBoundsEachPublish(t *testing.T) {
	relay := NewRedisRelay(silentRedis(t), NewHub(nil), nil)
	relay.publishTimeout = 50 * time.Millisecond

	relay.Publish(context.Background(), jobs("1", "2", "3"))
	require.Len(t, relay.queue, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.drain(ctx)

	require.Eventually(t, func() bool { return len(relay.queue) == 0 }, 2*time.Second, 10*time.Millisecond)
}
