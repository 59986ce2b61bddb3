package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis 只实现队列用到的 list 命令。
type fakeRedis struct {
	redis.Cmdable
	mu    sync.Mutex
	lists map[string][]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{lists: make(map[string][]string)}
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append([]string{v.(string)}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append(f.lists[key], v.(string))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LRem(_ context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	kept := f.lists[key][:0]
	for _, item := range f.lists[key] {
		if item == value.(string) && (count == 0 || removed < count) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	f.lists[key] = kept
	return redis.NewIntResult(removed, nil)
}

// move 实现 LMOVE 的 LEFT/RIGHT 语义。
func (f *fakeRedis) move(source, destination, srcpos, destpos string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[source]
	if len(list) == 0 {
		return "", false
	}
	var value string
	if srcpos == "LEFT" {
		value, f.lists[source] = list[0], list[1:]
	} else {
		value, f.lists[source] = list[len(list)-1], list[:len(list)-1]
	}
	if destpos == "LEFT" {
		f.lists[destination] = append([]string{value}, f.lists[destination]...)
	} else {
		f.lists[destination] = append(f.lists[destination], value)
	}
	return value, true
}

func (f *fakeRedis) LMove(_ context.Context, source, destination, srcpos, destpos string) *redis.StringCmd {
	if value, ok := f.move(source, destination, srcpos, destpos); ok {
		return redis.NewStringResult(value, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) BLMove(ctx context.Context, source, destination, srcpos, destpos string, _ time.Duration) *redis.StringCmd {
	if err := ctx.Err(); err != nil {
		return redis.NewStringResult("", err)
	}
	if value, ok := f.move(source, destination, srcpos, destpos); ok {
		return redis.NewStringResult(value, nil)
	}
	time.Sleep(5 * time.Millisecond)
	return redis.NewStringResult("", redis.Nil)
}

func TestRedisQueuePublishConsumeAndRequeue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := newFakeRedis()
	queue := newRedisQueue(client, nil, RedisQueueConfig{})
	for _, id := range []string{"a", "b", "c"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	if got := client.lists["tradepilot:jobs"]; len(got) != 3 || got[2] != "a" {
		t.Fatalf("unexpected list %v", got)
	}

	var (
		mu     sync.Mutex
		seen   []string
		failed bool
	)
	done := make(chan struct{})
	handler := func(_ context.Context, jobID string) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, jobID)
		if jobID == "b" && !failed {
			failed = true
			return errors.New("try later")
		}
		if len(seen) == 4 {
			close(done)
		}
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- queue.Consume(ctx, 1, handler) }()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("jobs not consumed in time")
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "b", "c"}
	for i, id := range want {
		if seen[i] != id {
			t.Fatalf("consume order = %v, want %v", seen, want)
		}
	}
}

func TestRedisQueueCloseWithoutCloser(t *testing.T) {
	queue := newRedisQueue(newFakeRedis(), nil, RedisQueueConfig{Queue: "custom"})
	if queue.queue != "custom" || queue.wait != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", queue)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRedisQueueRecoversUnacknowledgedJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := newFakeRedis()
	// processing 左端为最近取出的任务。
	client.lists["tradepilot:jobs:processing"] = []string{"newer", "older"}
	queue := newRedisQueue(client, nil, RedisQueueConfig{})

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{})
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, jobID string) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, jobID)
			if len(seen) == 2 {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("recovered jobs not consumed")
	}
	for {
		client.mu.Lock()
		remaining := len(client.lists["tradepilot:jobs:processing"])
		client.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("processing list not drained, %d left", remaining)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "older" || seen[1] != "newer" {
		t.Fatalf("recovery order = %v", seen)
	}
}
