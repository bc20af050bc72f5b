package redisclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeLockStore backs the locker with an in-process map, honoring the same
// SetNX and compare-and-delete semantics as the server.
type fakeLockStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{vals: make(map[string]string)}
}

func (f *fakeLockStore) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vals[key]
	return v, ok
}

func (f *fakeLockStore) set(key, val string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key] = val
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.vals[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.vals[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

// fakeRedisError implements redis.Error so HasErrorPrefix recognizes it,
// matching what the server returns over the wire.
type fakeRedisError string

func (e fakeRedisError) Error() string { return string(e) }
func (e fakeRedisError) RedisError()   {}

// EvalSha always misses so Script.Run falls back to Eval.
func (f *fakeLockStore) EvalSha(_ context.Context, _ string, _ []string, _ ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, fakeRedisError("NOSCRIPT no script cache"))
}

func (f *fakeLockStore) EvalShaRO(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

// Eval implements the release script: delete only when the stored token
// matches the caller's.
func (f *fakeLockStore) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vals[keys[0]] == args[0].(string) {
		delete(f.vals, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeLockStore) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeLockStore) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeLockStore) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("", errors.New("not supported"))
}

func newTestLocker(store *fakeLockStore, ttl, wait time.Duration) *redisKeyLocker {
	return &redisKeyLocker{client: store, ttl: ttl, wait: wait}
}

func TestWithKeyLockGivesUpAtDeadline(t *testing.T) {
	store := newFakeLockStore()
	store.set("lock:slot:busy", "other-holder")

	locker := newTestLocker(store, time.Second, 80*time.Millisecond)

	called := false
	start := time.Now()
	err := locker.WithKeyLock(context.Background(), "slot:busy", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("err = %v, want ErrLockNotAcquired", err)
	}
	if called {
		t.Fatal("critical section ran without the lock")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("gave up after %v, want around the 80ms wait", elapsed)
	}
	// The contending holder keeps its lock.
	if v, _ := store.get("lock:slot:busy"); v != "other-holder" {
		t.Fatalf("holder token = %q, want other-holder", v)
	}
}

func TestWithKeyLockAcquiresOnceReleased(t *testing.T) {
	store := newFakeLockStore()
	locker := newTestLocker(store, time.Second, 2*time.Second)

	holding := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		firstDone <- locker.WithKeyLock(context.Background(), "slot:a", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- locker.WithKeyLock(context.Background(), "slot:a", func(context.Context) error {
			return nil
		})
	}()

	// The second acquirer retries while the first still holds the key.
	select {
	case err := <-secondDone:
		t.Fatalf("second acquirer finished while lock held: %v", err)
	case <-time.After(60 * time.Millisecond):
	}

	close(release)
	for _, ch := range []chan error{firstDone, secondDone} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("lock round trip: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("locker did not hand over after release")
		}
	}

	if _, held := store.get("lock:slot:a"); held {
		t.Fatal("key still held after both sections returned")
	}
}

func TestWithKeyLockReleaseKeepsForeignToken(t *testing.T) {
	store := newFakeLockStore()
	locker := newTestLocker(store, time.Second, time.Second)

	// The holder's entry expires mid-section and another acquirer takes the
	// key. Release must not delete the new holder's token.
	err := locker.WithKeyLock(context.Background(), "slot:b", func(context.Context) error {
		store.set("lock:slot:b", "new-holder")
		return nil
	})
	if err != nil {
		t.Fatalf("with key lock: %v", err)
	}
	if v, _ := store.get("lock:slot:b"); v != "new-holder" {
		t.Fatalf("token = %q, want new-holder untouched", v)
	}
}

func TestWithKeyLockHonorsContext(t *testing.T) {
	store := newFakeLockStore()
	store.set("lock:slot:c", "other-holder")

	locker := newTestLocker(store, time.Second, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	err := locker.WithKeyLock(ctx, "slot:c", func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
