package captcha

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/mojocn/base64Captcha"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/commentflow/internal/runtime/config"
)

func testCaptchaConfig() config.CaptchaConfig {
	return config.Default().Captcha
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestIssueStoresAnswerUnderUUID(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	gate := NewGate(testCaptchaConfig(), store)

	ch, err := gate.Issue(context.Background())
	require.NoError(t, err)

	_, err = uuid.Parse(ch.ID)
	assert.NoError(t, err)
	require.True(t, strings.HasPrefix(ch.Image, "data:image/png;base64,"))
	_, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(ch.Image, "data:image/png;base64,"))
	assert.NoError(t, err)

	answer := store.Get(ch.ID, false)
	assert.Len(t, answer, testCaptchaConfig().Length)
}

func TestValidateIsCaseInsensitiveAndSingleUse(t *testing.T) {
	stores := map[string]base64Captcha.Store{
		"memory": NewMemoryStore(time.Minute),
	}
	redisStore, _ := newRedisStore(t, time.Minute)
	stores["redis"] = redisStore

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			gate := NewGate(testCaptchaConfig(), store)
			ctx := context.Background()

			require.NoError(t, store.Set("k1", "AbC12"))
			assert.True(t, gate.Validate(ctx, "k1", " abc12 "))
			assert.False(t, gate.Validate(ctx, "k1", "abc12"), "answer must be consumed")

			require.NoError(t, store.Set("k2", "xyz"))
			assert.False(t, gate.Validate(ctx, "k2", "wrong"))
			assert.False(t, gate.Validate(ctx, "k2", "xyz"), "a failed attempt also consumes the answer")

			assert.False(t, gate.Validate(ctx, "", "xyz"))
			require.NoError(t, store.Set("k3", "xyz"))
			assert.False(t, gate.Validate(ctx, "k3", "  "))
			assert.False(t, gate.Validate(ctx, "missing", "xyz"))
		})
	}
}

func TestValidateHonoursCancelledContext(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	gate := NewGate(testCaptchaConfig(), store)
	require.NoError(t, store.Set("k", "123"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, gate.Validate(ctx, "k", "123"))
	assert.True(t, gate.Validate(context.Background(), "k", "123"))

	_, err := gate.Issue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentValidationAcceptsOnce(t *testing.T) {
	redisStore, _ := newRedisStore(t, time.Minute)
	for name, store := range map[string]base64Captcha.Store{
		"memory": NewMemoryStore(time.Minute),
		"redis":  redisStore,
	} {
		t.Run(name, func(t *testing.T) {
			gate := NewGate(testCaptchaConfig(), store)
			require.NoError(t, store.Set("race", "42"))

			var accepted atomic.Int32
			var wg sync.WaitGroup
			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if gate.Validate(context.Background(), "race", "42") {
						accepted.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, accepted.Load())
		})
	}
}

func TestRedisStoreExpiresAnswers(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	require.NoError(t, store.Set("k", "123"))

	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"k"))
	assert.Equal(t, "123", store.Get("k", false))
	assert.True(t, store.Verify("k", "123", false))

	mr.FastForward(2 * time.Minute)
	assert.Equal(t, "", store.Get("k", false))
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	mr.Close()

	assert.Error(t, store.Set("k", "v"))
	assert.Equal(t, "", store.Get("k", true))
}

func TestMemoryStoreExpiresAnswers(t *testing.T) {
	store := NewMemoryStore(20 * time.Millisecond)
	require.NoError(t, store.Set("k", "v"))
	assert.True(t, store.Verify("k", "v", false))

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "", store.Get("k", true))
}

func TestNewStoreSelectsBackend(t *testing.T) {
	store, closeFn := NewStore(config.RedisConfig{}, time.Minute)
	assert.IsType(t, &MemoryStore{}, store)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	store, closeFn = NewStore(config.RedisConfig{Addr: mr.Addr()}, time.Minute)
	assert.IsType(t, &RedisStore{}, store)
	require.NoError(t, store.Set("k", "v"))
	assert.True(t, mr.Exists(keyPrefix+"k"))
	assert.NoError(t, closeFn())
}
