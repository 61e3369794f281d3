package captcha

import (
	"context"
	"sync"
	"time"

	"github.com/mojocn/base64Captcha"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/drblury/commentflow/internal/runtime/config"
)

const (
	keyPrefix        = "commentflow:captcha:"
	redisCallTimeout = 2 * time.Second
)

// getDelScript is used when the server predates GETDEL.
const getDelScript = `local v=redis.call('GET', KEYS[1]); if v then redis.call('DEL', KEYS[1]); end; return v`

// RedisStore keeps answers in redis so every intake instance sees them.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var (
	_ base64Captcha.Store = (*RedisStore)(nil)
	_ base64Captcha.Store = (*MemoryStore)(nil)
)

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  redisCallTimeout,
		WriteTimeout: redisCallTimeout,
	})
}

func (s *RedisStore) Set(id string, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
	defer cancel()
	return s.client.Set(ctx, keyPrefix+id, value, s.ttl).Err()
}

func (s *RedisStore) Get(id string, clear bool) string {
	ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
	defer cancel()
	key := keyPrefix + id

	if !clear {
		v, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return ""
		}
		return v
	}

	v, err := s.client.GetDel(ctx, key).Result()
	if err == nil {
		return v
	}
	if err == redis.Nil {
		return ""
	}
	res, err := s.client.Eval(ctx, getDelScript, []string{key}).Result()
	if err != nil {
		return ""
	}
	str, _ := res.(string)
	return str
}

func (s *RedisStore) Verify(id, answer string, clear bool) bool {
	v := s.Get(id, clear)
	return v != "" && v == answer
}

// MemoryStore keeps answers in process. It suits a single intake instance.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: cache.New(ttl, 2*ttl)}
}

func (s *MemoryStore) Set(id string, value string) error {
	s.cache.SetDefault(id, value)
	return nil
}

func (s *MemoryStore) Get(id string, clear bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(id)
	if !ok {
		return ""
	}
	if clear {
		s.cache.Delete(id)
	}
	str, _ := v.(string)
	return str
}

func (s *MemoryStore) Verify(id, answer string, clear bool) bool {
	v := s.Get(id, clear)
	return v != "" && v == answer
}

// NewStore picks redis when an address is configured and memory otherwise.
// The returned close function releases the redis client.
func NewStore(redisCfg config.RedisConfig, ttl time.Duration) (base64Captcha.Store, func() error) {
	if redisCfg.Addr == "" {
		return NewMemoryStore(ttl), func() error { return nil }
	}
	client := NewRedisClient(redisCfg)
	return NewRedisStore(client, ttl), client.Close
}
