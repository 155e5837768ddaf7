package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "edge-router/internal/common/errors"
	"edge-router/internal/common/logging"
	"edge-router/internal/routing"
)

// Redis key layout. Route definitions live under one JSON value per route,
// service definitions under one JSON value per service, and writers publish
// a tick on the events channel after every change.
const (
	redisRouteKeyPrefix   = "edge:route:"
	redisServiceKeyPrefix = "edge:service:"
	redisEventsChannel    = "edge:events"

	redisScanCount  = 100
	redisRescanSlow = 30 * time.Second
)

// RedisConfig holds connection settings for the Redis provider.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// RedisProvider reads route and service definitions from a Redis keyspace
// and re-scans it whenever a change tick arrives on the events channel. A
// slow periodic re-scan covers writers that do not publish ticks.
type RedisProvider struct {
	client *redis.Client
	logger logging.Logger

	last *Definitions
}

// NewRedisProvider creates a provider over a Redis keyspace. It does not
// dial: an unreachable Redis surfaces as a Watch error, which the watcher
// retries with backoff rather than failing startup.
func NewRedisProvider(config RedisConfig, logger logging.Logger) *RedisProvider {
	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	return &RedisProvider{client: client, logger: logger}
}

// Name identifies the provider.
func (p *RedisProvider) Name() string { return "redis" }

// Close releases the Redis connection pool.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Watch emits the keyspace's definitions, then re-scans on every change
// tick until ctx is canceled.
func (p *RedisProvider) Watch(ctx context.Context, events chan<- routing.Event) error {
	pubsub := p.client.Subscribe(ctx, redisEventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return apperrors.DiscoveryError(fmt.Sprintf("subscribe %s", redisEventsChannel), err)
	}

	if err := p.rescan(ctx, events); err != nil {
		return err
	}

	ticks := pubsub.Channel()
	rescan := time.NewTicker(redisRescanSlow)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ticks:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			if err := p.rescan(ctx, events); err != nil {
				return err
			}
		case <-rescan.C:
			if err := p.rescan(ctx, events); err != nil {
				return err
			}
		}
	}
}

// rescan loads the full keyspace state and emits the delta against the
// previously observed state.
func (p *RedisProvider) rescan(ctx context.Context, events chan<- routing.Event) error {
	defs, err := p.load(ctx)
	if err != nil {
		return err
	}

	for _, ev := range diffDefinitions(p.last, defs) {
		select {
		case <-ctx.Done():
			return nil
		case events <- ev:
		}
	}
	p.last = defs
	return nil
}

func (p *RedisProvider) load(ctx context.Context) (*Definitions, error) {
	defs := &Definitions{Services: make(map[string]Service)}

	routeKeys, err := p.scanKeys(ctx, redisRouteKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	// SCAN order is unspecified; sort so route declaration order is stable
	// across rescans.
	sort.Strings(routeKeys)
	for _, key := range routeKeys {
		data, err := p.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}

		var route routing.Route
		if err := json.Unmarshal([]byte(data), &route); err != nil {
			p.logger.Warn("Skipping undecodable route definition",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		if route.ID == "" {
			route.ID = strings.TrimPrefix(key, redisRouteKeyPrefix)
		}
		defs.Routes = append(defs.Routes, route)
	}

	serviceKeys, err := p.scanKeys(ctx, redisServiceKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	for _, key := range serviceKeys {
		data, err := p.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}

		var service Service
		if err := json.Unmarshal([]byte(data), &service); err != nil {
			p.logger.Warn("Skipping undecodable service definition",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		defs.Services[strings.TrimPrefix(key, redisServiceKeyPrefix)] = service
	}

	return defs, nil
}

func (p *RedisProvider) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := p.client.Scan(ctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
