package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/AnnaFoldberg/tea-app/pkg/utils"
)

type IDExtractor[T any] func(T) string

// Registry is a concurrent key/value store of the latest known state per
// entity. Each Upsert and Get is atomic on its own; callers doing
// read-then-write sequences get no atomicity across the pair.
type Registry[T any] interface {
	Upsert(ctx context.Context, entity T) error
	Get(ctx context.Context, id string) (T, error)
	GetAll(ctx context.Context) ([]T, error)
}

type RegistryType string

const (
	RegistryMemory RegistryType = "memory"
	RegistryRedis  RegistryType = "redis"
)

func NewRegistry[T any](ctx context.Context, regType RegistryType, keyPrefix string, idExtractor IDExtractor[T]) (Registry[T], error) {
	switch regType {
	case RegistryMemory:
		return NewMemoryRegistry(idExtractor), nil
	case RegistryRedis:
		redisConf := RedisConfig{
			Address:  utils.GetEnv("REDIS_CLIENT_ADDRESS", "redis:6379"),
			Password: utils.GetEnv("REDIS_CLIENT_PASSWORD", ""),
			DB:       0,
		}
		ttl, _ := time.ParseDuration(utils.GetEnv("REDIS_CLIENT_TTL", "0"))
		return NewRedisRegistry(ctx, redisConf, keyPrefix, ttl, idExtractor)
	default:
		return nil, fmt.Errorf("Failed to create Registry: Unsupported Registry Type %q", regType)
	}
}
