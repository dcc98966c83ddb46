package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
)

// RedisRegistry keeps records in Redis under keyPrefix+id. Entries are
// JSON-encoded; a zero TTL keeps them until overwritten.
type RedisRegistry[T any] struct {
	Client    *redis.Client
	IdFn      IDExtractor[T]
	KeyPrefix string
	TTL       time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

func NewRedisRegistry[T any](ctx context.Context, conf RedisConfig, keyPrefix string, ttl time.Duration, idFn IDExtractor[T]) (*RedisRegistry[T], error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("Error connecting to Redis Client: %w", err)
	}

	return &RedisRegistry[T]{
		Client:    client,
		IdFn:      idFn,
		KeyPrefix: keyPrefix,
		TTL:       ttl,
	}, nil
}

func (r *RedisRegistry[T]) Upsert(ctx context.Context, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("Registry.Redis.Upsert"),
			svcerror.WithMsg("marshal entity"),
			svcerror.WithCause(err),
		)
	}

	if err := r.Client.Set(ctx, r.KeyPrefix+r.IdFn(entity), data, r.TTL).Err(); err != nil {
		return svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("Registry.Redis.Upsert"),
			svcerror.WithMsg("save entity"),
			svcerror.WithCause(err),
		)
	}
	return nil
}

func (r *RedisRegistry[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T

	data, err := r.Client.Get(ctx, r.KeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, svcerror.New(
			svcerror.ErrNotFound,
			svcerror.WithOp("Registry.Redis.Get"),
			svcerror.WithMsg(fmt.Sprintf(errFmtNotFound, id)),
		)
	}
	if err != nil {
		return zero, svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("Registry.Redis.Get"),
			svcerror.WithCause(err),
		)
	}

	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return zero, svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("Registry.Redis.Get"),
			svcerror.WithMsg("unmarshal entity"),
			svcerror.WithCause(err),
		)
	}
	return entity, nil
}

func (r *RedisRegistry[T]) GetAll(ctx context.Context) ([]T, error) {
	var entities []T

	iter := r.Client.Scan(ctx, 0, r.KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.Client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, svcerror.New(
				svcerror.ErrRepositoryError,
				svcerror.WithOp("Registry.Redis.GetAll"),
				svcerror.WithCause(err),
			)
		}

		var entity T
		if err := json.Unmarshal(data, &entity); err != nil {
			return nil, svcerror.New(
				svcerror.ErrRepositoryError,
				svcerror.WithOp("Registry.Redis.GetAll"),
				svcerror.WithMsg("unmarshal entity"),
				svcerror.WithCause(err),
			)
		}
		entities = append(entities, entity)
	}
	if err := iter.Err(); err != nil {
		return nil, svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("Registry.Redis.GetAll"),
			svcerror.WithCause(err),
		)
	}
	return entities, nil
}
