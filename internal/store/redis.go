package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each bucket as a hash of values plus a lexicographic sorted
// set of keys used for ordered scans.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	if prefix == "" {
		prefix = "relaychat"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (s *Redis) valuesKey(bucket string) string {
	return fmt.Sprintf("%s:%s:values", s.prefix, bucket)
}

func (s *Redis) keysKey(bucket string) string {
	return fmt.Sprintf("%s:%s:keys", s.prefix, bucket)
}

func (s *Redis) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := validate(bucket, key); err != nil {
		return nil, err
	}
	value, err := s.client.HGet(ctx, s.valuesKey(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Redis) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := validate(bucket, key); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.valuesKey(bucket), key, value)
		pipe.ZAdd(ctx, s.keysKey(bucket), redis.Z{Score: 0, Member: key})
		return nil
	})
	return err
}

func (s *Redis) Delete(ctx context.Context, bucket, key string) error {
	if err := validate(bucket, key); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.valuesKey(bucket), key)
		pipe.ZRem(ctx, s.keysKey(bucket), key)
		return nil
	})
	return err
}

func (s *Redis) Range(ctx context.Context, bucket string, opts RangeOptions) ([]Entry, error) {
	if err := validate(bucket, "-"); err != nil {
		return nil, err
	}
	bound := "-"
	if opts.After != "" {
		bound = "(" + opts.After
	}
	by := &redis.ZRangeBy{Min: bound, Max: "+"}
	if opts.Limit > 0 {
		by.Count = int64(opts.Limit)
	}
	var keys []string
	var err error
	if opts.Descending {
		keys, err = s.client.ZRevRangeByLex(ctx, s.keysKey(bucket), by).Result()
	} else {
		keys, err = s.client.ZRangeByLex(ctx, s.keysKey(bucket), by).Result()
	}
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, s.valuesKey(bucket), keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(keys))
	for i, key := range keys {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: key, Value: []byte(raw)})
	}
	return out, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
