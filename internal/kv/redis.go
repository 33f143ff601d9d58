package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

const redisScanCount = 100

var errValueChanged = errors.New("kv: value changed")

// Redis keeps keys as plain Redis strings. Prefix scans walk SCAN MATCH
// and fetch values with MGET.
type Redis struct {
	cli *redis.Client
}

var _ Store = (*Redis)(nil)

func NewRedis(cli *redis.Client) *Redis {
	return &Redis{cli: cli}
}

func (s *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := s.cli.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *Redis) Set(ctx context.Context, key, value string) error {
	return s.cli.Set(ctx, key, value, 0).Err()
}

func (s *Redis) SetIfAbsent(ctx context.Context, key, value string) error {
	ok, err := s.cli.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *Redis) CompareAndSwap(ctx context.Context, key string, expected *string, value string) (bool, error) {
	if expected == nil {
		return s.cli.SetNX(ctx, key, value, 0).Result()
	}

	err := s.cli.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return errValueChanged
		}
		if err != nil {
			return err
		}
		if current != *expected {
			return errValueChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errValueChanged), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	return s.cli.Del(ctx, key).Err()
}

func (s *Redis) ScanPrefix(ctx context.Context, prefix string) ([]Pair, error) {
	keys := make([]string, 0)
	iter := s.cli.Scan(ctx, 0, escapeGlob(prefix)+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	sort.Strings(keys)

	result := make([]Pair, 0, len(keys))
	for start := 0; start < len(keys); start += redisScanCount {
		end := min(start+redisScanCount, len(keys))
		batch := keys[start:end]
		values, err := s.cli.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", prefix, err)
		}
		for i, v := range values {
			// deleted between SCAN and MGET
			str, ok := v.(string)
			if !ok {
				continue
			}
			result = append(result, Pair{Key: batch[i], Value: str})
		}
	}
	return result, nil
}

func (s *Redis) Close(ctx context.Context) error {
	return s.cli.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
