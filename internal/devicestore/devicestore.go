// Package devicestore remembers device tokens the gateway reported as
// unregistered so callers can stop pushing to them.
package devicestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/christianselig/apns/internal/apns"
)

const keyFormat = "apns:unregistered:%s"

var ErrNotFound = errors.New("device token not marked as unregistered")

type Store interface {
	MarkUnregistered(ctx context.Context, token string, since time.Time) error
	UnregisteredSince(ctx context.Context, token string) (time.Time, error)
	Forget(ctx context.Context, token string) error
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore keeps each mark for ttl. A zero ttl keeps marks forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(token string) string {
	return fmt.Sprintf(keyFormat, token)
}

func (s *RedisStore) MarkUnregistered(ctx context.Context, token string, since time.Time) error {
	return s.client.Set(ctx, key(token), since.Unix(), s.ttl).Err()
}

func (s *RedisStore) UnregisteredSince(ctx context.Context, token string) (time.Time, error) {
	ts, err := s.client.Get(ctx, key(token)).Int64()
	if err == redis.Nil {
		return time.Time{}, ErrNotFound
	} else if err != nil {
		return time.Time{}, err
	}

	return time.Unix(ts, 0).UTC(), nil
}

// Forget clears the mark, typically once the device registers again.
func (s *RedisStore) Forget(ctx context.Context, token string) error {
	return s.client.Del(ctx, key(token)).Err()
}

// Record marks the token carried by err when err reports an unregistered
// device. It returns false for any other error. A response without a
// timestamp is recorded as of now.
func Record(ctx context.Context, store Store, err error) (bool, error) {
	var aerr *apns.Error
	if !errors.As(err, &aerr) || !errors.Is(err, apns.ErrUnregistered) {
		return false, nil
	}

	since := aerr.UnavailableSince
	if since.IsZero() {
		since = time.Now().UTC()
	}

	if err := store.MarkUnregistered(ctx, aerr.Token, since); err != nil {
		return false, fmt.Errorf("marking %s unregistered: %w", aerr.Token, err)
	}

	return true, nil
}
