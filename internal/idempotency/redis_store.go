package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/redis"
)

// RedisStore implements Store on a shared Redis. The lease is a SETNX key
// with a TTL so a crashed holder cannot block the key forever; the result
// lives under a separate key with a long TTL.
type RedisStore struct {
	client   redis.LeaseStore
	leaseTTL time.Duration
	// results survive restarts; zero means no expiry
	resultTTL time.Duration
	newOwner  func() string
}

// NewRedisStore wires a Redis-backed idempotency store.
func NewRedisStore(client redis.LeaseStore, leaseTTL, resultTTL time.Duration, newOwner func() string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive")
	}
	if newOwner == nil {
		return nil, fmt.Errorf("owner generator required")
	}
	return &RedisStore{
		client:    client,
		leaseTTL:  leaseTTL,
		resultTTL: resultTTL,
		newOwner:  newOwner,
	}, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (*Reservation, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	payload, err := s.client.Get(ctx, s.client.ResultKey(key))
	switch {
	case err == nil:
		return &Reservation{State: StateCompleted, Result: json.RawMessage(payload)}, nil
	case !errors.Is(err, goredis.Nil):
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "read idempotency result")
	}

	owner := s.newOwner()
	acquired, err := s.client.SetNX(ctx, s.client.LeaseKey(key), owner, s.leaseTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "acquire idempotency lease")
	}
	if !acquired {
		// lost the race; the result may have landed between our two reads
		payload, err := s.client.Get(ctx, s.client.ResultKey(key))
		if err == nil {
			return &Reservation{State: StateCompleted, Result: json.RawMessage(payload)}, nil
		}
		if !errors.Is(err, goredis.Nil) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "read idempotency result")
		}
		return &Reservation{State: StateInProgress}, nil
	}
	return &Reservation{State: StateAcquired, Owner: owner}, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, owner string, result json.RawMessage) error {
	if key == "" || owner == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key and owner are required")
	}
	if err := s.client.Set(ctx, s.client.ResultKey(key), string(result), s.resultTTL); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "store idempotency result")
	}
	return s.releaseLease(ctx, key, owner)
}

func (s *RedisStore) Release(ctx context.Context, key, owner string) error {
	if key == "" || owner == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key and owner are required")
	}
	return s.releaseLease(ctx, key, owner)
}

// releaseLease deletes the lease only if the caller still owns it, so a
// holder whose lease expired cannot evict the next holder.
func (s *RedisStore) releaseLease(ctx context.Context, key, owner string) error {
	leaseKey := s.client.LeaseKey(key)
	current, err := s.client.Get(ctx, leaseKey)
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "read idempotency lease")
	}
	if current != owner {
		return nil
	}
	if err := s.client.Del(ctx, leaseKey); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "release idempotency lease")
	}
	return nil
}
