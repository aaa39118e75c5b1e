package ledger

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notely/notely-go/internal/model"
)

// keyGrace keeps a Redis key around a little past its logical deadline so a
// late read reports ErrExpired rather than ErrNotFound.
const keyGrace = time.Minute

// compareAndDelete removes KEYS[1] only if it still holds ARGV[1], so an
// eviction never clobbers a value written concurrently by another request.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisOTP is an OTPLedger shared by every instance pointed at the same Redis.
type RedisOTP struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	opts   options
}

func NewRedisOTP(client *redis.Client, ttl time.Duration, opts ...Option) *RedisOTP {
	return &RedisOTP{client: client, prefix: "otp:", ttl: ttl, opts: buildOptions(opts)}
}

func (l *RedisOTP) key(email string) string {
	return l.prefix + model.NormalizeEmail(email)
}

func (l *RedisOTP) IssueOrReuse(ctx context.Context, email string) (string, bool, error) {
	key := l.key(email)
	now := l.opts.now()

	code, err := l.opts.generate(model.NormalizeEmail(email), now)
	if err != nil {
		return "", false, err
	}
	data, err := json.Marshal(otpEntry{Code: code, ExpiresAt: now.Add(l.ttl)})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal otp: %w", err)
	}

	// Second pass only happens when the first found a logically expired
	// challenge still inside its grace period.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := l.client.SetNX(ctx, key, data, l.ttl+keyGrace).Result()
		if err != nil {
			return "", false, fmt.Errorf("failed to store otp in redis: %w", err)
		}
		if ok {
			return code, false, nil
		}

		raw, err := l.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read otp from redis: %w", err)
		}

		var existing otpEntry
		if err := json.Unmarshal([]byte(raw), &existing); err == nil && !expired(now, existing.ExpiresAt) {
			return "", true, nil
		}
		if err := compareAndDelete.Run(ctx, l.client, []string{key}, raw).Err(); err != nil {
			return "", false, fmt.Errorf("failed to evict stale otp: %w", err)
		}
	}
	return "", true, nil
}

func (l *RedisOTP) Verify(ctx context.Context, email, code string) error {
	key := l.key(email)

	raw, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get otp from redis: %w", err)
	}

	var e otpEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return fmt.Errorf("failed to unmarshal otp: %w", err)
	}

	if expired(l.opts.now(), e.ExpiresAt) {
		if err := compareAndDelete.Run(ctx, l.client, []string{key}, raw).Err(); err != nil {
			return fmt.Errorf("failed to evict expired otp: %w", err)
		}
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(e.Code), []byte(code)) != 1 {
		return ErrMismatch
	}
	return nil
}

func (l *RedisOTP) Discard(ctx context.Context, email string) error {
	return l.client.Del(ctx, l.key(email)).Err()
}

// RedisPending is a PendingLedger shared through Redis.
type RedisPending struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	opts   options
}

func NewRedisPending(client *redis.Client, ttl time.Duration, opts ...Option) *RedisPending {
	return &RedisPending{client: client, prefix: "pending:", ttl: ttl, opts: buildOptions(opts)}
}

func (l *RedisPending) key(email string) string {
	return l.prefix + model.NormalizeEmail(email)
}

func (l *RedisPending) Stage(ctx context.Context, reg model.PendingRegistration) error {
	reg.Email = model.NormalizeEmail(reg.Email)
	reg.ExpiresAt = l.opts.now().Add(l.ttl)

	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal pending registration: %w", err)
	}
	if err := l.client.Set(ctx, l.key(reg.Email), data, l.ttl+keyGrace).Err(); err != nil {
		return fmt.Errorf("failed to stage registration: %w", err)
	}
	return nil
}

func (l *RedisPending) Consume(ctx context.Context, email string) (model.PendingRegistration, error) {
	raw, err := l.client.GetDel(ctx, l.key(email)).Result()
	if errors.Is(err, redis.Nil) {
		return model.PendingRegistration{}, ErrNotFound
	}
	if err != nil {
		return model.PendingRegistration{}, fmt.Errorf("failed to consume registration: %w", err)
	}

	var reg model.PendingRegistration
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		return model.PendingRegistration{}, fmt.Errorf("failed to unmarshal pending registration: %w", err)
	}
	if expired(l.opts.now(), reg.ExpiresAt) {
		return model.PendingRegistration{}, ErrExpired
	}
	return reg, nil
}

func (l *RedisPending) Exists(ctx context.Context, email string) (bool, error) {
	raw, err := l.client.Get(ctx, l.key(email)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read pending registration: %w", err)
	}

	var reg model.PendingRegistration
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		return false, fmt.Errorf("failed to unmarshal pending registration: %w", err)
	}
	return !expired(l.opts.now(), reg.ExpiresAt), nil
}
