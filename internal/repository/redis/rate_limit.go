package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell-labs/identity-core/internal/core/port"
)

// SlidingWindowStore keeps per-identifier attempt timestamps in a Redis
// sorted set. Each attempt is a member scored by its nanosecond instant,
// so trimming, counting, and locating the oldest attempt are score range
// operations against a single key.
type SlidingWindowStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewSlidingWindowStore builds a store whose keys carry the given prefix.
// retention bounds how long an idle key survives; it should exceed the
// largest window the store is queried with.
func NewSlidingWindowStore(client *redis.Client, keyPrefix string, retention time.Duration) *SlidingWindowStore {
	return &SlidingWindowStore{
		client:    client,
		keyPrefix: keyPrefix,
		retention: retention,
	}
}

// RecordAttempt appends one attempt at the given instant and refreshes the
// key's expiry in the same round trip.
func (s *SlidingWindowStore) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	instant := at.UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.key(identifier), redis.Z{
		Score:  float64(instant),
		Member: strconv.FormatInt(instant, 10),
	})
	if s.retention > 0 {
		pipe.Expire(ctx, s.key(identifier), s.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// CountAttempts reports how many attempts fall inside the window ending at
// reference.
func (s *SlidingWindowStore) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	lo, hi, err := windowBounds(window, reference)
	if err != nil {
		return 0, err
	}

	count, err := s.client.ZCount(ctx, s.key(identifier), lo, hi).Result()
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return int(count), nil
}

// TrimWindow drops every attempt that slid out of the window ending at
// reference.
func (s *SlidingWindowStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	lo, _, err := windowBounds(window, reference)
	if err != nil {
		return err
	}

	if err := s.client.ZRemRangeByScore(ctx, s.key(identifier), "-inf", "("+lo).Err(); err != nil {
		return fmt.Errorf("trim window: %w", err)
	}
	return nil
}

// OldestAttempt returns the earliest attempt still inside the window, with
// ok false when the window holds nothing. Callers use it to compute how
// long until a limited identifier frees up a slot.
func (s *SlidingWindowStore) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	lo, hi, err := windowBounds(window, reference)
	if err != nil {
		return time.Time{}, false, err
	}

	members, err := s.client.ZRangeByScoreWithScores(ctx, s.key(identifier), &redis.ZRangeBy{
		Min:   lo,
		Max:   hi,
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("oldest attempt: %w", err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}

	return time.Unix(0, int64(members[0].Score)), true, nil
}

func (s *SlidingWindowStore) key(identifier string) string {
	if s.keyPrefix == "" {
		return identifier
	}
	return s.keyPrefix + ":" + identifier
}

func windowBounds(window time.Duration, reference time.Time) (string, string, error) {
	if window <= 0 {
		return "", "", errors.New("window must be positive")
	}
	lo := strconv.FormatInt(reference.Add(-window).UnixNano(), 10)
	hi := strconv.FormatInt(reference.UnixNano(), 10)
	return lo, hi, nil
}

var _ port.RateLimitStore = (*SlidingWindowStore)(nil)
