// Package offers holds in-flight gap-fill offers in redis. An offer lives
// until it is accepted, declined, or its TTL lapses; accept/decline of a
// missing key reports model.ErrOfferExpired.
package offers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// WaitlistOffer invites a waitlist entry into a vacated slot.
type WaitlistOffer struct {
	EntryID   string    `json:"entry_id"`
	OwnerID   string    `json:"owner_id"`
	ClientID  string    `json:"client_id"`
	ServiceID string    `json:"service_id"`
	SlotStart time.Time `json:"slot_start"`
	SlotEnd   time.Time `json:"slot_end"`
	SentAt    time.Time `json:"sent_at"`
}

// MoveOffer invites an existing appointment to move earlier into a gap.
// Backfill marks offers produced by the single backfill pass; accepting one
// does not trigger another pass.
type MoveOffer struct {
	AppointmentID string    `json:"appointment_id"`
	OwnerID       string    `json:"owner_id"`
	ClientID      string    `json:"client_id"`
	ServiceID     string    `json:"service_id"`
	NewStart      time.Time `json:"new_start"`
	OrigStart     time.Time `json:"orig_start"`
	OrigEnd       time.Time `json:"orig_end"`
	Backfill      bool      `json:"backfill"`
	SentAt        time.Time `json:"sent_at"`
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func waitlistKey(entryID string) string { return "offer:waitlist:" + entryID }
func moveKey(apptID string) string      { return "offer:move:" + apptID }

func (s *RedisStore) PutWaitlistOffer(ctx context.Context, offer WaitlistOffer) error {
	return s.put(ctx, waitlistKey(offer.EntryID), offer)
}

// TakeWaitlistOffer consumes the entry's pending offer. The read and delete
// are one GETDEL so two racing responders cannot both win.
func (s *RedisStore) TakeWaitlistOffer(ctx context.Context, entryID string) (WaitlistOffer, error) {
	var offer WaitlistOffer
	if err := s.take(ctx, waitlistKey(entryID), &offer); err != nil {
		return WaitlistOffer{}, err
	}
	return offer, nil
}

func (s *RedisStore) PutMoveOffer(ctx context.Context, offer MoveOffer) error {
	return s.put(ctx, moveKey(offer.AppointmentID), offer)
}

func (s *RedisStore) TakeMoveOffer(ctx context.Context, apptID string) (MoveOffer, error) {
	var offer MoveOffer
	if err := s.take(ctx, moveKey(apptID), &offer); err != nil {
		return MoveOffer{}, err
	}
	return offer, nil
}

func (s *RedisStore) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}
	if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("store offer: %w", err)
	}
	return nil
}

func (s *RedisStore) take(ctx context.Context, key string, v any) error {
	b, err := s.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ErrOfferExpired
	}
	if err != nil {
		return fmt.Errorf("take offer: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	return nil
}
