package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis serializes confirm/create critical sections per slot with a SetNX
// lock. The lock is an optimization that shortens the read-act gap; the
// store's conditional writes remain the correctness guarantee, so an
// expired or lost lock never corrupts state.
type Redis struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client, Logger: log.Default()}
}

func slotKey(date, startTime, fieldID string) string {
	return fmt.Sprintf("slot_lock:%s:%s:%s", fieldID, date, startTime)
}

// getSlotLockTTL returns the lock TTL from the environment or the default.
func (r *Redis) getSlotLockTTL() time.Duration {
	defaultTTL := 30 * time.Second

	ttlStr := os.Getenv("SLOT_LOCK_TTL_SECONDS")
	if ttlStr == "" {
		return defaultTTL
	}

	ttlSec, err := strconv.Atoi(ttlStr)
	if err != nil {
		r.Logger.Println("REDIS: invalid SLOT_LOCK_TTL_SECONDS value '" + ttlStr + "', using default 30 seconds")
		return defaultTTL
	}
	return time.Duration(ttlSec) * time.Second
}

// LockSlot acquires the slot lock for ownerID. Returns false when another
// owner currently holds it.
func (r *Redis) LockSlot(date, startTime, fieldID, ownerID string) (bool, error) {
	key := slotKey(date, startTime, fieldID)
	ok, err := r.Client.SetNX(context.Background(), key, ownerID, r.getSlotLockTTL()).Result()
	return ok, err
}

// UnlockSlot releases the slot lock if ownerID still holds it. Releasing a
// lock that expired or belongs to someone else is a no-op.
func (r *Redis) UnlockSlot(date, startTime, fieldID, ownerID string) error {
	ctx := context.Background()
	key := slotKey(date, startTime, fieldID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released
	}
	if err != nil {
		return err
	}
	if val == ownerID {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
