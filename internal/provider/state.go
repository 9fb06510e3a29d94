package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateTTL = 10 * time.Minute

// StateStore holds OAuth anti-forgery state values in Redis. A state is bound
// to the config that initiated the flow and may be consumed exactly once.
type StateStore struct {
	rdb *redis.Client
}

func NewStateStore(rdb *redis.Client) *StateStore {
	return &StateStore{rdb: rdb}
}

// Issue mints a random state for configID and stores it with a short TTL.
func (s *StateStore) Issue(ctx context.Context, configID string) (string, error) {
	if s.rdb == nil {
		return "", errors.New("oauth state store requires redis")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	state := hex.EncodeToString(buf)
	if err := s.rdb.Set(ctx, stateKey(state), configID, stateTTL).Err(); err != nil {
		return "", err
	}
	return state, nil
}

// Consume atomically retrieves and deletes the state, returning the bound
// config id. Unknown, expired, or replayed states all return an error.
func (s *StateStore) Consume(ctx context.Context, state string) (string, error) {
	if s.rdb == nil {
		return "", errors.New("oauth state store requires redis")
	}
	configID, err := s.rdb.GetDel(ctx, stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errors.New("unknown or expired oauth state")
	}
	if err != nil {
		return "", err
	}
	return configID, nil
}

func stateKey(state string) string {
	return "oauth:state:" + state
}
