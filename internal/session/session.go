package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

var ErrNotFound = errors.New("session not found")

type Session struct {
	UserID       int64     `json:"user_id"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Store keeps one entry per issued access token. Deleting the entry revokes
// the token even though its signature stays valid.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl, now: time.Now}
}

func (s *Store) Save(ctx context.Context, userID int64, email, token string) error {
	now := s.now()
	data, err := json.Marshal(Session{UserID: userID, Email: email, CreatedAt: now, LastAccessed: now})
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}

	if err := s.client.Set(ctx, Key(userID, token), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, userID int64, token string) (*Session, error) {
	data, err := s.client.Get(ctx, Key(userID, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err)
	}
	return &sess, nil
}

func (s *Store) Delete(ctx context.Context, userID int64, token string) error {
	if err := s.client.Del(ctx, Key(userID, token)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Key addresses the session of one token. The whole token is hashed: JWTs
// signed the same way share their leading header bytes.
func Key(userID int64, token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("session:user:%d:%s", userID, hex.EncodeToString(sum[:]))
}
