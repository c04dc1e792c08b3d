// Package redis provides a Redis-backed [memory.Store].
//
// Each thread is a Redis list of JSON-encoded messages under
// "<prefix><thread id>". Appends push to the right, trim the list to the
// configured cap, and refresh the key's TTL in one pipeline, so idle threads
// expire on their own.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/voiceloop/pkg/memory"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

// DefaultKeyPrefix namespaces thread keys.
const DefaultKeyPrefix = "voiceloop:thread:"

var (
	_ memory.Store  = (*Store)(nil)
	_ memory.Pinger = (*Store)(nil)
)

// Options configures a Store.
type Options struct {
	// KeyPrefix is prepended to every thread ID. Default: [DefaultKeyPrefix].
	KeyPrefix string
	// MaxMessages caps each thread. Default: [memory.DefaultMaxMessages].
	MaxMessages int
	// TTL expires a thread after this long without an Append. Zero keeps
	// threads forever.
	TTL time.Duration
}

// Store is the Redis conversation store. It is safe for concurrent use.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	max    int64
	ttl    time.Duration
}

// New wraps an existing client. The caller owns rdb unless Close is called.
func New(rdb goredis.UniversalClient, opts Options) *Store {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = memory.DefaultMaxMessages
	}
	return &Store{rdb: rdb, prefix: opts.KeyPrefix, max: int64(opts.MaxMessages), ttl: opts.TTL}
}

// Dial connects to the server at addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts Options) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis store: connect %s: %w", addr, err)
	}
	return New(rdb, opts), nil
}

func (s *Store) key(threadID string) string { return s.prefix + threadID }

// Load implements [memory.Store].
func (s *Store) Load(ctx context.Context, threadID string, limit int) ([]llm.Message, error) {
	if threadID == "" {
		return nil, memory.ErrEmptyThread
	}
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.rdb.LRange(ctx, s.key(threadID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: load: %w", err)
	}
	msgs := make([]llm.Message, 0, len(raw))
	for _, r := range raw {
		var m llm.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("redis store: decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Append implements [memory.Store].
func (s *Store) Append(ctx context.Context, threadID string, msgs ...llm.Message) error {
	if threadID == "" {
		return memory.ErrEmptyThread
	}
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis store: encode message: %w", err)
		}
		values[i] = b
	}

	key := s.key(threadID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -s.max, -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: append: %w", err)
	}
	return nil
}

// Reset implements [memory.Store].
func (s *Store) Reset(ctx context.Context, threadID string) error {
	if threadID == "" {
		return memory.ErrEmptyThread
	}
	if err := s.rdb.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("redis store: reset: %w", err)
	}
	return nil
}

// Ping implements [memory.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
