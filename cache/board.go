package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const boardPrefix = "league:board:"

// BoardKey names one ranking table: a kind ("rate", "dan", "season") and a
// scope (season ID, or "all" for career tables).
type BoardKey struct {
	Kind  string
	Scope string
}

type BoardEntry struct {
	PlayerID string
	Score    float64
}

// Board caches ranking tables as sorted sets. Keys embed the ranking
// generation, so a recompute never serves a half-written table: new
// generations start with a miss and old ones expire.
type Board struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBoard(client *redis.Client, ttl time.Duration) *Board {
	return &Board{client: client, ttl: ttl}
}

// NewBoardFromURL parses a redis:// URL.
func NewBoardFromURL(url string, ttl time.Duration) (*Board, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewBoard(redis.NewClient(opts), ttl), nil
}

func (b *Board) key(gen int64, k BoardKey) string {
	return fmt.Sprintf("%s%d:%s:%s", boardPrefix, gen, k.Kind, k.Scope)
}

// Replace writes a whole table for a generation. The table becomes visible
// atomically through RENAME.
func (b *Board) Replace(ctx context.Context, gen int64, k BoardKey, entries []BoardEntry) error {
	key := b.key(gen, k)
	tmp := key + ":tmp"

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, tmp)
	if len(entries) > 0 {
		members := make([]redis.Z, len(entries))
		for i, e := range entries {
			members[i] = redis.Z{Score: e.Score, Member: e.PlayerID}
		}
		pipe.ZAdd(ctx, tmp, members...)
	} else {
		// Keep an empty table distinguishable from a miss.
		pipe.ZAdd(ctx, tmp, redis.Z{Score: 0, Member: emptyMarker})
	}
	pipe.Rename(ctx, tmp, key)
	if b.ttl > 0 {
		pipe.Expire(ctx, key, b.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace board %s: %w", key, err)
	}
	return nil
}

const emptyMarker = "\x00empty"

// ErrBoardMiss means the table for that generation is not cached.
var ErrBoardMiss = errors.New("ranking board not cached")

// Top returns a page of the table, highest score first, and the table size.
func (b *Board) Top(ctx context.Context, gen int64, k BoardKey, offset, limit int64) ([]BoardEntry, int64, error) {
	key := b.key(gen, k)
	total, err := b.client.ZCard(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("board size: %w", err)
	}
	if total == 0 {
		return nil, 0, ErrBoardMiss
	}
	if ok, err := b.isEmptyTable(ctx, key); err != nil {
		return nil, 0, err
	} else if ok {
		return []BoardEntry{}, 0, nil
	}
	if limit <= 0 {
		return []BoardEntry{}, total, nil
	}

	zs, err := b.client.ZRevRangeWithScores(ctx, key, offset, offset+limit-1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("board range: %w", err)
	}
	out := make([]BoardEntry, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, BoardEntry{PlayerID: id, Score: z.Score})
	}
	return out, total, nil
}

// Position returns the 1-based position of a player, or 0 when absent.
func (b *Board) Position(ctx context.Context, gen int64, k BoardKey, playerID string) (int64, error) {
	key := b.key(gen, k)
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("board exists: %w", err)
	}
	if n == 0 {
		return 0, ErrBoardMiss
	}
	rank, err := b.client.ZRevRank(ctx, key, playerID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("board rank: %w", err)
	}
	return rank + 1, nil
}

func (b *Board) isEmptyTable(ctx context.Context, key string) (bool, error) {
	_, err := b.client.ZScore(ctx, key, emptyMarker).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("board marker: %w", err)
	}
	return true, nil
}

// Ping checks connectivity at startup.
func (b *Board) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Board) Close() error {
	return b.client.Close()
}
