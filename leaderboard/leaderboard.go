// Package leaderboard mirrors accepted scores into Redis sorted sets so game
// clients can read rankings without touching the ledger.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
	"github.com/tolelom/rescuechain/events"
)

// Board names a ranking.
type Board string

const (
	BoardHighScore  Board = "high"
	BoardTotalScore Board = "total"
)

const (
	keyPrefix    = "rescue:leaderboard:"
	queueSize    = 1024
	writeTimeout = 2 * time.Second
)

// Client is the subset of the Redis API the leaderboard uses.
// *redis.Client satisfies it.
type Client interface {
	ZAddGT(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZRevRank(ctx context.Context, key, member string) *redis.IntCmd
	ZScore(ctx context.Context, key, member string) *redis.FloatCmd
}

// Entry is one ranked player.
type Entry struct {
	Rank   int64          `json:"rank"`
	Player common.Address `json:"player"`
	Score  uint64         `json:"score"`
}

// Leaderboard consumes score_accepted events and writes them to Redis from
// a background worker, keeping network calls out of the ledger's write path.
type Leaderboard struct {
	client Client
	queue  chan events.Event
	log    log.Logger
}

// New creates a Leaderboard and subscribes it to emitter. Call Run to start
// draining the queue.
func New(client Client, emitter *events.Emitter) *Leaderboard {
	lb := &Leaderboard{
		client: client,
		queue:  make(chan events.Event, queueSize),
		log:    log.New("module", "leaderboard"),
	}
	emitter.Subscribe(events.EventScoreAccepted, lb.enqueue)
	return lb
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (lb *Leaderboard) enqueue(ev events.Event) {
	select {
	case lb.queue <- ev:
	default:
		lb.log.Warn("Leaderboard queue full, dropping score", "tx", ev.TxID)
	}
}

// Run applies queued events until ctx is cancelled.
func (lb *Leaderboard) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-lb.queue:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			if err := lb.apply(wctx, ev); err != nil {
				lb.log.Warn("Leaderboard update failed", "tx", ev.TxID, "err", err)
			}
			cancel()
		}
	}
}

// apply raises the player's high score and total score. Both stats only
// grow, so ZADD GT makes replays and reordering harmless.
func (lb *Leaderboard) apply(ctx context.Context, ev events.Event) error {
	player, _ := ev.Data["player"].(string)
	high, ok1 := ev.Data["high_score"].(uint64)
	total, ok2 := ev.Data["total_score"].(uint64)
	if !common.IsHexAddress(player) || !ok1 || !ok2 {
		return errors.New("malformed score event")
	}
	member := strings.ToLower(player)
	if err := lb.client.ZAddGT(ctx, boardKey(BoardHighScore), redis.Z{Score: float64(high), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd high: %w", err)
	}
	if err := lb.client.ZAddGT(ctx, boardKey(BoardTotalScore), redis.Z{Score: float64(total), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd total: %w", err)
	}
	return nil
}

// Top returns the best n players on board.
func (lb *Leaderboard) Top(ctx context.Context, board Board, n int64) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := lb.client.ZRevRangeWithScores(ctx, boardKey(board), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange %s: %w", board, err)
	}
	out := make([]Entry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Entry{
			Rank:   int64(i) + 1,
			Player: common.HexToAddress(member),
			Score:  uint64(z.Score),
		})
	}
	return out, nil
}

// Rank returns the 1-based rank and score of player on board, or rank 0 when
// the player is unranked.
func (lb *Leaderboard) Rank(ctx context.Context, board Board, player common.Address) (Entry, error) {
	member := strings.ToLower(player.Hex())
	rank, err := lb.client.ZRevRank(ctx, boardKey(board), member).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{Player: player}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("zrevrank %s: %w", board, err)
	}
	score, err := lb.client.ZScore(ctx, boardKey(board), member).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("zscore %s: %w", board, err)
	}
	return Entry{Rank: rank + 1, Player: player, Score: uint64(score)}, nil
}

// ParseBoard validates a board name.
func ParseBoard(s string) (Board, error) {
	switch Board(s) {
	case BoardHighScore, BoardTotalScore:
		return Board(s), nil
	case "":
		return BoardHighScore, nil
	}
	return "", fmt.Errorf("unknown leaderboard %q", s)
}

func boardKey(b Board) string {
	return keyPrefix + string(b)
}
