package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultOutcomeStream = "dialer:outcomes"

	fieldCampaignID = "campaign_id"
	fieldOutcome    = "outcome"
)

// RedisBus is an OutcomeBus on a Redis stream. Every replica reads the whole
// stream and keeps what its runs own; the capped stream doubles as the replay
// log for runs that start after an outcome was published.
type RedisBus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	block  time.Duration
	log    *slog.Logger
}

func NewRedisBus(rdb *redis.Client, stream string, maxLen int64, log *slog.Logger) (*RedisBus, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if stream == "" {
		stream = DefaultOutcomeStream
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{rdb: rdb, stream: stream, maxLen: maxLen, block: 2 * time.Second, log: log}, nil
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env.Outcome)
	if err != nil {
		return err
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{fieldCampaignID: env.CampaignID, fieldOutcome: string(raw)},
	}).Err()
}

func (b *RedisBus) Consume(ctx context.Context, fn func(Envelope)) error {
	lastID, err := b.tailID(ctx)
	if err != nil {
		return err
	}
	for {
		res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{b.stream, lastID},
			Count:   100,
			Block:   b.block,
		}).Result()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("xread %s: %w", b.stream, err)
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				env, err := decodeEnvelope(msg)
				if err != nil {
					b.log.Warn("outcome bus message skipped", "id", msg.ID, "err", err)
					continue
				}
				fn(env)
			}
		}
	}
}

// tailID is the newest id in the stream, or 0-0 for an empty stream.
func (b *RedisBus) tailID(ctx context.Context) (string, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, b.stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (b *RedisBus) Replay(ctx context.Context, campaignID string, fn func(Envelope)) error {
	msgs, err := b.rdb.XRange(ctx, b.stream, "-", "+").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, msg := range msgs {
		if v, _ := msg.Values[fieldCampaignID].(string); v != campaignID {
			continue
		}
		env, err := decodeEnvelope(msg)
		if err != nil {
			b.log.Warn("outcome bus message skipped", "id", msg.ID, "err", err)
			continue
		}
		fn(env)
	}
	return nil
}

func decodeEnvelope(msg redis.XMessage) (Envelope, error) {
	campaignID, _ := msg.Values[fieldCampaignID].(string)
	raw, _ := msg.Values[fieldOutcome].(string)
	if campaignID == "" || raw == "" {
		return Envelope{}, errors.New("missing fields")
	}
	env := Envelope{CampaignID: campaignID}
	if err := json.Unmarshal([]byte(raw), &env.Outcome); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
