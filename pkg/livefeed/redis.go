package livefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	redisTimeout = 2 * time.Second
	// Recent summaries kept per meter
	redisHistory = 1000
)

func NewRedisPublisher(addr, password, channel string, db int, log logrus.FieldLogger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	log.Infof("Publishing meter records to redis channel %s", channel)
	return &RedisPublisher{client: client, channel: channel, log: log}, nil
}

// Publish sends summary on the channel and stores it as the latest record
// of its meter and kind, with a bounded history list alongside.
func (p *RedisPublisher) Publish(ctx context.Context, summary *types.RecordSummary) error {
	data := summary.ToJsonBytes()
	if data == nil {
		return fmt.Errorf("could not encode summary of %s", summary.Address)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.Set(ctx, latestKey(summary), data, 0)
	listKey := historyKey(summary)
	pipe.LPush(ctx, listKey, data)
	pipe.LTrim(ctx, listKey, 0, redisHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

func latestKey(s *types.RecordSummary) string {
	return fmt.Sprintf("ekm:%s:%s:latest", s.Address, s.Kind)
}

func historyKey(s *types.RecordSummary) string {
	return fmt.Sprintf("ekm:%s:%s:records", s.Address, s.Kind)
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
