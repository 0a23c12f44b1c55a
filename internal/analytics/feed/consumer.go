package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	analyticsdomain "github.com/mogcia-app/signal/internal/analytics/domain"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/observability/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	minRedeliveryDelay = 100 * time.Millisecond
	maxRedeliveryDelay = 5 * time.Second
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Service analyticsdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

// Consumer reads the change feed with manual commits. A partition stops
// committing at its first failed record so the record is redelivered.
type Consumer struct {
	client  *kgo.Client
	log     *zap.Logger
	handler func(ctx context.Context, value []byte) error
	backoff redeliveryBackoff
}

// redeliveryBackoff doubles the pause between polls while partitions keep
// failing and resets once a poll needs no rewind.
type redeliveryBackoff struct {
	min, max time.Duration
	current  time.Duration
}

func (b *redeliveryBackoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.min
	} else if b.current *= 2; b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *redeliveryBackoff) reset() {
	b.current = 0
}

// NewConsumer returns nil when no brokers are configured.
func NewConsumer(p Params) (*Consumer, error) {
	kc := p.Config.Kafka
	if !kc.Enabled() {
		p.Log.Info("change feed disabled")
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(kc.Brokers...),
		kgo.ConsumerGroup(kc.Group),
		kgo.ClientID(kc.ClientID),
		kgo.ConsumeTopics(kc.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	h := NewHandler(p.Service, p.Log, p.Metrics)
	return &Consumer{
		client:  client,
		log:     p.Log.Named("analytics.feed"),
		handler: h.Handle,
		backoff: redeliveryBackoff{min: minRedeliveryDelay, max: maxRedeliveryDelay},
	}, nil
}

// Register runs the consumer for the app's lifetime.
func Register(lc fx.Lifecycle, c *Consumer) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.Run(ctx); err != nil && ctx.Err() == nil {
					c.log.Error("change feed stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			c.client.Close()
			return nil
		},
	})
}

func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("change feed started")
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				c.log.Error("fetch failed",
					zap.String("topic", fe.Topic),
					zap.Int32("partition", fe.Partition),
					zap.Error(fe.Err),
				)
			}
		}

		var records []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
		commit, rewind := c.process(ctx, records)
		if len(commit) > 0 {
			if err := c.client.CommitRecords(ctx, commit...); err != nil {
				c.log.Error("commit failed", zap.Error(err))
			}
		}
		if len(rewind) > 0 {
			c.client.SetOffsets(rewind)
		}
		c.client.AllowRebalance()

		if len(rewind) == 0 {
			c.backoff.reset()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff.next()):
		}
	}
}

type topicPartition struct {
	topic     string
	partition int32
}

// process handles records in order and returns the last success per
// partition, plus the offset each failed partition must be rewound to.
func (c *Consumer) process(ctx context.Context, records []*kgo.Record) ([]*kgo.Record, map[string]map[int32]kgo.EpochOffset) {
	blocked := make(map[topicPartition]bool)
	var rewind map[string]map[int32]kgo.EpochOffset
	last := make(map[topicPartition]*kgo.Record)
	var order []topicPartition

	for _, r := range records {
		tp := topicPartition{topic: r.Topic, partition: r.Partition}
		if blocked[tp] {
			continue
		}
		if err := c.handler(ctx, r.Value); err != nil {
			c.log.Warn("feed message failed, will redeliver",
				zap.String("topic", r.Topic),
				zap.Int32("partition", r.Partition),
				zap.Int64("offset", r.Offset),
				zap.Error(err),
			)
			blocked[tp] = true
			if rewind == nil {
				rewind = make(map[string]map[int32]kgo.EpochOffset)
			}
			if rewind[r.Topic] == nil {
				rewind[r.Topic] = make(map[int32]kgo.EpochOffset)
			}
			rewind[r.Topic][r.Partition] = kgo.EpochOffset{Epoch: r.LeaderEpoch, Offset: r.Offset}
			continue
		}
		if _, seen := last[tp]; !seen {
			order = append(order, tp)
		}
		last[tp] = r
	}

	commit := make([]*kgo.Record, 0, len(order))
	for _, tp := range order {
		commit = append(commit, last[tp])
	}
	return commit, rewind
}
