package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/buildsandbox/sandbox-agent/pkg/dispatcher"
	"github.com/buildsandbox/sandbox-agent/pkg/exporters"
	"github.com/buildsandbox/sandbox-agent/pkg/metricsmanager"
	"github.com/buildsandbox/sandbox-agent/pkg/reportchannel"
)

var _ dispatcher.ReportDispatcher = (*ShardedDispatcher)(nil)

// ShardedDispatcher drains several disjoint channel shards with a small
// fixed worker pool, one drainer per shard. Order is preserved within a
// shard; no ordering is promised across shards, matching the channel's own
// cross-producer contract.
type ShardedDispatcher struct {
	inner []*Dispatcher
	pool  *ants.Pool

	startOnce sync.Once
	startErr  error
}

func NewShardedDispatcher(config Config, shards []*reportchannel.Channel, exporter exporters.Exporter, metrics metricsmanager.MetricsManager) (*ShardedDispatcher, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("at least one channel shard is required")
	}
	pool, err := ants.NewPool(len(shards))
	if err != nil {
		return nil, fmt.Errorf("creating drain worker pool: %w", err)
	}
	inner := make([]*Dispatcher, len(shards))
	for i, shard := range shards {
		inner[i] = NewDispatcher(config, shard, exporter, metrics)
	}
	return &ShardedDispatcher{inner: inner, pool: pool}, nil
}

func (s *ShardedDispatcher) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		for _, d := range s.inner {
			d := d
			if err := s.pool.Submit(func() {
				if startErr := d.Start(ctx); startErr == nil {
					// The pooled worker is occupied until the shard stops.
					d.wg.Wait()
				}
			}); err != nil {
				s.startErr = fmt.Errorf("submitting shard drainer: %w", err)
				return
			}
		}
	})
	return s.startErr
}

func (s *ShardedDispatcher) Stop() {
	for _, d := range s.inner {
		d.Stop()
	}
	s.pool.Release()
}

// Abandoned sums the abandoned-report counts across shards. Read after Stop.
func (s *ShardedDispatcher) Abandoned() uint64 {
	var total uint64
	for _, d := range s.inner {
		total += d.Abandoned()
	}
	return total
}
