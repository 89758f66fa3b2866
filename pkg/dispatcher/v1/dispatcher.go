package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
	"github.com/buildsandbox/sandbox-agent/pkg/dispatcher"
	"github.com/buildsandbox/sandbox-agent/pkg/exporters"
	"github.com/buildsandbox/sandbox-agent/pkg/metricsmanager"
	"github.com/buildsandbox/sandbox-agent/pkg/reportchannel"
)

const (
	DefaultMaxBatchSize = 256
	DefaultBatchTimeout = 500 * time.Millisecond
	DefaultPollInterval = 5 * time.Millisecond
	DefaultRetryMaxWait = 30 * time.Second
)

type Config struct {
	MaxBatchSize int
	BatchTimeout time.Duration
	PollInterval time.Duration
	// RetryMaxWait bounds the total time spent retrying one batch forward.
	// After it elapses the batch is abandoned and counted, so a dead
	// transport cannot stall the channel forever.
	RetryMaxWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = DefaultRetryMaxWait
	}
}

var _ dispatcher.ReportDispatcher = (*Dispatcher)(nil)

// Dispatcher drains one report channel. Batches are forwarded synchronously
// from the drain loop, so a batch never overtakes an earlier one.
type Dispatcher struct {
	config   Config
	channel  *reportchannel.Channel
	exporter exporters.Exporter
	metrics  metricsmanager.MetricsManager

	ctx      context.Context
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	mutex    sync.Mutex

	abandoned uint64
}

func NewDispatcher(config Config, channel *reportchannel.Channel, exporter exporters.Exporter, metrics metricsmanager.MetricsManager) *Dispatcher {
	config.applyDefaults()
	return &Dispatcher{
		config:   config,
		channel:  channel,
		exporter: exporter,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.started {
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.ctx = ctx
	d.wg.Add(1)
	go d.run()
	return nil
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	batch := make([]accessevent.AccessReport, 0, d.config.MaxBatchSize)
	timer := time.NewTimer(d.config.BatchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-d.stopChan:
			d.finalDrain(batch)
			return
		case <-d.ctx.Done():
			d.finalDrain(batch)
			return
		case <-timer.C:
			batch = d.flush(batch)
			timer.Reset(d.config.BatchTimeout)
		default:
		}

		report, ok := d.channel.TryDequeue()
		if !ok {
			d.metrics.ReportChannelOccupancy(d.channel.Len(), d.channel.MaxOccupancy())
			// Nothing published; back off until the timer, a report, or stop.
			select {
			case <-d.stopChan:
				d.finalDrain(batch)
				return
			case <-d.ctx.Done():
				d.finalDrain(batch)
				return
			case <-time.After(d.config.PollInterval):
			}
			continue
		}

		batch = append(batch, report)
		if len(batch) >= d.config.MaxBatchSize {
			batch = d.flush(batch)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.config.BatchTimeout)
		}
	}
}

// finalDrain empties the channel and forwards everything left before the
// loop exits.
func (d *Dispatcher) finalDrain(batch []accessevent.AccessReport) {
	for {
		report, ok := d.channel.TryDequeue()
		if !ok {
			break
		}
		batch = append(batch, report)
		if len(batch) >= d.config.MaxBatchSize {
			batch = d.flush(batch)
		}
	}
	d.flush(batch)
}

// flush forwards the batch with bounded retry and returns the reusable,
// truncated slice.
func (d *Dispatcher) flush(batch []accessevent.AccessReport) []accessevent.AccessReport {
	if len(batch) == 0 {
		return batch
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = d.config.RetryMaxWait

	start := time.Now()
	err := backoff.Retry(func() error {
		if sendErr := d.exporter.SendAccessReports(batch); sendErr != nil {
			d.metrics.ReportForwardFailure()
			logger.L().Warning("batch forward failed, will retry",
				helpers.Int("reports", len(batch)),
				helpers.Error(sendErr))
			return sendErr
		}
		return nil
	}, policy)
	if err != nil {
		d.abandoned += uint64(len(batch))
		logger.L().Error("abandoning report batch after retries",
			helpers.Int("reports", len(batch)),
			helpers.Error(err))
	} else {
		d.metrics.ReportBatchForwarded(len(batch), time.Since(start))
	}
	return batch[:0]
}

// Abandoned returns the number of reports given up on after exhausting the
// retry budget. Only the drain loop writes it; read after Stop.
func (d *Dispatcher) Abandoned() uint64 {
	return d.abandoned
}
