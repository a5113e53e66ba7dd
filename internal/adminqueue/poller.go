package adminqueue

import (
	"context"
	"log/slog"
	"time"

	"questboard/internal/metrics"
	"questboard/internal/model"
)

// DefaultPollInterval is the admin log refresh period.
const DefaultPollInterval = 5 * time.Second

// LogFetcher reads the latest admin log entries.
type LogFetcher interface {
	AdminLogs(ctx context.Context) ([]model.SystemLog, error)
}

// Batch is the result of one poll.
type Batch struct {
	Logs []model.SystemLog
	Err  error
	At   time.Time
}

// LogPoller reads the admin log feed on a fixed interval.
type LogPoller struct {
	src      LogFetcher
	interval time.Duration
	logger   *slog.Logger
}

// NewLogPoller creates a poller. A non-positive interval uses DefaultPollInterval.
func NewLogPoller(src LogFetcher, interval time.Duration, logger *slog.Logger) *LogPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPoller{src: src, interval: interval, logger: logger}
}

// Interval returns the poll period.
func (p *LogPoller) Interval() time.Duration { return p.interval }

// Run polls once immediately and then every interval until ctx is done. The
// returned channel is closed when polling stops. A poll does not start until
// the previous batch has been received, so polls never overlap.
func (p *LogPoller) Run(ctx context.Context) <-chan Batch {
	out := make(chan Batch)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			if !p.poll(ctx, out) {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (p *LogPoller) poll(ctx context.Context, out chan<- Batch) bool {
	logs, err := p.src.AdminLogs(ctx)
	if ctx.Err() != nil {
		return false
	}
	metrics.ObserveLogPoll(err == nil)
	if err != nil {
		p.logger.Warn("admin log poll failed", "err", err)
	}
	select {
	case out <- Batch{Logs: logs, Err: err, At: time.Now()}:
		return true
	case <-ctx.Done():
		return false
	}
}
