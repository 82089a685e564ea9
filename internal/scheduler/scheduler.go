package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evcharge/internal/logger"
	"evcharge/internal/metrics"

	"github.com/go-co-op/gocron/v2"
)

// Expirer cancels pending bookings that started before cutoff.
type Expirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time) (int, error)
}

type QueueMeter interface {
	QueueLength(ctx context.Context) int64
}

type Options struct {
	// PendingTTL is how long after its start time a booking may stay pending.
	PendingTTL     time.Duration
	ExpiryInterval time.Duration
	QueueInterval  time.Duration
}

type Scheduler struct {
	sched  gocron.Scheduler
	expire Expirer
	queue  QueueMeter
	ttl    time.Duration
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

func New(expirer Expirer, queue QueueMeter, opts Options) (*Scheduler, error) {
	if opts.PendingTTL <= 0 || opts.ExpiryInterval <= 0 {
		return nil, errors.New("pending ttl and expiry interval must be positive")
	}
	if opts.QueueInterval <= 0 {
		opts.QueueInterval = 15 * time.Second
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sched:  sched,
		expire: expirer,
		queue:  queue,
		ttl:    opts.PendingTTL,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}

	_, err = sched.NewJob(
		gocron.DurationJob(opts.ExpiryInterval),
		gocron.NewTask(func() { s.expirePending(s.ctx) }),
		gocron.WithName("expire-pending-bookings"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule booking expiry: %w", err)
	}

	if queue != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(opts.QueueInterval),
			gocron.NewTask(func() { s.recordQueueLength(s.ctx) }),
			gocron.WithName("notification-queue-length"),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule queue metrics: %w", err)
		}
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	logger.Info("scheduler started", "jobs", len(s.sched.Jobs()))
}

func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}

func (s *Scheduler) expirePending(ctx context.Context) {
	cutoff := s.now().Add(-s.ttl)
	n, err := s.expire.ExpirePending(ctx, cutoff)
	if err != nil {
		logger.WithError(err).Error("booking expiry run failed", "cutoff", cutoff)
		return
	}
	if n > 0 {
		logger.Info("booking expiry run", "expired", n, "cutoff", cutoff)
	}
}

func (s *Scheduler) recordQueueLength(ctx context.Context) {
	metrics.NotificationQueueLength.Set(float64(s.queue.QueueLength(ctx)))
}
