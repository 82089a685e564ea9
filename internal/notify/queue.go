package notify

import (
	"context"
	"errors"
	"time"

	"evcharge/internal/logger"
	"evcharge/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	QueueKey       = "notifications"
	FailedQueueKey = "notifications:failed"
	maxTries       = 3
)

type Job struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

type failedJob struct {
	Job   Job       `json:"job"`
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Service queues notifications in redis and delivers them from a worker loop.
// Enqueueing never waits on SMTP.
type Service struct {
	redis      *redis.Client
	sender     Sender
	pollWait   time.Duration
	retryDelay time.Duration
}

func New(rdb *redis.Client, sender Sender) *Service {
	return &Service{
		redis:      rdb,
		sender:     sender,
		pollWait:   2 * time.Second,
		retryDelay: 5 * time.Second,
	}
}

func (s *Service) Enqueue(ctx context.Context, to, subject, body string) error {
	job := Job{
		To:      to,
		Subject: subject,
		Body:    body,
		Created: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	if err := s.redis.LPush(ctx, QueueKey, data).Err(); err != nil {
		logger.WithError(err).Error("failed to queue notification", "to", to, "subject", subject)
		return err
	}

	logger.Debug("notification queued", "to", to, "subject", subject)
	return nil
}

// Start runs the delivery loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	logger.Info("notification worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("notification worker stopped")
			return
		default:
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, s.pollWait, QueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		logger.WithError(err).Warn("failed to poll notification queue")
		// BRPop fails fast while redis is unreachable
		select {
		case <-ctx.Done():
		case <-time.After(s.pollWait):
		}
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.WithError(err).Error("dropping malformed notification")
		return
	}

	job.Tries++
	err = s.sender.Send(ctx, job.To, job.Subject, job.Body)
	if err == nil {
		metrics.RecordNotification("success")
		logger.Info("notification sent", "to", job.To, "subject", job.Subject)
		return
	}

	if job.Tries >= maxTries {
		metrics.RecordNotification("failed")
		logger.WithError(err).Error("notification failed", "to", job.To, "attempts", job.Tries)
		s.saveFailed(ctx, job, err)
		return
	}

	metrics.RecordNotification("retry")
	logger.WithError(err).Warn("notification send failed, retrying", "to", job.To, "attempt", job.Tries)

	select {
	case <-ctx.Done():
	case <-time.After(s.retryDelay):
	}

	data, _ := json.Marshal(job)
	// a cancelled worker must still put the job back
	if err := s.redis.LPush(context.WithoutCancel(ctx), QueueKey, data).Err(); err != nil {
		logger.WithError(err).Error("failed to requeue notification", "to", job.To)
	}
}

func (s *Service) saveFailed(ctx context.Context, job Job, cause error) {
	data, _ := json.Marshal(failedJob{Job: job, Error: cause.Error(), Time: time.Now()})
	if err := s.redis.LPush(context.WithoutCancel(ctx), FailedQueueKey, data).Err(); err != nil {
		logger.WithError(err).Error("failed to record failed notification", "to", job.To)
	}
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, QueueKey).Result()
	return length
}

func (s *Service) Close() error {
	return s.redis.Close()
}
