package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/infra/produce"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
	"github.com/tnqbao/gau-repo-evaluator/repository"
	"github.com/tnqbao/gau-repo-evaluator/service"
	"github.com/tnqbao/gau-repo-evaluator/utils"
)

// Executor is satisfied by service.EvaluationService.
type Executor interface {
	Execute(ctx context.Context, id uuid.UUID) (*pipeline.Outcome, error)
	Reconcile(ctx context.Context) (*service.ReconcileResult, error)
}

// Notifier is satisfied by produce.EvaluationProduceService.
type Notifier interface {
	PublishFinished(ctx context.Context, msg produce.EvaluationFinishedMessage) error
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type EvaluationConsumer struct {
	channel  *amqp.Channel
	executor Executor
	notifier Notifier
	logger   *infra.LoggerClient
	tag      string

	// requeueBackOff spaces out redeliveries while the job store is
	// unreachable. Reset after any settled delivery.
	requeueBackOff *backoff.ExponentialBackOff
}

// NewEvaluationConsumer builds a consumer. notifier may be nil.
func NewEvaluationConsumer(channel *amqp.Channel, executor Executor, notifier Notifier, logger *infra.LoggerClient, tag string) *EvaluationConsumer {
	return &EvaluationConsumer{
		channel:  channel,
		executor: executor,
		notifier: notifier,
		logger:   logger,
		tag:      tag,
		requeueBackOff: &backoff.ExponentialBackOff{
			InitialInterval:     time.Second,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         30 * time.Second,
		},
	}
}

// Start registers the consumer and handles deliveries one at a time until ctx
// is cancelled or the channel closes.
func (c *EvaluationConsumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set evaluation prefetch: %w", err)
	}

	msgs, err := backoff.Retry(ctx, func() (<-chan amqp.Delivery, error) {
		return c.channel.Consume(
			produce.EvaluationQueue,
			c.tag,
			false,
			false,
			false,
			false,
			nil,
		)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(time.Minute))
	if err != nil {
		return fmt.Errorf("failed to register evaluation consumer: %w", err)
	}

	c.logger.InfoWithContextf(ctx, "[Evaluation Consumer] Started listening on queue %s as %s", produce.EvaluationQueue, c.tag)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.InfoWithContextf(ctx, "[Evaluation Consumer] Shutting down...")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.WarningWithContextf(ctx, "[Evaluation Consumer] Channel closed")
					return
				}
				c.handle(ctx, msg.Body, msg)
			}
		}
	}()

	return nil
}

func (c *EvaluationConsumer) handle(ctx context.Context, body []byte, ack acknowledger) {
	var payload produce.EvaluationMessage
	if err := json.Unmarshal(body, &payload); err != nil || payload.JobID == uuid.Nil {
		c.logger.ErrorWithContextf(ctx, err, "[Evaluation Consumer] Dropping unreadable message: %s", string(body))
		_ = ack.Nack(false, false)
		return
	}

	outcome, err := c.executor.Execute(ctx, payload.JobID)
	if !requeue(err) {
		c.requeueBackOff.Reset()
	}
	switch {
	case err == nil:
		c.logger.InfoWithContextf(ctx, "[Evaluation Consumer] Job %s done (cache hit: %v)", payload.JobID, outcome.ShortCircuited)
		c.notify(ctx, produce.EvaluationFinishedMessage{
			JobID:     payload.JobID,
			Succeeded: true,
			ResultRef: outcome.ResultRef,
			CacheHit:  outcome.ShortCircuited,
		})
		_ = ack.Ack(false)
	case requeue(err):
		delay := c.requeueBackOff.NextBackOff()
		c.logger.ErrorWithContextf(ctx, err, "[Evaluation Consumer] Job %s could not be started, requeueing in %s", payload.JobID, delay)
		// Holding the delivery keeps the prefetch slot busy, so the broker
		// does not hand the same message straight back.
		wait(ctx, delay)
		_ = ack.Nack(false, true)
	case errors.Is(err, pipeline.ErrNotClaimed):
		c.logger.WarningWithContextf(ctx, "[Evaluation Consumer] Job %s skipped: %v", payload.JobID, err)
		_ = ack.Ack(false)
	default:
		c.logger.WarningWithContextf(ctx, "[Evaluation Consumer] Job %s failed: %v", payload.JobID, err)
		c.notify(ctx, produce.EvaluationFinishedMessage{JobID: payload.JobID, Error: err.Error()})
		_ = ack.Ack(false)
	}
}

func (c *EvaluationConsumer) notify(ctx context.Context, msg produce.EvaluationFinishedMessage) {
	if c.notifier == nil {
		return
	}
	utils.BestEffort(ctx, c.logger, "publish finished event", func(ctx context.Context) error {
		return c.notifier.PublishFinished(ctx, msg)
	})
}

func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// requeue is true only when the job was never claimed and the cause was not
// the job itself. Finished runs carry their failure on the job record.
func requeue(err error) bool {
	if !errors.Is(err, pipeline.ErrNotClaimed) {
		return false
	}
	return !errors.Is(err, repository.ErrJobNotClaimable) && !errors.Is(err, repository.ErrJobNotFound)
}

// RunReconciler calls Reconcile every interval until ctx is cancelled.
func (c *EvaluationConsumer) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.executor.Reconcile(ctx); err != nil {
				c.logger.ErrorWithContextf(ctx, err, "[Evaluation Consumer] Reconcile failed: %v", err)
			}
		}
	}
}
