package produce

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EvaluationExchange   = "evaluation.exchange"
	EvaluationQueue      = "evaluation.run"
	EvaluationRoutingKey = "evaluation.run"
)

// EvaluationMessage asks a consumer to run the job with JobID. The job record
// is the source of truth, so the message carries nothing else.
type EvaluationMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	Timestamp int64     `json:"timestamp"`
}

type EvaluationProduceService struct {
	channel *amqp.Channel
}

func InitEvaluationProduceService(channel *amqp.Channel) *EvaluationProduceService {
	if err := DeclareEvaluationTopology(channel); err != nil {
		panic("Failed to declare Evaluation topology: " + err.Error())
	}
	return &EvaluationProduceService{channel: channel}
}

// DeclareEvaluationTopology declares the exchange and durable queue. Both the
// API and the consumer call it so either can start first.
func DeclareEvaluationTopology(channel *amqp.Channel) error {
	err := channel.ExchangeDeclare(
		EvaluationExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		EvaluationQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.QueueBind(EvaluationQueue, EvaluationRoutingKey, EvaluationExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (s *EvaluationProduceService) PublishEvaluation(ctx context.Context, jobID uuid.UUID) error {
	body, err := json.Marshal(EvaluationMessage{JobID: jobID, Timestamp: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation message: %w", err)
	}

	err = s.channel.PublishWithContext(
		ctx,
		EvaluationExchange,
		EvaluationRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    jobID.String(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish evaluation message: %w", err)
	}
	return nil
}

const EvaluationFinishedRoutingKey = "evaluation.finished"

// EvaluationFinishedMessage announces that a consumer ran a job to a terminal
// status. Subscribers bind their own queue to EvaluationExchange.
type EvaluationFinishedMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	Succeeded bool      `json:"succeeded"`
	ResultRef string    `json:"result_ref,omitempty"`
	CacheHit  bool      `json:"cache_hit"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

func (s *EvaluationProduceService) PublishFinished(ctx context.Context, msg EvaluationFinishedMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal finished message: %w", err)
	}

	err = s.channel.PublishWithContext(
		ctx,
		EvaluationExchange,
		EvaluationFinishedRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.JobID.String(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish finished message: %w", err)
	}
	return nil
}
