package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-repo-evaluator/config"
)

type RabbitMQClient struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
}

func InitRabbitMQClient(cfg *config.EnvConfig) (*RabbitMQClient, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		cfg.RabbitMQ.Username,
		cfg.RabbitMQ.Password,
		cfg.RabbitMQ.Host,
		cfg.RabbitMQ.Port,
	)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	// One evaluation at a time per consumer; runs are long.
	if err := channel.Qos(1, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set RabbitMQ QoS: %w", err)
	}

	return &RabbitMQClient{
		Connection: conn,
		Channel:    channel,
	}, nil
}

func (r *RabbitMQClient) Close() error {
	if err := r.Channel.Close(); err != nil {
		return err
	}
	return r.Connection.Close()
}
