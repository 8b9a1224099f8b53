package produce

import amqp "github.com/rabbitmq/amqp091-go"

type Produce struct {
	EvaluationService *EvaluationProduceService
}

func InitProduce(channel *amqp.Channel) *Produce {
	evaluationService := InitEvaluationProduceService(channel)
	if evaluationService == nil {
		panic("Failed to initialize Evaluation produce service")
	}

	return &Produce{
		EvaluationService: evaluationService,
	}
}
