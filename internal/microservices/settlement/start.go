package settlement

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/config"
	"github.com/Montivagant/rms-nova-sub000/internal/connections/rabbitmq"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/settlement/service"
)

// NewBrokerEnqueuer declares the delay topology once and returns an
// enqueuer publishing into it.
func NewBrokerEnqueuer(client *rabbitmq.Client, cfg config.DeferredConfig) (*service.AMQPEnqueuer, error) {
	ch, err := client.NewChannel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := rabbitmq.DeclareSettlementTopology(ch, rabbitmq.SettlementTopologyFrom(cfg)); err != nil {
		return nil, err
	}
	return service.NewAMQPEnqueuer(client, cfg.DelayQueue), nil
}

// Run consumes the ready queue until ctx is done.
func Run(ctx context.Context, client *rabbitmq.Client, updater service.StatusUpdater, cfg config.DeferredConfig, log *logger.Logger) error {
	topo := rabbitmq.SettlementTopologyFrom(cfg)
	w := service.NewWorker(client, updater, service.WorkerConfig{
		Name:       service.WorkerActor,
		ReadyQueue: cfg.ReadyQueue,
		Prefetch:   cfg.Prefetch,
		RetryDelay: cfg.RetryDelay,
	}, func(ch *amqp.Channel) error {
		return rabbitmq.DeclareSettlementTopology(ch, topo)
	}, log)
	return w.Run(ctx)
}
