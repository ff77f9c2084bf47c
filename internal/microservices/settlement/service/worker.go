package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
)

type WorkerServiceInterface interface {
	Run(ctx context.Context) error
}

// ChannelOpener hands out consumer channels on a shared connection.
type ChannelOpener interface {
	NewChannel() (*amqp.Channel, error)
}

type WorkerConfig struct {
	Name       string
	ReadyQueue string
	Prefetch   int
	// RetryDelay holds a transiently failed delivery before it is requeued.
	RetryDelay time.Duration
}

type Worker struct {
	conn    ChannelOpener
	updater StatusUpdater
	cfg     WorkerConfig
	log     *logger.Logger
	declare func(ch *amqp.Channel) error
}

// NewWorker builds the consumer of the ready queue. declare sets up the
// queue topology on the consumer channel before consuming.
func NewWorker(conn ChannelOpener, updater StatusUpdater, cfg WorkerConfig, declare func(ch *amqp.Channel) error, log *logger.Logger) *Worker {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = WorkerActor
	}
	return &Worker{conn: conn, updater: updater, cfg: cfg, declare: declare, log: log}
}

func (w *Worker) Run(ctx context.Context) error {
	if strings.TrimSpace(w.cfg.ReadyQueue) == "" {
		return errors.New("ready queue name is empty")
	}

	ch, err := w.conn.NewChannel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if w.declare != nil {
		if err := w.declare(ch); err != nil {
			return err
		}
	}
	if err := ch.Qos(w.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	msgs, err := ch.Consume(w.cfg.ReadyQueue, w.cfg.Name, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", w.cfg.ReadyQueue, err)
	}
	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))

	w.log.Info("settlement_worker_started", map[string]any{"queue": w.cfg.ReadyQueue, "prefetch": w.cfg.Prefetch, "consumer": w.cfg.Name})

	for {
		select {
		case <-ctx.Done():
			w.log.Info("settlement_worker_stopped", nil)
			return nil
		case e := <-closeCh:
			if e != nil {
				return fmt.Errorf("amqp channel closed: %d %s", e.Code, e.Reason)
			}
			return errors.New("amqp channel closed")
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			w.handle(ctx, d)
		}
	}
}

// handle settles one delivery and acknowledges it according to the result.
func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	err := w.processOne(ctx, d)
	switch {
	case err == nil:
		err = d.Ack(false)
	case errors.Is(err, ErrDLQ):
		err = d.Nack(false, false)
	case errors.Is(err, ErrRequeue):
		w.backoff(ctx)
		err = d.Nack(false, true)
	default:
		w.backoff(ctx)
		err = d.Nack(false, true)
	}
	if err != nil {
		w.log.Error("settlement_ack_failed", err, map[string]any{"delivery_tag": d.DeliveryTag})
	}
}

// backoff holds a failed delivery for RetryDelay or until ctx is done.
func (w *Worker) backoff(ctx context.Context) {
	if w.cfg.RetryDelay <= 0 {
		return
	}
	t := time.NewTimer(w.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (w *Worker) processOne(ctx context.Context, d amqp.Delivery) error {
	var job domain.SettlementJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.log.Error("settlement_job_malformed", err, map[string]any{"message_id": d.MessageId})
		return ErrDLQ
	}
	return settle(ctx, w.updater, job, w.log)
}
