package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
)

// Publisher is the confirm-mode publish call of the broker client.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

// AMQPEnqueuer parks jobs in the delay queue. Each message expires after
// its delay and is dead-lettered into the ready queue the worker consumes.
type AMQPEnqueuer struct {
	pub        Publisher
	delayQueue string
}

func NewAMQPEnqueuer(pub Publisher, delayQueue string) *AMQPEnqueuer {
	return &AMQPEnqueuer{pub: pub, delayQueue: delayQueue}
}

func (e *AMQPEnqueuer) Enqueue(ctx context.Context, job domain.SettlementJob, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal settlement job: %w", err)
	}
	if delay < 0 {
		delay = 0
	}
	return e.pub.Publish(ctx, "", e.delayQueue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.PaymentID.String(),
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         body,
	})
}

// LocalEnqueuer runs jobs in-process after their delay. It serves
// deployments without a broker; pending jobs are lost on restart.
type LocalEnqueuer struct {
	updater StatusUpdater
	log     *logger.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewLocalEnqueuer(updater StatusUpdater, log *logger.Logger) *LocalEnqueuer {
	return &LocalEnqueuer{updater: updater, log: log, timers: map[*time.Timer]struct{}{}}
}

func (e *LocalEnqueuer) Enqueue(ctx context.Context, job domain.SettlementJob, delay time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("settlement enqueuer is closed")
	}

	var t *time.Timer
	e.wg.Add(1)
	t = time.AfterFunc(delay, func() {
		defer e.wg.Done()
		e.mu.Lock()
		delete(e.timers, t)
		e.mu.Unlock()
		// Nothing requeues in-process, a failed job is only logged.
		_ = settle(context.Background(), e.updater, job, e.log)
	})
	e.timers[t] = struct{}{}
	return nil
}

// Close drops jobs that have not fired yet and waits for running ones.
func (e *LocalEnqueuer) Close() {
	e.mu.Lock()
	e.closed = true
	for t := range e.timers {
		if t.Stop() {
			e.wg.Done()
		}
		delete(e.timers, t)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
