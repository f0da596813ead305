package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"heatsync/internal/domain"
	"heatsync/internal/infra/metrics"
)

// RetryPolicy задаёт пределы повторов и экспоненциальную задержку.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// BackoffDelay возвращает задержку перед попыткой attempt+1:
// base * 2^(attempt-1), не больше cap.
func BackoffDelay(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := policy.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.BackoffCap {
			return policy.BackoffCap
		}
	}
	if policy.BackoffCap > 0 && delay > policy.BackoffCap {
		return policy.BackoffCap
	}
	return delay
}

// RabbitSummaryQueue реализует domain.SummaryQueue поверх RabbitMQ.
//
// Схема: рабочая очередь, очередь отложенных повторов с TTL на сообщении
// и dead-letter обратно в рабочую, и терминальная очередь для задач,
// исчерпавших попытки. Неподтверждённые доставки возвращаются брокером —
// доставка не менее одного раза.
type RabbitSummaryQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	name     string
	policy   RetryPolicy
	prefetch int
	log      zerolog.Logger

	// publishFn подменяется в тестах; в продакшене это q.publish.
	publishFn func(ctx context.Context, routingKey string, job domain.DigestJob, attempt int, lastError string, delay time.Duration) error

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

const attemptHeader = "x-attempt"

// NewRabbitSummaryQueue подключается к брокеру и объявляет очереди.
// prefetch ограничивает число неподтверждённых доставок на потребителя
// и должен совпадать с размером пула воркеров. Соединение живёт до Close.
func NewRabbitSummaryQueue(url, name string, policy RetryPolicy, prefetch int, logger zerolog.Logger) (*RabbitSummaryQueue, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if name == "" {
		return nil, errors.New("queue name is empty")
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = time.Second
	}
	if policy.BackoffCap <= 0 {
		policy.BackoffCap = time.Minute
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	q := &RabbitSummaryQueue{conn: conn, ch: ch, name: name, policy: policy, prefetch: prefetch, log: logger}
	q.publishFn = q.publish
	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitSummaryQueue) declare() error {
	if _, err := q.ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", q.name, err)
	}
	// Очередь повторов одна на все задержки: TTL истекает только у головы,
	// поэтому длинная задержка впереди придерживает короткие за ней.
	// Задержки от этого не меньше расписания, а очередей не плодится.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.name,
	}
	if _, err := q.ch.QueueDeclare(q.retryName(), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare %s: %w", q.retryName(), err)
	}
	if _, err := q.ch.QueueDeclare(q.deadName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", q.deadName(), err)
	}
	return nil
}

func (q *RabbitSummaryQueue) retryName() string { return q.name + ".retry" }
func (q *RabbitSummaryQueue) deadName() string  { return q.name + ".dead" }

// Close закрывает канал и соединение.
func (q *RabbitSummaryQueue) Close() {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		_ = q.conn.Close()
	}
}

// Enqueue публикует задачу в рабочую очередь.
func (q *RabbitSummaryQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	return q.publish(ctx, q.name, job, 1, "", 0)
}

func (q *RabbitSummaryQueue) publish(ctx context.Context, routingKey string, job domain.DigestJob, attempt int, lastError string, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	headers := amqp.Table{attemptHeader: int32(attempt)}
	if lastError != "" {
		headers["x-last-error"] = lastError
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         payload,
	}
	if delay > 0 {
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", routingKey, false, false, msg)
	metrics.ObserveNetworkRequest("rabbitmq", "publish", routingKey, start, err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}
	return nil
}

// Receive блокируется до появления задачи и возвращает её вместе с функцией
// подтверждения. До вызова ack доставка принадлежит вызвавшему.
func (q *RabbitSummaryQueue) Receive(ctx context.Context) (domain.DigestDelivery, domain.DigestAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.DigestDelivery{}, nil, err
	}

	select {
	case <-ctx.Done():
		return domain.DigestDelivery{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.DigestDelivery{}, nil, errors.New("amqp: канал доставки закрыт")
		}
		var job domain.DigestJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			// Нечитаемое сообщение повторять бессмысленно.
			_ = d.Ack(false)
			return domain.DigestDelivery{}, nil, fmt.Errorf("decode job: %w", err)
		}
		attempt := attemptFrom(d.Headers)
		delivery := domain.DigestDelivery{Job: job, Attempt: attempt}
		return delivery, q.ackFunc(d, job, attempt), nil
	}
}

func (q *RabbitSummaryQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	if err := q.ch.Qos(q.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := q.ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitSummaryQueue) ackFunc(d amqp.Delivery, job domain.DigestJob, attempt int) domain.DigestAckFunc {
	return func(outcome domain.JobOutcome, cause error) error {
		switch outcome {
		case domain.JobRetry:
			lastError := ""
			if cause != nil {
				lastError = cause.Error()
			}
			if attempt >= q.policy.MaxAttempts {
				if err := q.publishFn(context.Background(), q.deadName(), job, attempt, lastError, 0); err != nil {
					return err
				}
				metrics.JobsDeadLettered.Inc()
				q.log.Error().
					Str("job_id", job.ID).
					Str("user", job.UserID).
					Int("attempt", attempt).
					Str("last_error", lastError).
					Msg("queue: попытки исчерпаны, задача отправлена в dead-letter")
				return d.Ack(false)
			}
			delay := BackoffDelay(q.policy, attempt)
			if err := q.publishFn(context.Background(), q.retryName(), job, attempt+1, lastError, delay); err != nil {
				// Повтор не запланирован — вернём доставку брокеру.
				return d.Nack(false, true)
			}
			return d.Ack(false)
		default:
			return d.Ack(false)
		}
	}
}

func attemptFrom(headers amqp.Table) int {
	raw, ok := headers[attemptHeader]
	if !ok {
		return 1
	}
	switch v := raw.(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 1
	}
}
