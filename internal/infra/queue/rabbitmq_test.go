package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"heatsync/internal/domain"
)

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Second, BackoffCap: time.Minute}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := BackoffDelay(policy, tc.attempt); got != tc.want {
			t.Fatalf("попытка %d: ожидали %s, получили %s", tc.attempt, tc.want, got)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	policy := RetryPolicy{BackoffBase: time.Second, BackoffCap: 10 * time.Second}
	if got := BackoffDelay(policy, 20); got != 10*time.Second {
		t.Fatalf("ожидали задержку не выше предела, получили %s", got)
	}
}

func TestBackoffDelayNormalizesAttempt(t *testing.T) {
	policy := RetryPolicy{BackoffBase: time.Second, BackoffCap: time.Minute}
	if got := BackoffDelay(policy, 0); got != time.Second {
		t.Fatalf("нулевая попытка должна считаться первой, получили %s", got)
	}
}

type fakeAcknowledger struct {
	acks     int
	nacks    int
	requeued bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error { a.acks++; return nil }

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

type publishRecord struct {
	routingKey string
	attempt    int
	lastError  string
	delay      time.Duration
}

func newAckTestQueue(published *[]publishRecord, publishErr error) *RabbitSummaryQueue {
	q := &RabbitSummaryQueue{
		name:   "jobs",
		policy: RetryPolicy{MaxAttempts: 3, BackoffBase: time.Second, BackoffCap: time.Minute},
		log:    zerolog.Nop(),
	}
	q.publishFn = func(_ context.Context, routingKey string, _ domain.DigestJob, attempt int, lastError string, delay time.Duration) error {
		if publishErr != nil {
			return publishErr
		}
		*published = append(*published, publishRecord{routingKey: routingKey, attempt: attempt, lastError: lastError, delay: delay})
		return nil
	}
	return q
}

func TestAckRetrySchedulesDelayedAttempt(t *testing.T) {
	var published []publishRecord
	q := newAckTestQueue(&published, nil)
	acker := &fakeAcknowledger{}
	job := domain.DigestJob{ID: "j1", UserID: "u1"}

	ack := q.ackFunc(amqp.Delivery{Acknowledger: acker, DeliveryTag: 7}, job, 1)
	if err := ack(domain.JobRetry, errors.New("почта недоступна")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("ожидали одну публикацию, получили %d", len(published))
	}
	rec := published[0]
	if rec.routingKey != "jobs.retry" {
		t.Fatalf("ожидали очередь повторов, получили %s", rec.routingKey)
	}
	if rec.attempt != 2 {
		t.Fatalf("номер попытки должен расти, получили %d", rec.attempt)
	}
	if rec.delay != time.Second {
		t.Fatalf("ожидали задержку 1s, получили %s", rec.delay)
	}
	if rec.lastError != "почта недоступна" {
		t.Fatalf("ожидали причину в заголовке, получили %q", rec.lastError)
	}
	if acker.acks != 1 || acker.nacks != 0 {
		t.Fatalf("исходная доставка должна подтверждаться: acks=%d nacks=%d", acker.acks, acker.nacks)
	}
}

func TestAckRetryExhaustedDeadLetters(t *testing.T) {
	var published []publishRecord
	q := newAckTestQueue(&published, nil)
	acker := &fakeAcknowledger{}
	job := domain.DigestJob{ID: "j1", UserID: "u1"}

	ack := q.ackFunc(amqp.Delivery{Acknowledger: acker, DeliveryTag: 7}, job, 3)
	if err := ack(domain.JobRetry, errors.New("генерация не удалась")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("ожидали одну публикацию, получили %d", len(published))
	}
	rec := published[0]
	if rec.routingKey != "jobs.dead" {
		t.Fatalf("после исчерпания попыток задача уходит в dead-letter, получили %s", rec.routingKey)
	}
	if rec.attempt != 3 {
		t.Fatalf("номер попытки не должен меняться, получили %d", rec.attempt)
	}
	if rec.delay != 0 {
		t.Fatalf("у dead-letter нет задержки, получили %s", rec.delay)
	}
	if acker.acks != 1 {
		t.Fatalf("исходная доставка должна подтверждаться, acks=%d", acker.acks)
	}
}

func TestAckRetryPublishFailureRequeues(t *testing.T) {
	var published []publishRecord
	q := newAckTestQueue(&published, errors.New("брокер недоступен"))
	acker := &fakeAcknowledger{}
	job := domain.DigestJob{ID: "j1", UserID: "u1"}

	ack := q.ackFunc(amqp.Delivery{Acknowledger: acker, DeliveryTag: 7}, job, 1)
	if err := ack(domain.JobRetry, errors.New("почта недоступна")); err != nil {
		t.Fatalf("nack не должен возвращать ошибку: %v", err)
	}
	if acker.acks != 0 {
		t.Fatalf("доставка не должна подтверждаться без запланированного повтора")
	}
	if acker.nacks != 1 || !acker.requeued {
		t.Fatalf("доставка должна вернуться брокеру: nacks=%d requeued=%v", acker.nacks, acker.requeued)
	}
}

func TestAckTerminalOutcomes(t *testing.T) {
	for _, outcome := range []domain.JobOutcome{domain.JobDone, domain.JobDrop} {
		var published []publishRecord
		q := newAckTestQueue(&published, nil)
		acker := &fakeAcknowledger{}

		ack := q.ackFunc(amqp.Delivery{Acknowledger: acker, DeliveryTag: 7}, domain.DigestJob{ID: "j1"}, 1)
		if err := ack(outcome, nil); err != nil {
			t.Fatalf("%s: не ожидали ошибку: %v", outcome, err)
		}
		if len(published) != 0 {
			t.Fatalf("%s: терминальный исход не публикует повторов", outcome)
		}
		if acker.acks != 1 {
			t.Fatalf("%s: доставка должна подтверждаться, acks=%d", outcome, acker.acks)
		}
	}
}
