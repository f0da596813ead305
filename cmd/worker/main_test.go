package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"heatsync/internal/domain"
)

type singleShotQueue struct {
	delivery   domain.DigestDelivery
	delivered  bool
	acked      bool
	ackOutcome domain.JobOutcome
}

func (q *singleShotQueue) Enqueue(context.Context, domain.DigestJob) error { return nil }

func (q *singleShotQueue) Receive(context.Context) (domain.DigestDelivery, domain.DigestAckFunc, error) {
	if q.delivered {
		return domain.DigestDelivery{}, nil, context.Canceled
	}
	q.delivered = true
	ack := func(outcome domain.JobOutcome, _ error) error {
		q.acked = true
		q.ackOutcome = outcome
		return nil
	}
	return q.delivery, ack, nil
}

type releaseRecorder struct {
	released []string
}

func (r *releaseRecorder) Once(_ context.Context, _ string, _ time.Duration, fn func() error) (bool, error) {
	return true, fn()
}

func (r *releaseRecorder) Release(_ context.Context, key string) error {
	r.released = append(r.released, key)
	return nil
}

type fixedProcessor struct {
	outcome domain.JobOutcome
	err     error
}

func (p *fixedProcessor) Process(context.Context, domain.DigestJob) (domain.JobOutcome, error) {
	return p.outcome, p.err
}

func runWorker(delivery domain.DigestDelivery, outcome domain.JobOutcome, maxAttempts int) (*singleShotQueue, *releaseRecorder) {
	queue := &singleShotQueue{delivery: delivery}
	dedupe := &releaseRecorder{}
	w := &jobWorker{
		log:         zerolog.Nop(),
		queue:       queue,
		dedupe:      dedupe,
		service:     &fixedProcessor{outcome: outcome},
		maxAttempts: maxAttempts,
	}
	w.Run(context.Background())
	return queue, dedupe
}

func TestWorkerReleasesDedupeOnTerminalOutcome(t *testing.T) {
	job := domain.DigestJob{ID: "j1", UserID: "u1"}
	queue, dedupe := runWorker(domain.DigestDelivery{Job: job, Attempt: 1}, domain.JobDone, 3)

	if !queue.acked || queue.ackOutcome != domain.JobDone {
		t.Fatalf("задача должна подтверждаться с исходом done")
	}
	if len(dedupe.released) != 1 || dedupe.released[0] != job.DedupeKey() {
		t.Fatalf("ключ дедупликации должен освобождаться, получили %v", dedupe.released)
	}
}

func TestWorkerKeepsDedupeDuringRetry(t *testing.T) {
	job := domain.DigestJob{ID: "j1", UserID: "u1"}
	queue, dedupe := runWorker(domain.DigestDelivery{Job: job, Attempt: 1}, domain.JobRetry, 3)

	if !queue.acked || queue.ackOutcome != domain.JobRetry {
		t.Fatalf("очередь должна узнать про повтор")
	}
	if len(dedupe.released) != 0 {
		t.Fatalf("пока задача повторяется, ключ остаётся занятым, получили %v", dedupe.released)
	}
}

func TestWorkerReleasesDedupeOnFinalAttempt(t *testing.T) {
	job := domain.DigestJob{ID: "j1", UserID: "u1"}
	queue, dedupe := runWorker(domain.DigestDelivery{Job: job, Attempt: 3}, domain.JobRetry, 3)

	if !queue.acked || queue.ackOutcome != domain.JobRetry {
		t.Fatalf("очередь должна узнать про повтор")
	}
	if len(dedupe.released) != 1 || dedupe.released[0] != job.DedupeKey() {
		t.Fatalf("последняя попытка терминальна, ключ должен освобождаться, получили %v", dedupe.released)
	}
}
