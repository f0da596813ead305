package domain

import (
	"context"
	"time"
)

// DigestJobCause описывает источник запроса на дайджест.
type DigestJobCause string

const (
	// DigestCauseScheduled — дайджест запланирован по расписанию.
	DigestCauseScheduled DigestJobCause = "scheduled"
	// DigestCauseManual — дайджест запрошен вручную.
	DigestCauseManual DigestJobCause = "manual"
)

// DigestJob содержит полезную нагрузку задачи построения дайджеста.
type DigestJob struct {
	ID          string         `json:"job_id"`
	UserID      string         `json:"user_id"`
	Cause       DigestJobCause `json:"cause"`
	RequestedAt time.Time      `json:"requested_at"`
}

// DedupeKey возвращает ключ, по которому схлопываются дубликаты задач пользователя.
func (j DigestJob) DedupeKey() string {
	return "digest:pending:" + j.UserID
}

// JobOutcome — терминальный исход обработки задачи воркером.
type JobOutcome int

const (
	// JobDone — задача выполнена, дайджест сохранён.
	JobDone JobOutcome = iota
	// JobDrop — задача завершена без дайджеста и без повтора.
	JobDrop
	// JobRetry — временная ошибка, очередь решает о повторе.
	JobRetry
)

// String возвращает имя исхода для логов и метрик.
func (o JobOutcome) String() string {
	switch o {
	case JobDone:
		return "done"
	case JobDrop:
		return "drop"
	case JobRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// DigestDelivery — задача, выданная воркеру, с номером попытки.
type DigestDelivery struct {
	Job     DigestJob
	Attempt int
}

// DigestAckFunc сообщает очереди терминальный исход обработки доставки.
type DigestAckFunc func(outcome JobOutcome, cause error) error

// SummaryQueue описывает долговечную очередь задач дайджеста
// с доставкой не менее одного раза.
type SummaryQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	// Receive блокируется до появления задачи. Пока ack не вызван,
	// доставка принадлежит ровно одному потребителю.
	Receive(ctx context.Context) (DigestDelivery, DigestAckFunc, error)
}
