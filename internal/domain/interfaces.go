package domain

import (
	"context"
	"time"
)

// ProfileStore даёт доступ на чтение к профилям пользователей.
type ProfileStore interface {
	// FindDue возвращает профили с правом на дайджест, у которых время
	// доставки совпадает с hhmm (UTC, строка "HH:MM").
	FindDue(ctx context.Context, hhmm string) ([]Profile, error)
	// FindByID возвращает профиль или ErrProfileNotFound.
	FindByID(ctx context.Context, userID string) (Profile, error)
}

// MailboxGateway работает с почтовым провайдером.
type MailboxGateway interface {
	// ListUnread возвращает непрочитанные письма папки «входящие»,
	// не более limit штук, в нормализованном виде.
	ListUnread(ctx context.Context, accountID string, limit int) ([]NormalizedMessage, error)
	// MarkRead помечает письма прочитанными.
	MarkRead(ctx context.Context, accountID string, messageIDs []string) error
}

// SummaryGenerator строит структурированный дайджест по письмам.
type SummaryGenerator interface {
	Summarize(ctx context.Context, messages []NormalizedMessage) (Digest, error)
}

// SummaryStore сохраняет готовые дайджесты.
type SummaryStore interface {
	Save(ctx context.Context, userID string, digest Digest, heatVibe string) (StoredSummary, error)
}

// DedupeStore не даёт поставить в очередь дубликат работы по одному ключу.
type DedupeStore interface {
	// Once выполняет fn, если ключ ещё не занят; при ошибке fn ключ
	// освобождается. Возвращает true, если fn была вызвана.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
	// Release освобождает ключ по завершении работы.
	Release(ctx context.Context, key string) error
}
