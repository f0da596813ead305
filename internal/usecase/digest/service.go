package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"heatsync/internal/domain"
	"heatsync/internal/infra/metrics"
)

// Service выполняет рабочий процесс построения дайджеста для одной задачи:
// профиль → письма → генерация → сохранение → пометка прочитанным.
type Service struct {
	profiles  domain.ProfileStore
	mailbox   domain.MailboxGateway
	generator domain.SummaryGenerator
	summaries domain.SummaryStore
	pageSize  int
	log       zerolog.Logger
}

// NewService создаёт сервис дайджестов.
func NewService(profiles domain.ProfileStore, mailbox domain.MailboxGateway, generator domain.SummaryGenerator, summaries domain.SummaryStore, pageSize int, logger zerolog.Logger) *Service {
	return &Service{
		profiles:  profiles,
		mailbox:   mailbox,
		generator: generator,
		summaries: summaries,
		pageSize:  pageSize,
		log:       logger,
	}
}

// Process выполняет один проход задачи и возвращает терминальный исход.
// JobRetry означает временную ошибку: решение о повторе принимает очередь.
// Ошибка описывает причину и для JobDrop, и для JobRetry.
func (s *Service) Process(ctx context.Context, job domain.DigestJob) (domain.JobOutcome, error) {
	start := time.Now()

	profile, err := s.profiles.FindByID(ctx, job.UserID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		// Профиль исчез между постановкой и обработкой — повтор не поможет.
		return domain.JobDrop, fmt.Errorf("пользователь %s: %w", job.UserID, err)
	}
	if err != nil {
		return domain.JobRetry, fmt.Errorf("получение профиля: %w", err)
	}
	if !profile.HasMailbox() {
		return domain.JobDrop, domain.ErrNotConfigured
	}

	emails, err := s.mailbox.ListUnread(ctx, profile.MailboxAccountID, s.pageSize)
	if err != nil {
		return domain.JobRetry, fmt.Errorf("чтение почты: %w", err)
	}
	if len(emails) == 0 {
		return domain.JobDrop, domain.ErrNothingToSummarize
	}
	messageIDs := make([]string, 0, len(emails))
	for _, email := range emails {
		messageIDs = append(messageIDs, email.ID)
	}

	summary, err := s.generator.Summarize(ctx, emails)
	if err != nil {
		return domain.JobRetry, fmt.Errorf("генерация дайджеста: %w", err)
	}

	stored, err := s.summaries.Save(ctx, profile.ID, summary, summary.OverallSentiment)
	if err != nil {
		return domain.JobRetry, fmt.Errorf("сохранение дайджеста: %w", err)
	}
	if stored.ID == "" {
		return domain.JobRetry, errors.New("сохранение дайджеста: пустой идентификатор записи")
	}

	// Пометка прочитанным идёт строго после сохранения. Сбой здесь не
	// повод перезапускать весь процесс: дайджест уже надёжно записан,
	// непрочитанные письма попадут в следующий цикл повторно.
	if err := s.mailbox.MarkRead(ctx, profile.MailboxAccountID, messageIDs); err != nil {
		metrics.MarkReadFailures.Inc()
		s.log.Warn().Err(err).
			Str("user", profile.ID).
			Str("summary_id", stored.ID).
			Int("messages", len(messageIDs)).
			Msg("digest: дайджест сохранён, но письма остались непрочитанными")
	}

	metrics.DigestBuildSeconds.Observe(time.Since(start).Seconds())
	return domain.JobDone, nil
}

// RunNow строит дайджест по требованию: только чтение почты и генерация,
// без сохранения и без пометки писем прочитанными.
func (s *Service) RunNow(ctx context.Context, accountID string, limit int) (domain.Digest, error) {
	emails, err := s.mailbox.ListUnread(ctx, accountID, limit)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("чтение почты: %w", err)
	}
	if len(emails) == 0 {
		return domain.Digest{}, domain.ErrNothingToSummarize
	}
	summary, err := s.generator.Summarize(ctx, emails)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("генерация дайджеста: %w", err)
	}
	return summary, nil
}
