package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"heatsync/internal/domain"
	"heatsync/internal/infra/metrics"
)

// TickInterval — шаг сетки расписания: тики выровнены по :00/:15/:30/:45 UTC.
const TickInterval = 15 * time.Minute

// Service переводит настенные часы в задачи дайджеста: на каждом тике
// находит профили, чьё время наступило, и ставит по одной задаче на профиль.
type Service struct {
	profiles  domain.ProfileStore
	queue     domain.SummaryQueue
	dedupe    domain.DedupeStore
	dedupeTTL time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewService создаёт планировщик. now подменяется в тестах.
func NewService(profiles domain.ProfileStore, queue domain.SummaryQueue, dedupe domain.DedupeStore, dedupeTTL time.Duration, now func() time.Time, logger zerolog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if dedupeTTL <= 0 {
		dedupeTTL = 10 * time.Minute
	}
	return &Service{
		profiles:  profiles,
		queue:     queue,
		dedupe:    dedupe,
		dedupeTTL: dedupeTTL,
		now:       now,
		log:       logger,
	}
}

// NextAligned возвращает ближайшую будущую границу 15-минутной сетки.
func NextAligned(t time.Time) time.Time {
	return t.UTC().Truncate(TickInterval).Add(TickInterval)
}

// Run крутит цикл тиков до отмены контекста: спит до границы сетки,
// затем выполняет Tick. Ошибка тика не останавливает цикл.
func (s *Service) Run(ctx context.Context) {
	for {
		next := NextAligned(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := s.Tick(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduler: тик прерван, следующий по расписанию")
		}
	}
}

// Tick находит профили, чьё время доставки равно текущему HH:MM UTC,
// и ставит задачу на каждый. Ошибка постановки одного профиля не мешает
// остальным; ошибка выборки профилей прерывает тик целиком.
func (s *Service) Tick(ctx context.Context) error {
	hhmm := s.now().UTC().Format("15:04")
	metrics.SchedulerTicks.Inc()
	s.log.Info().Str("tick", hhmm).Msg("scheduler: тик")

	profiles, err := s.profiles.FindDue(ctx, hhmm)
	if err != nil {
		metrics.SchedulerTickErrors.Inc()
		return fmt.Errorf("выборка профилей на %s: %w", hhmm, err)
	}

	for _, profile := range profiles {
		job := domain.DigestJob{
			ID:          uuid.NewString(),
			UserID:      profile.ID,
			Cause:       domain.DigestCauseScheduled,
			RequestedAt: s.now().UTC(),
		}
		enqueued, err := s.dedupe.Once(ctx, job.DedupeKey(), s.dedupeTTL, func() error {
			return s.queue.Enqueue(ctx, job)
		})
		if err != nil {
			s.log.Error().Err(err).Str("user", profile.ID).Msg("scheduler: не удалось поставить задачу")
			continue
		}
		if !enqueued {
			metrics.JobsDeduplicated.Inc()
			s.log.Debug().Str("user", profile.ID).Msg("scheduler: задача уже в работе, пропускаем")
			continue
		}
		metrics.JobsEnqueued.WithLabelValues(string(job.Cause)).Inc()
		s.log.Info().Str("user", profile.ID).Str("job_id", job.ID).Msg("scheduler: задача поставлена")
	}
	return nil
}
