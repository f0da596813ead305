package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"heatsync/internal/domain"
	"heatsync/internal/infra/metrics"
)

// Postgres реализует ProfileStore и SummaryStore на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ProfileStore = (*Postgres)(nil)
	_ domain.SummaryStore = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// FindDue возвращает профили с включённым дайджестом на указанное время UTC.
// Сравнение строгое, строка к строке: профиль с временем вне 15-минутной
// сетки ни один тик не подберёт.
func (p *Postgres) FindDue(ctx context.Context, hhmm string) ([]domain.Profile, error) {
	hhmm = strings.TrimSpace(hhmm)
	if hhmm == "" {
		return nil, errors.New("пустое время тика")
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, COALESCE(mailbox_account_id, ''), timezone, digest_time, is_entitled
FROM profiles
WHERE digest_time = $1 AND is_entitled = TRUE
`, hhmm)
	metrics.ObserveNetworkRequest("postgres", "profiles_find_due", "profiles", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка профилей: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var prof domain.Profile
		if err := rows.Scan(&prof.ID, &prof.MailboxAccountID, &prof.Timezone, &prof.DigestTime, &prof.Entitled); err != nil {
			return nil, err
		}
		profiles = append(profiles, prof)
	}
	return profiles, rows.Err()
}

// FindByID возвращает профиль или domain.ErrProfileNotFound.
func (p *Postgres) FindByID(ctx context.Context, userID string) (domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var prof domain.Profile
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, COALESCE(mailbox_account_id, ''), timezone, digest_time, is_entitled
FROM profiles
WHERE id = $1
`, userID).Scan(&prof.ID, &prof.MailboxAccountID, &prof.Timezone, &prof.DigestTime, &prof.Entitled)
	metrics.ObserveNetworkRequest("postgres", "profiles_find_by_id", "profiles", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("получение профиля: %w", err)
	}
	return prof, nil
}

// Save сохраняет дайджест и возвращает запись с идентификатором.
func (p *Postgres) Save(ctx context.Context, userID string, digest domain.Digest, heatVibe string) (domain.StoredSummary, error) {
	content, err := json.Marshal(digest)
	if err != nil {
		return domain.StoredSummary{}, fmt.Errorf("сериализация дайджеста: %w", err)
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	stored := domain.StoredSummary{UserID: userID, Content: digest, HeatVibe: heatVibe}
	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO summaries (user_id, content, heat_vibe)
VALUES ($1, $2, $3)
RETURNING id, created_at
`, userID, content, nullable(heatVibe)).Scan(&stored.ID, &stored.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "summaries_insert", "summaries", start, err)
	if err != nil {
		return domain.StoredSummary{}, fmt.Errorf("сохранение дайджеста: %w", err)
	}
	return stored, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
