package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// CreateRequest создаёт заявку на генерацию. Уникальность активной заявки по
// паре (креатор, период) обеспечивает частичный уникальный индекс по строкам
// со статусами pending и processing.
func (p *Postgres) CreateRequest(ctx context.Context, request domain.GenerationRequest) (domain.GenerationRequest, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if request.EnqueuedAt.IsZero() {
		request.EnqueuedAt = time.Now().UTC()
	}
	request.Status = domain.RequestStatusPending

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO generation_requests (id, creator_id, period_start, period_end, priority, status, enqueued_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, request.ID, request.CreatorID, request.PeriodStart, request.PeriodEnd, request.Priority, request.Status, request.EnqueuedAt)
	metrics.ObserveNetworkRequest("postgres", "generation_requests_insert", "generation_requests", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.GenerationRequest{}, domain.ErrDuplicateActiveRequest
		}
		return domain.GenerationRequest{}, err
	}
	return request, nil
}

// ClaimNext атомарно переводит самую старую заявку наибольшего приоритета из
// pending в processing. SKIP LOCKED исключает гонку конкурирующих воркеров.
func (p *Postgres) ClaimNext(ctx context.Context) (domain.GenerationRequest, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE generation_requests SET status='processing', started_at=now()
WHERE id = (
    SELECT id FROM generation_requests
    WHERE status='pending'
    ORDER BY priority DESC, enqueued_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, creator_id, period_start, period_end, priority, status, enqueued_at, started_at, completed_at, COALESCE(result_ref,''), COALESCE(error_message,'')
`)
	request, err := scanRequest(row)
	metrics.ObserveNetworkRequest("postgres", "generation_requests_claim", "generation_requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GenerationRequest{}, domain.ErrNoPendingRequests
	}
	return request, err
}

// CompleteRequest переводит заявку в completed со ссылкой на результат.
func (p *Postgres) CompleteRequest(ctx context.Context, id string, resultRef string) error {
	return p.finishRequest(ctx, "generation_requests_complete", `
UPDATE generation_requests SET status='completed', completed_at=now(), result_ref=$2
WHERE id=$1 AND status='processing'
`, id, resultRef)
}

// FailRequest переводит заявку в failed с сообщением об ошибке.
func (p *Postgres) FailRequest(ctx context.Context, id string, message string) error {
	return p.finishRequest(ctx, "generation_requests_fail", `
UPDATE generation_requests SET status='failed', completed_at=now(), error_message=$2
WHERE id=$1 AND status IN ('pending','processing')
`, id, message)
}

func (p *Postgres) finishRequest(ctx context.Context, op, query, id, arg string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, query, id, arg)
	metrics.ObserveNetworkRequest("postgres", op, "generation_requests", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

// GetRequest возвращает заявку по идентификатору.
func (p *Postgres) GetRequest(ctx context.Context, id string) (domain.GenerationRequest, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, creator_id, period_start, period_end, priority, status, enqueued_at, started_at, completed_at, COALESCE(result_ref,''), COALESCE(error_message,'')
FROM generation_requests WHERE id=$1
`, id)
	request, err := scanRequest(row)
	metrics.ObserveNetworkRequest("postgres", "generation_requests_get", "generation_requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GenerationRequest{}, domain.ErrRequestNotFound
	}
	return request, err
}

// FailStuck помечает failed заявки, висящие в processing дольше maxAge.
func (p *Postgres) FailStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE generation_requests SET status='failed', completed_at=now(), error_message='превышено время обработки'
WHERE status='processing' AND started_at < now() - make_interval(secs => $1)
`, maxAge.Seconds())
	metrics.ObserveNetworkRequest("postgres", "generation_requests_fail_stuck", "generation_requests", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRequest(row pgx.Row) (domain.GenerationRequest, error) {
	var (
		request     domain.GenerationRequest
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&request.ID, &request.CreatorID, &request.PeriodStart, &request.PeriodEnd,
		&request.Priority, &request.Status, &request.EnqueuedAt, &startedAt, &completedAt,
		&request.ResultRef, &request.ErrorMessage)
	if err != nil {
		return domain.GenerationRequest{}, err
	}
	if startedAt.Valid {
		ts := startedAt.Time
		request.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time
		request.CompletedAt = &ts
	}
	return request, nil
}
