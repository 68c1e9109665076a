package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.CreatorDirectory      = (*Postgres)(nil)
	_ domain.SendHistoryReader     = (*Postgres)(nil)
	_ domain.SignalRepo            = (*Postgres)(nil)
	_ domain.MultiplierRepo        = (*Postgres)(nil)
	_ domain.TriggerRepo           = (*Postgres)(nil)
	_ domain.CaptionRepo           = (*Postgres)(nil)
	_ domain.QuotaLogRepo          = (*Postgres)(nil)
	_ domain.GenerationRequestRepo = (*Postgres)(nil)
	_ domain.PredictionRepo        = (*Postgres)(nil)
	_ domain.FeatureWeightRepo     = (*Postgres)(nil)
	_ domain.EngineEventRepo       = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetCreator возвращает креатора по идентификатору.
func (p *Postgres) GetCreator(ctx context.Context, id int64) (domain.Creator, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var creator domain.Creator
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, fan_count, page_type, content_category, performance_tier, is_active
FROM creators WHERE id=$1
`, id).Scan(&creator.ID, &creator.FanCount, &creator.PageType, &creator.ContentCategory, &creator.PerformanceTier, &creator.IsActive)
	metrics.ObserveNetworkRequest("postgres", "creators_get", "creators", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Creator{}, domain.ErrCreatorNotFound
	}
	return creator, err
}

// ListActiveCreators возвращает активных креаторов для планового обхода.
func (p *Postgres) ListActiveCreators(ctx context.Context) ([]domain.Creator, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, fan_count, page_type, content_category, performance_tier, is_active
FROM creators WHERE is_active ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "creators_list_active", "creators", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creators []domain.Creator
	for rows.Next() {
		var creator domain.Creator
		if err := rows.Scan(&creator.ID, &creator.FanCount, &creator.PageType, &creator.ContentCategory, &creator.PerformanceTier, &creator.IsActive); err != nil {
			return nil, err
		}
		creators = append(creators, creator)
	}
	return creators, rows.Err()
}

// PeriodMetrics возвращает агрегаты истории рассылок за окно и за предыдущее
// окно той же длины.
func (p *Postgres) PeriodMetrics(ctx context.Context, creatorID int64, window domain.SignalWindow) (domain.SendPeriodMetrics, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	days := windowDays(window)
	var out domain.SendPeriodMetrics
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
WITH current_window AS (
    SELECT count(*) AS message_count,
           COALESCE(avg(revenue), 0) AS revenue_per_send,
           COALESCE(avg(view_rate), 0) AS view_rate,
           COALESCE(avg(purchase_rate), 0) AS purchase_rate,
           COALESCE(stddev_pop(revenue), 0) AS revenue_stddev,
           COALESCE(avg(revenue), 0) AS revenue_mean
    FROM send_history
    WHERE creator_id=$1 AND sent_at >= now() - make_interval(days => $2)
), previous_window AS (
    SELECT COALESCE(avg(revenue), 0) AS revenue_per_send,
           COALESCE(avg(view_rate), 0) AS view_rate,
           COALESCE(avg(purchase_rate), 0) AS purchase_rate
    FROM send_history
    WHERE creator_id=$1
      AND sent_at >= now() - make_interval(days => $2 * 2)
      AND sent_at < now() - make_interval(days => $2)
)
SELECT c.message_count, c.revenue_per_send, c.view_rate, c.purchase_rate,
       p.revenue_per_send, p.view_rate, p.purchase_rate,
       c.revenue_stddev, c.revenue_mean
FROM current_window c, previous_window p
`, creatorID, days).Scan(
		&out.MessageCount, &out.RevenuePerSend, &out.ViewRate, &out.PurchaseRate,
		&out.PrevRevenuePerSend, &out.PrevViewRate, &out.PrevPurchaseRate,
		&out.RevenueStdDev, &out.RevenueMean,
	)
	metrics.ObserveNetworkRequest("postgres", "send_history_period_metrics", "send_history", start, err)
	return out, err
}

// DailyMetrics возвращает дневные агрегаты истории за lookbackDays.
func (p *Postgres) DailyMetrics(ctx context.Context, creatorID int64, lookbackDays int) ([]domain.DailySendMetrics, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT date_trunc('day', sent_at)::date AS day,
       count(*) AS message_count,
       COALESCE(avg(revenue), 0) AS revenue_per_send
FROM send_history
WHERE creator_id=$1 AND sent_at >= now() - make_interval(days => $2)
GROUP BY 1 ORDER BY 1
`, creatorID, lookbackDays)
	metrics.ObserveNetworkRequest("postgres", "send_history_daily_metrics", "send_history", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailySendMetrics
	for rows.Next() {
		var m domain.DailySendMetrics
		if err := rows.Scan(&m.Date, &m.MessageCount, &m.RevenuePerSend); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendQuota добавляет расчёт квоты в журнал.
func (p *Postgres) AppendQuota(ctx context.Context, quota domain.VolumeQuota) (domain.VolumeQuota, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if quota.ComputedAt.IsZero() {
		quota.ComputedAt = time.Now().UTC()
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO volume_quotas (creator_id, quota_date, tier, revenue_per_day, engagement_per_day, retention_per_day,
    caption_constrained, elasticity_capped, multi_horizon_used, dow_adjusted, confidence_score, data_source, computed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id
`, quota.CreatorID, quota.Date, quota.Tier, quota.RevenuePerDay, quota.EngagementPerDay, quota.RetentionPerDay,
		quota.CaptionConstrained, quota.ElasticityCapped, quota.MultiHorizonUsed, quota.DOWAdjusted,
		quota.ConfidenceScore, quota.DataSource, quota.ComputedAt).Scan(&quota.ID)
	metrics.ObserveNetworkRequest("postgres", "volume_quotas_insert", "volume_quotas", start, err)
	return quota, err
}

// ListQuotaHistory возвращает журнал квот креатора с даты from.
func (p *Postgres) ListQuotaHistory(ctx context.Context, creatorID int64, from time.Time) ([]domain.VolumeQuota, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, creator_id, quota_date, tier, revenue_per_day, engagement_per_day, retention_per_day,
       caption_constrained, elasticity_capped, multi_horizon_used, dow_adjusted, confidence_score, data_source, computed_at
FROM volume_quotas
WHERE creator_id=$1 AND quota_date >= $2
ORDER BY quota_date, computed_at
`, creatorID, from)
	metrics.ObserveNetworkRequest("postgres", "volume_quotas_list", "volume_quotas", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotas []domain.VolumeQuota
	for rows.Next() {
		var quota domain.VolumeQuota
		if err := rows.Scan(&quota.ID, &quota.CreatorID, &quota.Date, &quota.Tier, &quota.RevenuePerDay,
			&quota.EngagementPerDay, &quota.RetentionPerDay, &quota.CaptionConstrained, &quota.ElasticityCapped,
			&quota.MultiHorizonUsed, &quota.DOWAdjusted, &quota.ConfidenceScore, &quota.DataSource, &quota.ComputedAt); err != nil {
			return nil, err
		}
		quotas = append(quotas, quota)
	}
	return quotas, rows.Err()
}

// RecordEngineEvent сохраняет событие движка.
func (p *Postgres) RecordEngineEvent(ctx context.Context, event domain.EngineEvent) error {
	if event.Event == "" {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var creatorID sql.NullInt64
	if event.CreatorID != nil {
		creatorID = sql.NullInt64{Int64: *event.CreatorID, Valid: true}
	}
	var requestID sql.NullString
	if event.RequestID != nil {
		requestID = sql.NullString{String: *event.RequestID, Valid: true}
	}
	var payload []byte
	if event.Metadata != nil {
		if data, err := json.Marshal(event.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO engine_events (event, creator_id, request_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, event.Event, creatorID, requestID, payload, event.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "engine_events_insert", "engine_events", start, err)
	return err
}

func windowDays(window domain.SignalWindow) int {
	switch window {
	case domain.SignalWindow14d:
		return 14
	case domain.SignalWindow30d:
		return 30
	default:
		return 7
	}
}
