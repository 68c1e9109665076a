package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// SaveSnapshot добавляет снимок сигналов. Записи не обновляются, актуальный
// снимок выбирается как самый свежий по паре (креатор, окно).
func (p *Postgres) SaveSnapshot(ctx context.Context, snapshot domain.SignalSnapshot) (domain.SignalSnapshot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if snapshot.ComputedAt.IsZero() {
		snapshot.ComputedAt = time.Now().UTC()
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO signal_snapshots (creator_id, "window", saturation_score, opportunity_score,
    revenue_per_send_trend, view_rate_trend, purchase_rate_trend, volatility, message_count_analyzed, computed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id
`, snapshot.CreatorID, snapshot.Window, snapshot.SaturationScore, snapshot.OpportunityScore,
		snapshot.RevenuePerSendTrend, snapshot.ViewRateTrend, snapshot.PurchaseRateTrend,
		snapshot.Volatility, snapshot.MessageCountAnalyzed, snapshot.ComputedAt).Scan(&snapshot.ID)
	metrics.ObserveNetworkRequest("postgres", "signal_snapshots_insert", "signal_snapshots", start, err)
	return snapshot, err
}

// CurrentSnapshot возвращает самый свежий снимок пары (креатор, окно).
func (p *Postgres) CurrentSnapshot(ctx context.Context, creatorID int64, window domain.SignalWindow) (domain.SignalSnapshot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var snapshot domain.SignalSnapshot
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, creator_id, "window", saturation_score, opportunity_score,
       revenue_per_send_trend, view_rate_trend, purchase_rate_trend, volatility, message_count_analyzed, computed_at
FROM signal_snapshots
WHERE creator_id=$1 AND "window"=$2
ORDER BY computed_at DESC
LIMIT 1
`, creatorID, window).Scan(&snapshot.ID, &snapshot.CreatorID, &snapshot.Window, &snapshot.SaturationScore,
		&snapshot.OpportunityScore, &snapshot.RevenuePerSendTrend, &snapshot.ViewRateTrend,
		&snapshot.PurchaseRateTrend, &snapshot.Volatility, &snapshot.MessageCountAnalyzed, &snapshot.ComputedAt)
	metrics.ObserveNetworkRequest("postgres", "signal_snapshots_current", "signal_snapshots", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SignalSnapshot{}, domain.ErrNoSignalData
	}
	return snapshot, err
}

// CurrentSnapshots возвращает актуальные снимки всех окон креатора.
func (p *Postgres) CurrentSnapshots(ctx context.Context, creatorID int64) ([]domain.SignalSnapshot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT ON ("window") id, creator_id, "window", saturation_score, opportunity_score,
       revenue_per_send_trend, view_rate_trend, purchase_rate_trend, volatility, message_count_analyzed, computed_at
FROM signal_snapshots
WHERE creator_id=$1
ORDER BY "window", computed_at DESC
`, creatorID)
	metrics.ObserveNetworkRequest("postgres", "signal_snapshots_current_all", "signal_snapshots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []domain.SignalSnapshot
	for rows.Next() {
		var snapshot domain.SignalSnapshot
		if err := rows.Scan(&snapshot.ID, &snapshot.CreatorID, &snapshot.Window, &snapshot.SaturationScore,
			&snapshot.OpportunityScore, &snapshot.RevenuePerSendTrend, &snapshot.ViewRateTrend,
			&snapshot.PurchaseRateTrend, &snapshot.Volatility, &snapshot.MessageCountAnalyzed, &snapshot.ComputedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, domain.ErrNoSignalData
	}
	return snapshots, nil
}

// SaveDayOfWeek добавляет новую версию недельного множителя.
func (p *Postgres) SaveDayOfWeek(ctx context.Context, multiplier domain.DayOfWeekMultiplier) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if multiplier.UpdatedAt.IsZero() {
		multiplier.UpdatedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO dow_multipliers (creator_id, weekday, multiplier, confidence, updated_at)
VALUES ($1,$2,$3,$4,$5)
`, multiplier.CreatorID, multiplier.Weekday, multiplier.Multiplier, multiplier.Confidence, multiplier.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "dow_multipliers_insert", "dow_multipliers", start, err)
	return err
}

// DayOfWeek возвращает последнюю версию множителя пары (креатор, день недели).
func (p *Postgres) DayOfWeek(ctx context.Context, creatorID int64, weekday int) (domain.DayOfWeekMultiplier, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var multiplier domain.DayOfWeekMultiplier
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT creator_id, weekday, multiplier, confidence, updated_at
FROM dow_multipliers
WHERE creator_id=$1 AND weekday=$2
ORDER BY updated_at DESC
LIMIT 1
`, creatorID, weekday).Scan(&multiplier.CreatorID, &multiplier.Weekday, &multiplier.Multiplier, &multiplier.Confidence, &multiplier.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "dow_multipliers_get", "dow_multipliers", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DayOfWeekMultiplier{}, domain.ErrNoMultiplier
	}
	return multiplier, err
}

// ListDayOfWeek возвращает последние версии множителей всех дней недели.
func (p *Postgres) ListDayOfWeek(ctx context.Context, creatorID int64) ([]domain.DayOfWeekMultiplier, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT ON (weekday) creator_id, weekday, multiplier, confidence, updated_at
FROM dow_multipliers
WHERE creator_id=$1
ORDER BY weekday, updated_at DESC
`, creatorID)
	metrics.ObserveNetworkRequest("postgres", "dow_multipliers_list", "dow_multipliers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var multipliers []domain.DayOfWeekMultiplier
	for rows.Next() {
		var multiplier domain.DayOfWeekMultiplier
		if err := rows.Scan(&multiplier.CreatorID, &multiplier.Weekday, &multiplier.Multiplier, &multiplier.Confidence, &multiplier.UpdatedAt); err != nil {
			return nil, err
		}
		multipliers = append(multipliers, multiplier)
	}
	return multipliers, rows.Err()
}

// CreateTrigger создаёт триггер и деактивирует предыдущий активный той же
// комбинации (креатор, категория, тип) в одной транзакции.
func (p *Postgres) CreateTrigger(ctx context.Context, trigger domain.VolumeTrigger) (domain.VolumeTrigger, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "volume_triggers", start, err)
	if err != nil {
		return domain.VolumeTrigger{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE volume_triggers SET is_active=false
WHERE creator_id=$1 AND content_category=$2 AND trigger_type=$3 AND is_active
`, trigger.CreatorID, trigger.ContentCategory, trigger.Type)
	metrics.ObserveNetworkRequest("postgres", "volume_triggers_deactivate_previous", "volume_triggers", start, err)
	if err != nil {
		return domain.VolumeTrigger{}, err
	}

	trigger.IsActive = true
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO volume_triggers (creator_id, content_category, trigger_type, multiplier, confidence, detected_at, expires_at, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,true)
RETURNING id
`, trigger.CreatorID, trigger.ContentCategory, trigger.Type, trigger.Multiplier, trigger.Confidence,
		trigger.DetectedAt, trigger.ExpiresAt).Scan(&trigger.ID)
	metrics.ObserveNetworkRequest("postgres", "volume_triggers_insert", "volume_triggers", start, err)
	if err != nil {
		return domain.VolumeTrigger{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "volume_triggers", start, err)
	if err != nil {
		return domain.VolumeTrigger{}, err
	}
	return trigger, nil
}

// ActiveTriggers возвращает активные неистёкшие триггеры пары
// (креатор, категория).
func (p *Postgres) ActiveTriggers(ctx context.Context, creatorID int64, category domain.ContentCategory) ([]domain.VolumeTrigger, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, creator_id, content_category, trigger_type, multiplier, confidence, detected_at, expires_at, is_active
FROM volume_triggers
WHERE creator_id=$1 AND content_category=$2 AND is_active AND expires_at > now()
ORDER BY detected_at
`, creatorID, category)
	metrics.ObserveNetworkRequest("postgres", "volume_triggers_active", "volume_triggers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []domain.VolumeTrigger
	for rows.Next() {
		var trigger domain.VolumeTrigger
		if err := rows.Scan(&trigger.ID, &trigger.CreatorID, &trigger.ContentCategory, &trigger.Type,
			&trigger.Multiplier, &trigger.Confidence, &trigger.DetectedAt, &trigger.ExpiresAt, &trigger.IsActive); err != nil {
			return nil, err
		}
		triggers = append(triggers, trigger)
	}
	return triggers, rows.Err()
}

// DeactivateExpired снимает is_active с истёкших триггеров.
func (p *Postgres) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE volume_triggers SET is_active=false
WHERE is_active AND expires_at <= $1
`, now)
	metrics.ObserveNetworkRequest("postgres", "volume_triggers_deactivate_expired", "volume_triggers", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
