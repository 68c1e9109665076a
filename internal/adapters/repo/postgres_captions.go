package repo

import (
	"context"
	"database/sql"
	"time"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// ListActiveByTypes возвращает активные подписи креатора указанных типов.
// Правила свежести и отбора применяет вызывающий: хранимая свежесть сама по
// себе решения не принимает.
func (p *Postgres) ListActiveByTypes(ctx context.Context, creatorID int64, captionTypes []string) ([]domain.Caption, error) {
	if len(captionTypes) == 0 {
		return nil, nil
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, creator_id, caption_text, caption_type, freshness_score, performance_score, performance_tier, is_active, last_used_at, created_at
FROM captions
WHERE creator_id=$1 AND caption_type = ANY($2) AND is_active
ORDER BY id
`, creatorID, captionTypes)
	metrics.ObserveNetworkRequest("postgres", "captions_list_by_types", "captions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captions []domain.Caption
	for rows.Next() {
		var (
			caption  domain.Caption
			lastUsed sql.NullTime
		)
		if err := rows.Scan(&caption.ID, &caption.CreatorID, &caption.Text, &caption.CaptionType,
			&caption.FreshnessScore, &caption.PerformanceScore, &caption.PerformanceTier,
			&caption.IsActive, &lastUsed, &caption.CreatedAt); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			ts := lastUsed.Time
			caption.LastUsedAt = &ts
		}
		captions = append(captions, caption)
	}
	return captions, rows.Err()
}

// RecordCaptionUse заменяет хранимую свежесть затухшим значением и обновляет
// момент использования.
func (p *Postgres) RecordCaptionUse(ctx context.Context, captionID int64, freshness float64, usedAt time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE captions SET freshness_score=$2, last_used_at=$3, updated_at=now()
WHERE id=$1
`, captionID, freshness, usedAt)
	metrics.ObserveNetworkRequest("postgres", "captions_record_use", "captions", start, err)
	return err
}
