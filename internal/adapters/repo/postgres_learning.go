package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// CreatePrediction сохраняет прогноз. Запись неизменяема.
func (p *Postgres) CreatePrediction(ctx context.Context, prediction domain.Prediction) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if prediction.CreatedAt.IsZero() {
		prediction.CreatedAt = time.Now().UTC()
	}
	var features []byte
	if prediction.Features != nil {
		if data, err := json.Marshal(prediction.Features); err == nil {
			features = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO predictions (id, creator_id, request_id, period_start, period_end,
    predicted_revenue_per_send, predicted_open_rate, predicted_conversion_rate, confidence, features,
    baseline_saturation, baseline_opportunity, baseline_revenue_per_send, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`, prediction.ID, prediction.CreatorID, prediction.RequestID, prediction.PeriodStart, prediction.PeriodEnd,
		prediction.PredictedRevenuePerSend, prediction.PredictedOpenRate, prediction.PredictedConversionRate,
		prediction.Confidence, features, prediction.BaselineSaturation, prediction.BaselineOpportunity,
		prediction.BaselineRevenuePerSend, prediction.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "predictions_insert", "predictions", start, err)
	return err
}

// GetPrediction возвращает прогноз по идентификатору.
func (p *Postgres) GetPrediction(ctx context.Context, id string) (domain.Prediction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, creator_id, request_id, period_start, period_end,
       predicted_revenue_per_send, predicted_open_rate, predicted_conversion_rate, confidence, features,
       baseline_saturation, baseline_opportunity, baseline_revenue_per_send, created_at
FROM predictions WHERE id=$1
`, id)
	prediction, err := scanPrediction(row)
	metrics.ObserveNetworkRequest("postgres", "predictions_get", "predictions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, domain.ErrPredictionNotFound
	}
	return prediction, err
}

// ListUnmeasured возвращает прогнозы с завершившимся периодом без результата.
func (p *Postgres) ListUnmeasured(ctx context.Context, before time.Time, limit int) ([]domain.Prediction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT pr.id, pr.creator_id, pr.request_id, pr.period_start, pr.period_end,
       pr.predicted_revenue_per_send, pr.predicted_open_rate, pr.predicted_conversion_rate, pr.confidence, pr.features,
       pr.baseline_saturation, pr.baseline_opportunity, pr.baseline_revenue_per_send, pr.created_at
FROM predictions pr
LEFT JOIN outcomes o ON o.prediction_id = pr.id
WHERE o.id IS NULL AND pr.period_end < $1
ORDER BY pr.period_end
LIMIT $2
`, before, limit)
	metrics.ObserveNetworkRequest("postgres", "predictions_list_unmeasured", "predictions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []domain.Prediction
	for rows.Next() {
		prediction, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, prediction)
	}
	return predictions, rows.Err()
}

// SaveOutcome сохраняет результат прогноза (1:1).
func (p *Postgres) SaveOutcome(ctx context.Context, outcome domain.Outcome) (domain.Outcome, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if outcome.MeasuredAt.IsZero() {
		outcome.MeasuredAt = time.Now().UTC()
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO outcomes (prediction_id, actual_revenue_per_send, actual_open_rate, actual_conversion_rate,
    saturation_after, opportunity_after, classification, learning_signal, revenue_error, applied_to_learning, measured_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10)
RETURNING id
`, outcome.PredictionID, outcome.ActualRevenuePerSend, outcome.ActualOpenRate, outcome.ActualConversionRate,
		outcome.SaturationAfter, outcome.OpportunityAfter, outcome.Classification, outcome.LearningSignal,
		outcome.RevenueError, outcome.MeasuredAt).Scan(&outcome.ID)
	metrics.ObserveNetworkRequest("postgres", "outcomes_insert", "outcomes", start, err)
	return outcome, err
}

// ListUnappliedOutcomes возвращает результаты, не учтённые обучением.
func (p *Postgres) ListUnappliedOutcomes(ctx context.Context, limit int) ([]domain.Outcome, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, prediction_id, actual_revenue_per_send, actual_open_rate, actual_conversion_rate,
       saturation_after, opportunity_after, classification, learning_signal, revenue_error, applied_to_learning, measured_at
FROM outcomes
WHERE NOT applied_to_learning
ORDER BY measured_at
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "outcomes_list_unapplied", "outcomes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var outcome domain.Outcome
		if err := rows.Scan(&outcome.ID, &outcome.PredictionID, &outcome.ActualRevenuePerSend,
			&outcome.ActualOpenRate, &outcome.ActualConversionRate, &outcome.SaturationAfter,
			&outcome.OpportunityAfter, &outcome.Classification, &outcome.LearningSignal,
			&outcome.RevenueError, &outcome.AppliedToLearning, &outcome.MeasuredAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}

// ApplyLearningBatch сохраняет новые версии весов и отмечает результаты
// учтёнными в одной транзакции. Откат посреди батча не оставит часть весов
// сохранённой при неотмеченных результатах.
func (p *Postgres) ApplyLearningBatch(ctx context.Context, weights []domain.FeatureWeight, outcomeIDs []int64) error {
	if len(weights) == 0 && len(outcomeIDs) == 0 {
		return nil
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "feature_weights", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, weight := range weights {
		var lastAdjustment sql.NullTime
		if weight.LastAdjustment != nil {
			lastAdjustment = sql.NullTime{Time: *weight.LastAdjustment, Valid: true}
		}
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO feature_weights (feature_name, category, current_weight, min_weight, max_weight, adjustment_count, last_adjustment)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, weight.Name, weight.Category, weight.CurrentWeight, weight.MinWeight, weight.MaxWeight,
			weight.AdjustmentCount, lastAdjustment)
		metrics.ObserveNetworkRequest("postgres", "feature_weights_insert", "feature_weights", start, err)
		if err != nil {
			return err
		}
	}

	if len(outcomeIDs) > 0 {
		start = time.Now()
		_, err = tx.Exec(ctx, `
UPDATE outcomes SET applied_to_learning=true WHERE id = ANY($1)
`, outcomeIDs)
		metrics.ObserveNetworkRequest("postgres", "outcomes_mark_applied", "outcomes", start, err)
		if err != nil {
			return err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "feature_weights", start, err)
	return err
}

// ListWeights возвращает последние версии весов признаков.
func (p *Postgres) ListWeights(ctx context.Context) ([]domain.FeatureWeight, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT ON (feature_name) feature_name, category, current_weight, min_weight, max_weight, adjustment_count, last_adjustment
FROM feature_weights
ORDER BY feature_name, created_at DESC
`)
	metrics.ObserveNetworkRequest("postgres", "feature_weights_list", "feature_weights", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var weights []domain.FeatureWeight
	for rows.Next() {
		var (
			weight         domain.FeatureWeight
			lastAdjustment sql.NullTime
		)
		if err := rows.Scan(&weight.Name, &weight.Category, &weight.CurrentWeight, &weight.MinWeight,
			&weight.MaxWeight, &weight.AdjustmentCount, &lastAdjustment); err != nil {
			return nil, err
		}
		if lastAdjustment.Valid {
			ts := lastAdjustment.Time
			weight.LastAdjustment = &ts
		}
		weights = append(weights, weight)
	}
	return weights, rows.Err()
}

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var (
		prediction domain.Prediction
		features   []byte
	)
	err := row.Scan(&prediction.ID, &prediction.CreatorID, &prediction.RequestID,
		&prediction.PeriodStart, &prediction.PeriodEnd, &prediction.PredictedRevenuePerSend,
		&prediction.PredictedOpenRate, &prediction.PredictedConversionRate, &prediction.Confidence,
		&features, &prediction.BaselineSaturation, &prediction.BaselineOpportunity,
		&prediction.BaselineRevenuePerSend, &prediction.CreatedAt)
	if err != nil {
		return domain.Prediction{}, err
	}
	if len(features) > 0 {
		_ = json.Unmarshal(features, &prediction.Features)
	}
	return prediction, nil
}
