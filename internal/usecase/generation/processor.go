package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"volume-engine/internal/domain"
	"volume-engine/internal/usecase/captions"
	"volume-engine/internal/usecase/readiness"
	"volume-engine/internal/usecase/volume"
)

// primaryRevenueSendType — якорный вариант, под который резервируются подписи
// при обработке заявки. Остальные варианты добирают подписи при сборке
// конкретного расписания.
const primaryRevenueSendType = "ppv_unlock"

// Processor выполняет захваченную заявку: считает квоты по дням периода,
// сверяет их с инвентарём подписей, резервирует подписи и фиксирует прогноз.
type Processor struct {
	creators    domain.CreatorDirectory
	history     domain.SendHistoryReader
	signals     domain.SignalRepo
	calculator  *volume.Calculator
	pool        *captions.Pool
	readiness   *readiness.Evaluator
	quotaLog    domain.QuotaLogRepo
	predictions domain.PredictionRepo
	weights     domain.FeatureWeightRepo
	events      domain.EngineEventRepo
	now         func() time.Time
}

// NewProcessor создаёт обработчик заявок.
func NewProcessor(
	creators domain.CreatorDirectory,
	history domain.SendHistoryReader,
	signals domain.SignalRepo,
	calculator *volume.Calculator,
	pool *captions.Pool,
	evaluator *readiness.Evaluator,
	quotaLog domain.QuotaLogRepo,
	predictions domain.PredictionRepo,
	weights domain.FeatureWeightRepo,
	events domain.EngineEventRepo,
) *Processor {
	return &Processor{
		creators:    creators,
		history:     history,
		signals:     signals,
		calculator:  calculator,
		pool:        pool,
		readiness:   evaluator,
		quotaLog:    quotaLog,
		predictions: predictions,
		weights:     weights,
		events:      events,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process обрабатывает заявку и возвращает ссылку на результат —
// идентификатор записанного прогноза.
func (p *Processor) Process(ctx context.Context, request domain.GenerationRequest) (string, error) {
	creator, err := p.creators.GetCreator(ctx, request.CreatorID)
	if err != nil {
		return "", fmt.Errorf("чтение креатора %d: %w", request.CreatorID, err)
	}

	available, err := p.pool.EligibleCount(ctx, creator.ID, domain.SendCategoryRevenue)
	if err != nil {
		return "", fmt.Errorf("оценка инвентаря подписей: %w", err)
	}

	totalRevenue := 0
	confidenceSum := 0.0
	days := 0
	for day := request.PeriodStart; day.Before(request.PeriodEnd); day = day.AddDate(0, 0, 1) {
		quota, err := p.calculator.ComputeQuota(ctx, creator, day)
		if err != nil {
			return "", fmt.Errorf("расчёт квоты на %s: %w", day.Format("2006-01-02"), err)
		}
		report := p.readiness.Evaluate(quota, available)
		quota = p.readiness.Apply(quota, report)

		if _, err := p.quotaLog.AppendQuota(ctx, quota); err != nil {
			return "", fmt.Errorf("запись квоты на %s: %w", day.Format("2006-01-02"), err)
		}

		creatorID := creator.ID
		_ = p.events.RecordEngineEvent(ctx, domain.EngineEvent{
			Event:     domain.EngineEventQuotaComputed,
			CreatorID: &creatorID,
			Metadata: map[string]any{
				"date":                day.Format("2006-01-02"),
				"tier":                quota.Tier,
				"revenue_per_day":     quota.RevenuePerDay,
				"engagement_per_day":  quota.EngagementPerDay,
				"retention_per_day":   quota.RetentionPerDay,
				"readiness":           report.Status,
				"caption_constrained": quota.CaptionConstrained,
				"data_source":         quota.DataSource,
			},
		})

		totalRevenue += quota.RevenuePerDay
		confidenceSum += quota.ConfidenceScore
		days++
	}
	if days == 0 {
		return "", fmt.Errorf("пустой период заявки %s", request.ID)
	}

	if err := p.reserveCaptions(ctx, creator.ID, totalRevenue); err != nil {
		return "", err
	}

	prediction, err := p.recordPrediction(ctx, creator, request, confidenceSum/float64(days))
	if err != nil {
		return "", err
	}
	return prediction.ID, nil
}

// reserveCaptions резервирует подписи под revenue-объём периода. Нехватка —
// не провал: квоты уже урезаны оценкой готовности, работаем с тем, что есть.
func (p *Processor) reserveCaptions(ctx context.Context, creatorID int64, count int) error {
	if count == 0 {
		return nil
	}
	selected, err := p.pool.SelectCaptions(ctx, creatorID, primaryRevenueSendType, count)
	if err != nil && !errors.Is(err, captions.ErrInsufficientInventory) {
		return fmt.Errorf("отбор подписей: %w", err)
	}
	for _, caption := range selected {
		if err := p.pool.RecordUse(ctx, caption); err != nil {
			return fmt.Errorf("резервирование подписи %d: %w", caption.ID, err)
		}
	}
	return nil
}

// recordPrediction фиксирует базовую линию и прогноз на период заявки.
// Прогноз — взвешенная поправка к базовой линии истории, веса признаков
// обновляет только батч обучения.
func (p *Processor) recordPrediction(ctx context.Context, creator domain.Creator, request domain.GenerationRequest, confidence float64) (domain.Prediction, error) {
	metrics, err := p.history.PeriodMetrics(ctx, creator.ID, domain.SignalWindow7d)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("чтение базовой линии: %w", err)
	}

	features := map[string]float64{}
	baselineSaturation := 50.0
	baselineOpportunity := 50.0
	snapshot, err := p.signals.CurrentSnapshot(ctx, creator.ID, domain.SignalWindow7d)
	if err == nil {
		baselineSaturation = snapshot.SaturationScore
		baselineOpportunity = snapshot.OpportunityScore
		features["saturation"] = -(snapshot.SaturationScore - 50) / 50
		features["opportunity"] = (snapshot.OpportunityScore - 50) / 50
		features["revenue_trend"] = clampUnit(snapshot.RevenuePerSendTrend / 100)
		features["volatility"] = -clampUnit(snapshot.Volatility / 100)
	}

	adjustment := p.weightedAdjustment(ctx, features)
	prediction := domain.Prediction{
		ID:                      uuid.NewString(),
		CreatorID:               creator.ID,
		RequestID:               request.ID,
		PeriodStart:             request.PeriodStart,
		PeriodEnd:               request.PeriodEnd,
		PredictedRevenuePerSend: metrics.RevenuePerSend * (1 + adjustment),
		PredictedOpenRate:       metrics.ViewRate * (1 + adjustment/2),
		PredictedConversionRate: metrics.PurchaseRate * (1 + adjustment/2),
		Confidence:              confidence,
		Features:                features,
		BaselineSaturation:      baselineSaturation,
		BaselineOpportunity:     baselineOpportunity,
		BaselineRevenuePerSend:  metrics.RevenuePerSend,
		CreatedAt:               p.now(),
	}
	if err := p.predictions.CreatePrediction(ctx, prediction); err != nil {
		return domain.Prediction{}, fmt.Errorf("запись прогноза: %w", err)
	}
	return prediction, nil
}

// weightedAdjustment сводит признаки в одну поправку через текущие веса.
// Отсутствие весов или признаков даёт нулевую поправку, а не ошибку.
func (p *Processor) weightedAdjustment(ctx context.Context, features map[string]float64) float64 {
	weights, err := p.weights.ListWeights(ctx)
	if err != nil || len(weights) == 0 {
		return 0
	}
	sum := 0.0
	matched := 0
	for _, weight := range weights {
		value, ok := features[weight.Name]
		if !ok {
			continue
		}
		sum += weight.CurrentWeight * value
		matched++
	}
	if matched == 0 {
		return 0
	}
	adjustment := sum / float64(matched)
	if adjustment > 0.5 {
		return 0.5
	}
	if adjustment < -0.5 {
		return -0.5
	}
	return adjustment
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
