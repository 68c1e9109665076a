package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// Config содержит параметры обучения.
type Config struct {
	// Step — базовый шаг изменения веса за один результат.
	Step float64
	// BatchLimit — максимум записей за один проход батча.
	BatchLimit int
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{Step: 0.05, BatchLimit: 500}
}

// ActualMetrics — фактические метрики периода, измеренные после его окончания.
type ActualMetrics struct {
	RevenuePerSend   float64
	OpenRate         float64
	ConversionRate   float64
	SaturationAfter  float64
	OpportunityAfter float64
}

// Service реализует контур обучения: измерение прогнозов, классификацию
// результатов и батчевое обновление весов признаков.
type Service struct {
	predictions domain.PredictionRepo
	weights     domain.FeatureWeightRepo
	history     domain.SendHistoryReader
	signals     domain.SignalRepo
	events      domain.EngineEventRepo
	cfg         Config
	now         func() time.Time
}

// NewService создаёт сервис обучения.
func NewService(predictions domain.PredictionRepo, weights domain.FeatureWeightRepo, history domain.SendHistoryReader, signals domain.SignalRepo, events domain.EngineEventRepo, cfg Config) *Service {
	return &Service{
		predictions: predictions,
		weights:     weights,
		history:     history,
		signals:     signals,
		events:      events,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RecordOutcome сопоставляет прогноз с фактом и сохраняет результат.
// Результат не применяется к весам сразу: применение — отдельный батч.
func (s *Service) RecordOutcome(ctx context.Context, predictionID string, actuals ActualMetrics) (domain.Outcome, error) {
	prediction, err := s.predictions.GetPrediction(ctx, predictionID)
	if err != nil {
		if errors.Is(err, domain.ErrPredictionNotFound) {
			return domain.Outcome{}, domain.ErrPredictionNotFound
		}
		return domain.Outcome{}, fmt.Errorf("чтение прогноза %s: %w", predictionID, err)
	}

	saturationDelta := actuals.SaturationAfter - prediction.BaselineSaturation
	opportunityDelta := actuals.OpportunityAfter - prediction.BaselineOpportunity
	revenueDelta := actuals.RevenuePerSend - prediction.BaselineRevenuePerSend

	outcome := domain.Outcome{
		PredictionID:         predictionID,
		ActualRevenuePerSend: actuals.RevenuePerSend,
		ActualOpenRate:       actuals.OpenRate,
		ActualConversionRate: actuals.ConversionRate,
		SaturationAfter:      actuals.SaturationAfter,
		OpportunityAfter:     actuals.OpportunityAfter,
		Classification:       classify(saturationDelta, opportunityDelta, revenueDelta),
		LearningSignal:       learningSignal(saturationDelta, opportunityDelta, revenueDelta, prediction.BaselineRevenuePerSend),
		RevenueError:         actuals.RevenuePerSend - prediction.PredictedRevenuePerSend,
		MeasuredAt:           s.now(),
	}

	saved, err := s.predictions.SaveOutcome(ctx, outcome)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("запись результата: %w", err)
	}

	creatorID := prediction.CreatorID
	_ = s.events.RecordEngineEvent(ctx, domain.EngineEvent{
		Event:     domain.EngineEventOutcomeRecorded,
		CreatorID: &creatorID,
		Metadata: map[string]any{
			"prediction_id":   predictionID,
			"classification":  saved.Classification,
			"learning_signal": saved.LearningSignal,
			"revenue_error":   saved.RevenueError,
		},
	})
	return saved, nil
}

// MeasurePending измеряет прогнозы с завершившимся периодом: читает факт из
// истории рассылок и текущих сигналов и записывает результат по каждому.
func (s *Service) MeasurePending(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.predictions.ListUnmeasured(ctx, now, s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("выборка неизмеренных прогнозов: %w", err)
	}
	measured := 0
	for _, prediction := range pending {
		periodMetrics, err := s.history.PeriodMetrics(ctx, prediction.CreatorID, domain.SignalWindow7d)
		if err != nil {
			continue
		}
		actuals := ActualMetrics{
			RevenuePerSend: periodMetrics.RevenuePerSend,
			OpenRate:       periodMetrics.ViewRate,
			ConversionRate: periodMetrics.PurchaseRate,
		}
		if snapshot, err := s.signals.CurrentSnapshot(ctx, prediction.CreatorID, domain.SignalWindow7d); err == nil {
			actuals.SaturationAfter = snapshot.SaturationScore
			actuals.OpportunityAfter = snapshot.OpportunityScore
		} else {
			// Без свежего снимка сигнальные дельты нейтральны.
			actuals.SaturationAfter = prediction.BaselineSaturation
			actuals.OpportunityAfter = prediction.BaselineOpportunity
		}
		if _, err := s.RecordOutcome(ctx, prediction.ID, actuals); err != nil {
			continue
		}
		measured++
	}
	return measured, nil
}

// ApplyPendingLearning применяет неучтённые результаты к весам признаков
// одним батчем. Пустой батч — no-op. Повторный вызов не трогает уже
// учтённые результаты: выборка видит только applied_to_learning=false.
func (s *Service) ApplyPendingLearning(ctx context.Context) (int, error) {
	outcomes, err := s.predictions.ListUnappliedOutcomes(ctx, s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("выборка неучтённых результатов: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	weights, err := s.weights.ListWeights(ctx)
	if err != nil {
		return 0, fmt.Errorf("чтение весов: %w", err)
	}
	byName := make(map[string]domain.FeatureWeight, len(weights))
	for _, weight := range weights {
		byName[weight.Name] = weight
	}

	adjusted := map[string]bool{}
	appliedIDs := make([]int64, 0, len(outcomes))
	now := s.now()
	for _, outcome := range outcomes {
		prediction, err := s.predictions.GetPrediction(ctx, outcome.PredictionID)
		if err != nil {
			continue
		}
		step := s.cfg.Step * outcome.LearningSignal * prediction.Confidence
		for name, value := range prediction.Features {
			weight, ok := byName[name]
			if !ok {
				continue
			}
			weight.CurrentWeight = weight.Clamp(weight.CurrentWeight + step*value)
			weight.AdjustmentCount++
			weight.LastAdjustment = &now
			byName[name] = weight
			adjusted[name] = true
		}
		appliedIDs = append(appliedIDs, outcome.ID)
	}

	changed := make([]domain.FeatureWeight, 0, len(adjusted))
	for name := range adjusted {
		changed = append(changed, byName[name])
	}
	// Веса и отметки результатов сохраняются одной атомарной операцией:
	// провал посреди батча не оставит вес применённым при неотмеченном
	// результате, иначе следующий батч учёл бы тот же сигнал повторно.
	if err := s.weights.ApplyLearningBatch(ctx, changed, appliedIDs); err != nil {
		return 0, fmt.Errorf("применение батча обучения: %w", err)
	}
	metrics.LearningAdjustments.Add(float64(len(changed)))

	_ = s.events.RecordEngineEvent(ctx, domain.EngineEvent{
		Event: domain.EngineEventWeightsAdjusted,
		Metadata: map[string]any{
			"outcomes_applied": len(appliedIDs),
			"weights_adjusted": len(adjusted),
		},
	})
	return len(appliedIDs), nil
}

// classify сводит дельты в класс результата. Улучшение проверяется первым:
// одновременное улучшение и деградация по разным осям считается улучшением.
func classify(saturationDelta, opportunityDelta, revenueDelta float64) domain.OutcomeClass {
	if saturationDelta < 0 || opportunityDelta > 0 || revenueDelta > 0 {
		return domain.OutcomeImproved
	}
	if saturationDelta > 0 && revenueDelta < 0 {
		return domain.OutcomeDegraded
	}
	return domain.OutcomeNeutral
}

// learningSignal нормирует дельты в сигнал [-1, 1].
func learningSignal(saturationDelta, opportunityDelta, revenueDelta, baselineRevenue float64) float64 {
	revenueTerm := 0.0
	if baselineRevenue != 0 {
		revenueTerm = clamp(revenueDelta/baselineRevenue, -1, 1)
	}
	signal := (-saturationDelta/100 + opportunityDelta/100 + revenueTerm) / 3
	return clamp(signal, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
