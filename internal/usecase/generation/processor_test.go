package generation

import (
	"context"
	"math"
	"testing"
	"time"

	"volume-engine/internal/domain"
	"volume-engine/internal/usecase/captions"
	"volume-engine/internal/usecase/multipliers"
	"volume-engine/internal/usecase/readiness"
	"volume-engine/internal/usecase/volume"
)

type stubCreatorDirectory struct {
	creators map[int64]domain.Creator
}

func (s *stubCreatorDirectory) GetCreator(_ context.Context, id int64) (domain.Creator, error) {
	creator, ok := s.creators[id]
	if !ok {
		return domain.Creator{}, domain.ErrCreatorNotFound
	}
	return creator, nil
}

func (s *stubCreatorDirectory) ListActiveCreators(_ context.Context) ([]domain.Creator, error) {
	out := make([]domain.Creator, 0, len(s.creators))
	for _, creator := range s.creators {
		out = append(out, creator)
	}
	return out, nil
}

type stubHistoryReader struct {
	metrics domain.SendPeriodMetrics
}

func (s *stubHistoryReader) PeriodMetrics(_ context.Context, _ int64, _ domain.SignalWindow) (domain.SendPeriodMetrics, error) {
	return s.metrics, nil
}

func (s *stubHistoryReader) DailyMetrics(_ context.Context, _ int64, _ int) ([]domain.DailySendMetrics, error) {
	return nil, nil
}

type stubSignalRepo struct {
	snapshot *domain.SignalSnapshot
}

func (s *stubSignalRepo) SaveSnapshot(_ context.Context, snapshot domain.SignalSnapshot) (domain.SignalSnapshot, error) {
	return snapshot, nil
}

func (s *stubSignalRepo) CurrentSnapshot(_ context.Context, _ int64, _ domain.SignalWindow) (domain.SignalSnapshot, error) {
	if s.snapshot == nil {
		return domain.SignalSnapshot{}, domain.ErrNoSignalData
	}
	return *s.snapshot, nil
}

func (s *stubSignalRepo) CurrentSnapshots(_ context.Context, _ int64) ([]domain.SignalSnapshot, error) {
	if s.snapshot == nil {
		return nil, domain.ErrNoSignalData
	}
	return []domain.SignalSnapshot{*s.snapshot}, nil
}

type stubMultiplierRepo struct{}

func (s *stubMultiplierRepo) SaveDayOfWeek(_ context.Context, _ domain.DayOfWeekMultiplier) error {
	return nil
}

func (s *stubMultiplierRepo) DayOfWeek(_ context.Context, _ int64, _ int) (domain.DayOfWeekMultiplier, error) {
	return domain.DayOfWeekMultiplier{}, domain.ErrNoMultiplier
}

func (s *stubMultiplierRepo) ListDayOfWeek(_ context.Context, _ int64) ([]domain.DayOfWeekMultiplier, error) {
	return nil, nil
}

type stubTriggerRepo struct{}

func (s *stubTriggerRepo) CreateTrigger(_ context.Context, trigger domain.VolumeTrigger) (domain.VolumeTrigger, error) {
	return trigger, nil
}

func (s *stubTriggerRepo) ActiveTriggers(_ context.Context, _ int64, _ domain.ContentCategory) ([]domain.VolumeTrigger, error) {
	return nil, nil
}

func (s *stubTriggerRepo) DeactivateExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubCaptionRepo struct {
	captions []domain.Caption
	used     []int64
}

func (s *stubCaptionRepo) ListActiveByTypes(_ context.Context, _ int64, types []string) ([]domain.Caption, error) {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	out := make([]domain.Caption, 0, len(s.captions))
	for _, caption := range s.captions {
		if _, ok := allowed[caption.CaptionType]; ok {
			out = append(out, caption)
		}
	}
	return out, nil
}

func (s *stubCaptionRepo) RecordCaptionUse(_ context.Context, captionID int64, _ float64, _ time.Time) error {
	s.used = append(s.used, captionID)
	return nil
}

type stubQuotaLogRepo struct {
	quotas []domain.VolumeQuota
}

func (s *stubQuotaLogRepo) AppendQuota(_ context.Context, quota domain.VolumeQuota) (domain.VolumeQuota, error) {
	s.quotas = append(s.quotas, quota)
	return quota, nil
}

func (s *stubQuotaLogRepo) ListQuotaHistory(_ context.Context, _ int64, _ time.Time) ([]domain.VolumeQuota, error) {
	return s.quotas, nil
}

type stubPredictionRepo struct {
	predictions []domain.Prediction
}

func (s *stubPredictionRepo) CreatePrediction(_ context.Context, prediction domain.Prediction) error {
	s.predictions = append(s.predictions, prediction)
	return nil
}

func (s *stubPredictionRepo) GetPrediction(_ context.Context, id string) (domain.Prediction, error) {
	for _, prediction := range s.predictions {
		if prediction.ID == id {
			return prediction, nil
		}
	}
	return domain.Prediction{}, domain.ErrPredictionNotFound
}

func (s *stubPredictionRepo) ListUnmeasured(_ context.Context, _ time.Time, _ int) ([]domain.Prediction, error) {
	return nil, nil
}

func (s *stubPredictionRepo) SaveOutcome(_ context.Context, outcome domain.Outcome) (domain.Outcome, error) {
	return outcome, nil
}

func (s *stubPredictionRepo) ListUnappliedOutcomes(_ context.Context, _ int) ([]domain.Outcome, error) {
	return nil, nil
}

type stubWeightRepo struct {
	weights []domain.FeatureWeight
}

func (s *stubWeightRepo) ListWeights(_ context.Context) ([]domain.FeatureWeight, error) {
	return s.weights, nil
}

func (s *stubWeightRepo) ApplyLearningBatch(_ context.Context, _ []domain.FeatureWeight, _ []int64) error {
	return nil
}

func newTestProcessor(creators *stubCreatorDirectory, signalRepo *stubSignalRepo, captionRepo *stubCaptionRepo, quotaLog *stubQuotaLogRepo, predictionRepo *stubPredictionRepo, history *stubHistoryReader, events *stubEventRepo) *Processor {
	registry := multipliers.NewRegistry(&stubMultiplierRepo{}, &stubTriggerRepo{}, 0.3)
	calculator := volume.NewCalculator(signalRepo, registry, volume.DefaultConfig())
	pool := captions.NewPool(captionRepo, captions.DefaultConfig())
	return NewProcessor(
		creators,
		history,
		signalRepo,
		calculator,
		pool,
		readiness.NewEvaluator(),
		quotaLog,
		predictionRepo,
		&stubWeightRepo{weights: []domain.FeatureWeight{{Name: "opportunity", CurrentWeight: 0.5, MinWeight: 0, MaxWeight: 1}}},
		events,
	)
}

func TestProcessWritesQuotasAndPrediction(t *testing.T) {
	creators := &stubCreatorDirectory{creators: map[int64]domain.Creator{
		42: {ID: 42, FanCount: 1000, PageType: domain.PageTypePaid, ContentCategory: domain.ContentCategorySoftcore, IsActive: true},
	}}
	snapshot := &domain.SignalSnapshot{
		CreatorID:            42,
		Window:               domain.SignalWindow7d,
		SaturationScore:      50,
		OpportunityScore:     50,
		MessageCountAnalyzed: 40,
		ComputedAt:           time.Now().UTC(),
	}
	captionRepo := &stubCaptionRepo{}
	for i := int64(1); i <= 40; i++ {
		captionRepo.captions = append(captionRepo.captions, domain.Caption{
			ID: i, CreatorID: 42, CaptionType: "ppv", FreshnessScore: 80, PerformanceScore: 70, IsActive: true,
		})
	}
	quotaLog := &stubQuotaLogRepo{}
	predictionRepo := &stubPredictionRepo{}
	events := &stubEventRepo{}
	history := &stubHistoryReader{metrics: domain.SendPeriodMetrics{RevenuePerSend: 10, ViewRate: 0.5, PurchaseRate: 0.1}}
	processor := newTestProcessor(creators, &stubSignalRepo{snapshot: snapshot}, captionRepo, quotaLog, predictionRepo, history, events)

	start, end := period(1)
	resultRef, err := processor.Process(context.Background(), domain.GenerationRequest{ID: "req-1", CreatorID: 42, PeriodStart: start, PeriodEnd: end})
	if err != nil {
		t.Fatalf("обработка заявки: %v", err)
	}

	if len(quotaLog.quotas) != 7 {
		t.Fatalf("ожидали 7 записей квот, получили %d", len(quotaLog.quotas))
	}
	// mid-корзина {3,3,1}, нейтральные сигналы, softcore 1.5: revenue 3*1.5 → 5.
	for _, quota := range quotaLog.quotas {
		if quota.RevenuePerDay != 5 || quota.EngagementPerDay != 3 || quota.RetentionPerDay != 1 {
			t.Fatalf("неожиданная квота %+v", quota)
		}
		if quota.CaptionConstrained {
			t.Fatalf("инвентаря достаточно, ограничения быть не должно: %+v", quota)
		}
	}

	if len(predictionRepo.predictions) != 1 {
		t.Fatalf("ожидали один прогноз, получили %d", len(predictionRepo.predictions))
	}
	prediction := predictionRepo.predictions[0]
	if prediction.ID != resultRef {
		t.Fatalf("ссылка на результат %q должна совпадать с прогнозом %q", resultRef, prediction.ID)
	}
	if prediction.RequestID != "req-1" || prediction.CreatorID != 42 {
		t.Fatalf("прогноз привязан не к той заявке: %+v", prediction)
	}
	// Нейтральные признаки дают нулевую поправку к базовой линии.
	if math.Abs(prediction.PredictedRevenuePerSend-10) > 1e-9 {
		t.Fatalf("ожидали прогноз 10, получили %v", prediction.PredictedRevenuePerSend)
	}
	if prediction.BaselineRevenuePerSend != 10 || prediction.BaselineSaturation != 50 {
		t.Fatalf("базовая линия записана неверно: %+v", prediction)
	}

	if len(captionRepo.used) == 0 {
		t.Fatalf("подписи под revenue-объём должны резервироваться")
	}

	quotaEvents := 0
	for _, event := range events.events {
		if event.Event == domain.EngineEventQuotaComputed {
			quotaEvents++
		}
	}
	if quotaEvents != 7 {
		t.Fatalf("ожидали 7 событий quota_computed, получили %d", quotaEvents)
	}
}

func TestProcessFailsOnUnknownCreator(t *testing.T) {
	processor := newTestProcessor(
		&stubCreatorDirectory{creators: map[int64]domain.Creator{}},
		&stubSignalRepo{},
		&stubCaptionRepo{},
		&stubQuotaLogRepo{},
		&stubPredictionRepo{},
		&stubHistoryReader{},
		&stubEventRepo{},
	)
	start, end := period(1)
	if _, err := processor.Process(context.Background(), domain.GenerationRequest{ID: "req-2", CreatorID: 99, PeriodStart: start, PeriodEnd: end}); err == nil {
		t.Fatalf("неизвестный креатор должен приводить к ошибке")
	}
}
