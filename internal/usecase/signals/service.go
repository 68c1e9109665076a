package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// Config содержит пороги правил агрегации и обнаружения триггеров.
// Процентные пороги взяты из продуктовых правил и настраиваются окружением.
type Config struct {
	DecliningRPSPct      float64
	DecliningViewPct     float64
	DecliningPurchasePct float64
	TrendingUpPct        float64
	HighPerformerPct     float64
	EmergingWinnerPct    float64
	HighPerformerMinMsgs int
	EmergingMaxMsgs      int
	DOWLookbackDays      int
	TriggerTTL           time.Duration
}

// DefaultConfig возвращает пороги по умолчанию.
func DefaultConfig() Config {
	return Config{
		DecliningRPSPct:      15,
		DecliningViewPct:     10,
		DecliningPurchasePct: 10,
		TrendingUpPct:        15,
		HighPerformerPct:     30,
		EmergingWinnerPct:    20,
		HighPerformerMinMsgs: 30,
		EmergingMaxMsgs:      15,
		DOWLookbackDays:      90,
		TriggerTTL:           7 * 24 * time.Hour,
	}
}

// Service агрегирует историю рассылок в сигналы: снимки насыщения и
// потенциала, недельные множители и триггеры объёма.
type Service struct {
	history     domain.SendHistoryReader
	snapshots   domain.SignalRepo
	multipliers domain.MultiplierRepo
	triggers    domain.TriggerRepo
	cfg         Config
	now         func() time.Time
}

// NewService создаёт агрегатор сигналов.
func NewService(history domain.SendHistoryReader, snapshots domain.SignalRepo, multipliers domain.MultiplierRepo, triggers domain.TriggerRepo, cfg Config) *Service {
	return &Service{
		history:     history,
		snapshots:   snapshots,
		multipliers: multipliers,
		triggers:    triggers,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// BuildSnapshot считает и сохраняет снимок сигналов за окно.
func (s *Service) BuildSnapshot(ctx context.Context, creatorID int64, window domain.SignalWindow) (domain.SignalSnapshot, error) {
	period, err := s.history.PeriodMetrics(ctx, creatorID, window)
	if err != nil {
		return domain.SignalSnapshot{}, fmt.Errorf("агрегаты истории: %w", err)
	}

	snapshot := domain.SignalSnapshot{
		CreatorID:            creatorID,
		Window:               window,
		RevenuePerSendTrend:  trendPct(period.RevenuePerSend, period.PrevRevenuePerSend),
		ViewRateTrend:        trendPct(period.ViewRate, period.PrevViewRate),
		PurchaseRateTrend:    trendPct(period.PurchaseRate, period.PrevPurchaseRate),
		MessageCountAnalyzed: period.MessageCount,
		ComputedAt:           s.now(),
	}
	snapshot.SaturationScore = s.saturation(snapshot)
	snapshot.OpportunityScore = s.opportunity(snapshot)
	if period.RevenueMean > 0 {
		snapshot.Volatility = period.RevenueStdDev / period.RevenueMean * 100
	}

	saved, err := s.snapshots.SaveSnapshot(ctx, snapshot)
	if err != nil {
		return domain.SignalSnapshot{}, fmt.Errorf("сохранение снимка: %w", err)
	}
	return saved, nil
}

// BuildAllWindows строит снимки по всем трём горизонтам.
func (s *Service) BuildAllWindows(ctx context.Context, creatorID int64) ([]domain.SignalSnapshot, error) {
	windows := []domain.SignalWindow{domain.SignalWindow7d, domain.SignalWindow14d, domain.SignalWindow30d}
	out := make([]domain.SignalSnapshot, 0, len(windows))
	for _, window := range windows {
		snapshot, err := s.BuildSnapshot(ctx, creatorID, window)
		if err != nil {
			return out, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

// saturation складывает признаки спада в оценку 0–100 от нейтральных 50.
func (s *Service) saturation(snapshot domain.SignalSnapshot) float64 {
	score := 50.0
	if snapshot.RevenuePerSendTrend < -s.cfg.DecliningRPSPct {
		score += 20
	}
	if snapshot.ViewRateTrend < -s.cfg.DecliningViewPct {
		score += 15
	}
	if snapshot.PurchaseRateTrend < -s.cfg.DecliningPurchasePct {
		score += 15
	}
	if snapshot.RevenuePerSendTrend > s.cfg.TrendingUpPct {
		score -= 20
	}
	return clampScore(score)
}

// opportunity — зеркальная оценка роста.
func (s *Service) opportunity(snapshot domain.SignalSnapshot) float64 {
	score := 50.0
	if snapshot.RevenuePerSendTrend > s.cfg.TrendingUpPct {
		score += 20
	}
	if snapshot.ViewRateTrend > s.cfg.DecliningViewPct {
		score += 15
	}
	if snapshot.PurchaseRateTrend > s.cfg.DecliningPurchasePct {
		score += 15
	}
	if snapshot.RevenuePerSendTrend < -s.cfg.DecliningRPSPct {
		score -= 20
	}
	return clampScore(score)
}

// RecalcDayOfWeek пересчитывает недельные множители по дневным агрегатам.
// Множитель — отношение среднего revenue-per-send дня недели к общему
// среднему, ограниченное [0.5, 1.5]; уверенность растёт с размером выборки.
func (s *Service) RecalcDayOfWeek(ctx context.Context, creatorID int64) ([]domain.DayOfWeekMultiplier, error) {
	daily, err := s.history.DailyMetrics(ctx, creatorID, s.cfg.DOWLookbackDays)
	if err != nil {
		return nil, fmt.Errorf("дневные агрегаты: %w", err)
	}
	if len(daily) == 0 {
		return nil, nil
	}

	var total float64
	var totalDays int
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, day := range daily {
		if day.MessageCount == 0 {
			continue
		}
		weekday := int(day.Date.Weekday())
		sums[weekday] += day.RevenuePerSend
		counts[weekday]++
		total += day.RevenuePerSend
		totalDays++
	}
	if totalDays == 0 {
		return nil, nil
	}
	overall := total / float64(totalDays)

	now := s.now()
	out := make([]domain.DayOfWeekMultiplier, 0, 7)
	for weekday := 0; weekday < 7; weekday++ {
		n := counts[weekday]
		if n == 0 || overall == 0 {
			continue
		}
		mult := domain.DayOfWeekMultiplier{
			CreatorID:  creatorID,
			Weekday:    weekday,
			Multiplier: clampRange(sums[weekday]/float64(n)/overall, 0.5, 1.5),
			Confidence: math.Min(1, float64(n)/12),
			UpdatedAt:  now,
		}
		if err := s.multipliers.SaveDayOfWeek(ctx, mult); err != nil {
			return out, fmt.Errorf("сохранение множителя: %w", err)
		}
		out = append(out, mult)
	}
	return out, nil
}

// DetectTriggers применяет правила обнаружения к свежему снимку 7d и создаёт
// триггеры с явным сроком истечения. Репозиторий гарантирует единственный
// активный триггер на комбинацию (креатор, категория, тип).
func (s *Service) DetectTriggers(ctx context.Context, creator domain.Creator, snapshot domain.SignalSnapshot) ([]domain.VolumeTrigger, error) {
	now := s.now()
	var fired []domain.VolumeTrigger

	rule := func(triggerType domain.TriggerType, confidence domain.TriggerConfidence) domain.VolumeTrigger {
		return domain.VolumeTrigger{
			CreatorID:       creator.ID,
			ContentCategory: creator.ContentCategory,
			Type:            triggerType,
			Multiplier:      domain.TriggerMultiplier(triggerType),
			Confidence:      confidence,
			DetectedAt:      now,
			ExpiresAt:       now.Add(s.cfg.TriggerTTL),
			IsActive:        true,
		}
	}

	switch {
	case snapshot.RevenuePerSendTrend > s.cfg.HighPerformerPct && snapshot.MessageCountAnalyzed >= s.cfg.HighPerformerMinMsgs:
		fired = append(fired, rule(domain.TriggerHighPerformer, domain.TriggerConfidenceHigh))
	case snapshot.RevenuePerSendTrend > s.cfg.EmergingWinnerPct && snapshot.MessageCountAnalyzed < s.cfg.EmergingMaxMsgs:
		fired = append(fired, rule(domain.TriggerEmergingWinner, domain.TriggerConfidenceLow))
	case snapshot.RevenuePerSendTrend > s.cfg.TrendingUpPct && snapshot.PurchaseRateTrend > 0:
		fired = append(fired, rule(domain.TriggerTrendingUp, domain.TriggerConfidenceModerate))
	}

	if snapshot.SaturationScore >= 85 && snapshot.ViewRateTrend < -s.cfg.DecliningViewPct {
		fired = append(fired, rule(domain.TriggerAudienceFatigue, domain.TriggerConfidenceHigh))
	} else if snapshot.SaturationScore >= 70 {
		fired = append(fired, rule(domain.TriggerSaturating, domain.TriggerConfidenceModerate))
	}

	created := make([]domain.VolumeTrigger, 0, len(fired))
	for _, trigger := range fired {
		saved, err := s.triggers.CreateTrigger(ctx, trigger)
		if err != nil {
			return created, fmt.Errorf("создание триггера: %w", err)
		}
		metrics.TriggersFired.WithLabelValues(string(trigger.Type)).Inc()
		created = append(created, saved)
	}
	return created, nil
}

func trendPct(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

func clampScore(v float64) float64 {
	return clampRange(v, 0, 100)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
