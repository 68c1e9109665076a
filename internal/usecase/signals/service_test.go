package signals

import (
	"context"
	"testing"
	"time"

	"volume-engine/internal/domain"
)

type stubHistory struct {
	period domain.SendPeriodMetrics
	daily  []domain.DailySendMetrics
}

func (s *stubHistory) PeriodMetrics(context.Context, int64, domain.SignalWindow) (domain.SendPeriodMetrics, error) {
	return s.period, nil
}

func (s *stubHistory) DailyMetrics(context.Context, int64, int) ([]domain.DailySendMetrics, error) {
	return s.daily, nil
}

type stubSignalRepo struct {
	saved []domain.SignalSnapshot
}

func (s *stubSignalRepo) SaveSnapshot(_ context.Context, snap domain.SignalSnapshot) (domain.SignalSnapshot, error) {
	s.saved = append(s.saved, snap)
	return snap, nil
}

func (s *stubSignalRepo) CurrentSnapshot(context.Context, int64, domain.SignalWindow) (domain.SignalSnapshot, error) {
	return domain.SignalSnapshot{}, domain.ErrNoSignalData
}

func (s *stubSignalRepo) CurrentSnapshots(context.Context, int64) ([]domain.SignalSnapshot, error) {
	return nil, domain.ErrNoSignalData
}

type stubMultiplierRepo struct {
	saved []domain.DayOfWeekMultiplier
}

func (s *stubMultiplierRepo) SaveDayOfWeek(_ context.Context, m domain.DayOfWeekMultiplier) error {
	s.saved = append(s.saved, m)
	return nil
}

func (s *stubMultiplierRepo) DayOfWeek(context.Context, int64, int) (domain.DayOfWeekMultiplier, error) {
	return domain.DayOfWeekMultiplier{}, domain.ErrNoMultiplier
}

func (s *stubMultiplierRepo) ListDayOfWeek(context.Context, int64) ([]domain.DayOfWeekMultiplier, error) {
	return s.saved, nil
}

type stubTriggerRepo struct {
	created []domain.VolumeTrigger
}

func (s *stubTriggerRepo) CreateTrigger(_ context.Context, t domain.VolumeTrigger) (domain.VolumeTrigger, error) {
	s.created = append(s.created, t)
	return t, nil
}

func (s *stubTriggerRepo) ActiveTriggers(context.Context, int64, domain.ContentCategory) ([]domain.VolumeTrigger, error) {
	return s.created, nil
}

func (s *stubTriggerRepo) DeactivateExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func newService(history *stubHistory) (*Service, *stubSignalRepo, *stubMultiplierRepo, *stubTriggerRepo) {
	snapshots := &stubSignalRepo{}
	mults := &stubMultiplierRepo{}
	triggers := &stubTriggerRepo{}
	return NewService(history, snapshots, mults, triggers, DefaultConfig()), snapshots, mults, triggers
}

func TestBuildSnapshotDecliningRaisesSaturation(t *testing.T) {
	history := &stubHistory{period: domain.SendPeriodMetrics{
		MessageCount:       40,
		RevenuePerSend:     8,
		PrevRevenuePerSend: 10,
		ViewRate:           0.40,
		PrevViewRate:       0.50,
		PurchaseRate:       0.04,
		PrevPurchaseRate:   0.05,
	}}
	service, snapshots, _, _ := newService(history)

	snapshot, err := service.BuildSnapshot(context.Background(), 1, domain.SignalWindow7d)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Спад по всем трём метрикам: 50 + 20 + 15 + 15.
	if snapshot.SaturationScore != 100 {
		t.Fatalf("ожидали насыщение 100, получили %v", snapshot.SaturationScore)
	}
	if snapshot.OpportunityScore != 30 {
		t.Fatalf("ожидали потенциал 30, получили %v", snapshot.OpportunityScore)
	}
	if len(snapshots.saved) != 1 {
		t.Fatalf("снимок должен быть сохранён")
	}
}

func TestBuildSnapshotGrowthRaisesOpportunity(t *testing.T) {
	history := &stubHistory{period: domain.SendPeriodMetrics{
		MessageCount:       40,
		RevenuePerSend:     13,
		PrevRevenuePerSend: 10,
		ViewRate:           0.60,
		PrevViewRate:       0.50,
		PurchaseRate:       0.06,
		PrevPurchaseRate:   0.05,
	}}
	service, _, _, _ := newService(history)

	snapshot, err := service.BuildSnapshot(context.Background(), 1, domain.SignalWindow7d)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if snapshot.OpportunityScore != 100 {
		t.Fatalf("ожидали потенциал 100, получили %v", snapshot.OpportunityScore)
	}
	if snapshot.SaturationScore != 30 {
		t.Fatalf("ожидали насыщение 30, получили %v", snapshot.SaturationScore)
	}
}

func TestBuildSnapshotZeroBaselineIsNeutral(t *testing.T) {
	history := &stubHistory{period: domain.SendPeriodMetrics{MessageCount: 0}}
	service, _, _, _ := newService(history)

	snapshot, err := service.BuildSnapshot(context.Background(), 1, domain.SignalWindow7d)
	if err != nil {
		t.Fatalf("отсутствие истории не должно быть ошибкой: %v", err)
	}
	if snapshot.SaturationScore != 50 || snapshot.OpportunityScore != 50 {
		t.Fatalf("без тренда оценки нейтральны: %v / %v", snapshot.SaturationScore, snapshot.OpportunityScore)
	}
}

func TestRecalcDayOfWeekClampsAndScoresConfidence(t *testing.T) {
	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC) // понедельник
	var daily []domain.DailySendMetrics
	for week := 0; week < 12; week++ {
		for day := 0; day < 7; day++ {
			date := start.AddDate(0, 0, week*7+day)
			rps := 10.0
			if date.Weekday() == time.Friday {
				rps = 100.0
			}
			daily = append(daily, domain.DailySendMetrics{Date: date, MessageCount: 5, RevenuePerSend: rps})
		}
	}
	service, _, mults, _ := newService(&stubHistory{daily: daily})

	out, err := service.RecalcDayOfWeek(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(out) != 7 {
		t.Fatalf("ожидали множители для всех дней, получили %d", len(out))
	}
	for _, m := range out {
		if m.Multiplier < 0.5 || m.Multiplier > 1.5 {
			t.Fatalf("множитель вне [0.5, 1.5]: %+v", m)
		}
		if m.Confidence != 1 {
			t.Fatalf("12 недель выборки дают полную уверенность, получили %v", m.Confidence)
		}
		if m.Weekday == int(time.Friday) && m.Multiplier != 1.5 {
			t.Fatalf("выброс пятницы должен быть ограничен 1.5, получили %v", m.Multiplier)
		}
	}
	if len(mults.saved) != 7 {
		t.Fatalf("множители должны быть сохранены")
	}
}

func TestDetectTriggersHighPerformer(t *testing.T) {
	service, _, _, triggers := newService(&stubHistory{})
	creator := domain.Creator{ID: 1, ContentCategory: domain.ContentCategoryExplicit}
	snapshot := domain.SignalSnapshot{RevenuePerSendTrend: 40, MessageCountAnalyzed: 50, SaturationScore: 30}

	fired, err := service.DetectTriggers(context.Background(), creator, snapshot)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(fired) != 1 || fired[0].Type != domain.TriggerHighPerformer {
		t.Fatalf("ожидали HIGH_PERFORMER, получили %+v", fired)
	}
	if fired[0].Multiplier != 1.20 {
		t.Fatalf("ожидали множитель 1.20, получили %v", fired[0].Multiplier)
	}
	if !fired[0].ExpiresAt.After(fired[0].DetectedAt) {
		t.Fatalf("триггер должен иметь явный срок истечения")
	}
	if len(triggers.created) != 1 {
		t.Fatalf("триггер должен быть сохранён")
	}
}

func TestDetectTriggersFatigueOverSaturating(t *testing.T) {
	service, _, _, _ := newService(&stubHistory{})
	creator := domain.Creator{ID: 1, ContentCategory: domain.ContentCategoryAmateur}
	snapshot := domain.SignalSnapshot{SaturationScore: 90, ViewRateTrend: -20}

	fired, err := service.DetectTriggers(context.Background(), creator, snapshot)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(fired) != 1 || fired[0].Type != domain.TriggerAudienceFatigue {
		t.Fatalf("сильное насыщение со спадом просмотров — AUDIENCE_FATIGUE, получили %+v", fired)
	}
}

func TestDetectTriggersEmergingWinner(t *testing.T) {
	service, _, _, _ := newService(&stubHistory{})
	creator := domain.Creator{ID: 1, ContentCategory: domain.ContentCategorySoftcore}
	snapshot := domain.SignalSnapshot{RevenuePerSendTrend: 25, MessageCountAnalyzed: 5}

	fired, err := service.DetectTriggers(context.Background(), creator, snapshot)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(fired) != 1 || fired[0].Type != domain.TriggerEmergingWinner {
		t.Fatalf("малый объём с резким ростом — EMERGING_WINNER, получили %+v", fired)
	}
	if fired[0].Confidence != domain.TriggerConfidenceLow {
		t.Fatalf("уверенность на малой выборке низкая")
	}
}
