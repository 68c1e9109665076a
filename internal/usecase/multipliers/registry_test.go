package multipliers

import (
	"context"
	"testing"
	"time"

	"volume-engine/internal/domain"
)

type stubMultiplierRepo struct {
	mult    domain.DayOfWeekMultiplier
	profile []domain.DayOfWeekMultiplier
	err     error
}

func (s *stubMultiplierRepo) SaveDayOfWeek(context.Context, domain.DayOfWeekMultiplier) error {
	return nil
}

func (s *stubMultiplierRepo) DayOfWeek(context.Context, int64, int) (domain.DayOfWeekMultiplier, error) {
	return s.mult, s.err
}

func (s *stubMultiplierRepo) ListDayOfWeek(context.Context, int64) ([]domain.DayOfWeekMultiplier, error) {
	return s.profile, s.err
}

type stubTriggerRepo struct {
	triggers    []domain.VolumeTrigger
	deactivated int64
}

func (s *stubTriggerRepo) CreateTrigger(_ context.Context, t domain.VolumeTrigger) (domain.VolumeTrigger, error) {
	return t, nil
}

func (s *stubTriggerRepo) ActiveTriggers(context.Context, int64, domain.ContentCategory) ([]domain.VolumeTrigger, error) {
	return s.triggers, nil
}

func (s *stubTriggerRepo) DeactivateExpired(context.Context, time.Time) (int64, error) {
	return s.deactivated, nil
}

func TestDayOfWeekLowConfidenceSkipped(t *testing.T) {
	repo := &stubMultiplierRepo{mult: domain.DayOfWeekMultiplier{Multiplier: 1.4, Confidence: 0.1}}
	registry := NewRegistry(repo, &stubTriggerRepo{}, 0.3)

	mult, adjusted, err := registry.DayOfWeek(context.Background(), 1, time.Now())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if adjusted {
		t.Fatalf("ожидали пропуск множителя с низкой уверенностью")
	}
	if mult != 1.0 {
		t.Fatalf("ожидали нейтральный множитель, получили %v", mult)
	}
}

func TestDayOfWeekMissingIsNotError(t *testing.T) {
	repo := &stubMultiplierRepo{err: domain.ErrNoMultiplier}
	registry := NewRegistry(repo, &stubTriggerRepo{}, 0.3)

	mult, adjusted, err := registry.DayOfWeek(context.Background(), 1, time.Now())
	if err != nil {
		t.Fatalf("отсутствие множителя не должно быть ошибкой: %v", err)
	}
	if adjusted || mult != 1.0 {
		t.Fatalf("ожидали нейтральный множитель без применения")
	}
}

func TestDayOfWeekClamped(t *testing.T) {
	repo := &stubMultiplierRepo{mult: domain.DayOfWeekMultiplier{Multiplier: 2.4, Confidence: 0.9}}
	registry := NewRegistry(repo, &stubTriggerRepo{}, 0.3)

	mult, adjusted, err := registry.DayOfWeek(context.Background(), 1, time.Now())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !adjusted {
		t.Fatalf("ожидали применение множителя")
	}
	if mult != 1.5 {
		t.Fatalf("ожидали ограничение 1.5, получили %v", mult)
	}
}

func TestWeekProfileNeutralizesLowConfidence(t *testing.T) {
	repo := &stubMultiplierRepo{profile: []domain.DayOfWeekMultiplier{
		{Weekday: 1, Multiplier: 1.3, Confidence: 0.8},
		{Weekday: 2, Multiplier: 1.4, Confidence: 0.1},
		{Weekday: 3, Multiplier: 1.9, Confidence: 0.9},
	}}
	registry := NewRegistry(repo, &stubTriggerRepo{}, 0.3)

	profile, err := registry.WeekProfile(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(profile) != 3 {
		t.Fatalf("ожидали три дня, получили %d", len(profile))
	}
	if profile[0].Multiplier != 1.3 {
		t.Fatalf("уверенный множитель должен сохраниться, получили %v", profile[0].Multiplier)
	}
	if profile[1].Multiplier != 1.0 {
		t.Fatalf("слабый множитель должен стать нейтральным, получили %v", profile[1].Multiplier)
	}
	if profile[2].Multiplier != 1.5 {
		t.Fatalf("ожидали ограничение 1.5, получили %v", profile[2].Multiplier)
	}
}

func TestTriggerProductExcludesExpired(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubTriggerRepo{triggers: []domain.VolumeTrigger{
		{Type: domain.TriggerHighPerformer, Multiplier: 1.20, ExpiresAt: now.Add(24 * time.Hour), IsActive: true},
		{Type: domain.TriggerTrendingUp, Multiplier: 1.10, ExpiresAt: now.Add(-time.Hour), IsActive: true},
	}}
	registry := NewRegistry(&stubMultiplierRepo{err: domain.ErrNoMultiplier}, repo, 0.3)

	product, applied, err := registry.TriggerProduct(context.Background(), 1, domain.ContentCategoryExplicit, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("истёкший триггер должен быть исключён, применено %d", len(applied))
	}
	if product != 1.20 {
		t.Fatalf("ожидали произведение 1.20, получили %v", product)
	}
}

func TestTriggerProductComposesMultiplicatively(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubTriggerRepo{triggers: []domain.VolumeTrigger{
		{Type: domain.TriggerHighPerformer, Multiplier: 1.20, ExpiresAt: now.Add(time.Hour), IsActive: true},
		{Type: domain.TriggerSaturating, Multiplier: 0.85, ExpiresAt: now.Add(time.Hour), IsActive: true},
	}}
	registry := NewRegistry(&stubMultiplierRepo{err: domain.ErrNoMultiplier}, repo, 0.3)

	product, applied, err := registry.TriggerProduct(context.Background(), 1, domain.ContentCategoryAmateur, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("ожидали два активных триггера")
	}
	want := 1.20 * 0.85
	if product != want {
		t.Fatalf("ожидали %v, получили %v", want, product)
	}
}
