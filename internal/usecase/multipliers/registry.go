package multipliers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"volume-engine/internal/domain"
)

// Registry разрешает активные множители для креатора: недельный множитель,
// статический множитель категории контента и композицию неистёкших триггеров.
type Registry struct {
	multipliers   domain.MultiplierRepo
	triggers      domain.TriggerRepo
	minConfidence float64
}

// NewRegistry создаёт реестр множителей.
func NewRegistry(multipliers domain.MultiplierRepo, triggers domain.TriggerRepo, minConfidence float64) *Registry {
	return &Registry{multipliers: multipliers, triggers: triggers, minConfidence: minConfidence}
}

// DayOfWeek возвращает множитель дня недели для даты и признак его
// применимости. Множитель с уверенностью ниже порога пропускается, не падает.
func (r *Registry) DayOfWeek(ctx context.Context, creatorID int64, date time.Time) (float64, bool, error) {
	weekday := int(date.Weekday())
	mult, err := r.multipliers.DayOfWeek(ctx, creatorID, weekday)
	if errors.Is(err, domain.ErrNoMultiplier) {
		return 1.0, false, nil
	}
	if err != nil {
		return 1.0, false, fmt.Errorf("множитель дня недели: %w", err)
	}
	if mult.Confidence < r.minConfidence {
		return 1.0, false, nil
	}
	return clamp(mult.Multiplier, 0.5, 1.5), true, nil
}

// WeekProfile возвращает актуальные множители по всем дням недели с тем же
// порогом уверенности, что и DayOfWeek: слабые множители приводятся к 1.0,
// применимые зажимаются в [0.5, 1.5].
func (r *Registry) WeekProfile(ctx context.Context, creatorID int64) ([]domain.DayOfWeekMultiplier, error) {
	profile, err := r.multipliers.ListDayOfWeek(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("недельный профиль: %w", err)
	}
	for i := range profile {
		if profile[i].Confidence < r.minConfidence {
			profile[i].Multiplier = 1.0
			continue
		}
		profile[i].Multiplier = clamp(profile[i].Multiplier, 0.5, 1.5)
	}
	return profile, nil
}

// CategoryMultiplier возвращает статический множитель категории контента.
func (r *Registry) CategoryMultiplier(category domain.ContentCategory) float64 {
	return domain.CategoryMultiplier(category)
}

// TriggerProduct возвращает произведение множителей активных неистёкших
// триггеров категории. Истечение проверяется лениво на чтении: корректность
// не зависит от того, успела ли фоновая чистка снять is_active.
func (r *Registry) TriggerProduct(ctx context.Context, creatorID int64, category domain.ContentCategory, now time.Time) (float64, []domain.VolumeTrigger, error) {
	triggers, err := r.triggers.ActiveTriggers(ctx, creatorID, category)
	if err != nil {
		return 1.0, nil, fmt.Errorf("активные триггеры: %w", err)
	}
	product := 1.0
	var applied []domain.VolumeTrigger
	for _, trigger := range triggers {
		if trigger.Expired(now) {
			continue
		}
		product *= trigger.Multiplier
		applied = append(applied, trigger)
	}
	return product, applied, nil
}

// SweepExpired снимает is_active с истёкших триггеров.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.triggers.DeactivateExpired(ctx, now)
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
