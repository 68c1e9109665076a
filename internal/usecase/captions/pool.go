package captions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// ErrInsufficientInventory возвращается, когда подходящих подписей меньше,
// чем запрошено. Вызывающий сам решает, работать ли с неполным списком.
var ErrInsufficientInventory = errors.New("недостаточно подходящих подписей")

// ErrUnknownSendType возвращается для неизвестного варианта рассылки.
var ErrUnknownSendType = errors.New("неизвестный вариант рассылки")

// Config содержит правила свежести и отбора подписей.
type Config struct {
	MinFreshness   float64
	MinPerformance float64
	DecayFactor    float64
	FreshnessFloor float64
	// RecoveryRate — восстановление свежести в пунктах за день простоя.
	// Ноль отключает восстановление.
	RecoveryRate float64
}

// DefaultConfig возвращает правила по умолчанию.
func DefaultConfig() Config {
	return Config{
		MinFreshness:   30,
		MinPerformance: 40,
		DecayFactor:    0.85,
		FreshnessFloor: 5,
		RecoveryRate:   0,
	}
}

// Pool управляет отбором подписей и учётом их использования.
type Pool struct {
	captions domain.CaptionRepo
	cfg      Config
	now      func() time.Time
}

// NewPool создаёт менеджер пула подписей.
func NewPool(captions domain.CaptionRepo, cfg Config) *Pool {
	return &Pool{captions: captions, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// EffectiveFreshness вычисляет свежесть на момент чтения. Хранимое значение
// не тикает само: восстановление выводится из времени простоя.
func (p *Pool) EffectiveFreshness(caption domain.Caption, now time.Time) float64 {
	fresh := caption.FreshnessScore
	if p.cfg.RecoveryRate > 0 && caption.LastUsedAt != nil {
		days := now.Sub(*caption.LastUsedAt).Hours() / 24
		if days > 0 {
			fresh += p.cfg.RecoveryRate * days
		}
	}
	if fresh > 100 {
		fresh = 100
	}
	return fresh
}

// SelectCaptions возвращает count подходящих подписей для варианта рассылки.
// Порядок: приоритет требования, свежесть по убыванию, перформанс по
// убыванию, идентификатор для детерминизма. При нехватке возвращается
// неполный список вместе с ErrInsufficientInventory.
func (p *Pool) SelectCaptions(ctx context.Context, creatorID int64, sendTypeID string, count int) ([]domain.Caption, error) {
	requirements := domain.RequirementsForSendType(sendTypeID)
	if len(requirements) == 0 {
		return nil, ErrUnknownSendType
	}

	priorityByType := make(map[string]int, len(requirements))
	types := make([]string, 0, len(requirements))
	for _, req := range requirements {
		priorityByType[req.CaptionType] = req.Priority
		types = append(types, req.CaptionType)
	}

	candidates, err := p.captions.ListActiveByTypes(ctx, creatorID, types)
	if err != nil {
		return nil, fmt.Errorf("выборка подписей: %w", err)
	}

	now := p.now()
	eligible := make([]domain.Caption, 0, len(candidates))
	for _, caption := range candidates {
		if !caption.IsActive {
			continue
		}
		if p.EffectiveFreshness(caption, now) < p.cfg.MinFreshness {
			continue
		}
		if caption.PerformanceScore < p.cfg.MinPerformance {
			continue
		}
		eligible = append(eligible, caption)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		pa, pb := priorityByType[a.CaptionType], priorityByType[b.CaptionType]
		if pa != pb {
			return pa < pb
		}
		fa, fb := p.EffectiveFreshness(a, now), p.EffectiveFreshness(b, now)
		if fa != fb {
			return fa > fb
		}
		if a.PerformanceScore != b.PerformanceScore {
			return a.PerformanceScore > b.PerformanceScore
		}
		return a.ID < b.ID
	})

	metrics.CaptionSelections.WithLabelValues(sendTypeID).Inc()
	if len(eligible) < count {
		metrics.InventoryShortfalls.Inc()
		return eligible, ErrInsufficientInventory
	}
	return eligible[:count], nil
}

// EligibleCount возвращает число подходящих подписей для категории рассылок.
// Используется оценкой готовности перед фиксацией квоты.
func (p *Pool) EligibleCount(ctx context.Context, creatorID int64, category domain.SendCategory) (int, error) {
	typeSet := make(map[string]struct{})
	for _, st := range domain.SendTypesByCategory(category) {
		for _, req := range domain.RequirementsForSendType(st.ID) {
			typeSet[req.CaptionType] = struct{}{}
		}
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}

	candidates, err := p.captions.ListActiveByTypes(ctx, creatorID, types)
	if err != nil {
		return 0, fmt.Errorf("выборка подписей: %w", err)
	}
	now := p.now()
	count := 0
	for _, caption := range candidates {
		if caption.IsActive && p.EffectiveFreshness(caption, now) >= p.cfg.MinFreshness && caption.PerformanceScore >= p.cfg.MinPerformance {
			count++
		}
	}
	return count, nil
}

// RecordUse фиксирует использование подписи: хранимая свежесть заменяется
// затухшим значением с полом, момент использования обновляется. Затухание —
// явный вызов, а не побочный эффект чужой записи.
func (p *Pool) RecordUse(ctx context.Context, caption domain.Caption) error {
	decayed := caption.FreshnessScore * p.cfg.DecayFactor
	if decayed < p.cfg.FreshnessFloor {
		decayed = p.cfg.FreshnessFloor
	}
	if err := p.captions.RecordCaptionUse(ctx, caption.ID, decayed, p.now()); err != nil {
		return fmt.Errorf("учёт использования подписи: %w", err)
	}
	return nil
}
