package captions

import (
	"context"
	"errors"
	"testing"
	"time"

	"volume-engine/internal/domain"
)

type stubCaptionRepo struct {
	captions []domain.Caption

	usedID        int64
	usedFreshness float64
}

func (s *stubCaptionRepo) ListActiveByTypes(_ context.Context, _ int64, types []string) ([]domain.Caption, error) {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	var out []domain.Caption
	for _, c := range s.captions {
		if _, ok := allowed[c.CaptionType]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubCaptionRepo) RecordCaptionUse(_ context.Context, id int64, freshness float64, _ time.Time) error {
	s.usedID = id
	s.usedFreshness = freshness
	return nil
}

func TestSelectCaptionsFiltersAndOrders(t *testing.T) {
	repo := &stubCaptionRepo{captions: []domain.Caption{
		{ID: 1, CaptionType: "ppv", FreshnessScore: 90, PerformanceScore: 80, IsActive: true},
		{ID: 2, CaptionType: "ppv", FreshnessScore: 20, PerformanceScore: 95, IsActive: true},
		{ID: 3, CaptionType: "ppv", FreshnessScore: 95, PerformanceScore: 30, IsActive: true},
		{ID: 4, CaptionType: "sexting", FreshnessScore: 99, PerformanceScore: 99, IsActive: true},
		{ID: 5, CaptionType: "ppv", FreshnessScore: 80, PerformanceScore: 70, IsActive: false},
		{ID: 6, CaptionType: "ppv", FreshnessScore: 70, PerformanceScore: 60, IsActive: true},
	}}
	pool := NewPool(repo, DefaultConfig())

	selected, err := pool.SelectCaptions(context.Background(), 1, "ppv_unlock", 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(selected) != 3 {
		t.Fatalf("ожидали 3 подписи, получили %d", len(selected))
	}
	// Тип ppv имеет приоритет 1, sexting — 2: сначала все подходящие ppv.
	if selected[0].ID != 1 || selected[1].ID != 6 || selected[2].ID != 4 {
		t.Fatalf("неверный порядок отбора: %d, %d, %d", selected[0].ID, selected[1].ID, selected[2].ID)
	}
	for _, c := range selected {
		if c.FreshnessScore < 30 || c.PerformanceScore < 40 {
			t.Fatalf("отобрана непригодная подпись: %+v", c)
		}
	}
}

func TestSelectCaptionsInsufficientInventory(t *testing.T) {
	repo := &stubCaptionRepo{captions: []domain.Caption{
		{ID: 1, CaptionType: "ppv", FreshnessScore: 90, PerformanceScore: 80, IsActive: true},
	}}
	pool := NewPool(repo, DefaultConfig())

	selected, err := pool.SelectCaptions(context.Background(), 1, "ppv_unlock", 5)
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("ожидали ErrInsufficientInventory, получили %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("при нехватке должен вернуться неполный список")
	}
}

func TestSelectCaptionsUnknownSendType(t *testing.T) {
	pool := NewPool(&stubCaptionRepo{}, DefaultConfig())
	if _, err := pool.SelectCaptions(context.Background(), 1, "nope", 1); !errors.Is(err, ErrUnknownSendType) {
		t.Fatalf("ожидали ErrUnknownSendType, получили %v", err)
	}
}

func TestSelectCaptionsDeterministicTieBreak(t *testing.T) {
	repo := &stubCaptionRepo{captions: []domain.Caption{
		{ID: 9, CaptionType: "ppv", FreshnessScore: 80, PerformanceScore: 70, IsActive: true},
		{ID: 3, CaptionType: "ppv", FreshnessScore: 80, PerformanceScore: 70, IsActive: true},
	}}
	pool := NewPool(repo, DefaultConfig())

	selected, err := pool.SelectCaptions(context.Background(), 1, "ppv_unlock", 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if selected[0].ID != 3 || selected[1].ID != 9 {
		t.Fatalf("при равенстве очков порядок задаёт идентификатор")
	}
}

func TestRecordUseDecaysWithFloor(t *testing.T) {
	repo := &stubCaptionRepo{}
	pool := NewPool(repo, DefaultConfig())

	if err := pool.RecordUse(context.Background(), domain.Caption{ID: 1, FreshnessScore: 100}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if repo.usedFreshness != 85 {
		t.Fatalf("ожидали затухание до 85, получили %v", repo.usedFreshness)
	}

	if err := pool.RecordUse(context.Background(), domain.Caption{ID: 2, FreshnessScore: 4}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if repo.usedFreshness != 5 {
		t.Fatalf("свежесть не должна опускаться ниже пола 5, получили %v", repo.usedFreshness)
	}
}

func TestEffectiveFreshnessRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecoveryRate = 2
	pool := NewPool(&stubCaptionRepo{}, cfg)

	used := time.Now().UTC().Add(-10 * 24 * time.Hour)
	caption := domain.Caption{FreshnessScore: 40, LastUsedAt: &used}

	now := time.Now().UTC()
	got := pool.EffectiveFreshness(caption, now)
	if got < 59 || got > 61 {
		t.Fatalf("ожидали восстановление около 60, получили %v", got)
	}

	// Монотонность: больше простоя — не меньше свежести, и не выше 100.
	prev := 0.0
	for days := 0; days <= 60; days += 5 {
		at := used.Add(time.Duration(days) * 24 * time.Hour)
		fresh := pool.EffectiveFreshness(caption, at)
		if fresh < prev {
			t.Fatalf("свежесть должна быть неубывающей по простою")
		}
		if fresh > 100 {
			t.Fatalf("свежесть ограничена сверху 100")
		}
		prev = fresh
	}
}

func TestEffectiveFreshnessRecoveryDisabledByDefault(t *testing.T) {
	pool := NewPool(&stubCaptionRepo{}, DefaultConfig())
	used := time.Now().UTC().Add(-30 * 24 * time.Hour)
	caption := domain.Caption{FreshnessScore: 40, LastUsedAt: &used}
	if got := pool.EffectiveFreshness(caption, time.Now().UTC()); got != 40 {
		t.Fatalf("без восстановления свежесть равна хранимой, получили %v", got)
	}
}

func TestEligibleCountAppliesSameFilter(t *testing.T) {
	repo := &stubCaptionRepo{captions: []domain.Caption{
		{ID: 1, CaptionType: "ppv", FreshnessScore: 90, PerformanceScore: 80, IsActive: true},
		{ID: 2, CaptionType: "tip", FreshnessScore: 10, PerformanceScore: 80, IsActive: true},
		{ID: 3, CaptionType: "sale", FreshnessScore: 90, PerformanceScore: 10, IsActive: true},
		{ID: 4, CaptionType: "bundle", FreshnessScore: 50, PerformanceScore: 50, IsActive: true},
	}}
	pool := NewPool(repo, DefaultConfig())

	count, err := pool.EligibleCount(context.Background(), 1, domain.SendCategoryRevenue)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if count != 2 {
		t.Fatalf("ожидали 2 подходящие подписи, получили %d", count)
	}
}
