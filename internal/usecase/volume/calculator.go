package volume

import (
	"context"
	"math"
	"time"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
	"volume-engine/internal/usecase/multipliers"
)

// Config содержит настраиваемые константы калькулятора. Пороговые значения
// взяты из продуктовых правил и переопределяются окружением.
type Config struct {
	SaturationThreshold   float64
	OpportunityThreshold  float64
	SaturationPenaltyPct  float64
	OpportunityBoostPct   float64
	ElasticityCeiling     int
	DiminishingReturnsPct float64
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		SaturationThreshold:   70,
		OpportunityThreshold:  70,
		SaturationPenaltyPct:  20,
		OpportunityBoostPct:   20,
		ElasticityCeiling:     8,
		DiminishingReturnsPct: 15,
	}
}

// Calculator рассчитывает дневные квоты. Расчёт — тотальная функция:
// отсутствие опциональных входов понижает уверенность, но не блокирует вывод.
type Calculator struct {
	signals  domain.SignalRepo
	registry *multipliers.Registry
	cfg      Config
	now      func() time.Time
}

// NewCalculator создаёт калькулятор квот.
func NewCalculator(signals domain.SignalRepo, registry *multipliers.Registry, cfg Config) *Calculator {
	return &Calculator{signals: signals, registry: registry, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// ComputeQuota рассчитывает квоту креатора на дату. Конвейер упорядочен:
// база корзины → дельта сигналов → день недели → категория и триггеры →
// потолок эластичности последним → округление.
func (c *Calculator) ComputeQuota(ctx context.Context, creator domain.Creator, date time.Time) (domain.VolumeQuota, error) {
	start := c.now()
	tier := domain.TierForFanCount(creator.FanCount)
	base := domain.BaseForTier(tier)

	quota := domain.VolumeQuota{
		CreatorID:  creator.ID,
		Date:       date,
		Tier:       tier,
		DataSource: domain.QuotaDataSourceSignals,
		ComputedAt: start,
	}

	revenue := float64(base.Revenue)
	engagement := float64(base.Engagement)
	retention := float64(base.RetentionFor(creator.PageType))

	snapshot, snapshots, err := c.loadSignals(ctx, creator.ID)
	if err != nil {
		// Отсутствие сигналов — не авария: квота строится на базе корзины.
		quota.DataSource = domain.QuotaDataSourceFallback
	} else {
		revenue += c.signalDelta(snapshot, revenue)
		quota.MultiHorizonUsed = multiHorizonAgreement(snapshots, c.cfg)
	}

	dowMult, dowAdjusted, dowErr := c.registry.DayOfWeek(ctx, creator.ID, date)
	if dowErr == nil && dowAdjusted {
		revenue *= dowMult
		engagement *= dowMult
		quota.DOWAdjusted = true
	}

	categoryMult := c.registry.CategoryMultiplier(creator.ContentCategory)
	triggerProduct, _, trigErr := c.registry.TriggerProduct(ctx, creator.ID, creator.ContentCategory, start)
	if trigErr != nil {
		triggerProduct = 1.0
	}
	// Категорийный буст и триггеры относятся к контентной части рассылок,
	// они применяются к revenue-объёму, а не к сырой базе корзины.
	revenue *= categoryMult * triggerProduct

	if quota.DataSource == domain.QuotaDataSourceSignals && c.diminishingReturns(snapshot) {
		if revenue > float64(c.cfg.ElasticityCeiling) {
			revenue = float64(c.cfg.ElasticityCeiling)
			quota.ElasticityCapped = true
		}
	}

	quota.RevenuePerDay = roundNonNegative(revenue)
	quota.EngagementPerDay = roundNonNegative(engagement)
	quota.RetentionPerDay = roundNonNegative(retention)
	quota.ConfidenceScore = c.confidence(quota, snapshot, start)

	metrics.ObserveQuota(string(tier), string(quota.DataSource), start)
	return quota, nil
}

func (c *Calculator) loadSignals(ctx context.Context, creatorID int64) (domain.SignalSnapshot, []domain.SignalSnapshot, error) {
	snapshot, err := c.signals.CurrentSnapshot(ctx, creatorID, domain.SignalWindow7d)
	if err != nil {
		return domain.SignalSnapshot{}, nil, err
	}
	snapshots, err := c.signals.CurrentSnapshots(ctx, creatorID)
	if err != nil {
		snapshots = []domain.SignalSnapshot{snapshot}
	}
	return snapshot, snapshots, nil
}

// signalDelta сводит насыщение и потенциал в одну дельту. Направления не
// складываются: при обоих превышениях побеждает насыщение как консервативное.
func (c *Calculator) signalDelta(snapshot domain.SignalSnapshot, baseRevenue float64) float64 {
	if snapshot.SaturationScore > c.cfg.SaturationThreshold {
		return -math.Round(baseRevenue * c.cfg.SaturationPenaltyPct / 100)
	}
	if snapshot.OpportunityScore > c.cfg.OpportunityThreshold {
		return math.Round(baseRevenue * c.cfg.OpportunityBoostPct / 100)
	}
	return 0
}

func (c *Calculator) diminishingReturns(snapshot domain.SignalSnapshot) bool {
	return snapshot.RevenuePerSendTrend < -c.cfg.DiminishingReturnsPct
}

// confidence выводит уверенность из свежести снимка, размера выборки и
// согласия горизонтов. Откат на базу корзины даёт фиксированно низкую оценку.
func (c *Calculator) confidence(quota domain.VolumeQuota, snapshot domain.SignalSnapshot, now time.Time) float64 {
	if quota.DataSource == domain.QuotaDataSourceFallback {
		return 0.2
	}
	score := 0.4
	if now.Sub(snapshot.ComputedAt) < 7*24*time.Hour {
		score += 0.2
	}
	if snapshot.MessageCountAnalyzed >= 30 {
		score += 0.2
	} else if snapshot.MessageCountAnalyzed >= 10 {
		score += 0.1
	}
	if quota.MultiHorizonUsed {
		score += 0.1
	}
	if quota.DOWAdjusted {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// multiHorizonAgreement проверяет согласие окон 7d/14d/30d по направлению.
func multiHorizonAgreement(snapshots []domain.SignalSnapshot, cfg Config) bool {
	if len(snapshots) < 3 {
		return false
	}
	saturated := 0
	opportune := 0
	for _, s := range snapshots {
		if s.SaturationScore > cfg.SaturationThreshold {
			saturated++
		}
		if s.OpportunityScore > cfg.OpportunityThreshold {
			opportune++
		}
	}
	return saturated == len(snapshots) || opportune == len(snapshots)
}

func roundNonNegative(v float64) int {
	if v <= 0 {
		return 0
	}
	return int(math.Round(v))
}
