package domain

// TierBase описывает базовые дневные объёмы корзины.
type TierBase struct {
	Tier          VolumeTier
	Revenue       int
	Engagement    int
	RetentionPaid int
}

var tierBases = map[VolumeTier]TierBase{
	VolumeTierLow:   {Tier: VolumeTierLow, Revenue: 2, Engagement: 2, RetentionPaid: 1},
	VolumeTierMid:   {Tier: VolumeTierMid, Revenue: 3, Engagement: 3, RetentionPaid: 1},
	VolumeTierHigh:  {Tier: VolumeTierHigh, Revenue: 4, Engagement: 4, RetentionPaid: 2},
	VolumeTierUltra: {Tier: VolumeTierUltra, Revenue: 5, Engagement: 5, RetentionPaid: 2},
}

// TierForFanCount возвращает корзину по размеру аудитории.
func TierForFanCount(fanCount int) VolumeTier {
	switch {
	case fanCount < 500:
		return VolumeTierLow
	case fanCount < 2000:
		return VolumeTierMid
	case fanCount < 5000:
		return VolumeTierHigh
	default:
		return VolumeTierUltra
	}
}

// BaseForTier возвращает базовые объёмы корзины.
func BaseForTier(tier VolumeTier) TierBase {
	if base, ok := tierBases[tier]; ok {
		return base
	}
	return tierBases[VolumeTierLow]
}

// RetentionFor возвращает базовый retention-объём с учётом типа страницы.
// Бесплатные страницы retention-рассылок не получают.
func (b TierBase) RetentionFor(pageType PageType) int {
	if pageType == PageTypeFree {
		return 0
	}
	return b.RetentionPaid
}
