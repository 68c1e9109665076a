package readiness

import "volume-engine/internal/domain"

// Коэффициенты покрытия: ready — недельный запас, limited — трёхдневный.
const (
	readyDays   = 7
	limitedDays = 3
)

// Evaluator сверяет рассчитанную квоту с достаточностью пула подписей.
type Evaluator struct{}

// NewEvaluator создаёт оценщик готовности.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate классифицирует готовность по числу доступных подписей.
func (e *Evaluator) Evaluate(quota domain.VolumeQuota, captionsAvailable int) domain.ReadinessReport {
	report := domain.ReadinessReport{
		CaptionsAvailable: captionsAvailable,
		CaptionsNeeded:    quota.RevenuePerDay * readyDays,
	}
	switch {
	case quota.RevenuePerDay == 0:
		report.Status = domain.ReadinessNoVolumeAssignment
	case captionsAvailable >= quota.RevenuePerDay*readyDays:
		report.Status = domain.ReadinessReady
	case captionsAvailable >= quota.RevenuePerDay*limitedDays:
		report.Status = domain.ReadinessLimited
	default:
		report.Status = domain.ReadinessInsufficient
	}
	return report
}

// Apply ограничивает квоту до объёма, который пул способен поддержать без
// повторного использования подписей. Расчёт не проваливается, квота
// помечается как ограниченная инвентарём.
func (e *Evaluator) Apply(quota domain.VolumeQuota, report domain.ReadinessReport) domain.VolumeQuota {
	if report.Status != domain.ReadinessLimited && report.Status != domain.ReadinessInsufficient {
		return quota
	}
	sustainable := report.CaptionsAvailable / readyDays
	if sustainable < quota.RevenuePerDay {
		quota.RevenuePerDay = sustainable
	}
	quota.CaptionConstrained = true
	return quota
}
