package readiness

import (
	"testing"

	"volume-engine/internal/domain"
)

func TestEvaluateReady(t *testing.T) {
	e := NewEvaluator()
	report := e.Evaluate(domain.VolumeQuota{RevenuePerDay: 3}, 25)
	if report.Status != domain.ReadinessReady {
		t.Fatalf("25 подписей покрывают неделю при 3/день, получили %s", report.Status)
	}
	if report.CaptionsNeeded != 21 {
		t.Fatalf("ожидали потребность 21, получили %d", report.CaptionsNeeded)
	}
}

func TestEvaluateLimited(t *testing.T) {
	e := NewEvaluator()
	report := e.Evaluate(domain.VolumeQuota{RevenuePerDay: 3}, 10)
	if report.Status != domain.ReadinessLimited {
		t.Fatalf("ожидали limited, получили %s", report.Status)
	}
}

func TestEvaluateInsufficientClampsQuota(t *testing.T) {
	e := NewEvaluator()
	quota := domain.VolumeQuota{RevenuePerDay: 4}
	report := e.Evaluate(quota, 5)
	if report.Status != domain.ReadinessInsufficient {
		t.Fatalf("5 подписей при потребности 28 — insufficient, получили %s", report.Status)
	}

	clamped := e.Apply(quota, report)
	if !clamped.CaptionConstrained {
		t.Fatalf("квота должна быть помечена как ограниченная инвентарём")
	}
	if clamped.RevenuePerDay != 0 {
		t.Fatalf("5 подписей не поддерживают ни одного полного дня недели, получили %d", clamped.RevenuePerDay)
	}
}

func TestEvaluateNoVolumeAssignment(t *testing.T) {
	e := NewEvaluator()
	report := e.Evaluate(domain.VolumeQuota{RevenuePerDay: 0}, 50)
	if report.Status != domain.ReadinessNoVolumeAssignment {
		t.Fatalf("ожидали no_volume_assignment, получили %s", report.Status)
	}
}

func TestApplyKeepsReadyQuotaUntouched(t *testing.T) {
	e := NewEvaluator()
	quota := domain.VolumeQuota{RevenuePerDay: 2}
	report := e.Evaluate(quota, 20)
	applied := e.Apply(quota, report)
	if applied.CaptionConstrained || applied.RevenuePerDay != 2 {
		t.Fatalf("готовая квота не должна изменяться")
	}
}
