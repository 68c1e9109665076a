package domain

import (
	"context"
	"time"
)

// GenerationJobCause описывает источник заявки на генерацию.
type GenerationJobCause string

const (
	// GenerationCauseManual — заявка поставлена вручную через API.
	GenerationCauseManual GenerationJobCause = "manual"
	// GenerationCauseScheduled — заявка поставлена планировщиком.
	GenerationCauseScheduled GenerationJobCause = "scheduled"
)

// GenerationJob содержит информацию о задаче обработки заявки.
type GenerationJob struct {
	RequestID   string             `json:"request_id"`
	CreatorID   int64              `json:"creator_id"`
	PeriodStart time.Time          `json:"period_start"`
	PeriodEnd   time.Time          `json:"period_end"`
	Priority    int                `json:"priority"`
	RequestedAt time.Time          `json:"requested_at"`
	Cause       GenerationJobCause `json:"cause"`
}

// GenerationQueue описывает очередь задач генерации.
type GenerationQueue interface {
	Enqueue(ctx context.Context, job GenerationJob) error
	Pop(ctx context.Context) (GenerationJob, error)
}
