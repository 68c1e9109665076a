package domain

import (
	"context"
	"time"
)

// EngineEvent описывает событие движка, сохраняемое для последующего анализа.
type EngineEvent struct {
	Event      string
	CreatorID  *int64
	RequestID  *string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// EngineEventQuotaComputed фиксирует расчёт дневной квоты.
	EngineEventQuotaComputed = "quota_computed"
	// EngineEventRequestEnqueued фиксирует постановку заявки на генерацию.
	EngineEventRequestEnqueued = "request_enqueued"
	// EngineEventRequestCompleted фиксирует успешную обработку заявки.
	EngineEventRequestCompleted = "request_completed"
	// EngineEventRequestFailed фиксирует провал обработки заявки.
	EngineEventRequestFailed = "request_failed"
	// EngineEventRequestTimedOut фиксирует снятие зависшей заявки.
	EngineEventRequestTimedOut = "request_timed_out"
	// EngineEventOutcomeRecorded фиксирует запись фактического результата.
	EngineEventOutcomeRecorded = "outcome_recorded"
	// EngineEventWeightsAdjusted фиксирует батч обновления весов.
	EngineEventWeightsAdjusted = "weights_adjusted"
)

// EngineEventRepo сохраняет события движка.
type EngineEventRepo interface {
	RecordEngineEvent(ctx context.Context, event EngineEvent) error
}
