package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"volume-engine/internal/domain"
	"volume-engine/internal/infra/metrics"
)

// Service управляет жизненным циклом заявок на генерацию:
// pending → processing → {completed | failed}. Уникальность активной заявки
// и эксклюзивность захвата обеспечивает репозиторий, сервис не делает
// чтение-потом-запись.
type Service struct {
	requests domain.GenerationRequestRepo
	queue    domain.GenerationQueue
	events   domain.EngineEventRepo
	now      func() time.Time
}

// NewService создаёт сервис заявок.
func NewService(requests domain.GenerationRequestRepo, queue domain.GenerationQueue, events domain.EngineEventRepo) *Service {
	return &Service{requests: requests, queue: queue, events: events, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue создаёт заявку и публикует задачу в очередь. Дубликат активной
// заявки — ожидаемый ответ, вызывающий получает domain.ErrDuplicateActiveRequest.
func (s *Service) Enqueue(ctx context.Context, creatorID int64, periodStart, periodEnd time.Time, priority int, cause domain.GenerationJobCause) (domain.GenerationRequest, error) {
	request := domain.GenerationRequest{
		ID:          uuid.NewString(),
		CreatorID:   creatorID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Priority:    priority,
		Status:      domain.RequestStatusPending,
		EnqueuedAt:  s.now(),
	}
	created, err := s.requests.CreateRequest(ctx, request)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateActiveRequest) {
			return domain.GenerationRequest{}, domain.ErrDuplicateActiveRequest
		}
		return domain.GenerationRequest{}, fmt.Errorf("создание заявки: %w", err)
	}

	job := domain.GenerationJob{
		RequestID:   created.ID,
		CreatorID:   created.CreatorID,
		PeriodStart: created.PeriodStart,
		PeriodEnd:   created.PeriodEnd,
		Priority:    created.Priority,
		RequestedAt: created.EnqueuedAt,
		Cause:       cause,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// Заявка уже в хранилище: воркер подберёт её захватом даже без
		// задачи в очереди, поэтому постановку не откатываем.
		return created, fmt.Errorf("публикация задачи: %w", err)
	}

	creator := created.CreatorID
	requestID := created.ID
	_ = s.events.RecordEngineEvent(ctx, domain.EngineEvent{
		Event:     domain.EngineEventRequestEnqueued,
		CreatorID: &creator,
		RequestID: &requestID,
		Metadata: map[string]any{
			"period_start": created.PeriodStart,
			"priority":     created.Priority,
			"cause":        cause,
		},
	})
	return created, nil
}

// Claim атомарно захватывает следующую заявку.
func (s *Service) Claim(ctx context.Context) (domain.GenerationRequest, error) {
	request, err := s.requests.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingRequests) {
			return domain.GenerationRequest{}, domain.ErrNoPendingRequests
		}
		metrics.RequestClaims.WithLabelValues("error").Inc()
		return domain.GenerationRequest{}, fmt.Errorf("захват заявки: %w", err)
	}
	metrics.RequestClaims.WithLabelValues("claimed").Inc()
	return request, nil
}

// Complete завершает заявку со ссылкой на результат.
func (s *Service) Complete(ctx context.Context, id, resultRef string) error {
	if err := s.requests.CompleteRequest(ctx, id, resultRef); err != nil {
		return fmt.Errorf("завершение заявки: %w", err)
	}
	requestID := id
	_ = s.events.RecordEngineEvent(ctx, domain.EngineEvent{
		Event:     domain.EngineEventRequestCompleted,
		RequestID: &requestID,
		Metadata:  map[string]any{"result_ref": resultRef},
	})
	return nil
}

// Fail помечает заявку проваленной. Повтор — новая постановка вызывающим.
func (s *Service) Fail(ctx context.Context, id, message string) error {
	if err := s.requests.FailRequest(ctx, id, message); err != nil {
		return fmt.Errorf("провал заявки: %w", err)
	}
	requestID := id
	_ = s.events.RecordEngineEvent(ctx, domain.EngineEvent{
		Event:     domain.EngineEventRequestFailed,
		RequestID: &requestID,
		Metadata:  map[string]any{"error": message},
	})
	return nil
}

// Status возвращает текущее состояние заявки.
func (s *Service) Status(ctx context.Context, id string) (domain.GenerationRequest, error) {
	return s.requests.GetRequest(ctx, id)
}

// SweepStuck помечает проваленными заявки, висящие в processing дольше
// maxAge, чтобы зависший расчёт не блокировал пару (креатор, период).
func (s *Service) SweepStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	swept, err := s.requests.FailStuck(ctx, maxAge)
	if err != nil {
		return 0, fmt.Errorf("чистка зависших заявок: %w", err)
	}
	if swept > 0 {
		metrics.WorkerTimeouts.Add(float64(swept))
		_ = s.events.RecordEngineEvent(ctx, domain.EngineEvent{
			Event:    domain.EngineEventRequestTimedOut,
			Metadata: map[string]any{"count": swept},
		})
	}
	return swept, nil
}
