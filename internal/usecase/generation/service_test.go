package generation

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"volume-engine/internal/domain"
)

type stubRequestRepo struct {
	requests map[string]domain.GenerationRequest
	failed   int64
}

func newStubRequestRepo() *stubRequestRepo {
	return &stubRequestRepo{requests: map[string]domain.GenerationRequest{}}
}

func (s *stubRequestRepo) CreateRequest(_ context.Context, request domain.GenerationRequest) (domain.GenerationRequest, error) {
	for _, existing := range s.requests {
		if existing.CreatorID == request.CreatorID &&
			existing.PeriodStart.Equal(request.PeriodStart) &&
			(existing.Status == domain.RequestStatusPending || existing.Status == domain.RequestStatusProcessing) {
			return domain.GenerationRequest{}, domain.ErrDuplicateActiveRequest
		}
	}
	s.requests[request.ID] = request
	return request, nil
}

func (s *stubRequestRepo) ClaimNext(_ context.Context) (domain.GenerationRequest, error) {
	pending := make([]domain.GenerationRequest, 0)
	for _, request := range s.requests {
		if request.Status == domain.RequestStatusPending {
			pending = append(pending, request)
		}
	}
	if len(pending) == 0 {
		return domain.GenerationRequest{}, domain.ErrNoPendingRequests
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt)
	})
	claimed := pending[0]
	claimed.Status = domain.RequestStatusProcessing
	s.requests[claimed.ID] = claimed
	return claimed, nil
}

func (s *stubRequestRepo) CompleteRequest(_ context.Context, id, resultRef string) error {
	request, ok := s.requests[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	request.Status = domain.RequestStatusCompleted
	request.ResultRef = resultRef
	s.requests[id] = request
	return nil
}

func (s *stubRequestRepo) FailRequest(_ context.Context, id, message string) error {
	request, ok := s.requests[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	request.Status = domain.RequestStatusFailed
	request.ErrorMessage = message
	s.requests[id] = request
	return nil
}

func (s *stubRequestRepo) GetRequest(_ context.Context, id string) (domain.GenerationRequest, error) {
	request, ok := s.requests[id]
	if !ok {
		return domain.GenerationRequest{}, domain.ErrRequestNotFound
	}
	return request, nil
}

func (s *stubRequestRepo) FailStuck(_ context.Context, _ time.Duration) (int64, error) {
	return s.failed, nil
}

type stubQueue struct {
	jobs []domain.GenerationJob
}

func (s *stubQueue) Enqueue(_ context.Context, job domain.GenerationJob) error {
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubQueue) Pop(_ context.Context) (domain.GenerationJob, error) {
	if len(s.jobs) == 0 {
		return domain.GenerationJob{}, errors.New("очередь пуста")
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, nil
}

type stubEventRepo struct {
	events []domain.EngineEvent
}

func (s *stubEventRepo) RecordEngineEvent(_ context.Context, event domain.EngineEvent) error {
	s.events = append(s.events, event)
	return nil
}

func period(day int) (time.Time, time.Time) {
	start := time.Date(2026, time.June, day, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 7)
}

func TestEnqueueRejectsDuplicateActive(t *testing.T) {
	repo := newStubRequestRepo()
	queue := &stubQueue{}
	service := NewService(repo, queue, &stubEventRepo{})

	start, end := period(1)
	if _, err := service.Enqueue(context.Background(), 7, start, end, 1, domain.GenerationCauseScheduled); err != nil {
		t.Fatalf("первая постановка не должна падать: %v", err)
	}
	if _, err := service.Enqueue(context.Background(), 7, start, end, 1, domain.GenerationCauseManual); !errors.Is(err, domain.ErrDuplicateActiveRequest) {
		t.Fatalf("ожидали ErrDuplicateActiveRequest, получили %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("в очереди должна быть одна задача, есть %d", len(queue.jobs))
	}
}

func TestEnqueueAllowedAfterTerminalState(t *testing.T) {
	repo := newStubRequestRepo()
	service := NewService(repo, &stubQueue{}, &stubEventRepo{})

	start, end := period(1)
	first, err := service.Enqueue(context.Background(), 7, start, end, 1, domain.GenerationCauseScheduled)
	if err != nil {
		t.Fatalf("постановка: %v", err)
	}
	if _, err := service.Claim(context.Background()); err != nil {
		t.Fatalf("захват: %v", err)
	}
	if err := service.Complete(context.Background(), first.ID, "prediction-1"); err != nil {
		t.Fatalf("завершение: %v", err)
	}
	if _, err := service.Enqueue(context.Background(), 7, start, end, 1, domain.GenerationCauseManual); err != nil {
		t.Fatalf("после терминального состояния пара должна освобождаться: %v", err)
	}
}

func TestClaimOrderByPriorityThenAge(t *testing.T) {
	repo := newStubRequestRepo()
	service := NewService(repo, &stubQueue{}, &stubEventRepo{})

	startA, endA := period(1)
	startB, endB := period(10)
	low, err := service.Enqueue(context.Background(), 1, startA, endA, 1, domain.GenerationCauseScheduled)
	if err != nil {
		t.Fatalf("постановка низкого приоритета: %v", err)
	}
	high, err := service.Enqueue(context.Background(), 2, startB, endB, 5, domain.GenerationCauseManual)
	if err != nil {
		t.Fatalf("постановка высокого приоритета: %v", err)
	}

	claimed, err := service.Claim(context.Background())
	if err != nil {
		t.Fatalf("захват: %v", err)
	}
	if claimed.ID != high.ID {
		t.Fatalf("первым должен захватываться высокий приоритет, захвачен %s", claimed.ID)
	}
	claimed, err = service.Claim(context.Background())
	if err != nil {
		t.Fatalf("второй захват: %v", err)
	}
	if claimed.ID != low.ID {
		t.Fatalf("вторым должен захватываться оставшийся, захвачен %s", claimed.ID)
	}
	if _, err := service.Claim(context.Background()); !errors.Is(err, domain.ErrNoPendingRequests) {
		t.Fatalf("пустая очередь должна давать ErrNoPendingRequests, получили %v", err)
	}
}

func TestFailKeepsRequestTerminal(t *testing.T) {
	repo := newStubRequestRepo()
	service := NewService(repo, &stubQueue{}, &stubEventRepo{})

	start, end := period(1)
	request, err := service.Enqueue(context.Background(), 7, start, end, 1, domain.GenerationCauseScheduled)
	if err != nil {
		t.Fatalf("постановка: %v", err)
	}
	if _, err := service.Claim(context.Background()); err != nil {
		t.Fatalf("захват: %v", err)
	}
	if err := service.Fail(context.Background(), request.ID, "нет данных"); err != nil {
		t.Fatalf("провал: %v", err)
	}
	got, err := service.Status(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("чтение состояния: %v", err)
	}
	if got.Status != domain.RequestStatusFailed || got.ErrorMessage != "нет данных" {
		t.Fatalf("ожидали failed с сообщением, получили %+v", got)
	}
}

func TestSweepStuckEmitsEvent(t *testing.T) {
	repo := newStubRequestRepo()
	repo.failed = 3
	events := &stubEventRepo{}
	service := NewService(repo, &stubQueue{}, events)

	swept, err := service.SweepStuck(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("чистка: %v", err)
	}
	if swept != 3 {
		t.Fatalf("ожидали 3 снятых заявки, получили %d", swept)
	}
	if len(events.events) != 1 || events.events[0].Event != domain.EngineEventRequestTimedOut {
		t.Fatalf("ожидали событие request_timed_out, получили %+v", events.events)
	}
}
