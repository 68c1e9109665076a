package domain

import (
	"context"
	"time"
)

// SendPeriodMetrics содержит агрегаты истории рассылок за окно и за
// предыдущее окно той же длины. Историю рассылок движок только читает.
type SendPeriodMetrics struct {
	MessageCount       int
	RevenuePerSend     float64
	ViewRate           float64
	PurchaseRate       float64
	PrevRevenuePerSend float64
	PrevViewRate       float64
	PrevPurchaseRate   float64
	RevenueStdDev      float64
	RevenueMean        float64
}

// DailySendMetrics содержит дневные агрегаты для расчёта недельных множителей.
type DailySendMetrics struct {
	Date           time.Time
	MessageCount   int
	RevenuePerSend float64
}

// CreatorDirectory читает креаторов из внешней системы управления аккаунтами.
type CreatorDirectory interface {
	GetCreator(ctx context.Context, id int64) (Creator, error)
	ListActiveCreators(ctx context.Context) ([]Creator, error)
}

// SendHistoryReader читает агрегаты истории рассылок.
type SendHistoryReader interface {
	PeriodMetrics(ctx context.Context, creatorID int64, window SignalWindow) (SendPeriodMetrics, error)
	DailyMetrics(ctx context.Context, creatorID int64, lookbackDays int) ([]DailySendMetrics, error)
}

// SignalRepo управляет снимками сигналов. Снимки пишутся только добавлением,
// актуальный — самый свежий по паре (креатор, окно).
type SignalRepo interface {
	SaveSnapshot(ctx context.Context, snapshot SignalSnapshot) (SignalSnapshot, error)
	CurrentSnapshot(ctx context.Context, creatorID int64, window SignalWindow) (SignalSnapshot, error)
	CurrentSnapshots(ctx context.Context, creatorID int64) ([]SignalSnapshot, error)
}

// MultiplierRepo управляет недельными множителями. Записи версионируются,
// чтение возвращает последнюю версию по паре (креатор, день недели).
type MultiplierRepo interface {
	SaveDayOfWeek(ctx context.Context, multiplier DayOfWeekMultiplier) error
	DayOfWeek(ctx context.Context, creatorID int64, weekday int) (DayOfWeekMultiplier, error)
	ListDayOfWeek(ctx context.Context, creatorID int64) ([]DayOfWeekMultiplier, error)
}

// TriggerRepo управляет триггерами объёма.
type TriggerRepo interface {
	// CreateTrigger создаёт триггер и деактивирует предыдущий активный той же
	// комбинации (креатор, категория, тип).
	CreateTrigger(ctx context.Context, trigger VolumeTrigger) (VolumeTrigger, error)
	ActiveTriggers(ctx context.Context, creatorID int64, category ContentCategory) ([]VolumeTrigger, error)
	// DeactivateExpired снимает is_active с истёкших триггеров и возвращает
	// количество затронутых строк. Корректность чтения от чистки не зависит.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// CaptionRepo управляет инвентарём подписей.
type CaptionRepo interface {
	ListActiveByTypes(ctx context.Context, creatorID int64, captionTypes []string) ([]Caption, error)
	// RecordCaptionUse заменяет сохранённую свежесть и момент использования.
	RecordCaptionUse(ctx context.Context, captionID int64, freshness float64, usedAt time.Time) error
}

// QuotaLogRepo ведёт журнал расчётов квот (только добавление).
type QuotaLogRepo interface {
	AppendQuota(ctx context.Context, quota VolumeQuota) (VolumeQuota, error)
	ListQuotaHistory(ctx context.Context, creatorID int64, from time.Time) ([]VolumeQuota, error)
}

// GenerationRequestRepo управляет заявками на генерацию. Постановка и захват
// атомарны: уникальность активной заявки и эксклюзивность захвата
// обеспечиваются на уровне хранилища, не чтением-потом-записью.
type GenerationRequestRepo interface {
	// CreateRequest возвращает ErrDuplicateActiveRequest, если по паре
	// (креатор, период) уже есть заявка в pending или processing.
	CreateRequest(ctx context.Context, request GenerationRequest) (GenerationRequest, error)
	// ClaimNext атомарно переводит самую старую заявку наибольшего приоритета
	// из pending в processing. Возвращает ErrNoPendingRequests, если очередь пуста.
	ClaimNext(ctx context.Context) (GenerationRequest, error)
	CompleteRequest(ctx context.Context, id string, resultRef string) error
	FailRequest(ctx context.Context, id string, message string) error
	GetRequest(ctx context.Context, id string) (GenerationRequest, error)
	// FailStuck помечает failed заявки, висящие в processing дольше maxAge.
	FailStuck(ctx context.Context, maxAge time.Duration) (int64, error)
}

// PredictionRepo управляет прогнозами и результатами.
type PredictionRepo interface {
	CreatePrediction(ctx context.Context, prediction Prediction) error
	GetPrediction(ctx context.Context, id string) (Prediction, error)
	// ListUnmeasured возвращает прогнозы, период которых завершился, но
	// результат ещё не записан.
	ListUnmeasured(ctx context.Context, before time.Time, limit int) ([]Prediction, error)
	SaveOutcome(ctx context.Context, outcome Outcome) (Outcome, error)
	// ListUnappliedOutcomes возвращает результаты, ещё не учтённые обучением.
	ListUnappliedOutcomes(ctx context.Context, limit int) ([]Outcome, error)
}

// FeatureWeightRepo управляет весами признаков. Версии сохраняются,
// чтение возвращает последнюю версию по имени.
type FeatureWeightRepo interface {
	ListWeights(ctx context.Context) ([]FeatureWeight, error)
	// ApplyLearningBatch атомарно сохраняет новые версии весов и отмечает
	// результаты учтёнными. Частичное применение батча невозможно: либо
	// сохраняются все веса и все результаты, либо ничего.
	ApplyLearningBatch(ctx context.Context, weights []FeatureWeight, outcomeIDs []int64) error
}
