package domain

import "time"

// PageType описывает тип страницы креатора.
type PageType string

const (
	PageTypePaid PageType = "paid"
	PageTypeFree PageType = "free"
)

// ContentCategory описывает категорию контента.
type ContentCategory string

const (
	ContentCategoryLifestyle ContentCategory = "lifestyle"
	ContentCategorySoftcore  ContentCategory = "softcore"
	ContentCategoryAmateur   ContentCategory = "amateur"
	ContentCategoryExplicit  ContentCategory = "explicit"
)

// Creator описывает креатора. Данные принадлежат внешней системе управления
// аккаунтами, движок читает их без изменений.
type Creator struct {
	ID              int64
	FanCount        int
	PageType        PageType
	ContentCategory ContentCategory
	PerformanceTier int
	IsActive        bool
}

// SignalWindow задаёт окно агрегации сигналов.
type SignalWindow string

const (
	SignalWindow7d  SignalWindow = "7d"
	SignalWindow14d SignalWindow = "14d"
	SignalWindow30d SignalWindow = "30d"
)

// SignalSnapshot хранит агрегированные сигналы по креатору за окно.
// Снимок неизменяем: новая агрегация добавляет запись, актуальным считается
// самый свежий по паре (креатор, окно).
type SignalSnapshot struct {
	ID                   int64
	CreatorID            int64
	Window               SignalWindow
	SaturationScore      float64
	OpportunityScore     float64
	RevenuePerSendTrend  float64
	ViewRateTrend        float64
	PurchaseRateTrend    float64
	Volatility           float64
	MessageCountAnalyzed int
	ComputedAt           time.Time
}

// DayOfWeekMultiplier хранит множитель объёма для дня недели (0 — воскресенье).
type DayOfWeekMultiplier struct {
	CreatorID  int64
	Weekday    int
	Multiplier float64
	Confidence float64
	UpdatedAt  time.Time
}

// TriggerType описывает тип триггера объёма.
type TriggerType string

const (
	TriggerHighPerformer   TriggerType = "HIGH_PERFORMER"
	TriggerTrendingUp      TriggerType = "TRENDING_UP"
	TriggerEmergingWinner  TriggerType = "EMERGING_WINNER"
	TriggerSaturating      TriggerType = "SATURATING"
	TriggerAudienceFatigue TriggerType = "AUDIENCE_FATIGUE"
)

// TriggerConfidence описывает уверенность правила обнаружения.
type TriggerConfidence string

const (
	TriggerConfidenceLow      TriggerConfidence = "low"
	TriggerConfidenceModerate TriggerConfidence = "moderate"
	TriggerConfidenceHigh     TriggerConfidence = "high"
)

// VolumeTrigger — краткоживущая мультипликативная поправка объёма по
// категории контента. Истёкший триггер исключается из композиции, даже если
// фоновая чистка ещё не сняла флаг is_active.
type VolumeTrigger struct {
	ID              int64
	CreatorID       int64
	ContentCategory ContentCategory
	Type            TriggerType
	Multiplier      float64
	Confidence      TriggerConfidence
	DetectedAt      time.Time
	ExpiresAt       time.Time
	IsActive        bool
}

// Expired сообщает, истёк ли триггер к моменту now.
func (t VolumeTrigger) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Caption описывает подпись из инвентаря.
type Caption struct {
	ID               int64
	CreatorID        int64
	Text             string
	CaptionType      string
	FreshnessScore   float64
	PerformanceScore float64
	PerformanceTier  int
	IsActive         bool
	LastUsedAt       *time.Time
	CreatedAt        time.Time
}

// VolumeTier — грубая корзина базовых объёмов по размеру аудитории.
type VolumeTier string

const (
	VolumeTierLow   VolumeTier = "low"
	VolumeTierMid   VolumeTier = "mid"
	VolumeTierHigh  VolumeTier = "high"
	VolumeTierUltra VolumeTier = "ultra"
)

// QuotaDataSource описывает источник данных расчёта квоты.
type QuotaDataSource string

const (
	QuotaDataSourceSignals  QuotaDataSource = "signals"
	QuotaDataSourceFallback QuotaDataSource = "fallback"
)

// VolumeQuota — результат расчёта дневной квоты. Квота не хранится как
// актуальное состояние, каждый расчёт добавляется в журнал.
type VolumeQuota struct {
	ID                 int64
	CreatorID          int64
	Date               time.Time
	Tier               VolumeTier
	RevenuePerDay      int
	EngagementPerDay   int
	RetentionPerDay    int
	CaptionConstrained bool
	ElasticityCapped   bool
	MultiHorizonUsed   bool
	DOWAdjusted        bool
	ConfidenceScore    float64
	DataSource         QuotaDataSource
	ComputedAt         time.Time
}

// ReadinessStatus классифицирует достаточность инвентаря подписей.
type ReadinessStatus string

const (
	ReadinessReady              ReadinessStatus = "ready"
	ReadinessLimited            ReadinessStatus = "limited"
	ReadinessInsufficient       ReadinessStatus = "insufficient"
	ReadinessNoVolumeAssignment ReadinessStatus = "no_volume_assignment"
)

// ReadinessReport — результат проверки квоты против пула подписей.
type ReadinessReport struct {
	Status            ReadinessStatus
	CaptionsAvailable int
	CaptionsNeeded    int
}

// RequestStatus описывает состояние заявки на генерацию.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
)

// GenerationRequest — заявка на генерацию расписания для креатора и периода.
// Инвариант: на пару (креатор, период) одновременно существует не более одной
// заявки в состоянии pending или processing.
type GenerationRequest struct {
	ID           string
	CreatorID    int64
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Priority     int
	Status       RequestStatus
	EnqueuedAt   time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ResultRef    string
	ErrorMessage string
}

// Prediction фиксирует прогноз на момент расчёта квоты. Запись неизменяема.
type Prediction struct {
	ID                      string
	CreatorID               int64
	RequestID               string
	PeriodStart             time.Time
	PeriodEnd               time.Time
	PredictedRevenuePerSend float64
	PredictedOpenRate       float64
	PredictedConversionRate float64
	Confidence              float64
	Features                map[string]float64
	BaselineSaturation      float64
	BaselineOpportunity     float64
	BaselineRevenuePerSend  float64
	CreatedAt               time.Time
}

// OutcomeClass классифицирует результат против базовой линии прогноза.
type OutcomeClass string

const (
	OutcomeImproved OutcomeClass = "improved"
	OutcomeDegraded OutcomeClass = "degraded"
	OutcomeNeutral  OutcomeClass = "neutral"
)

// Outcome хранит фактический результат измеренного прогноза (1:1).
type Outcome struct {
	ID                   int64
	PredictionID         string
	ActualRevenuePerSend float64
	ActualOpenRate       float64
	ActualConversionRate float64
	SaturationAfter      float64
	OpportunityAfter     float64
	Classification       OutcomeClass
	LearningSignal       float64
	RevenueError         float64
	AppliedToLearning    bool
	MeasuredAt           time.Time
}

// FeatureCategory группирует признаки модели.
type FeatureCategory string

const (
	FeatureCategoryStructural  FeatureCategory = "structural"
	FeatureCategoryPerformance FeatureCategory = "performance"
	FeatureCategoryTemporal    FeatureCategory = "temporal"
	FeatureCategoryCreator     FeatureCategory = "creator"
)

// FeatureWeight — вес признака. Обновляется только батчем обучения и всегда
// остаётся в границах [MinWeight, MaxWeight].
type FeatureWeight struct {
	Name            string
	Category        FeatureCategory
	CurrentWeight   float64
	MinWeight       float64
	MaxWeight       float64
	AdjustmentCount int
	LastAdjustment  *time.Time
}

// Clamp возвращает значение, ограниченное границами веса.
func (w FeatureWeight) Clamp(value float64) float64 {
	if value < w.MinWeight {
		return w.MinWeight
	}
	if value > w.MaxWeight {
		return w.MaxWeight
	}
	return value
}
