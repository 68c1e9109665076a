package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов движка.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Generation string `envconfig:"GENERATION_QUEUE_KEY" default:"generation_jobs"`
		Transport  string `envconfig:"QUEUE_TRANSPORT" default:"redis"`
	} `envconfig:""`

	Engine struct {
		SaturationThreshold   float64       `envconfig:"SATURATION_THRESHOLD" default:"70"`
		OpportunityThreshold  float64       `envconfig:"OPPORTUNITY_THRESHOLD" default:"70"`
		SaturationPenaltyPct  float64       `envconfig:"SATURATION_PENALTY_PCT" default:"20"`
		OpportunityBoostPct   float64       `envconfig:"OPPORTUNITY_BOOST_PCT" default:"20"`
		DOWMinConfidence      float64       `envconfig:"DOW_MIN_CONFIDENCE" default:"0.3"`
		DOWLookbackDays       int           `envconfig:"DOW_LOOKBACK_DAYS" default:"90"`
		ElasticityCeiling     int           `envconfig:"ELASTICITY_CEILING" default:"8"`
		DiminishingReturnsPct float64       `envconfig:"DIMINISHING_RETURNS_PCT" default:"15"`
		TriggerTTL            time.Duration `envconfig:"TRIGGER_TTL" default:"168h"`
	} `envconfig:""`

	Captions struct {
		MinFreshness   float64 `envconfig:"CAPTION_MIN_FRESHNESS" default:"30"`
		MinPerformance float64 `envconfig:"CAPTION_MIN_PERFORMANCE" default:"40"`
		DecayFactor    float64 `envconfig:"CAPTION_DECAY_FACTOR" default:"0.85"`
		FreshnessFloor float64 `envconfig:"CAPTION_FRESHNESS_FLOOR" default:"5"`
		// Восстановление свежести по умолчанию выключено, пока продукт не
		// подтвердит правило (0 — не восстанавливать).
		RecoveryRate float64 `envconfig:"CAPTION_RECOVERY_RATE" default:"0"`
	} `envconfig:""`

	Generation struct {
		PeriodDays   int           `envconfig:"GENERATION_PERIOD_DAYS" default:"7"`
		ClaimTimeout time.Duration `envconfig:"GENERATION_CLAIM_TIMEOUT" default:"30m"`
		Workers      int           `envconfig:"GENERATION_WORKERS" default:"2"`
	} `envconfig:""`

	Learning struct {
		Step       float64 `envconfig:"LEARNING_STEP" default:"0.05"`
		BatchLimit int     `envconfig:"LEARNING_BATCH_LIMIT" default:"500"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
