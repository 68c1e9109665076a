package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"volume-engine/internal/adapters/repo"
	"volume-engine/internal/domain"
	"volume-engine/internal/infra/cache"
	"volume-engine/internal/infra/config"
	"volume-engine/internal/infra/db"
	applog "volume-engine/internal/infra/log"
	"volume-engine/internal/infra/metrics"
	"volume-engine/internal/infra/queue"
	"volume-engine/internal/usecase/generation"
	"volume-engine/internal/usecase/signals"
)

func main() {
	cfg := config.Load()
	log.Logger = applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	onceCache := cache.NewRedis(redisClient)

	var jobQueue domain.GenerationQueue
	if cfg.Queues.Transport == "rabbitmq" {
		jobQueue, err = queue.NewRabbitGenerationQueue(cfg.RabbitURL, cfg.Queues.Generation)
		if err != nil {
			log.Fatal().Err(err).Msg("scheduler: нет подключения к очереди")
		}
	} else {
		jobQueue = queue.NewRedisGenerationQueue(redisClient, cfg.Queues.Generation)
	}

	signalCfg := signals.DefaultConfig()
	signalCfg.DOWLookbackDays = cfg.Engine.DOWLookbackDays
	signalCfg.TriggerTTL = cfg.Engine.TriggerTTL
	signalService := signals.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, signalCfg)
	generationService := generation.NewService(repoAdapter, jobQueue, repoAdapter)

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9090")

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	log.Info().Msg("scheduler: старт")
	runTick(ctx, cfg, onceCache, repoAdapter, signalService, generationService)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
			runTick(ctx, cfg, onceCache, repoAdapter, signalService, generationService)
		}
	}
}

// runTick выполняет плановый проход. Замок в Redis гарантирует один проход в
// сутки на всю группу планировщиков, сами заявки дополнительно защищены
// уникальностью активной пары (креатор, период).
func runTick(ctx context.Context, cfg config.AppConfig, onceCache *cache.RedisCache, repoAdapter *repo.Postgres, signalService *signals.Service, generationService *generation.Service) {
	now := time.Now().UTC()
	key := fmt.Sprintf("scheduler:daily:%s", now.Format("2006-01-02"))
	err := onceCache.Once(key, 26*time.Hour, func() error {
		return runDaily(ctx, cfg, repoAdapter, signalService, generationService, now)
	})
	if err != nil {
		log.Error().Err(err).Msg("scheduler: плановый проход не выполнен")
	}
}

func runDaily(ctx context.Context, cfg config.AppConfig, repoAdapter *repo.Postgres, signalService *signals.Service, generationService *generation.Service, now time.Time) error {
	if swept, err := generationService.SweepStuck(ctx, cfg.Generation.ClaimTimeout); err != nil {
		log.Error().Err(err).Msg("scheduler: чистка зависших заявок")
	} else if swept > 0 {
		log.Warn().Int64("count", swept).Msg("scheduler: сняты зависшие заявки")
	}
	if deactivated, err := repoAdapter.DeactivateExpired(ctx, now); err != nil {
		log.Error().Err(err).Msg("scheduler: чистка истёкших триггеров")
	} else if deactivated > 0 {
		log.Info().Int64("count", deactivated).Msg("scheduler: сняты истёкшие триггеры")
	}

	creators, err := repoAdapter.ListActiveCreators(ctx)
	if err != nil {
		return fmt.Errorf("выборка креаторов: %w", err)
	}

	periodStart := now.Truncate(24 * time.Hour)
	periodEnd := periodStart.AddDate(0, 0, cfg.Generation.PeriodDays)
	for _, creator := range creators {
		snapshots, err := signalService.BuildAllWindows(ctx, creator.ID)
		if err != nil {
			log.Error().Err(err).Int64("creator", creator.ID).Msg("scheduler: агрегация сигналов")
		}
		if _, err := signalService.RecalcDayOfWeek(ctx, creator.ID); err != nil {
			log.Error().Err(err).Int64("creator", creator.ID).Msg("scheduler: пересчёт недельных множителей")
		}
		for _, snapshot := range snapshots {
			if snapshot.Window != domain.SignalWindow7d {
				continue
			}
			if _, err := signalService.DetectTriggers(ctx, creator, snapshot); err != nil {
				log.Error().Err(err).Int64("creator", creator.ID).Msg("scheduler: обнаружение триггеров")
			}
		}

		_, err = generationService.Enqueue(ctx, creator.ID, periodStart, periodEnd, creator.PerformanceTier, domain.GenerationCauseScheduled)
		if err != nil && !errors.Is(err, domain.ErrDuplicateActiveRequest) {
			log.Error().Err(err).Int64("creator", creator.ID).Msg("scheduler: постановка заявки")
		}
	}
	log.Info().Int("creators", len(creators)).Msg("scheduler: плановый проход завершён")
	return nil
}
