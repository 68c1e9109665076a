package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"volume-engine/internal/adapters/repo"
	"volume-engine/internal/domain"
	"volume-engine/internal/infra/config"
	"volume-engine/internal/infra/db"
	applog "volume-engine/internal/infra/log"
	"volume-engine/internal/infra/metrics"
	"volume-engine/internal/infra/queue"
	"volume-engine/internal/usecase/captions"
	"volume-engine/internal/usecase/generation"
	"volume-engine/internal/usecase/multipliers"
	"volume-engine/internal/usecase/readiness"
	"volume-engine/internal/usecase/volume"
)

func main() {
	cfg := config.Load()
	log.Logger = applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var jobQueue domain.GenerationQueue
	if cfg.Queues.Transport == "rabbitmq" {
		jobQueue, err = queue.NewRabbitGenerationQueue(cfg.RabbitURL, cfg.Queues.Generation)
		if err != nil {
			log.Fatal().Err(err).Msg("worker: нет подключения к очереди")
		}
	} else {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		jobQueue = queue.NewRedisGenerationQueue(redisClient, cfg.Queues.Generation)
	}

	registry := multipliers.NewRegistry(repoAdapter, repoAdapter, cfg.Engine.DOWMinConfidence)
	calculator := volume.NewCalculator(repoAdapter, registry, volume.Config{
		SaturationThreshold:   cfg.Engine.SaturationThreshold,
		OpportunityThreshold:  cfg.Engine.OpportunityThreshold,
		SaturationPenaltyPct:  cfg.Engine.SaturationPenaltyPct,
		OpportunityBoostPct:   cfg.Engine.OpportunityBoostPct,
		ElasticityCeiling:     cfg.Engine.ElasticityCeiling,
		DiminishingReturnsPct: cfg.Engine.DiminishingReturnsPct,
	})
	captionPool := captions.NewPool(repoAdapter, captions.Config{
		MinFreshness:   cfg.Captions.MinFreshness,
		MinPerformance: cfg.Captions.MinPerformance,
		DecayFactor:    cfg.Captions.DecayFactor,
		FreshnessFloor: cfg.Captions.FreshnessFloor,
		RecoveryRate:   cfg.Captions.RecoveryRate,
	})
	generationService := generation.NewService(repoAdapter, jobQueue, repoAdapter)
	processor := generation.NewProcessor(
		repoAdapter,
		repoAdapter,
		repoAdapter,
		calculator,
		captionPool,
		readiness.NewEvaluator(),
		repoAdapter,
		repoAdapter,
		repoAdapter,
		repoAdapter,
	)

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9090")

	var wg sync.WaitGroup
	for i := 0; i < cfg.Generation.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(ctx, log.With().Int("worker", workerID).Logger(), jobQueue, generationService, processor)
		}(i)
	}
	log.Info().Int("workers", cfg.Generation.Workers).Msg("worker: старт")
	wg.Wait()
	log.Info().Msg("worker: остановка")
}

// runWorker читает задачи из очереди и обрабатывает заявки до отмены
// контекста. Задача — только сигнал: состояние заявки определяет захват в БД,
// поэтому повторная доставка или потеря задачи не ломают инварианты.
func runWorker(ctx context.Context, logger zerolog.Logger, jobQueue domain.GenerationQueue, generationService *generation.Service, processor *generation.Processor) {
	for {
		job, err := jobQueue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("worker: чтение очереди")
			continue
		}

		request, err := generationService.Claim(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNoPendingRequests) {
				// Заявку уже забрал другой воркер или сняла чистка.
				continue
			}
			logger.Error().Err(err).Str("request", job.RequestID).Msg("worker: захват заявки")
			continue
		}

		logger.Info().Str("request", request.ID).Int64("creator", request.CreatorID).Msg("worker: обработка заявки")
		resultRef, err := processor.Process(ctx, request)
		if err != nil {
			logger.Error().Err(err).Str("request", request.ID).Msg("worker: обработка провалена")
			if failErr := generationService.Fail(ctx, request.ID, err.Error()); failErr != nil {
				logger.Error().Err(failErr).Str("request", request.ID).Msg("worker: не удалось пометить провал")
			}
			continue
		}
		if err := generationService.Complete(ctx, request.ID, resultRef); err != nil {
			logger.Error().Err(err).Str("request", request.ID).Msg("worker: не удалось завершить заявку")
			continue
		}
		logger.Info().Str("request", request.ID).Str("result", resultRef).Msg("worker: заявка завершена")
	}
}
