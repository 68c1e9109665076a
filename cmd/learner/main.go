package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"volume-engine/internal/adapters/repo"
	"volume-engine/internal/infra/config"
	"volume-engine/internal/infra/db"
	applog "volume-engine/internal/infra/log"
	"volume-engine/internal/infra/metrics"
	"volume-engine/internal/usecase/learning"
)

func main() {
	cfg := config.Load()
	log.Logger = applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("learner: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	learningService := learning.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, learning.Config{
		Step:       cfg.Learning.Step,
		BatchLimit: cfg.Learning.BatchLimit,
	})

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9090")

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	log.Info().Msg("learner: старт")
	runBatch(ctx, learningService)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("learner: остановка")
			return
		case <-ticker.C:
			runBatch(ctx, learningService)
		}
	}
}

// runBatch измеряет прогнозы с завершившимся периодом и применяет
// накопленные результаты к весам. Оба шага идемпотентны, повторный запуск
// на пустом входе ничего не меняет.
func runBatch(ctx context.Context, learningService *learning.Service) {
	measured, err := learningService.MeasurePending(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("learner: измерение прогнозов")
	} else if measured > 0 {
		log.Info().Int("count", measured).Msg("learner: прогнозы измерены")
	}

	applied, err := learningService.ApplyPendingLearning(ctx)
	if err != nil {
		log.Error().Err(err).Msg("learner: применение обучения")
		return
	}
	if applied > 0 {
		log.Info().Int("count", applied).Msg("learner: результаты применены к весам")
	}
}
