package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	QuotaComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_computations_total",
		Help: "Количество рассчитанных дневных квот",
	}, []string{"tier", "data_source"})

	QuotaComputeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quota_compute_seconds",
		Help:    "Время расчёта квоты",
		Buckets: prometheus.DefBuckets,
	})

	CaptionSelections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_selections_total",
		Help: "Количество выборок подписей по вариантам рассылки",
	}, []string{"send_type"})

	InventoryShortfalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caption_inventory_shortfalls_total",
		Help: "Случаи нехватки подходящих подписей",
	})

	RequestClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_request_claims_total",
		Help: "Захваты заявок на генерацию по исходу",
	}, []string{"status"})

	WorkerTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generation_worker_timeouts_total",
		Help: "Заявки, снятые по тайм-ауту обработки",
	})

	TriggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "volume_triggers_fired_total",
		Help: "Сработавшие триггеры объёма по типу",
	}, []string{"type"})

	LearningAdjustments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_weight_adjustments_total",
		Help: "Количество скорректированных весов признаков",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		QuotaComputations,
		QuotaComputeSeconds,
		CaptionSelections,
		InventoryShortfalls,
		RequestClaims,
		WorkerTimeouts,
		TriggersFired,
		LearningAdjustments,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveQuota фиксирует рассчитанную квоту.
func ObserveQuota(tier, dataSource string, start time.Time) {
	QuotaComputations.WithLabelValues(tier, dataSource).Inc()
	QuotaComputeSeconds.Observe(time.Since(start).Seconds())
}
