package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"volume-engine/internal/adapters/repo"
	"volume-engine/internal/domain"
	"volume-engine/internal/infra/cache"
	"volume-engine/internal/infra/config"
	"volume-engine/internal/infra/db"
	httpinfra "volume-engine/internal/infra/http"
	applog "volume-engine/internal/infra/log"
	"volume-engine/internal/infra/metrics"
	"volume-engine/internal/infra/queue"
	"volume-engine/internal/usecase/captions"
	"volume-engine/internal/usecase/generation"
	"volume-engine/internal/usecase/learning"
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
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	quotaCache := cache.NewRedis(redisClient)
	jobQueue, err := buildQueue(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к очереди")
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
	evaluator := readiness.NewEvaluator()
	generationService := generation.NewService(repoAdapter, jobQueue, repoAdapter)
	learningService := learning.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, learning.Config{
		Step:       cfg.Learning.Step,
		BatchLimit: cfg.Learning.BatchLimit,
	})

	server := httpinfra.NewServer(log.With().Str("component", "http").Logger())
	r := server.Router

	r.Get("/api/v1/creators/{id}/quota", func(w http.ResponseWriter, r *http.Request) {
		creatorID, ok := parseCreatorID(w, r)
		if !ok {
			return
		}
		date, ok := parseDate(w, r.URL.Query().Get("date"))
		if !ok {
			return
		}
		cacheKey := fmt.Sprintf("quota:%d:%s", creatorID, date.Format("2006-01-02"))
		if cached, err := quotaCache.Get(cacheKey); err == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(cached)
			return
		}
		creator, err := repoAdapter.GetCreator(r.Context(), creatorID)
		if err != nil {
			writeCreatorError(w, err)
			return
		}
		quota, err := calculator.ComputeQuota(r.Context(), creator, date)
		if err != nil {
			log.Error().Err(err).Int64("creator", creatorID).Msg("api: расчёт квоты")
			writeError(w, http.StatusInternalServerError, "не удалось рассчитать квоту")
			return
		}
		available, err := captionPool.EligibleCount(r.Context(), creatorID, domain.SendCategoryRevenue)
		if err != nil {
			log.Error().Err(err).Int64("creator", creatorID).Msg("api: оценка инвентаря")
			writeError(w, http.StatusInternalServerError, "не удалось оценить инвентарь")
			return
		}
		report := evaluator.Evaluate(quota, available)
		quota = evaluator.Apply(quota, report)
		body, err := json.Marshal(quotaResponse(quota, report))
		if err != nil {
			log.Error().Err(err).Int64("creator", creatorID).Msg("api: сериализация квоты")
			writeError(w, http.StatusInternalServerError, "не удалось сериализовать квоту")
			return
		}
		if err := quotaCache.Set(cacheKey, body, 10*time.Minute); err != nil {
			log.Warn().Err(err).Str("key", cacheKey).Msg("api: кэш квоты недоступен")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	r.Get("/api/v1/creators/{id}/quota/history", func(w http.ResponseWriter, r *http.Request) {
		creatorID, ok := parseCreatorID(w, r)
		if !ok {
			return
		}
		from := time.Now().UTC().AddDate(0, 0, -30)
		if raw := r.URL.Query().Get("from"); raw != "" {
			parsed, ok := parseDate(w, raw)
			if !ok {
				return
			}
			from = parsed
		}
		quotas, err := repoAdapter.ListQuotaHistory(r.Context(), creatorID, from)
		if err != nil {
			log.Error().Err(err).Int64("creator", creatorID).Msg("api: журнал квот")
			writeError(w, http.StatusInternalServerError, "не удалось прочитать журнал")
			return
		}
		writeJSON(w, map[string]any{"creator_id": creatorID, "quotas": quotas})
	})

	r.Get("/api/v1/creators/{id}/readiness", func(w http.ResponseWriter, r *http.Request) {
		creatorID, ok := parseCreatorID(w, r)
		if !ok {
			return
		}
		date, ok := parseDate(w, r.URL.Query().Get("date"))
		if !ok {
			return
		}
		creator, err := repoAdapter.GetCreator(r.Context(), creatorID)
		if err != nil {
			writeCreatorError(w, err)
			return
		}
		quota, err := calculator.ComputeQuota(r.Context(), creator, date)
		if err != nil {
			log.Error().Err(err).Int64("creator", creatorID).Msg("api: расчёт квоты")
			writeError(w, http.StatusInternalServerError, "не удалось рассчитать квоту")
			return
		}
		available, err := captionPool.EligibleCount(r.Context(), creatorID, domain.SendCategoryRevenue)
		if err != nil {
			log.Error().Err(err).Int64("creator", creatorID).Msg("api: оценка инвентаря")
			writeError(w, http.StatusInternalServerError, "не удалось оценить инвентарь")
			return
		}
		report := evaluator.Evaluate(quota, available)
		writeJSON(w, map[string]any{
			"creator_id":         creatorID,
			"date":               date.Format("2006-01-02"),
			"status":             report.Status,
			"captions_available": report.CaptionsAvailable,
			"captions_needed":    report.CaptionsNeeded,
		})
	})

	r.Get("/api/v1/creators/{id}/multipliers", func(w http.ResponseWriter, r *http.Request) {
		creatorID, ok := parseCreatorID(w, r)
		if !ok {
			return
		}
		profile, err := registry.WeekProfile(r.Context(), creatorID)
		if err != nil {
			log.Error().Err(err).Int64("creator", creatorID).Msg("api: недельный профиль")
			writeError(w, http.StatusInternalServerError, "не удалось прочитать множители")
			return
		}
		writeJSON(w, map[string]any{"creator_id": creatorID, "multipliers": profile})
	})

	r.Get("/api/v1/creators/{id}/captions", func(w http.ResponseWriter, r *http.Request) {
		creatorID, ok := parseCreatorID(w, r)
		if !ok {
			return
		}
		sendType := r.URL.Query().Get("send_type")
		st, known := domain.SendTypeByID(sendType)
		if !known {
			writeError(w, http.StatusBadRequest, "неизвестный вариант рассылки")
			return
		}
		count := 1
		if raw := r.URL.Query().Get("count"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "count должен быть положительным числом")
				return
			}
			count = parsed
		}
		selected, err := captionPool.SelectCaptions(r.Context(), creatorID, sendType, count)
		partial := errors.Is(err, captions.ErrInsufficientInventory)
		if err != nil && !partial {
			if errors.Is(err, captions.ErrUnknownSendType) {
				writeError(w, http.StatusBadRequest, "неизвестный вариант рассылки")
				return
			}
			log.Error().Err(err).Int64("creator", creatorID).Msg("api: отбор подписей")
			writeError(w, http.StatusInternalServerError, "не удалось отобрать подписи")
			return
		}
		writeJSON(w, map[string]any{
			"creator_id": creatorID,
			"send_type":  sendType,
			"category":   st.Category,
			"captions":   selected,
			"partial":    partial,
		})
	})

	r.Post("/api/v1/generation-requests", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req createRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректное тело запроса")
			return
		}
		if req.CreatorID == 0 {
			writeError(w, http.StatusBadRequest, "creator_id обязателен")
			return
		}
		periodStart, ok := parseDate(w, req.PeriodStart)
		if !ok {
			return
		}
		periodEnd := periodStart.AddDate(0, 0, cfg.Generation.PeriodDays)
		if req.PeriodEnd != "" {
			parsed, ok := parseDate(w, req.PeriodEnd)
			if !ok {
				return
			}
			if !parsed.After(periodStart) {
				writeError(w, http.StatusBadRequest, "period_end должен быть позже period_start")
				return
			}
			periodEnd = parsed
		}
		request, err := generationService.Enqueue(r.Context(), req.CreatorID, periodStart, periodEnd, req.Priority, domain.GenerationCauseManual)
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateActiveRequest) {
				writeError(w, http.StatusConflict, "по этой паре креатор/период уже есть активная заявка")
				return
			}
			log.Error().Err(err).Int64("creator", req.CreatorID).Msg("api: постановка заявки")
			writeError(w, http.StatusInternalServerError, "не удалось поставить заявку")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(request)
	})

	r.Get("/api/v1/generation-requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		request, err := generationService.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, domain.ErrRequestNotFound) {
				writeError(w, http.StatusNotFound, "заявка не найдена")
				return
			}
			log.Error().Err(err).Msg("api: чтение заявки")
			writeError(w, http.StatusInternalServerError, "не удалось прочитать заявку")
			return
		}
		writeJSON(w, request)
	})

	r.Post("/api/v1/predictions/{id}/outcome", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req outcomeRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректное тело запроса")
			return
		}
		outcome, err := learningService.RecordOutcome(r.Context(), chi.URLParam(r, "id"), learning.ActualMetrics{
			RevenuePerSend:   req.RevenuePerSend,
			OpenRate:         req.OpenRate,
			ConversionRate:   req.ConversionRate,
			SaturationAfter:  req.SaturationAfter,
			OpportunityAfter: req.OpportunityAfter,
		})
		if err != nil {
			if errors.Is(err, domain.ErrPredictionNotFound) {
				writeError(w, http.StatusNotFound, "прогноз не найден")
				return
			}
			log.Error().Err(err).Msg("api: запись результата")
			writeError(w, http.StatusInternalServerError, "не удалось записать результат")
			return
		}
		writeJSON(w, outcome)
	})

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9090")
	go func() {
		log.Info().Msg("api: старт")
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func buildQueue(cfg config.AppConfig, redisClient *redis.Client) (domain.GenerationQueue, error) {
	if cfg.Queues.Transport == "rabbitmq" {
		return queue.NewRabbitGenerationQueue(cfg.RabbitURL, cfg.Queues.Generation)
	}
	return queue.NewRedisGenerationQueue(redisClient, cfg.Queues.Generation), nil
}

func quotaResponse(quota domain.VolumeQuota, report domain.ReadinessReport) map[string]any {
	return map[string]any{
		"creator_id":          quota.CreatorID,
		"date":                quota.Date.Format("2006-01-02"),
		"tier":                quota.Tier,
		"revenue_per_day":     quota.RevenuePerDay,
		"engagement_per_day":  quota.EngagementPerDay,
		"retention_per_day":   quota.RetentionPerDay,
		"caption_constrained": quota.CaptionConstrained,
		"elasticity_capped":   quota.ElasticityCapped,
		"multi_horizon_used":  quota.MultiHorizonUsed,
		"dow_adjusted":        quota.DOWAdjusted,
		"confidence_score":    quota.ConfidenceScore,
		"data_source":         quota.DataSource,
		"readiness":           report.Status,
	}
}

func parseCreatorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "некорректный идентификатор креатора")
		return 0, false
	}
	return id, true
}

func parseDate(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), true
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "дата должна быть в формате YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func writeCreatorError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrCreatorNotFound) {
		writeError(w, http.StatusNotFound, "креатор не найден")
		return
	}
	log.Error().Err(err).Msg("api: чтение креатора")
	writeError(w, http.StatusInternalServerError, "не удалось прочитать креатора")
}

type createRequestBody struct {
	CreatorID   int64  `json:"creator_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Priority    int    `json:"priority"`
}

type outcomeRequestBody struct {
	RevenuePerSend   float64 `json:"actual_revenue_per_send"`
	OpenRate         float64 `json:"actual_open_rate"`
	ConversionRate   float64 `json:"actual_conversion_rate"`
	SaturationAfter  float64 `json:"saturation_after"`
	OpportunityAfter float64 `json:"opportunity_after"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
