package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hangawi/ai-schedule-api/pkg/config"
)

// TravelEstimator answers how many minutes a member needs to move between
// two locations with a given mode.
type TravelEstimator interface {
	EstimateMinutes(ctx context.Context, mode, from, to string) (int, error)
}

// StaticTravelEstimator returns a fixed padding. Used when no provider is
// configured and as the fallback when the provider is unreachable.
type StaticTravelEstimator struct {
	Minutes int
}

func (e StaticTravelEstimator) EstimateMinutes(ctx context.Context, mode, from, to string) (int, error) {
	return e.Minutes, nil
}

// HTTPTravelEstimator queries an external routing provider and caches
// answers in Redis. Estimates are advisory; provider failures degrade to
// the fallback instead of blocking a relocation.
type HTTPTravelEstimator struct {
	cfg      config.TravelConfig
	client   *http.Client
	redis    *redis.Client
	fallback TravelEstimator
	logger   *zap.Logger
}

// NewHTTPTravelEstimator builds the provider-backed estimator.
func NewHTTPTravelEstimator(cfg config.TravelConfig, redisClient *redis.Client, logger *zap.Logger) *HTTPTravelEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTravelEstimator{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		redis:    redisClient,
		fallback: StaticTravelEstimator{Minutes: 30},
		logger:   logger,
	}
}

type travelProviderResponse struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (e *HTTPTravelEstimator) EstimateMinutes(ctx context.Context, mode, from, to string) (int, error) {
	if from == "" || to == "" {
		return 0, nil
	}
	cacheKey := fmt.Sprintf("travel:%s:%s:%s", mode, from, to)
	if e.redis != nil {
		if cached, err := e.redis.Get(ctx, cacheKey).Int(); err == nil {
			return cached, nil
		}
	}

	minutes, err := e.queryProvider(ctx, mode, from, to)
	if err != nil {
		e.logger.Sugar().Warnw("travel provider unavailable, using fallback", "error", err)
		return e.fallback.EstimateMinutes(ctx, mode, from, to)
	}

	if e.redis != nil {
		if err := e.redis.Set(ctx, cacheKey, minutes, e.cfg.CacheTTL).Err(); err != nil {
			e.logger.Sugar().Warnw("travel cache write failed", "error", err)
		}
	}
	return minutes, nil
}

func (e *HTTPTravelEstimator) queryProvider(ctx context.Context, mode, from, to string) (int, error) {
	endpoint, err := url.Parse(e.cfg.ProviderURL)
	if err != nil {
		return 0, fmt.Errorf("parse travel provider url: %w", err)
	}
	query := endpoint.Query()
	query.Set("mode", mode)
	query.Set("from", from)
	query.Set("to", to)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build travel request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query travel provider: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("travel provider returned status %d", resp.StatusCode)
	}

	var payload travelProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode travel response: %w", err)
	}
	if payload.DurationMinutes < 0 {
		return 0, fmt.Errorf("travel provider returned negative duration")
	}
	return payload.DurationMinutes, nil
}

// travelPadding rounds an estimate up to whole scheduling slots so padded
// conflict checks stay on the grid.
func travelPadding(minutes, slotMinutes int) int {
	if minutes <= 0 {
		return 0
	}
	if slotMinutes <= 0 {
		return minutes
	}
	return ((minutes + slotMinutes - 1) / slotMinutes) * slotMinutes
}

var _ TravelEstimator = (*HTTPTravelEstimator)(nil)
var _ TravelEstimator = StaticTravelEstimator{}
