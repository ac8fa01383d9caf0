package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/fetchers"
	"github.com/matwana-io/matwana-engine/pkg/models"
	"github.com/matwana-io/matwana-engine/pkg/repositories"
	"github.com/matwana-io/matwana-engine/pkg/schema"
)

// FetchOptions controls one fetch cycle.
type FetchOptions struct {
	// ForceRefresh bypasses the cache even when it is still valid.
	ForceRefresh bool
	// Trigger records what initiated the fetch in the refresh log.
	Trigger models.RefreshTrigger
	// TriggeredBy is the acting user, if any.
	TriggeredBy string
}

// FetchResult is the outcome of one fetch cycle.
type FetchResult struct {
	Success        bool       `json:"success"`
	Data           any        `json:"data,omitempty"`
	FromCache      bool       `json:"from_cache"`
	CachedAt       *time.Time `json:"cached_at,omitempty"`
	ResponseTimeMs float64    `json:"response_time_ms,omitempty"`
	RecordCount    int        `json:"record_count"`
	Error          string     `json:"error,omitempty"`
}

// DataFetcher orchestrates the fetch pipeline: cache check, dispatch,
// transform, schema inference, health bookkeeping and the refresh log.
type DataFetcher interface {
	// Fetch returns the source's data, from cache when valid. The data
	// source's fetch state is persisted through the repository.
	Fetch(ctx context.Context, ds *models.DataSource, opts FetchOptions) (*FetchResult, error)

	// TestConnection verifies a source end to end. Saved sources run the
	// full forced fetch pipeline; unsaved configurations fetch statelessly.
	// Returned data is complete so callers can infer a schema from it.
	TestConnection(ctx context.Context, ds *models.DataSource) *FetchResult
}

type dataFetcher struct {
	dispatcher   *fetchers.Dispatcher
	dsRepo       repositories.DataSourceRepository
	logRepo      repositories.RefreshLogRepository
	payloadCache *PayloadCache
	notifier     Notifier
	logger       *zap.Logger
}

// NewDataFetcher creates the fetch orchestrator.
func NewDataFetcher(
	dispatcher *fetchers.Dispatcher,
	dsRepo repositories.DataSourceRepository,
	logRepo repositories.RefreshLogRepository,
	payloadCache *PayloadCache,
	notifier Notifier,
	logger *zap.Logger,
) DataFetcher {
	return &dataFetcher{
		dispatcher:   dispatcher,
		dsRepo:       dsRepo,
		logRepo:      logRepo,
		payloadCache: payloadCache,
		notifier:     notifier,
		logger:       logger,
	}
}

func (f *dataFetcher) Fetch(ctx context.Context, ds *models.DataSource, opts FetchOptions) (*FetchResult, error) {
	if !opts.ForceRefresh {
		if result := f.fromCache(ctx, ds); result != nil {
			return result, nil
		}
	}

	claimed, err := f.dsRepo.ClaimRefresh(ctx, ds.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apperrors.ErrRefreshInProgress
	}
	ds.RefreshInProgress = true

	trigger := opts.Trigger
	if trigger == "" {
		trigger = models.TriggerManual
	}
	refreshLog := models.StartRefreshLog(ds.ID, trigger)
	refreshLog.TriggeredBy = opts.TriggeredBy
	if err := f.logRepo.Create(ctx, refreshLog); err != nil {
		// A refresh must not fail because its audit entry could not be
		// written, but the claim has to be released.
		f.logger.Error("failed to open refresh log", zap.Error(err))
		_ = f.dsRepo.ReleaseRefresh(ctx, ds.ID)
		ds.RefreshInProgress = false
		return nil, err
	}

	start := time.Now()
	data, fetchErr := f.dispatcher.Fetch(ctx, ds)
	elapsedMs := float64(time.Since(start).Milliseconds())

	if fetchErr != nil {
		return f.completeError(ctx, ds, refreshLog, fetchErr, elapsedMs), nil
	}
	return f.completeSuccess(ctx, ds, refreshLog, data, elapsedMs), nil
}

// fromCache returns a cache-hit result or nil. Redis is consulted first;
// the cached_data column is the fallback.
func (f *dataFetcher) fromCache(ctx context.Context, ds *models.DataSource) *FetchResult {
	if !ds.CacheEnabled {
		return nil
	}

	if payload, ok := f.payloadCache.Get(ctx, ds.ID); ok {
		return &FetchResult{
			Success:     true,
			Data:        payload,
			FromCache:   true,
			CachedAt:    ds.CachedAt,
			RecordCount: countRecords(payload),
		}
	}

	if ds.IsCacheValid() && ds.CachedData != nil {
		return &FetchResult{
			Success:     true,
			Data:        ds.CachedData,
			FromCache:   true,
			CachedAt:    ds.CachedAt,
			RecordCount: countRecords(ds.CachedData),
		}
	}
	return nil
}

func (f *dataFetcher) completeSuccess(ctx context.Context, ds *models.DataSource, refreshLog *models.DataRefreshLog, data any, elapsedMs float64) *FetchResult {
	recordsFetched := countRecords(data)

	// Transforms are best effort: a bad pipeline keeps the raw payload.
	transformed, err := ApplyTransforms(data, ds.Transform)
	if err != nil {
		f.logger.Warn("transform pipeline failed, keeping raw payload",
			zap.String("data_source_id", ds.ID.String()), zap.Error(err))
		transformed = data
	}

	recordCount := countRecords(transformed)
	dataSize := payloadSize(transformed)

	if !ds.HasSchema() {
		if inferred := schema.Infer(transformed); inferred != nil {
			ds.ApplySchema(inferred, transformed)
		}
	}

	ds.CacheData(transformed)
	if ds.CacheEnabled && ds.CacheTTLSeconds > 0 {
		f.payloadCache.Set(ctx, ds.ID, transformed,
			time.Duration(ds.CacheTTLSeconds)*time.Second)
	}

	ds.RecordSuccess(elapsedMs, recordCount)
	ds.DataSizeBytes = dataSize

	refreshLog.CompleteSuccess(recordsFetched, recordCount, dataSize)
	if err := f.logRepo.Complete(ctx, refreshLog); err != nil {
		f.logger.Error("failed to complete refresh log", zap.Error(err))
	}
	if err := f.dsRepo.UpdateFetchState(ctx, ds); err != nil {
		f.logger.Error("failed to persist fetch state",
			zap.String("data_source_id", ds.ID.String()), zap.Error(err))
	}

	f.logger.Info("data source refreshed",
		zap.String("data_source_id", ds.ID.String()),
		zap.String("name", ds.Name),
		zap.Int("records", recordCount),
		zap.Float64("response_time_ms", elapsedMs))

	return &FetchResult{
		Success:        true,
		Data:           transformed,
		CachedAt:       ds.CachedAt,
		ResponseTimeMs: elapsedMs,
		RecordCount:    recordCount,
	}
}

func (f *dataFetcher) completeError(ctx context.Context, ds *models.DataSource, refreshLog *models.DataRefreshLog, fetchErr error, elapsedMs float64) *FetchResult {
	shouldAlert := ds.RecordError(fetchErr.Error())

	refreshLog.CompleteError(fetchErr.Error(), "")
	if err := f.logRepo.Complete(ctx, refreshLog); err != nil {
		f.logger.Error("failed to complete refresh log", zap.Error(err))
	}
	if err := f.dsRepo.UpdateFetchState(ctx, ds); err != nil {
		f.logger.Error("failed to persist fetch state",
			zap.String("data_source_id", ds.ID.String()), zap.Error(err))
	}

	f.logger.Warn("data source refresh failed",
		zap.String("data_source_id", ds.ID.String()),
		zap.String("name", ds.Name),
		zap.String("health_status", string(ds.HealthStatus)),
		zap.Int("consecutive_failures", ds.ConsecutiveFailures),
		zap.Float64("response_time_ms", elapsedMs),
		zap.Error(fetchErr))

	if shouldAlert {
		if err := f.notifier.NotifyFailure(ctx, ds); err != nil {
			f.logger.Error("failure alert dispatch failed", zap.Error(err))
		}
	}

	return &FetchResult{
		Success:        false,
		ResponseTimeMs: elapsedMs,
		Error:          fetchErr.Error(),
	}
}

func (f *dataFetcher) TestConnection(ctx context.Context, ds *models.DataSource) *FetchResult {
	// A saved source tests through the full forced fetch so health
	// counters, the cache and the refresh log all reflect the attempt.
	if ds.ID != uuid.Nil {
		result, err := f.Fetch(ctx, ds, FetchOptions{
			ForceRefresh: true,
			Trigger:      models.TriggerManual,
		})
		if err != nil {
			return &FetchResult{Success: false, Error: err.Error()}
		}
		return result
	}

	// An unsaved configuration has no row to claim or log against, so it
	// fetches on a throwaway copy. Detection side effects stay local.
	probe := *ds

	start := time.Now()
	data, err := f.dispatcher.Fetch(ctx, &probe)
	elapsedMs := float64(time.Since(start).Milliseconds())

	if err != nil {
		return &FetchResult{
			Success:        false,
			ResponseTimeMs: elapsedMs,
			Error:          err.Error(),
		}
	}

	return &FetchResult{
		Success:        true,
		Data:           data,
		ResponseTimeMs: elapsedMs,
		RecordCount:    countRecords(data),
	}
}

// countRecords counts rows in a payload: list length for tabular data,
// one for a single object, zero for nil.
func countRecords(data any) int {
	switch v := data.(type) {
	case nil:
		return 0
	case []map[string]any:
		return len(v)
	case []any:
		return len(v)
	default:
		return 1
	}
}

func payloadSize(data any) int64 {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}
