package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/config"
	"github.com/matwana-io/matwana-engine/pkg/database"
	"github.com/matwana-io/matwana-engine/pkg/models"
	"github.com/matwana-io/matwana-engine/pkg/repositories"
)

// dueBatchSize bounds how many sources one tick picks up.
const dueBatchSize = 100

// tickTimeout bounds one whole scan-and-refresh cycle.
const tickTimeout = 10 * time.Minute

// RefreshScheduler scans for data sources whose auto-refresh is overdue
// and fetches them on a bounded worker pool. Sources already mid-refresh
// are skipped via the refresh_in_progress claim.
type RefreshScheduler struct {
	cfg     *config.SchedulerConfig
	scopes  *database.TenantScopeProvider
	db      *database.DB
	dsRepo  repositories.DataSourceRepository
	logRepo repositories.RefreshLogRepository
	fetcher DataFetcher
	cron    *cron.Cron
	logger  *zap.Logger
}

// NewRefreshScheduler creates the scheduler. Call Start to begin ticking.
func NewRefreshScheduler(
	cfg *config.SchedulerConfig,
	db *database.DB,
	dsRepo repositories.DataSourceRepository,
	logRepo repositories.RefreshLogRepository,
	fetcher DataFetcher,
	logger *zap.Logger,
) *RefreshScheduler {
	return &RefreshScheduler{
		cfg:     cfg,
		scopes:  database.NewTenantScopeProvider(db),
		db:      db,
		dsRepo:  dsRepo,
		logRepo: logRepo,
		fetcher: fetcher,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the tick and starts the cron loop.
func (s *RefreshScheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("refresh scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.TickSpec, s.tick); err != nil {
		return err
	}
	if s.cfg.LogRetentionDays > 0 {
		if _, err := s.cron.AddFunc("@daily", s.pruneLogs); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("refresh scheduler started",
		zap.String("tick_spec", s.cfg.TickSpec),
		zap.Int("workers", s.cfg.Workers))
	return nil
}

// Stop halts the cron loop and waits for in-flight ticks to finish.
func (s *RefreshScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("refresh scheduler stopped")
}

func (s *RefreshScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	due, err := s.listDue(ctx)
	if err != nil {
		s.logger.Error("due-source scan failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Debug("refreshing due data sources", zap.Int("count", len(due)))

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan *models.DataSource)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ds := range jobs {
				s.refreshOne(ctx, ds)
			}
		}()
	}

	for _, ds := range due {
		jobs <- ds
	}
	close(jobs)
	wg.Wait()
}

// listDue scans across organizations, so it runs without tenant scope.
func (s *RefreshScheduler) listDue(ctx context.Context) ([]*models.DataSource, error) {
	scope, err := s.db.WithoutTenant(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	return s.dsRepo.ListDue(database.SetTenantScope(ctx, scope), dueBatchSize)
}

// pruneLogs deletes refresh log rows past the retention window.
func (s *RefreshScheduler) pruneLogs() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	scope, err := s.db.WithoutTenant(ctx)
	if err != nil {
		s.logger.Error("log retention scan failed", zap.Error(err))
		return
	}
	defer scope.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.LogRetentionDays)
	deleted, err := s.logRepo.DeleteOlderThan(database.SetTenantScope(ctx, scope), cutoff)
	if err != nil {
		s.logger.Error("log retention prune failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned refresh logs",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}

func (s *RefreshScheduler) refreshOne(ctx context.Context, ds *models.DataSource) {
	tenantCtx, cleanup, err := s.scopes.WithTenantScope(ctx, ds.OrganizationID)
	if err != nil {
		s.logger.Error("failed to scope refresh",
			zap.String("data_source_id", ds.ID.String()), zap.Error(err))
		return
	}
	defer cleanup()

	_, err = s.fetcher.Fetch(tenantCtx, ds, FetchOptions{
		ForceRefresh: true,
		Trigger:      models.TriggerScheduled,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRefreshInProgress) {
			// Another worker or a manual refresh got there first.
			return
		}
		s.logger.Error("scheduled refresh failed",
			zap.String("data_source_id", ds.ID.String()), zap.Error(err))
	}
}
