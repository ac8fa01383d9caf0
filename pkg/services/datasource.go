package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/crypto"
	"github.com/matwana-io/matwana-engine/pkg/models"
	"github.com/matwana-io/matwana-engine/pkg/repositories"
	"github.com/matwana-io/matwana-engine/pkg/schema"
)

// Credentials carries plaintext secrets from the API boundary to the
// service, which encrypts them before anything is persisted. Empty fields
// mean "unchanged" on update.
type Credentials struct {
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Token      string `json:"token,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	DBPassword string `json:"db_password,omitempty"`
}

// DataSourceService manages the data source lifecycle.
type DataSourceService interface {
	Create(ctx context.Context, ds *models.DataSource, creds *Credentials) error
	Get(ctx context.Context, organizationID, id uuid.UUID) (*models.DataSource, error)
	GetByReference(ctx context.Context, organizationID uuid.UUID, reference string) (*models.DataSource, error)
	List(ctx context.Context, organizationID uuid.UUID, includeInactive bool) ([]*models.DataSource, error)
	Update(ctx context.Context, ds *models.DataSource, creds *Credentials) error
	Delete(ctx context.Context, organizationID, id uuid.UUID) error

	// Refresh runs the fetch pipeline for a stored source.
	Refresh(ctx context.Context, organizationID, id uuid.UUID, opts FetchOptions) (*FetchResult, error)

	// TestConnection probes a (possibly unsaved) source configuration.
	TestConnection(ctx context.Context, ds *models.DataSource, creds *Credentials) (*FetchResult, error)

	// InferSchema re-runs schema inference over the source's current data.
	InferSchema(ctx context.Context, organizationID, id uuid.UUID) (*schema.Schema, error)

	// Health returns the read-only health projection.
	Health(ctx context.Context, organizationID, id uuid.UUID) (*models.HealthSnapshot, error)

	// RefreshLogs returns the most recent refresh attempts.
	RefreshLogs(ctx context.Context, organizationID, id uuid.UUID, limit int) ([]*models.DataRefreshLog, error)
}

type dataSourceService struct {
	repo         repositories.DataSourceRepository
	logRepo      repositories.RefreshLogRepository
	widgetRepo   repositories.WidgetRepository
	fetcher      DataFetcher
	enc          *crypto.CredentialEncryptor
	payloadCache *PayloadCache
	logger       *zap.Logger
}

// NewDataSourceService creates the data source service.
func NewDataSourceService(
	repo repositories.DataSourceRepository,
	logRepo repositories.RefreshLogRepository,
	widgetRepo repositories.WidgetRepository,
	fetcher DataFetcher,
	enc *crypto.CredentialEncryptor,
	payloadCache *PayloadCache,
	logger *zap.Logger,
) DataSourceService {
	return &dataSourceService{
		repo:         repo,
		logRepo:      logRepo,
		widgetRepo:   widgetRepo,
		fetcher:      fetcher,
		enc:          enc,
		payloadCache: payloadCache,
		logger:       logger,
	}
}

func (s *dataSourceService) Create(ctx context.Context, ds *models.DataSource, creds *Credentials) error {
	if err := validateDataSource(ds); err != nil {
		return err
	}
	if ds.Reference == "" {
		ds.Reference = slugify(ds.Name)
	}
	if ds.DataFormat == "" {
		ds.DataFormat = models.FormatAuto
	}
	if ds.AuthType == "" {
		ds.AuthType = models.AuthNone
	}
	ds.HealthStatus = models.HealthUnknown
	ds.IsActive = true

	if err := s.applyCredentials(ds, creds); err != nil {
		return err
	}

	if err := s.repo.Create(ctx, ds); err != nil {
		return err
	}

	s.logger.Info("data source created",
		zap.String("data_source_id", ds.ID.String()),
		zap.String("name", ds.Name),
		zap.String("source_type", string(ds.SourceType)))
	return nil
}

func (s *dataSourceService) Get(ctx context.Context, organizationID, id uuid.UUID) (*models.DataSource, error) {
	return s.repo.GetByID(ctx, organizationID, id)
}

func (s *dataSourceService) GetByReference(ctx context.Context, organizationID uuid.UUID, reference string) (*models.DataSource, error) {
	return s.repo.GetByReference(ctx, organizationID, reference)
}

func (s *dataSourceService) List(ctx context.Context, organizationID uuid.UUID, includeInactive bool) ([]*models.DataSource, error) {
	return s.repo.List(ctx, organizationID, includeInactive)
}

func (s *dataSourceService) Update(ctx context.Context, ds *models.DataSource, creds *Credentials) error {
	if err := validateDataSource(ds); err != nil {
		return err
	}
	if err := s.applyCredentials(ds, creds); err != nil {
		return err
	}
	return s.repo.Update(ctx, ds)
}

func (s *dataSourceService) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	count, err := s.widgetRepo.CountByDataSource(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d widgets reference it", apperrors.ErrDataSourceInUse, count)
	}

	if err := s.repo.SoftDelete(ctx, organizationID, id); err != nil {
		return err
	}
	s.payloadCache.Delete(ctx, id)
	s.logger.Info("data source deleted",
		zap.String("data_source_id", id.String()))
	return nil
}

func (s *dataSourceService) Refresh(ctx context.Context, organizationID, id uuid.UUID, opts FetchOptions) (*FetchResult, error) {
	ds, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	return s.fetcher.Fetch(ctx, ds, opts)
}

func (s *dataSourceService) TestConnection(ctx context.Context, ds *models.DataSource, creds *Credentials) (*FetchResult, error) {
	if err := validateDataSource(ds); err != nil {
		return nil, err
	}
	if err := s.applyCredentials(ds, creds); err != nil {
		return nil, err
	}
	return s.fetcher.TestConnection(ctx, ds), nil
}

func (s *dataSourceService) InferSchema(ctx context.Context, organizationID, id uuid.UUID) (*schema.Schema, error) {
	ds, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	result, err := s.fetcher.Fetch(ctx, ds, FetchOptions{Trigger: models.TriggerAPI})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("fetch failed: %s", result.Error)
	}

	inferred := schema.Infer(result.Data)
	if inferred == nil {
		return nil, fmt.Errorf("payload has no inferable structure")
	}

	ds.ApplySchema(inferred, result.Data)
	if err := s.repo.UpdateFetchState(ctx, ds); err != nil {
		return nil, err
	}
	return inferred, nil
}

func (s *dataSourceService) Health(ctx context.Context, organizationID, id uuid.UUID) (*models.HealthSnapshot, error) {
	ds, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	snapshot := ds.Snapshot()
	return &snapshot, nil
}

func (s *dataSourceService) RefreshLogs(ctx context.Context, organizationID, id uuid.UUID, limit int) ([]*models.DataRefreshLog, error) {
	// Existence check keeps cross-organization IDs from leaking log rows.
	if _, err := s.repo.GetByID(ctx, organizationID, id); err != nil {
		return nil, err
	}
	return s.logRepo.ListByDataSource(ctx, id, limit)
}

// applyCredentials encrypts provided plaintext secrets onto the model.
// Nil or empty fields leave existing ciphertext untouched.
func (s *dataSourceService) applyCredentials(ds *models.DataSource, creds *Credentials) error {
	if creds == nil {
		return nil
	}

	if creds.Username != "" {
		ds.AuthUsername = creds.Username
	}
	if creds.Password != "" {
		encrypted, err := s.enc.Encrypt(creds.Password)
		if err != nil {
			return fmt.Errorf("failed to encrypt password: %w", err)
		}
		ds.AuthPasswordEncrypted = encrypted
	}
	if creds.Token != "" {
		encrypted, err := s.enc.Encrypt(creds.Token)
		if err != nil {
			return fmt.Errorf("failed to encrypt token: %w", err)
		}
		ds.AuthTokenEncrypted = encrypted
	}
	if creds.APIKey != "" {
		encrypted, err := s.enc.Encrypt(creds.APIKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt API key: %w", err)
		}
		ds.AuthAPIKeyEncrypted = encrypted
	}
	if creds.DBPassword != "" {
		encrypted, err := s.enc.Encrypt(creds.DBPassword)
		if err != nil {
			return fmt.Errorf("failed to encrypt database password: %w", err)
		}
		ds.DBPasswordEncrypted = encrypted
	}
	return nil
}

func validateDataSource(ds *models.DataSource) error {
	if strings.TrimSpace(ds.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := models.ParseSourceType(string(ds.SourceType)); err != nil {
		return err
	}

	switch ds.SourceType {
	case models.SourceAPI:
		if ds.APIEndpoint == "" {
			return fmt.Errorf("api_endpoint is required for api sources")
		}
	case models.SourceLink:
		if ds.FileURL == "" {
			return fmt.Errorf("file_url is required for link sources")
		}
	case models.SourceDatabase:
		if ds.DBHost == "" || ds.DBName == "" {
			return fmt.Errorf("db_host and db_name are required for database sources")
		}
	}
	return nil
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
