package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/study-analytics-api/internal/dto"
	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
)

const (
	settingsCachePrefix = "study_analytics:settings:"
	endpointsCacheKey   = settingsCachePrefix + "endpoints"
)

type settingRepository interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.Setting, error)
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
}

type settingsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type allowedSetting struct {
	Key         string
	Type        models.SettingType
	Description string
}

var allowedSettingKeys = []string{
	models.SettingLogstashURL,
	models.SettingKibanaURL,
	models.SettingElasticsearchURL,
	models.SettingKibanaAPIKey,
	models.SettingTemplateDashboardID,
}

var allowedSettings = map[string]allowedSetting{
	models.SettingLogstashURL: {
		Key:         models.SettingLogstashURL,
		Type:        models.SettingTypeURL,
		Description: "Logstash URL receiving grade and declaration records",
	},
	models.SettingKibanaURL: {
		Key:         models.SettingKibanaURL,
		Type:        models.SettingTypeURL,
		Description: "Kibana URL used for spaces, roles and dashboards",
	},
	models.SettingElasticsearchURL: {
		Key:         models.SettingElasticsearchURL,
		Type:        models.SettingTypeURL,
		Description: "Elasticsearch URL used for users and indices",
	},
	models.SettingKibanaAPIKey: {
		Key:         models.SettingKibanaAPIKey,
		Type:        models.SettingTypeSecret,
		Description: "API key sent with Kibana and Elasticsearch requests",
	},
	models.SettingTemplateDashboardID: {
		Key:         models.SettingTemplateDashboardID,
		Type:        models.SettingTypeString,
		Description: "Dashboard copied into every new lecturer space",
	},
}

// SettingsServiceConfig supplies env-level defaults.
type SettingsServiceConfig struct {
	Defaults map[string]string
	CacheTTL time.Duration
}

// SettingsService manages administrator settings and resolves analytics endpoints.
type SettingsService struct {
	repo      settingRepository
	cache     settingsCache
	validator *validator.Validate
	logger    *zap.Logger
	defaults  map[string]string
	cacheTTL  time.Duration
}

// NewSettingsService constructs a SettingsService. cache may be nil.
func NewSettingsService(repo settingRepository, cache settingsCache, validate *validator.Validate, logger *zap.Logger, cfg SettingsServiceConfig) *SettingsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := make(map[string]string, len(cfg.Defaults))
	for key, value := range cfg.Defaults {
		defaults[key] = value
	}
	return &SettingsService{
		repo:      repo,
		cache:     cache,
		validator: validate,
		logger:    logger,
		defaults:  defaults,
		cacheTTL:  cfg.CacheTTL,
	}
}

// List returns every setting with secrets masked.
func (s *SettingsService) List(ctx context.Context) ([]dto.SettingItem, error) {
	values, err := s.values(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]dto.SettingItem, 0, len(allowedSettingKeys))
	for _, key := range allowedSettingKeys {
		items = append(items, s.item(allowedSettings[key], values[key]))
	}
	return items, nil
}

// Get returns a single setting with secrets masked.
func (s *SettingsService) Get(ctx context.Context, key string) (*dto.SettingItem, error) {
	meta, err := requireSetting(key)
	if err != nil {
		return nil, err
	}
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			item := s.item(meta, s.defaults[key])
			return &item, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get setting")
	}
	item := s.item(meta, setting.Value)
	return &item, nil
}

// Update validates and stores a setting, then drops the cached endpoints.
func (s *SettingsService) Update(ctx context.Context, key, value string, actor *models.JWTClaims) (*dto.SettingItem, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	meta, err := requireSetting(key)
	if err != nil {
		return nil, err
	}
	value, err = s.validateValue(meta, value)
	if err != nil {
		return nil, err
	}

	description := meta.Description
	updatedBy := actor.Username
	setting := &models.Setting{
		Key:         key,
		Value:       value,
		Type:        meta.Type,
		Description: &description,
		UpdatedBy:   &updatedBy,
	}
	if err := s.repo.Upsert(ctx, setting); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update setting")
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, settingsCachePrefix+"*"); err != nil {
			s.logger.Warn("failed to invalidate cached settings", zap.Error(err))
		}
	}
	s.logger.Info("setting updated", zap.String("key", key), zap.String("by", updatedBy))

	item := s.item(meta, value)
	return &item, nil
}

// Endpoints resolves the analytics endpoints, preferring the cache.
func (s *SettingsService) Endpoints(ctx context.Context) (models.Endpoints, error) {
	var endpoints models.Endpoints
	if s.cache != nil {
		hit, err := s.cache.Get(ctx, endpointsCacheKey, &endpoints)
		if err == nil && hit {
			return endpoints, nil
		}
	}

	values, err := s.values(ctx)
	if err != nil {
		return models.Endpoints{}, err
	}
	endpoints = models.Endpoints{
		LogstashURL:         values[models.SettingLogstashURL],
		KibanaURL:           values[models.SettingKibanaURL],
		ElasticsearchURL:    values[models.SettingElasticsearchURL],
		APIKey:              values[models.SettingKibanaAPIKey],
		TemplateDashboardID: values[models.SettingTemplateDashboardID],
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, endpointsCacheKey, endpoints, s.cacheTTL)
	}
	return endpoints, nil
}

func (s *SettingsService) values(ctx context.Context) (map[string]string, error) {
	rows, err := s.repo.ListByKeys(ctx, allowedSettingKeys)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list settings")
	}
	values := make(map[string]string, len(allowedSettingKeys))
	for key, value := range s.defaults {
		values[key] = value
	}
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

func (s *SettingsService) item(meta allowedSetting, value string) dto.SettingItem {
	item := dto.SettingItem{
		Key:         meta.Key,
		Value:       value,
		Type:        string(meta.Type),
		Description: meta.Description,
	}
	if meta.Type == models.SettingTypeSecret {
		item.Value = maskSecret(value)
		item.Masked = true
	}
	return item
}

func (s *SettingsService) validateValue(meta allowedSetting, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must not be empty", meta.Key))
	}
	if meta.Type != models.SettingTypeURL {
		return value, nil
	}
	if err := s.validator.Var(value, "url"); err != nil {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be an absolute URL", meta.Key))
	}
	parsed, err := url.Parse(value)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must use http or https", meta.Key))
	}
	return strings.TrimRight(value, "/"), nil
}

func requireSetting(key string) (allowedSetting, error) {
	meta, ok := allowedSettings[key]
	if !ok {
		return allowedSetting{}, appErrors.Clone(appErrors.ErrValidation, "unsupported setting key")
	}
	return meta, nil
}

func maskSecret(value string) string {
	runes := []rune(value)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
