package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	LMS       LMSConfig
	Analytics AnalyticsConfig
	Scheduler SchedulerConfig
	Jobs      JobsConfig
	Export    ExportConfig
	Uploads   UploadsConfig
	Settings  SettingsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig validates tokens issued by the LMS bridge.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LMSConfig points at the Moodle webservice endpoint.
type LMSConfig struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	TimeZone         string
	LecturerRoles    []string
	ManageCapability string
}

// AnalyticsConfig holds the fallback values for the administrator settings.
type AnalyticsConfig struct {
	LogstashURL         string
	KibanaURL           string
	ElasticsearchURL    string
	APIKey              string
	TemplateDashboardID string
	ExampleDataIndex    string
	SinkTimeout         time.Duration
}

// SchedulerConfig drives the automatic grade update task.
type SchedulerConfig struct {
	Enabled bool
	Spec    string
	LockTTL time.Duration
}

// JobsConfig configures the background export queue.
type JobsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// ExportConfig tunes the record batcher.
type ExportConfig struct {
	PageSize int
}

// UploadsConfig limits declaration uploads.
type UploadsConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// SettingsConfig controls caching of the administrator settings.
type SettingsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: v.GetString("JWT_AUDIENCE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.LMS = LMSConfig{
		BaseURL:          v.GetString("LMS_BASE_URL"),
		Token:            v.GetString("LMS_TOKEN"),
		Timeout:          parseDuration(v.GetString("LMS_TIMEOUT"), 30*time.Second),
		TimeZone:         v.GetString("LMS_TIMEZONE"),
		LecturerRoles:    splitAndTrim(v.GetString("LMS_LECTURER_ROLES")),
		ManageCapability: v.GetString("LMS_MANAGE_CAPABILITY"),
	}

	cfg.Analytics = AnalyticsConfig{
		LogstashURL:         v.GetString("LOGSTASH_URL"),
		KibanaURL:           v.GetString("KIBANA_URL"),
		ElasticsearchURL:    v.GetString("ELASTICSEARCH_URL"),
		APIKey:              v.GetString("KIBANA_API_KEY"),
		TemplateDashboardID: v.GetString("KIBANA_TEMPLATE_DASHBOARD_ID"),
		ExampleDataIndex:    v.GetString("ELASTICSEARCH_EXAMPLE_INDEX"),
		SinkTimeout:         parseDuration(v.GetString("SINK_TIMEOUT"), 30*time.Second),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled: v.GetBool("ENABLE_AUTO_UPDATE"),
		Spec:    v.GetString("AUTO_UPDATE_CRON"),
		LockTTL: parseDuration(v.GetString("AUTO_UPDATE_LOCK_TTL"), 10*time.Minute),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("EXPORT_WORKERS"),
		BufferSize: v.GetInt("EXPORT_QUEUE_BUFFER"),
		MaxRetries: v.GetInt("EXPORT_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("EXPORT_RETRY_DELAY"), 30*time.Second),
	}

	cfg.Export = ExportConfig{
		PageSize: v.GetInt("EXPORT_PAGE_SIZE"),
	}

	maxUpload := v.GetInt64("DECLARATIONS_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		MaxFileSizeBytes: maxUpload,
		AllowedMIMEs:     splitAndTrim(v.GetString("DECLARATIONS_ALLOWED_MIME_TYPES")),
	}

	cfg.Settings = SettingsConfig{
		CacheEnabled: v.GetBool("ENABLE_SETTINGS_CACHE"),
		CacheTTL:     parseDuration(v.GetString("SETTINGS_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "study_analytics")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LMS_BASE_URL", "http://localhost/moodle/")
	v.SetDefault("LMS_TOKEN", "")
	v.SetDefault("LMS_TIMEOUT", "30s")
	v.SetDefault("LMS_TIMEZONE", "Europe/Tallinn")
	v.SetDefault("LMS_LECTURER_ROLES", "editingteacher,teacher,manager")
	v.SetDefault("LMS_MANAGE_CAPABILITY", "local/study_analytics:updategrades")

	v.SetDefault("LOGSTASH_URL", "https://study-analytics.ee/logstash")
	v.SetDefault("KIBANA_URL", "https://study-analytics.ee/kibana")
	v.SetDefault("ELASTICSEARCH_URL", "https://study-analytics.ee/elasticsearch")
	v.SetDefault("KIBANA_API_KEY", "API key")
	v.SetDefault("KIBANA_TEMPLATE_DASHBOARD_ID", "")
	v.SetDefault("ELASTICSEARCH_EXAMPLE_INDEX", "example_data")
	v.SetDefault("SINK_TIMEOUT", "30s")

	v.SetDefault("ENABLE_AUTO_UPDATE", true)
	v.SetDefault("AUTO_UPDATE_CRON", "0 30 4 * * *")
	v.SetDefault("AUTO_UPDATE_LOCK_TTL", "10m")

	v.SetDefault("EXPORT_WORKERS", 2)
	v.SetDefault("EXPORT_QUEUE_BUFFER", 64)
	v.SetDefault("EXPORT_MAX_RETRIES", 0)
	v.SetDefault("EXPORT_RETRY_DELAY", "30s")
	v.SetDefault("EXPORT_PAGE_SIZE", 100)

	v.SetDefault("DECLARATIONS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("DECLARATIONS_ALLOWED_MIME_TYPES", "text/csv,application/csv,application/vnd.ms-excel,text/plain")

	v.SetDefault("ENABLE_SETTINGS_CACHE", true)
	v.SetDefault("SETTINGS_CACHE_TTL", "5m")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
