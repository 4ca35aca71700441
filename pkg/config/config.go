package config

import (
	"errors"
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
	UploadDir string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	SMTP        SMTPConfig
	Notify      NotifyConfig
	Terminal    TerminalConfig
	Maintenance MaintenanceConfig
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

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SMTPConfig carries the mail relay used for approval notifications.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// NotifyConfig governs notification dispatch and magic-link issuance.
type NotifyConfig struct {
	Enabled        bool
	PortalBaseURL  string
	ActionTokenTTL time.Duration
	Workers        int
	MaxRetries     int
	RetryDelay     time.Duration
}

// TerminalConfig configures the interactive SQL*Plus session manager.
type TerminalConfig struct {
	SQLPlusPath       string
	TranscriptDir     string
	CredentialFile    string
	NLSLang           string
	ConnectDelay      time.Duration
	KillGracePeriod   time.Duration
	OracleHost        string
	OraclePort        int
	OracleServiceName string
	PrimaryUser       string
	PrimaryPassword   string
	PrimaryAlias      string
}

// MaintenanceConfig controls the periodic transcript/connection-log sweep.
type MaintenanceConfig struct {
	Enabled             bool
	Interval            time.Duration
	TranscriptRetention time.Duration
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.UploadDir = v.GetString("UPLOAD_DIR")

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
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		User:     v.GetString("SMTP_USER"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM"),
	}

	cfg.Notify = NotifyConfig{
		Enabled:        v.GetBool("ENABLE_NOTIFICATIONS"),
		PortalBaseURL:  strings.TrimRight(v.GetString("PORTAL_BASE_URL"), "/"),
		ActionTokenTTL: parseDuration(v.GetString("ACTION_TOKEN_TTL"), 72*time.Hour),
		Workers:        v.GetInt("NOTIFY_WORKERS"),
		MaxRetries:     v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay:     parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 30*time.Second),
	}

	cfg.Terminal = TerminalConfig{
		SQLPlusPath:       v.GetString("SQLPLUS_PATH"),
		TranscriptDir:     v.GetString("TERMINAL_TRANSCRIPT_DIR"),
		CredentialFile:    v.GetString("TERMINAL_CREDENTIAL_FILE"),
		NLSLang:           v.GetString("TERMINAL_NLS_LANG"),
		ConnectDelay:      parseDuration(v.GetString("TERMINAL_CONNECT_DELAY"), 500*time.Millisecond),
		KillGracePeriod:   parseDuration(v.GetString("TERMINAL_KILL_GRACE"), time.Second),
		OracleHost:        v.GetString("ERP_DB_HOST"),
		OraclePort:        v.GetInt("ERP_DB_PORT"),
		OracleServiceName: v.GetString("ERP_DB_SERVICE_NAME"),
		PrimaryUser:       v.GetString("ERP_DB_USER"),
		PrimaryPassword:   v.GetString("ERP_DB_USER_PASSWORD"),
		PrimaryAlias:      v.GetString("ERP_DB_PRIMARY_ALIAS"),
	}

	cfg.Maintenance = MaintenanceConfig{
		Enabled:             v.GetBool("ENABLE_MAINTENANCE"),
		Interval:            parseDuration(v.GetString("MAINTENANCE_INTERVAL"), time.Hour),
		TranscriptRetention: parseDuration(v.GetString("TRANSCRIPT_RETENTION"), 90*24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("UPLOAD_DIR", "./uploads")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "erp_change_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 25)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "erp-portal@localhost")

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("PORTAL_BASE_URL", "http://localhost:8080")
	v.SetDefault("ACTION_TOKEN_TTL", "72h")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "30s")

	v.SetDefault("SQLPLUS_PATH", "sqlplus")
	v.SetDefault("TERMINAL_TRANSCRIPT_DIR", "./logs/terminals")
	v.SetDefault("TERMINAL_CREDENTIAL_FILE", "./config/db_users.json")
	v.SetDefault("TERMINAL_NLS_LANG", "TRADITIONAL CHINESE_TAIWAN.AL32UTF8")
	v.SetDefault("TERMINAL_CONNECT_DELAY", "500ms")
	v.SetDefault("TERMINAL_KILL_GRACE", "1s")
	v.SetDefault("ERP_DB_HOST", "localhost")
	v.SetDefault("ERP_DB_PORT", 1521)
	v.SetDefault("ERP_DB_SERVICE_NAME", "ERPPROD")
	v.SetDefault("ERP_DB_USER", "apps")
	v.SetDefault("ERP_DB_USER_PASSWORD", "")
	v.SetDefault("ERP_DB_PRIMARY_ALIAS", "apps")

	v.SetDefault("ENABLE_MAINTENANCE", true)
	v.SetDefault("MAINTENANCE_INTERVAL", "1h")
	v.SetDefault("TRANSCRIPT_RETENTION", "2160h")
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
