package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Config application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	JWT       JWTConfig       `yaml:"jwt"`
	CORS      CORSConfig      `yaml:"cors"`
	Chat      ChatConfig      `yaml:"chat"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port            int    `yaml:"port"`
	Mode            string `yaml:"mode"` // debug, release, test
	Env             string `yaml:"env"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// DatabaseConfig database connection settings
type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // mysql, postgres
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
	LogQueries      bool   `yaml:"log_queries"`
}

// RedisConfig Redis settings; Host empty disables Redis
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
}

// StorageConfig attachment storage; Driver is s3 or local
type StorageConfig struct {
	Driver          string `yaml:"driver"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	CDNURL          string `yaml:"cdn_url"`
	BasePath        string `yaml:"base_path"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	LocalDir        string `yaml:"local_dir"`
	LocalBaseURL    string `yaml:"local_base_url"`
}

// JWTConfig identity token settings
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// CORSConfig allowed origins, comma separated
type CORSConfig struct {
	AllowOrigins string `yaml:"allow_origins"`
}

// ChatConfig messaging engine limits
type ChatConfig struct {
	MaxBodyLength       int   `yaml:"max_body_length"`       // runes
	MaxAttachments      int   `yaml:"max_attachments"`       // per message
	MaxAttachmentSize   int64 `yaml:"max_attachment_size"`   // bytes
	ThumbnailWidth      int   `yaml:"thumbnail_width"`       // px
	PreviewSnippetRunes int   `yaml:"preview_snippet_runes"` // reply preview length
	DefaultPageSize     int   `yaml:"default_page_size"`
	MaxPageSize         int   `yaml:"max_page_size"`
	SubscriberBuffer    int   `yaml:"subscriber_buffer"`
	PendingTimeout      int   `yaml:"pending_timeout"`     // seconds
	DuplicateWindow     int   `yaml:"duplicate_window_ms"` // milliseconds
}

// RateLimitConfig send and upload limits per user
type RateLimitConfig struct {
	MessagesPerMinute int `yaml:"messages_per_minute"`
	UploadsPerMinute  int `yaml:"uploads_per_minute"`
}

// GetDSN returns the driver specific DSN
func (d DatabaseConfig) GetDSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			d.Host, d.Port, d.User, d.Password, d.DBName)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

// PendingTimeoutDuration pending entry timeout as a duration
func (c ChatConfig) PendingTimeoutDuration() time.Duration {
	return time.Duration(c.PendingTimeout) * time.Second
}

// DuplicateWindowDuration duplicate-submission window as a duration
func (c ChatConfig) DuplicateWindowDuration() time.Duration {
	return time.Duration(c.DuplicateWindow) * time.Millisecond
}

// Default returns the configuration used when no file value is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8090, Mode: "debug", Env: "local", ShutdownTimeout: 10},
		Database: DatabaseConfig{
			Driver: "mysql", Host: "localhost", Port: 3306,
			MaxIdleConns: 10, MaxOpenConns: 50, ConnMaxLifetime: 300,
		},
		Redis:   RedisConfig{Port: 6379, PoolSize: 20, Channel: "chat-events"},
		Storage: StorageConfig{Driver: "local", LocalDir: "./uploads", LocalBaseURL: "/uploads", Region: "auto"},
		JWT:     JWTConfig{Issuer: "angple"},
		Chat: ChatConfig{
			MaxBodyLength:       4000,
			MaxAttachments:      10,
			MaxAttachmentSize:   50 * 1024 * 1024,
			ThumbnailWidth:      320,
			PreviewSnippetRunes: 80,
			DefaultPageSize:     50,
			MaxPageSize:         200,
			SubscriberBuffer:    256,
			PendingTimeout:      30,
			DuplicateWindow:     2000,
		},
		RateLimit: RateLimitConfig{MessagesPerMinute: 60, UploadsPerMinute: 20},
	}
}

// Load reads the YAML file (missing file is not an error), expands ${VAR}
// references, then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		pkglogger.Warn("config file %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBinding maps one environment variable onto a config field
type envBinding struct {
	key string
	str *string
	num *int
}

func envBindings(cfg *Config) []envBinding {
	return []envBinding{
		{key: "APP_ENV", str: &cfg.Server.Env},
		{key: "PORT", num: &cfg.Server.Port},
		{key: "DB_DRIVER", str: &cfg.Database.Driver},
		{key: "DB_HOST", str: &cfg.Database.Host},
		{key: "DB_PORT", num: &cfg.Database.Port},
		{key: "DB_USER", str: &cfg.Database.User},
		{key: "DB_PASSWORD", str: &cfg.Database.Password},
		{key: "DB_NAME", str: &cfg.Database.DBName},
		{key: "REDIS_HOST", str: &cfg.Redis.Host},
		{key: "REDIS_PORT", num: &cfg.Redis.Port},
		{key: "REDIS_PASSWORD", str: &cfg.Redis.Password},
		{key: "STORAGE_DRIVER", str: &cfg.Storage.Driver},
		{key: "STORAGE_BUCKET", str: &cfg.Storage.Bucket},
		{key: "STORAGE_ACCESS_KEY_ID", str: &cfg.Storage.AccessKeyID},
		{key: "STORAGE_SECRET_ACCESS_KEY", str: &cfg.Storage.SecretAccessKey},
		{key: "JWT_SECRET", str: &cfg.JWT.Secret},
		{key: "CORS_ALLOW_ORIGINS", str: &cfg.CORS.AllowOrigins},
	}
}

func applyEnv(cfg *Config) {
	for _, b := range envBindings(cfg) {
		if b.num != nil {
			setInt(b.num, b.key)
		} else {
			setString(b.str, b.key)
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port out of range")
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q unsupported", c.Database.Driver))
	}
	switch c.Storage.Driver {
	case "s3":
		if c.Storage.Bucket == "" {
			problems = append(problems, "storage.bucket required for s3")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			problems = append(problems, "storage.local_dir required for local")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q unsupported", c.Storage.Driver))
	}
	if c.Chat.MaxPageSize < c.Chat.DefaultPageSize || c.Chat.DefaultPageSize <= 0 {
		problems = append(problems, "chat page sizes invalid")
	}
	if c.Chat.PendingTimeout <= 0 {
		problems = append(problems, "chat.pending_timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LogResolved prints the effective configuration with secrets masked
func LogResolved(cfg *Config) {
	pkglogger.GetLogger().Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Str("db_driver", cfg.Database.Driver).
		Str("db_host", cfg.Database.Host).
		Str("db_name", cfg.Database.DBName).
		Str("db_password", mask(cfg.Database.Password)).
		Str("redis_host", cfg.Redis.Host).
		Str("storage_driver", cfg.Storage.Driver).
		Str("storage_bucket", cfg.Storage.Bucket).
		Str("jwt_secret", mask(cfg.JWT.Secret)).
		Int("pending_timeout_s", cfg.Chat.PendingTimeout).
		Msg("config resolved")
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
