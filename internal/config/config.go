package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Portal   PortalConfig   `mapstructure:"portal"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Replica  ReplicaConfig  `mapstructure:"replica"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type PortalConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	SessionCookie string        `mapstructure:"session_cookie"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
}

type HarvestConfig struct {
	Workers      int           `mapstructure:"workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffStart time.Duration `mapstructure:"backoff_start"`
	BackoffStep  time.Duration `mapstructure:"backoff_step"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	CSVPath      string        `mapstructure:"csv_path"`
	FailureLog   string        `mapstructure:"failure_log"`
}

type SyncConfig struct {
	LookbackDays  int `mapstructure:"lookback_days"`
	NotFoundLimit int `mapstructure:"not_found_limit"`
}

type ReplicaConfig struct {
	Path string `mapstructure:"path"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`

	// KeepSnapshots is how many dated replica snapshots stay in the bucket.
	KeepSnapshots int `mapstructure:"keep_snapshots"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment overrides
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("portal.base_url", "PORTAL_BASE_URL")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/projects.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("portal.base_url", "https://rera.karnataka.gov.in")
	v.SetDefault("portal.timeout", 30*time.Second)
	v.SetDefault("portal.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36")
	v.SetDefault("portal.session_cookie", "JSESSIONID")
	v.SetDefault("portal.refresh_margin", time.Minute)

	v.SetDefault("harvest.workers", 3)
	v.SetDefault("harvest.max_attempts", 3)
	v.SetDefault("harvest.backoff_start", 500*time.Millisecond)
	v.SetDefault("harvest.backoff_step", 250*time.Millisecond)
	v.SetDefault("harvest.backoff_max", time.Second)
	v.SetDefault("harvest.csv_path", "")
	v.SetDefault("harvest.failure_log", "./data/failed_project_ids.jsonl")

	v.SetDefault("sync.lookback_days", 360)
	v.SetDefault("sync.not_found_limit", 10)

	v.SetDefault("replica.path", "./data/projects_replica.db")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "rera-projects")
	v.SetDefault("storage.keep_snapshots", 7)

	v.SetDefault("log.level", "info")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be positive, got %d", c.Harvest.Workers)
	}
	if c.Harvest.MaxAttempts <= 0 {
		return fmt.Errorf("harvest.max_attempts must be positive, got %d", c.Harvest.MaxAttempts)
	}
	if c.Sync.LookbackDays <= 0 {
		return fmt.Errorf("sync.lookback_days must be positive, got %d", c.Sync.LookbackDays)
	}
	if c.Sync.NotFoundLimit <= 0 {
		return fmt.Errorf("sync.not_found_limit must be positive, got %d", c.Sync.NotFoundLimit)
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}
	return nil
}
