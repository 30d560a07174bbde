package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Redis       RedisConfig       `yaml:"redis"`
	Storage     StorageConfig     `yaml:"storage"`
	Download    DownloadConfig    `yaml:"download"`
	TempJWT     TempJWTConfig     `yaml:"temp_jwt"`
	Security    SecurityConfig    `yaml:"security"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// RedisConfig for the optional maintenance queue and ban-list mirror
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	DataRoot       string `yaml:"data_root"`        // per-user directories live at <data_root>/<user_id>
	DefaultQuotaMB int64  `yaml:"default_quota_mb"` // applied when a user has no explicit limit
	MaxUploadMB    int64  `yaml:"max_upload_mb"`
}

type DownloadConfig struct {
	TokenExpiryHours int   `yaml:"token_expiry_hours"`
	TokenMaxUses     int   `yaml:"token_max_uses"`
	TokenLength      int   `yaml:"token_length"`
	RetentionDays    int   `yaml:"retention_days"` // inactive rows are hard-deleted after this
	MaxSizeMB        int64 `yaml:"max_size_mb"`
}

type TempJWTConfig struct {
	LedgerPath    string `yaml:"ledger_path"`
	WindowMinutes int    `yaml:"window_minutes"`
	Limit         int    `yaml:"limit"`
	// Salt mixed into the daily key derivation together with the date and hostname.
	Salt string `yaml:"salt"`
}

type SecurityConfig struct {
	BanHours int `yaml:"ban_hours"` // 0 bans permanently
	// Public share endpoints token bucket
	ShareRPS   float64 `yaml:"share_rps"`
	ShareBurst int     `yaml:"share_burst"`
	// Demand a robots scene token before a public share hands out download tokens
	RequireRobotsToken bool `yaml:"require_robots_token"`
	// Issuer shown in authenticator apps
	MFAIssuer string `yaml:"mfa_issuer"`
}

type MaintenanceConfig struct {
	Enabled          bool   `yaml:"enabled"`
	TokenCleanupCron string `yaml:"token_cleanup_cron"`
	LogCleanupCron   string `yaml:"log_cleanup_cron"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		// Start from defaults so a partial file keeps sane values
		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/ykc.db",
		},
		JWT: JWTConfig{
			Secret:     "ykc-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Log: LogConfig{
			Level: "info",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Storage: StorageConfig{
			DataRoot:       "data/files",
			DefaultQuotaMB: 1024,
			MaxUploadMB:    100,
		},
		Download: DownloadConfig{
			TokenExpiryHours: 12,
			TokenMaxUses:     5,
			TokenLength:      32,
			RetentionDays:    30,
			MaxSizeMB:        1024,
		},
		TempJWT: TempJWTConfig{
			LedgerPath:    "data/temp-jwt.json",
			WindowMinutes: 10,
			Limit:         20,
		},
		Security: SecurityConfig{
			BanHours:   24,
			ShareRPS:   5,
			ShareBurst: 20,
			MFAIssuer:  "ykc",
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
			TokenCleanupCron: "0 * * * *",
			LogCleanupCron:   "30 3 * * *",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if root := os.Getenv("DATA_ROOT"); root != "" {
		c.Storage.DataRoot = root
	}
	if ledger := os.Getenv("TEMP_JWT_LEDGER"); ledger != "" {
		c.TempJWT.LedgerPath = ledger
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
