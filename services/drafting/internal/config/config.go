package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable by DRAFTING_CONFIG.
var ConfigPath = "config.yaml"

func init() {
	if v := strings.TrimSpace(os.Getenv("DRAFTING_CONFIG")); v != "" {
		ConfigPath = v
	}
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseType string `yaml:"databaseType"`
	DatabaseURL  string `yaml:"databaseURL"`

	StorageType     string `yaml:"storageType"`
	MinioEndpoint   string `yaml:"minioEndpoint"`
	MinioAccessKey  string `yaml:"minioAccessKey"`
	MinioSecretKey  string `yaml:"minioSecretKey"`
	MinioBucket     string `yaml:"minioBucket"`
	MinioUseSSL     bool   `yaml:"minioUseSSL"`
	LocalStorageDir string `yaml:"localStorageDir"`

	AgentURL            string `yaml:"agentURL"`
	AgentServiceKey     string `yaml:"agentServiceKey"`
	AgentTimeoutSeconds int    `yaml:"agentTimeoutSeconds"`

	RedisAddr                  string `yaml:"redisAddr"`
	RedisPassword              string `yaml:"redisPassword"`
	ExchangeLock               bool   `yaml:"exchangeLock"`
	ExchangeLockTTLSeconds     int    `yaml:"exchangeLockTTLSeconds"`
	ExchangeRateLimitPerMinute int    `yaml:"exchangeRateLimitPerMinute"`

	AuthJWKSURL       string   `yaml:"authJwksURL"`
	JWTIssuer         string   `yaml:"jwtIssuer"`
	JWTAudience       string   `yaml:"jwtAudience"`
	JWTLeeway         string   `yaml:"jwtLeeway"`
	AllowedRoles      []string `yaml:"allowedRoles"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	StreamTimeoutSeconds int `yaml:"streamTimeoutSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("DATABASE_TYPE"); v != "" {
		cfg.DatabaseType = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.StorageType = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("LOCAL_STORAGE_DIR"); v != "" {
		cfg.LocalStorageDir = v
	}
	if v := os.Getenv("AGENT_URL"); v != "" {
		cfg.AgentURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("AGENT_SERVICE_KEY"); v != "" {
		cfg.AgentServiceKey = v
	}
	if v := os.Getenv("AGENT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AgentTimeoutSeconds = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DRAFTING_EXCHANGE_LOCK"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.ExchangeLock = b
		}
	}
	if v := os.Getenv("DRAFTING_EXCHANGE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExchangeRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("DRAFTING_AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("DRAFTING_ALLOWED_ROLES"); v != "" {
		cfg.AllowedRoles = splitCSV(v)
	}
	if v := os.Getenv("DRAFTING_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DatabaseType == "" {
		cfg.DatabaseType = "postgres"
	}
	if cfg.StorageType == "" {
		cfg.StorageType = "minio"
	}
	if cfg.AgentTimeoutSeconds == 0 {
		cfg.AgentTimeoutSeconds = 300
	}
	if cfg.ExchangeLockTTLSeconds == 0 {
		cfg.ExchangeLockTTLSeconds = 330
	}
	if cfg.StreamTimeoutSeconds == 0 {
		cfg.StreamTimeoutSeconds = 120
	}
	if len(cfg.AllowedRoles) == 0 {
		cfg.AllowedRoles = []string{"SLD_MANAGER", "LEW", "ADMIN", "SYSTEM_ADMIN"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.DatabaseType {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: databaseType must be postgres or sqlite, got %q", cfg.DatabaseType)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.StorageType {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minio settings are required (minioEndpoint/minioAccessKey/minioSecretKey/minioBucket)")
		}
	case "local":
		if strings.TrimSpace(cfg.LocalStorageDir) == "" {
			return errors.New("config: localStorageDir is required when storageType=local")
		}
	default:
		return fmt.Errorf("config: storageType must be minio or local, got %q", cfg.StorageType)
	}
	if cfg.AgentURL == "" {
		return errors.New("config: agentURL is required (set in config.yaml or AGENT_URL)")
	}
	if cfg.AgentServiceKey == "" {
		return errors.New("config: agentServiceKey is required (set in config.yaml or AGENT_SERVICE_KEY)")
	}
	if cfg.AgentTimeoutSeconds < 0 || cfg.StreamTimeoutSeconds < 0 || cfg.ExchangeLockTTLSeconds < 0 {
		return errors.New("config: timeouts must be >= 0")
	}
	if cfg.ExchangeRateLimitPerMinute < 0 {
		return errors.New("config: exchangeRateLimitPerMinute must be >= 0")
	}
	if (cfg.ExchangeLock || cfg.ExchangeRateLimitPerMinute > 0) && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when exchangeLock or exchangeRateLimitPerMinute is set")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or DRAFTING_AUTH_JWKS_URL)")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// AgentTimeout returns the drafting service timeout.
func (c FileConfig) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// StreamTimeout returns how long one streamed exchange may stay open.
func (c FileConfig) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSeconds) * time.Second
}

// ExchangeLockTTL returns the lease length of the per-session lock.
func (c FileConfig) ExchangeLockTTL() time.Duration {
	return time.Duration(c.ExchangeLockTTLSeconds) * time.Second
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
