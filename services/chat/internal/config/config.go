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

// ConfigPath is the default config location. SOCRATIUM_CHAT_CONFIG
// overrides it.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	DatabaseURL    string   `yaml:"databaseURL"`
	LogLevel       string   `yaml:"logLevel"`
	CORSOrigins    []string `yaml:"corsOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	BookServiceURL            string `yaml:"bookServiceURL"`
	InternalJWTPrivateKeyPath string `yaml:"internalJWTPrivateKeyPath"`
	InternalJWTKeyID          string `yaml:"internalJWTKeyID"`

	// SecretKeyPath holds the master secret sealing provider API keys.
	SecretKeyPath string `yaml:"secretKeyPath"`

	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	ChatRateLimit  int    `yaml:"chatRateLimit"`
	ChatRateWindow string `yaml:"chatRateWindow"`

	PreviewPages      int    `yaml:"previewPages"`
	RecentMessages    int    `yaml:"recentMessages"`
	ChatTimeout       string `yaml:"chatTimeout"`
	OpenRouterBaseURL string `yaml:"openRouterBaseURL"`
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := os.Getenv("SOCRATIUM_CHAT_CONFIG"); v != "" {
		path = v
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
	str := map[string]*string{
		"CHAT_PORT":                     &cfg.Port,
		"DATABASE_URL":                  &cfg.DatabaseURL,
		"LOG_LEVEL":                     &cfg.LogLevel,
		"BOOK_SERVICE_URL":              &cfg.BookServiceURL,
		"INTERNAL_JWT_PRIVATE_KEY_PATH": &cfg.InternalJWTPrivateKeyPath,
		"INTERNAL_JWT_KEY_ID":           &cfg.InternalJWTKeyID,
		"SECRET_KEY_PATH":               &cfg.SecretKeyPath,
		"REDIS_ADDR":                    &cfg.RedisAddr,
		"REDIS_PASSWORD":                &cfg.RedisPassword,
		"CHAT_TIMEOUT":                  &cfg.ChatTimeout,
		"OPENROUTER_BASE_URL":           &cfg.OpenRouterBaseURL,
	}
	for env, dst := range str {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"CHAT_PREVIEW_PAGES":   &cfg.PreviewPages,
		"CHAT_RECENT_MESSAGES": &cfg.RecentMessages,
		"CHAT_RATE_LIMIT":      &cfg.ChatRateLimit,
	}
	for env, dst := range ints {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.PreviewPages <= 0 {
		cfg.PreviewPages = 3
	}
	if cfg.RecentMessages <= 0 {
		cfg.RecentMessages = 10
	}
	if cfg.ChatRateLimit == 0 {
		cfg.ChatRateLimit = 30
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.BookServiceURL == "" {
		return errors.New("config: bookServiceURL is required (set in config.yaml or BOOK_SERVICE_URL)")
	}
	if cfg.InternalJWTPrivateKeyPath == "" {
		return errors.New("config: internalJWTPrivateKeyPath is required")
	}
	if cfg.SecretKeyPath == "" {
		return errors.New("config: secretKeyPath is required (set in config.yaml or SECRET_KEY_PATH)")
	}
	if cfg.ChatRateLimit > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when chatRateLimit is enabled")
	}
	for name, v := range map[string]string{"chatTimeout": cfg.ChatTimeout, "chatRateWindow": cfg.ChatRateWindow} {
		if _, err := ParseDuration(v, 0); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration parses a Go duration string, returning fallback for "".
func ParseDuration(v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
