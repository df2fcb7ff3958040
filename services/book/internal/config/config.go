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

// ConfigPath is the default config location. SOCRATIUM_BOOK_CONFIG
// overrides it.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string   `yaml:"port"`
	DatabaseURL string   `yaml:"databaseURL"`
	LogLevel    string   `yaml:"logLevel"`
	CORSOrigins []string `yaml:"corsOrigins"`

	// StorageDriver is "minio" or "file".
	StorageDriver  string `yaml:"storageDriver"`
	StorageDir     string `yaml:"storageDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	PresignExpiry  string `yaml:"presignExpiry"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	PageCacheTTL  string `yaml:"pageCacheTTL"`

	// QueueDriver is "redis" or "amqp".
	QueueDriver       string `yaml:"queueDriver"`
	QueueName         string `yaml:"queueName"`
	AMQPURL           string `yaml:"amqpURL"`
	WorkerConcurrency int    `yaml:"workerConcurrency"`
	MaxRetries        int    `yaml:"maxRetries"`

	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	Pdftotext      string `yaml:"pdftotext"`

	InternalJWTPublicKeyPath string `yaml:"internalJWTPublicKeyPath"`
	InternalJWTKeyID         string `yaml:"internalJWTKeyID"`
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := os.Getenv("SOCRATIUM_BOOK_CONFIG"); v != "" {
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
		"BOOK_PORT":                    &cfg.Port,
		"DATABASE_URL":                 &cfg.DatabaseURL,
		"LOG_LEVEL":                    &cfg.LogLevel,
		"BOOK_STORAGE_DRIVER":          &cfg.StorageDriver,
		"BOOK_STORAGE_DIR":             &cfg.StorageDir,
		"MINIO_ENDPOINT":               &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":             &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":             &cfg.MinioSecretKey,
		"MINIO_BUCKET":                 &cfg.MinioBucket,
		"REDIS_ADDR":                   &cfg.RedisAddr,
		"REDIS_PASSWORD":               &cfg.RedisPassword,
		"BOOK_QUEUE_DRIVER":            &cfg.QueueDriver,
		"AMQP_URL":                     &cfg.AMQPURL,
		"PDFTOTEXT_PATH":               &cfg.Pdftotext,
		"INTERNAL_JWT_PUBLIC_KEY_PATH": &cfg.InternalJWTPublicKeyPath,
		"INTERNAL_JWT_KEY_ID":          &cfg.InternalJWTKeyID,
	}
	for env, dst := range str {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.MinioUseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("BOOK_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("BOOK_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = "minio"
	}
	if cfg.QueueDriver == "" {
		cfg.QueueDriver = "redis"
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 2
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 << 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.StorageDriver {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for the minio storage driver")
		}
	case "file":
		if cfg.StorageDir == "" {
			return errors.New("config: storageDir is required for the file storage driver")
		}
	default:
		return fmt.Errorf("config: unknown storageDriver %q", cfg.StorageDriver)
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	switch cfg.QueueDriver {
	case "redis":
	case "amqp":
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required for the amqp queue driver")
		}
	default:
		return fmt.Errorf("config: unknown queueDriver %q", cfg.QueueDriver)
	}
	if cfg.InternalJWTPublicKeyPath == "" {
		return errors.New("config: internalJWTPublicKeyPath is required")
	}
	for name, v := range map[string]string{"presignExpiry": cfg.PresignExpiry, "pageCacheTTL": cfg.PageCacheTTL} {
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
