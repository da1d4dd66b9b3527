// Package config loads deployer settings from an optional YAML file
// overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Name         string            `yaml:"name"`
	SourcePath   string            `yaml:"sourcePath"`
	BuildCommand *string           `yaml:"buildCommand"`
	OutputDir    string            `yaml:"outputDir"`
	Environment  map[string]string `yaml:"environment"`

	Region     string `yaml:"region"`
	AccountID  string `yaml:"accountId"`
	Bucket     string `yaml:"bucket"`
	S3Endpoint string `yaml:"s3Endpoint"`

	SyncConcurrency   int     `yaml:"syncConcurrency"`
	SyncRatePerSecond float64 `yaml:"syncRatePerSecond"`
	SyncPrune         bool    `yaml:"syncPrune"`

	ReconcilerURL         string `yaml:"reconcilerUrl"`
	ReconcilerTokenSecret string `yaml:"reconcilerTokenSecret"`
	PlanDir               string `yaml:"planDir"`
	DatabaseURL           string `yaml:"databaseUrl"`

	KafkaBrokers      []string `yaml:"kafkaBrokers"`
	RevalidationTopic string   `yaml:"revalidationTopic"`
	RevalidationGroup string   `yaml:"revalidationGroup"`
	RevalidationToken string   `yaml:"revalidationToken"`
	WorkerAddr        string   `yaml:"workerAddr"`

	LogLevel   string `yaml:"logLevel"`
	LogJSON    bool   `yaml:"logJson"`
	OTelStdout bool   `yaml:"otelStdout"`
}

const (
	defaultSourcePath        = "."
	defaultOutputDir         = ".open-next"
	defaultSyncConcurrency   = 16
	defaultPlanDir           = ".sitedeploy"
	defaultRevalidationTopic = "revalidation"
	defaultRevalidationGroup = "revalidation-worker"
	defaultWorkerAddr        = ":8070"
	defaultLogLevel          = "info"

	envPrefix = "DEPLOY_ENV_"
)

// Load reads the YAML file at path, or at DEPLOY_CONFIG when path is empty,
// then applies environment overrides. A missing file is an error only when a
// path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Config{
		SourcePath:        defaultSourcePath,
		OutputDir:         defaultOutputDir,
		SyncConcurrency:   defaultSyncConcurrency,
		PlanDir:           defaultPlanDir,
		RevalidationTopic: defaultRevalidationTopic,
		RevalidationGroup: defaultRevalidationGroup,
		WorkerAddr:        defaultWorkerAddr,
		LogLevel:          defaultLogLevel,
	}
	explicit := path != ""
	if !explicit {
		path = os.Getenv("DEPLOY_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		}
	}
	applyEnv(&cfg)

	if cfg.SyncConcurrency <= 0 {
		return Config{}, fmt.Errorf("SYNC_CONCURRENCY must be positive")
	}
	if cfg.SyncRatePerSecond < 0 {
		return Config{}, fmt.Errorf("SYNC_RATE_PER_SECOND must not be negative")
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Name = getEnv("DEPLOY_NAME", cfg.Name)
	cfg.SourcePath = getEnv("DEPLOY_SOURCE_PATH", cfg.SourcePath)
	if v, ok := os.LookupEnv("DEPLOY_BUILD_COMMAND"); ok {
		cfg.BuildCommand = &v
	}
	cfg.OutputDir = getEnv("DEPLOY_OUTPUT_DIR", cfg.OutputDir)
	cfg.Region = getEnv("AWS_REGION", getEnv("AWS_DEFAULT_REGION", cfg.Region))
	cfg.AccountID = getEnv("AWS_ACCOUNT_ID", cfg.AccountID)
	cfg.Bucket = getEnv("DEPLOY_BUCKET", cfg.Bucket)
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.SyncConcurrency = getInt("SYNC_CONCURRENCY", cfg.SyncConcurrency)
	cfg.SyncRatePerSecond = getFloat("SYNC_RATE_PER_SECOND", cfg.SyncRatePerSecond)
	cfg.SyncPrune = getBool("SYNC_PRUNE", cfg.SyncPrune)
	cfg.ReconcilerURL = getEnv("RECONCILER_URL", cfg.ReconcilerURL)
	cfg.ReconcilerTokenSecret = getEnv("RECONCILER_TOKEN_SECRET", cfg.ReconcilerTokenSecret)
	cfg.PlanDir = getEnv("PLAN_DIR", cfg.PlanDir)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	cfg.RevalidationTopic = getEnv("REVALIDATION_TOPIC", cfg.RevalidationTopic)
	cfg.RevalidationGroup = getEnv("REVALIDATION_GROUP", cfg.RevalidationGroup)
	cfg.RevalidationToken = getEnv("REVALIDATION_TOKEN", cfg.RevalidationToken)
	cfg.WorkerAddr = getEnv("WORKER_ADDR", cfg.WorkerAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getBool("LOG_JSON", cfg.LogJSON)
	cfg.OTelStdout = getBool("OTEL_STDOUT", cfg.OTelStdout)

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		name, ok := strings.CutPrefix(k, envPrefix)
		if !ok || name == "" {
			continue
		}
		if cfg.Environment == nil {
			cfg.Environment = map[string]string{}
		}
		cfg.Environment[name] = v
	}
}

// ValidateDeploy reports the first setting a deployment cannot do without.
func (c Config) ValidateDeploy() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("DEPLOY_NAME required")
	case c.Region == "":
		return fmt.Errorf("AWS_REGION required")
	case c.AccountID == "":
		return fmt.Errorf("AWS_ACCOUNT_ID required")
	case c.ReconcilerURL != "" && c.ReconcilerTokenSecret == "":
		return fmt.Errorf("RECONCILER_TOKEN_SECRET required when RECONCILER_URL is set")
	}
	return nil
}

// EnvironmentKeys lists the extra environment keys in order.
func (c Config) EnvironmentKeys() []string {
	keys := make([]string, 0, len(c.Environment))
	for k := range c.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
