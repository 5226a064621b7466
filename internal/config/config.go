package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/progress"
	"github.com/kursadbilgin/label-engine/internal/weight"
	"gopkg.in/yaml.v3"
)

const (
	PrintModeHTTP  = "http"
	PrintModeQueue = "queue"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL"`
	RenderServiceURL  string `env:"RENDER_SERVICE_URL,required=true"`
	PrintServiceURL   string `env:"PRINT_SERVICE_URL,required=true"`
	PrintMode         string `env:"PRINT_MODE,default=http"`
	ArtifactBucketURL string `env:"ARTIFACT_BUCKET_URL,default=mem://"`
	ArtifactPrefix    string `env:"ARTIFACT_PREFIX,default=labels"`
	TareConfigPath    string `env:"TARE_CONFIG_PATH"`

	GenerationGroupSize   int `env:"GENERATION_GROUP_SIZE,default=5"`
	ProgressDebounceMs    int `env:"PROGRESS_DEBOUNCE_MS,default=100"`
	StatusDebounceMs      int `env:"STATUS_DEBOUNCE_MS,default=50"`
	ProgressMaxBatch      int `env:"PROGRESS_MAX_BATCH,default=5"`
	ResetDelayMs          int `env:"RESET_DELAY_MS,default=2000"`
	SubmissionCooldownMs  int `env:"SUBMISSION_COOLDOWN_MS,default=10000"`
	AbandonedGraceMinutes int `env:"ABANDONED_GRACE_MINUTES,default=30"`
	AbandonedScanInterval int `env:"ABANDONED_SCAN_INTERVAL_SEC,default=60"`

	RelayConcurrency   int  `env:"RELAY_CONCURRENCY,default=2"`
	RelayKeepArtifacts bool `env:"RELAY_KEEP_ARTIFACTS,default=false"`

	DBMaxOpenConns int `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int `env:"DB_MAX_IDLE_CONNS,default=5"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.PrintMode = strings.ToLower(strings.TrimSpace(c.PrintMode))
	switch c.PrintMode {
	case PrintModeHTTP:
	case PrintModeQueue:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required when PRINT_MODE=queue")
		}
	default:
		return fmt.Errorf("invalid PRINT_MODE %q", c.PrintMode)
	}
	if c.GenerationGroupSize < 1 {
		return fmt.Errorf("GENERATION_GROUP_SIZE must be positive, got %d", c.GenerationGroupSize)
	}
	return nil
}

func (c *Config) Progress() progress.Config {
	return progress.Config{
		ProgressWindow: millis(c.ProgressDebounceMs),
		StatusWindow:   millis(c.StatusDebounceMs),
		MaxBatchSize:   c.ProgressMaxBatch,
	}
}

func (c *Config) ResetDelay() time.Duration         { return millis(c.ResetDelayMs) }
func (c *Config) SubmissionCooldown() time.Duration { return millis(c.SubmissionCooldownMs) }
func (c *Config) AbandonedGrace() time.Duration {
	return time.Duration(c.AbandonedGraceMinutes) * time.Minute
}
func (c *Config) AbandonedScanEvery() time.Duration {
	return time.Duration(c.AbandonedScanInterval) * time.Second
}

func millis(ms int) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

type tareFile struct {
	Pallets  map[string]float64 `yaml:"pallets"`
	Packages map[string]float64 `yaml:"packages"`
}

// LoadTareTable returns the default tare table with the overrides of the
// YAML file at path applied. An empty path yields the defaults.
//
//	pallets:
//	  chepWet: 40
//	packages:
//	  still: 48.5
func LoadTareTable(path string) (weight.TareTable, error) {
	table := weight.DefaultTareTable()
	if strings.TrimSpace(path) == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return weight.TareTable{}, fmt.Errorf("failed to read tare config: %w", err)
	}
	return parseTareTable(data, table)
}

func parseTareTable(data []byte, table weight.TareTable) (weight.TareTable, error) {
	var file tareFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return weight.TareTable{}, fmt.Errorf("failed to parse tare config: %w", err)
	}

	for key, kg := range file.Pallets {
		p, err := domain.ParsePalletTypeFromString(key)
		if err != nil {
			return weight.TareTable{}, fmt.Errorf("tare config: %w", err)
		}
		if kg < 0 {
			return weight.TareTable{}, fmt.Errorf("tare config: pallet %s has negative tare %v", key, kg)
		}
		table.Pallets[p] = kg
	}
	for key, kg := range file.Packages {
		p, err := domain.ParsePackageTypeFromString(key)
		if err != nil {
			return weight.TareTable{}, fmt.Errorf("tare config: %w", err)
		}
		if kg < 0 {
			return weight.TareTable{}, fmt.Errorf("tare config: package %s has negative tare %v", key, kg)
		}
		table.Packages[p] = kg
	}
	return table, nil
}
