package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daoscope/govmatrix/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Tally   TallyConfig   `yaml:"tally" mapstructure:"tally"`
	Extract ExtractConfig `yaml:"extract" mapstructure:"extract"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// TallyConfig holds governance API credentials and pacing.
type TallyConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Endpoint       string  `yaml:"endpoint" mapstructure:"endpoint"`
	MinDelaySecs   float64 `yaml:"min_delay_secs" mapstructure:"min_delay_secs"`
	MaxDelaySecs   float64 `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BackoffSecs    int     `yaml:"backoff_secs" mapstructure:"backoff_secs"`
	MaxBackoffSecs int     `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
}

// ExtractConfig tunes batch sizes and stall budgets for extraction runs.
type ExtractConfig struct {
	DelegateBatch     int    `yaml:"delegate_batch" mapstructure:"delegate_batch"`
	ProposalBatch     int    `yaml:"proposal_batch" mapstructure:"proposal_batch"`
	VoteBatch         int    `yaml:"vote_batch" mapstructure:"vote_batch"`
	DelegateMaxStalls int    `yaml:"delegate_max_stalls" mapstructure:"delegate_max_stalls"`
	VoteMaxStalls     int    `yaml:"vote_max_stalls" mapstructure:"vote_max_stalls"`
	MaxDelegates      int    `yaml:"max_delegates" mapstructure:"max_delegates"`
	MaxProposals      int    `yaml:"max_proposals" mapstructure:"max_proposals"`
	CheckpointDir     string `yaml:"checkpoint_dir" mapstructure:"checkpoint_dir"`
}

// StoreConfig configures the vote cache backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"` // sqlite | postgres | none
	Path        string            `yaml:"path" mapstructure:"path"`     // sqlite file path
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// OutputConfig configures where export artifacts land.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GOVMATRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys with no meaningful default still need registering, or
	// AutomaticEnv never surfaces them into Unmarshal.
	v.SetDefault("tally.key", "")
	v.SetDefault("tally.endpoint", "https://api.tally.xyz/query")
	v.SetDefault("tally.min_delay_secs", 0.6)
	v.SetDefault("tally.max_delay_secs", 2.0)
	v.SetDefault("tally.max_retries", 3)
	v.SetDefault("tally.timeout_secs", 30)
	v.SetDefault("tally.backoff_secs", 2)
	v.SetDefault("tally.max_backoff_secs", 5)
	v.SetDefault("extract.delegate_batch", 200)
	v.SetDefault("extract.proposal_batch", 100)
	v.SetDefault("extract.vote_batch", 5000)
	v.SetDefault("extract.delegate_max_stalls", 15)
	v.SetDefault("extract.vote_max_stalls", 50)
	v.SetDefault("extract.max_delegates", 0)
	v.SetDefault("extract.max_proposals", 0)
	v.SetDefault("extract.checkpoint_dir", ".")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "govmatrix.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("output.dir", "output")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
