// Package config loads the application's configuration surface via viper:
// env bindings, an optional config file, and defaults, the way
// rcliao-briefly's internal/config.Load wires an application config.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full recognized configuration surface.
type Config struct {
	StoreDir string `mapstructure:"store_dir"`
	ThumbDir string `mapstructure:"thumb_dir"`
	ProxyDir string `mapstructure:"proxy_dir"`

	TextDim       int    `mapstructure:"text_dim"`
	VisualDim     int    `mapstructure:"visual_dim"`
	TextProvider  string `mapstructure:"text_provider"`
	VisualProvider string `mapstructure:"visual_provider"`
	AllowRebuild  bool   `mapstructure:"allow_rebuild"`

	Backend string `mapstructure:"backend"` // "recordfile" | "sqlite" | "postgres"

	Keyframe Keyframe `mapstructure:"keyframe"`
	Ingest   Ingest   `mapstructure:"ingest"`
	Tagging  Tagging  `mapstructure:"tagging"`
	Search   Search   `mapstructure:"search"`
	Cache    Cache    `mapstructure:"cache"`
	Log      Log      `mapstructure:"log"`

	Postgres Postgres `mapstructure:"postgres"`
	Redis    Redis    `mapstructure:"redis"`
	OpenAI   OpenAI   `mapstructure:"openai"`
}

// Keyframe controls the keyframe extractor's strategy.
type Keyframe struct {
	Strategy     string  `mapstructure:"strategy"` // scene_change | interval | hybrid
	IntervalS    float64 `mapstructure:"interval_s"`
	Threshold    float64 `mapstructure:"threshold"`
	MaxKeyframes int     `mapstructure:"max_keyframes"`
	MinIntervalS float64 `mapstructure:"min_interval_s"`
	MaxGapS      float64 `mapstructure:"max_gap_s"`
}

// Ingest controls the ingestion pipeline's worker pool.
type Ingest struct {
	Workers          int `mapstructure:"workers"`
	EmbedConcurrency int `mapstructure:"embed_concurrency"`
}

// Tagging controls the tag engine's keyframe-derived classification source.
type Tagging struct {
	ClassifierEnabled bool    `mapstructure:"classifier_enabled"`
	ConfidenceFloor   float64 `mapstructure:"confidence_floor"`
}

// Search controls the search service's default scoring behavior.
type Search struct {
	DefaultMode        string             `mapstructure:"default_mode"`
	TagWeight          float64            `mapstructure:"tag_weight"`
	VectorWeight       float64            `mapstructure:"vector_weight"`
	MultimodalWeights  map[string]float64 `mapstructure:"multimodal_weights"`
	MinScore           float64            `mapstructure:"min_score"`
	DefaultLimit       int                `mapstructure:"default_limit"`
	DeadlineMs         int                `mapstructure:"deadline_ms"`
}

// Cache controls the embedding service's cache.
type Cache struct {
	EmbeddingCapacity int `mapstructure:"embedding_capacity"`
}

// Log controls the zerolog logger built from this config.
type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Postgres is connection config for the optional postgres store backend.
type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

// Redis is connection config for the asynq-backed ingestion queue.
type Redis struct {
	URI string `mapstructure:"uri"`
}

// OpenAI is provider config when text_provider/visual_provider select openai.
type OpenAI struct {
	APIKey         string `mapstructure:"api_key"`
	TextModel      string `mapstructure:"text_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	VisionModel    string `mapstructure:"vision_model"`
	BaseURL        string `mapstructure:"base_url"`
}

var global *Config

// Load reads configuration from an optional file, environment variables
// (PREVISCORE_-prefixed, dots replaced by underscores), and a local .env,
// falling back to defaults for anything unset. configFile may be empty.
func Load(configFile string) (*Config, error) {
	if global != nil {
		return global, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: error loading .env file: %v\n", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("previscore")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("previscore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	global = cfg
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_dir", "store")
	v.SetDefault("thumb_dir", "thumbs")
	v.SetDefault("proxy_dir", "proxies")
	v.SetDefault("backend", "recordfile")

	v.SetDefault("text_dim", 768)
	v.SetDefault("visual_dim", 512)
	v.SetDefault("text_provider", "openai")
	v.SetDefault("visual_provider", "openai-clip")
	v.SetDefault("allow_rebuild", false)

	v.SetDefault("keyframe.strategy", "hybrid")
	v.SetDefault("keyframe.interval_s", 5.0)
	v.SetDefault("keyframe.threshold", 0.35)
	v.SetDefault("keyframe.max_keyframes", 200)
	v.SetDefault("keyframe.min_interval_s", 1.0)
	v.SetDefault("keyframe.max_gap_s", 30.0)

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.embed_concurrency", 4)

	v.SetDefault("tagging.classifier_enabled", false)
	v.SetDefault("tagging.confidence_floor", 0.5)

	v.SetDefault("search.default_mode", "HYBRID")
	v.SetDefault("search.tag_weight", 0.4)
	v.SetDefault("search.vector_weight", 0.6)
	v.SetDefault("search.min_score", 0.0)
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.deadline_ms", 2000)

	v.SetDefault("cache.embedding_capacity", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("openai.text_model", "text-embedding-3-small")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.vision_model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
}

// validate rejects configuration the store and search components can't
// operate on; anything else is left to the callers that use specific
// fields (e.g. a missing Postgres DSN only matters if backend=postgres).
func validate(c *Config) error {
	if c.TextDim <= 0 {
		return fmt.Errorf("text_dim must be positive, got %d", c.TextDim)
	}
	if c.VisualDim <= 0 {
		return fmt.Errorf("visual_dim must be positive, got %d", c.VisualDim)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	switch c.Backend {
	case "recordfile", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown backend %q (want recordfile, sqlite, or postgres)", c.Backend)
	}
	return nil
}
