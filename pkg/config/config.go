package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"hfttools/pkg/util"
)

// EnvConfigPath names the optional YAML file with deployment settings.
const EnvConfigPath = "HFT_TOOLS_CONFIG"

// Config holds deployment settings shared by all adapters.
// Request data never comes from here; it arrives on stdin.
type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level  string `yaml:"level" default:"warn"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stderr"`
	} `yaml:"log"`
	Engine struct {
		Default string `yaml:"default" default:"reference"`
		Exec    struct {
			Command string        `yaml:"command"`
			Args    []string      `yaml:"args"`
			Timeout time.Duration `yaml:"timeout" default:"10m"`
		} `yaml:"exec"`
	} `yaml:"engine"`
	Data struct {
		CSVDir  string `yaml:"csv_dir" default:"./data"`
		Binance struct {
			BaseURL    string        `yaml:"base_url" default:"https://api.binance.com"`
			Timeout    time.Duration `yaml:"timeout" default:"15s"`
			MaxRetries int           `yaml:"max_retries" default:"5"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"500ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"30s"`
			PageLimit  int           `yaml:"page_limit" default:"1000"`
		} `yaml:"binance"`
		ClickHouse struct {
			Host             string        `yaml:"host" default:"localhost"`
			Port             int           `yaml:"port" default:"9000"`
			Database         string        `yaml:"database" default:"marketdata"`
			User             string        `yaml:"user" default:"default"`
			Password         string        `yaml:"password"`
			UseHTTP          bool          `yaml:"use_http"`
			DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
			ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
			WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
			MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		} `yaml:"clickhouse"`
	} `yaml:"data"`
	Study struct {
		Backend string        `yaml:"backend" default:"file"`
		Dir     string        `yaml:"dir" default:"./studies"`
		LockTTL time.Duration `yaml:"lock_ttl" default:"30m"`
		Redis   struct {
			Host        string        `yaml:"host" default:"localhost"`
			Port        int           `yaml:"port" default:"6379"`
			Password    string        `yaml:"password"`
			DB          int           `yaml:"db"`
			Prefix      string        `yaml:"prefix" default:"hfttools"`
			DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		} `yaml:"redis"`
	} `yaml:"study"`
	Optimizer struct {
		MaxTrials        int     `yaml:"max_trials" default:"10000"`
		TPEStartupTrials int     `yaml:"tpe_startup_trials" default:"10"`
		TPEGamma         float64 `yaml:"tpe_gamma" default:"0.25"`
		TPECandidates    int     `yaml:"tpe_candidates" default:"24"`
		MedianStartup    int     `yaml:"median_startup_trials" default:"5"`
		MedianWarmup     int     `yaml:"median_warmup_steps" default:"1"`
		HyperbandEta     int     `yaml:"hyperband_eta" default:"3"`
		HyperbandMinStep int     `yaml:"hyperband_min_resource" default:"1"`
	} `yaml:"optimizer"`
	Events struct {
		Kafka struct {
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic" default:"hfttools.trials"`
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			Compression  string        `yaml:"compression" default:"gzip"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"kafka"`
	} `yaml:"events"`
	Metrics struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
		Job            string `yaml:"job" default:"hfttools"`
	} `yaml:"metrics"`
}

// Default returns a config populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// Tags are static; failure here is a programming error.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadFromEnv loads the file named by HFT_TOOLS_CONFIG (if any) and applies
// environment overrides.
func LoadFromEnv() (*Config, error) {
	c := Default()
	if path := os.Getenv(EnvConfigPath); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		c = loaded
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STUDY_BACKEND"); v != "" {
		c.Study.Backend = v
	}
	if v := os.Getenv("STUDY_DIR"); v != "" {
		c.Study.Dir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := splitHostPort(v)
		if ok {
			c.Study.Redis.Host = host
			c.Study.Redis.Port = port
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Data.CSVDir = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		c.Data.Binance.BaseURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Kafka.Brokers = util.SplitList(v)
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("BACKTEST_ENGINE"); v != "" {
		c.Engine.Default = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Study.Backend {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("study.backend must be 'file', 'redis' or 'memory', got '%s'", c.Study.Backend)
	}
	switch c.Engine.Default {
	case "reference", "exec":
	default:
		return fmt.Errorf("engine.default must be 'reference' or 'exec', got '%s'", c.Engine.Default)
	}
	if c.Engine.Default == "exec" && c.Engine.Exec.Command == "" {
		return fmt.Errorf("engine.exec.command is required when engine.default is 'exec'")
	}
	if c.Study.Backend == "file" && c.Study.Dir == "" {
		return fmt.Errorf("study.dir is required for the file backend")
	}
	if c.Optimizer.MaxTrials <= 0 {
		return fmt.Errorf("optimizer.max_trials must be positive")
	}
	if c.Optimizer.TPEGamma <= 0 || c.Optimizer.TPEGamma >= 1 {
		return fmt.Errorf("optimizer.tpe_gamma must be in (0, 1)")
	}
	if c.Optimizer.HyperbandEta < 2 {
		return fmt.Errorf("optimizer.hyperband_eta must be >= 2")
	}
	if c.Data.Binance.MaxRetries < 0 {
		return fmt.Errorf("data.binance.max_retries cannot be negative")
	}
	return nil
}

func splitHostPort(addr string) (string, int, bool) {
	i := strings.LastIndex(addr, ":")
	if i <= 0 || i == len(addr)-1 {
		return "", 0, false
	}
	port := util.ParseIntDefault(addr[i+1:], 0)
	if port <= 0 {
		return "", 0, false
	}
	return addr[:i], port, true
}
