package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if c.Study.Backend != "file" || c.Engine.Default != "reference" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Data.Binance.BackoffMin != 500*time.Millisecond {
		t.Fatalf("unexpected backoff default %v", c.Data.Binance.BackoffMin)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("log:\n  level: debug\nstudy:\n  backend: memory\noptimizer:\n  tpe_startup_trials: 3\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Log.Level != "debug" || c.Study.Backend != "memory" || c.Optimizer.TPEStartupTrials != 3 {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Optimizer.HyperbandEta != 3 {
		t.Fatalf("defaults lost on load: %+v", c.Optimizer)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("STUDY_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache.internal:6380")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	c, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Study.Backend != "redis" || c.Study.Redis.Host != "cache.internal" || c.Study.Redis.Port != 6380 {
		t.Fatalf("redis overrides not applied: %+v", c.Study)
	}
	if len(c.Events.Kafka.Brokers) != 2 || c.Events.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", c.Events.Kafka.Brokers)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"backend", func(c *Config) { c.Study.Backend = "s3" }},
		{"engine", func(c *Config) { c.Engine.Default = "gpu" }},
		{"exec without command", func(c *Config) { c.Engine.Default = "exec" }},
		{"gamma", func(c *Config) { c.Optimizer.TPEGamma = 1 }},
		{"eta", func(c *Config) { c.Optimizer.HyperbandEta = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mut(c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
