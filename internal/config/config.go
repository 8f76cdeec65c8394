// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClassifierConfig holds credentials for the LLM classification gateway.
// Either APIKey or the OAuth2 client-credentials triple must be set.
type ClassifierConfig struct {
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// ChatworkConfig holds the outbound chat delivery settings.
type ChatworkConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
}

// Config holds all configuration for the dispatch service.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis
	RedisURL string

	// Batch scheduling
	BatchInterval time.Duration
	StartupDelay  time.Duration

	// Mailbox fetcher subprocess, e.g. "python3 ./scripts/imap_client.py".
	FetchCommand string
	FetchTimeout time.Duration

	Classifier ClassifierConfig
	Chatwork   ChatworkConfig

	// Admin / health server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Fetch struct {
		Command string `yaml:"command"`
	} `yaml:"fetch"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Chatwork   ChatworkConfig   `yaml:"chatwork"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "./config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL:   firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:      firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		BatchInterval: envOrDefaultDuration("BATCH_INTERVAL", 5*time.Minute),
		StartupDelay:  envOrDefaultDuration("STARTUP_DELAY", 5*time.Second),
		FetchCommand:  firstNonEmpty(raw.Fetch.Command, envOrDefault("FETCH_COMMAND", "python3 ./scripts/imap_client.py")),
		FetchTimeout:  envOrDefaultDuration("FETCH_TIMEOUT", 2*time.Minute),
		Classifier:    raw.Classifier,
		Chatwork:      raw.Chatwork,
		Port:          envOrDefaultInt("PORT", 8080),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required: set database.url in config.yaml or DATABASE_URL")
	}

	if cfg.Classifier.BaseURL == "" {
		cfg.Classifier.BaseURL = envOrDefault("CLASSIFIER_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = envOrDefault("CLASSIFIER_MODEL", "gemini-2.0-flash")
	}
	if cfg.Classifier.APIKey == "" {
		cfg.Classifier.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if cfg.Chatwork.BaseURL == "" {
		cfg.Chatwork.BaseURL = envOrDefault("CHATWORK_BASE_URL", "https://api.chatwork.com/v2")
	}
	if cfg.Chatwork.APIToken == "" {
		cfg.Chatwork.APIToken = os.Getenv("CHATWORK_API_TOKEN")
	}

	if cfg.Classifier.APIKey == "" && cfg.Classifier.ClientID == "" {
		return nil, fmt.Errorf("classifier credentials missing: set classifier.api_key or classifier.client_id/client_secret")
	}

	if cfg.BatchInterval <= 0 {
		return nil, fmt.Errorf("BATCH_INTERVAL must be positive, got %s", cfg.BatchInterval)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
