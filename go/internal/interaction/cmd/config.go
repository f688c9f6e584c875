package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/tabletop/go/internal/interaction/broadcaster"
	"github.com/mcdev12/tabletop/go/internal/interaction/gateway"
	"github.com/mcdev12/tabletop/go/internal/models"
	"gopkg.in/yaml.v3"
)

// Config is the server's YAML configuration. Environment variables override
// the file for deploy-time settings (ports, URLs, credentials).
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Rooms struct {
		TurnBudgetSec    int `yaml:"turn_budget_sec"`
		ChatRetention    int `yaml:"chat_retention"`
		EventJournalSize int `yaml:"event_journal_size"`
	} `yaml:"rooms"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Archive struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"archive"`
}

func loadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if config.Server.Port == "" {
		config.Server.Port = getEnv("PORT", "8080")
	}
	if config.NATS.URL == "" {
		config.NATS.URL = getEnv("NATS_URL", "nats://localhost:4222")
	}
	if getEnv("NATS_ENABLED", "") == "true" {
		config.NATS.Enabled = true
	}
	if getEnv("ARCHIVE_ENABLED", "") == "true" {
		config.Archive.Enabled = true
	}
	return &config, nil
}

func (c *Config) roomDefaults() models.InteractionSettings {
	return models.InteractionSettings{
		TurnBudgetSec:    c.Rooms.TurnBudgetSec,
		ChatRetention:    c.Rooms.ChatRetention,
		EventJournalSize: c.Rooms.EventJournalSize,
	}
}

func (c *Config) natsConfig() broadcaster.NATSConfig {
	cfg := broadcaster.DefaultNATSConfig()
	cfg.URL = c.NATS.URL
	if c.NATS.StreamName != "" {
		cfg.StreamName = c.NATS.StreamName
	}
	if c.NATS.SubjectPrefix != "" {
		cfg.SubjectPrefix = c.NATS.SubjectPrefix
	}
	return cfg
}

func (c *Config) consumerConfig() gateway.JetStreamConsumerConfig {
	cfg := gateway.DefaultJetStreamConsumerConfig()
	cfg.URL = c.NATS.URL
	if c.NATS.StreamName != "" {
		cfg.StreamName = c.NATS.StreamName
	}
	if c.NATS.SubjectPrefix != "" {
		cfg.SubjectFilter = c.NATS.SubjectPrefix + ".>"
	}
	cfg.AckWait = 30 * time.Second
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
