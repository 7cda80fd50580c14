// Package config loads the worker process configuration from a YAML file.
// String values may reference the environment as ${VAR} or ${VAR:default}.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/BDNK1/sagaworker/orchestrator/rest"
	"github.com/BDNK1/sagaworker/runtime"
	"github.com/BDNK1/sagaworker/steps"
	"github.com/BDNK1/sagaworker/telemetry"
)

// DefaultOrchestratorAddress is used when the file does not set one.
const DefaultOrchestratorAddress = "${ORCHESTRATOR_ADDRESS:http://localhost:8080}"

type Config struct {
	Orchestrator rest.Config      `yaml:"orchestrator"`
	Ops          OpsConfig        `yaml:"ops"`
	Telemetry    telemetry.Config `yaml:"telemetry"`
	Log          LogConfig        `yaml:"log"`
	Demo         steps.Config     `yaml:"demo"`
	// ShutdownGrace bounds how long in-flight steps may finish on exit.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" default:"30s" validate:"gte=0"`
	// Workers holds raw per-step-type overrides, keyed by step type.
	Workers map[string]map[string]any `yaml:"workers" validate:"dive,keys,step_type,endkeys"`
}

func init() {
	// step_type accepts the step types of the payment saga
	err := runtime.RegisterCustomValidator("step_type", func(fl validator.FieldLevel) bool {
		_, ok := steps.PolicyFor(fl.Field().String())
		return ok
	})
	if err != nil {
		panic(err)
	}
}

// OpsConfig configures the health and worker stats endpoints.
type OpsConfig struct {
	Address  string `yaml:"address" default:":8081" validate:"hostname_port"`
	Disabled bool   `yaml:"disabled"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
}

// Load reads the file at path, resolves environment references and returns
// the validated config. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}
	return Parse(raw)
}

// Parse builds the config from an already decoded document.
func Parse(raw map[string]any) (*Config, error) {
	orchestrator, ok := raw["orchestrator"].(map[string]any)
	if !ok {
		orchestrator = map[string]any{}
		raw["orchestrator"] = orchestrator
	}
	if _, ok := orchestrator["address"]; !ok {
		orchestrator["address"] = DefaultOrchestratorAddress
	}

	if _, err := resolveValues("", raw); err != nil {
		return nil, fmt.Errorf("failed to resolve config: %w", err)
	}

	cfg := &Config{}
	if err := runtime.InitializeConfig(cfg, raw); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WorkerConfigs decodes the per-step overrides. Step types without an entry
// are absent from the result and run with the runtime defaults; unknown keys
// in an entry are an error.
func (c *Config) WorkerConfigs() (map[string]runtime.WorkerConfig, error) {
	stepTypes := make([]string, 0, len(c.Workers))
	for stepType := range c.Workers {
		stepTypes = append(stepTypes, stepType)
	}
	sort.Strings(stepTypes)

	configs := make(map[string]runtime.WorkerConfig, len(stepTypes))
	for _, stepType := range stepTypes {
		var wc runtime.WorkerConfig
		if err := runtime.InitializeStrictConfig(&wc, c.Workers[stepType]); err != nil {
			return nil, fmt.Errorf("workers.%s: %w", stepType, err)
		}
		configs[stepType] = wc
	}
	return configs, nil
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Log.Level))

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
