// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mitosis settings from defaults, an optional YAML
// file (plus a profile overlay), MITOSIS_ environment variables and
// --set command line overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MITOSIS_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	LLM          LLMConfig          `koanf:"llm"`
	Knowledge    KnowledgeConfig    `koanf:"knowledge"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Store        StoreConfig        `koanf:"store"`
	Server       ServerConfig       `koanf:"server"`
	MCP          MCPConfig          `koanf:"mcp"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider         string        `koanf:"provider"` // groq, openai, anthropic, gemini, ollama
	Model            string        `koanf:"model"`
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	Temperature      float64       `koanf:"temperature"`
	MaxTokens        int           `koanf:"max_tokens"`
	FactoryMaxTokens int           `koanf:"factory_max_tokens"`
	Stream           bool          `koanf:"stream"`
	RetryAttempts    int           `koanf:"retry_attempts"`
	Timeout          time.Duration `koanf:"timeout"`
}

type KnowledgeConfig struct {
	Backend    string        `koanf:"backend"` // memory, sqlite, qdrant
	Latency    time.Duration `koanf:"latency"`
	SeedFile   string        `koanf:"seed_file"`
	Watch      bool          `koanf:"watch"`
	QdrantAddr string        `koanf:"qdrant_addr"`
	Collection string        `koanf:"collection"`
}

type OrchestratorConfig struct {
	MitosisEnabled   bool `koanf:"mitosis_enabled"`
	MitosisThreshold int  `koanf:"mitosis_threshold"`
	MitosisImmediate bool `koanf:"mitosis_immediate"`
	MaxSteps         int  `koanf:"max_steps"`
}

type StoreConfig struct {
	// Path of the SQLite file. Empty keeps records and audit in memory.
	Path string `koanf:"path"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type MCPConfig struct {
	Transport string `koanf:"transport"` // stdio, http
	Addr      string `koanf:"addr"`
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	OTLPUser           string            `koanf:"otlp_user"`
	OTLPToken          string            `koanf:"otlp_token"`
}

var (
	providers  = []string{"groq", "openai", "anthropic", "gemini", "ollama"}
	backends   = []string{"memory", "sqlite", "qdrant"}
	exporters  = []string{"none", "stdout", "otlp"}
	transports = []string{"stdio", "http"}
)

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "groq")
	k.Set("llm.model", "mixtral-8x7b-32768")
	k.Set("llm.temperature", 0.7)
	k.Set("llm.max_tokens", 1000)
	k.Set("llm.factory_max_tokens", 2000)
	k.Set("llm.stream", true)
	k.Set("llm.retry_attempts", 3)
	k.Set("llm.timeout", "120s")

	k.Set("knowledge.backend", "memory")
	k.Set("knowledge.latency", "500ms")
	k.Set("knowledge.qdrant_addr", "localhost:6334")
	k.Set("knowledge.collection", "mitosis_knowledge")

	k.Set("orchestrator.mitosis_enabled", true)
	k.Set("orchestrator.mitosis_threshold", 500)

	k.Set("server.addr", ":8080")
	k.Set("mcp.transport", "stdio")
	k.Set("mcp.addr", ":8090")
	k.Set("telemetry.exporter", "none")
}

// Load reads defaults, the file at path (if any) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load plus a profile overlay: with path config.yaml
// and profile dev, config.dev.yaml is merged over the base file when it
// exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	k, err := load(path, profile)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

// LoadWithCLI understands --config, --profile (alias --env) and repeated
// --set key=value flags. Overrides from --set win over everything else.
// Values starting with { or [ are parsed as JSON.
func LoadWithCLI(args []string) (*Config, error) {
	opts, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	k, err := load(opts.path, opts.profile)
	if err != nil {
		return nil, err
	}
	for key, value := range sets {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", key, err)
		}
	}
	return unmarshal(k)
}

func load(path, profile string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if p := profileConfigPath(path, profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", p, err)
			}
		}
	}

	// MITOSIS_LLM_API_KEY -> llm.api_key: the first segment is the section.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + rest
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// profileConfigPath returns the overlay file for profile next to base, or
// "" when there is none.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	p := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	sets := map[string]any{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, errors.NewInvalidInputError(name + " requires a value")
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return opts, nil, errors.NewInvalidInputError(fmt.Sprintf("--set expects key=value, got %q", value))
			}
			v, err := parseSetValue(raw)
			if err != nil {
				return opts, nil, errors.New(errors.CodeInvalidInput, "invalid --set value for "+key, err)
			}
			sets[strings.TrimSpace(key)] = v
		}
	}
	return opts, sets, nil
}

func parseSetValue(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return raw, nil
}

// Validate rejects settings no component can honour.
func (c *Config) Validate() error {
	if !oneOf(c.LLM.Provider, providers) {
		return errors.NewInvalidInputError(fmt.Sprintf("unknown llm.provider %q (want one of %s)", c.LLM.Provider, strings.Join(providers, ", ")))
	}
	if !oneOf(c.Knowledge.Backend, backends) {
		return errors.NewInvalidInputError(fmt.Sprintf("unknown knowledge.backend %q (want one of %s)", c.Knowledge.Backend, strings.Join(backends, ", ")))
	}
	if c.Knowledge.Backend == "sqlite" && c.Store.Path == "" {
		return errors.NewInvalidInputError("knowledge.backend sqlite requires store.path")
	}
	if !oneOf(c.Telemetry.Exporter, exporters) {
		return errors.NewInvalidInputError(fmt.Sprintf("unknown telemetry.exporter %q", c.Telemetry.Exporter))
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return errors.NewInvalidInputError("telemetry.exporter otlp requires telemetry.otlp_endpoint")
	}
	if !oneOf(c.MCP.Transport, transports) {
		return errors.NewInvalidInputError(fmt.Sprintf("unknown mcp.transport %q", c.MCP.Transport))
	}
	if c.Orchestrator.MitosisThreshold <= 0 {
		return errors.NewInvalidInputError("orchestrator.mitosis_threshold must be positive")
	}
	if c.Orchestrator.MaxSteps < 0 {
		return errors.NewInvalidInputError("orchestrator.max_steps must not be negative")
	}
	if c.LLM.MaxTokens <= 0 || c.LLM.FactoryMaxTokens <= 0 {
		return errors.NewInvalidInputError("llm.max_tokens and llm.factory_max_tokens must be positive")
	}
	if c.LLM.RetryAttempts < 0 {
		return errors.NewInvalidInputError("llm.retry_attempts must not be negative")
	}
	if c.Knowledge.Latency < 0 {
		return errors.NewInvalidInputError("knowledge.latency must not be negative")
	}
	return nil
}

// OTLPTimeout returns the export timeout as a duration.
func (t TelemetryConfig) OTLPTimeout() time.Duration {
	return time.Duration(t.OTLPTimeoutSeconds) * time.Second
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
