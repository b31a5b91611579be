package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "LOQA_"

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" env:"OTLP_INSECURE"`
	StdoutTraces   bool   `yaml:"stdout_traces" env:"STDOUT_TRACES"`
	PrometheusPath string `yaml:"prometheus_path" env:"PROMETHEUS_PATH"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind" env:"BIND"`
	Port int    `yaml:"port" env:"PORT"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name" env:"RUNTIME_NAME"`
	Environment  string             `yaml:"environment" env:"RUNTIME_ENVIRONMENT"`
	HTTP         HTTPConfig         `yaml:"http" envPrefix:"HTTP_"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Bus          BusConfig          `yaml:"bus" envPrefix:"BUS_"`
	History      HistoryConfig      `yaml:"history" envPrefix:"HISTORY_"`
	Settings     SettingsConfig     `yaml:"settings" envPrefix:"SETTINGS_"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" envPrefix:"ORCHESTRATOR_"`
	Ingest       IngestConfig       `yaml:"ingest" envPrefix:"INGEST_"`
	System       SystemEngineConfig `yaml:"system" envPrefix:"SYSTEM_"`
	Neural       NeuralEngineConfig `yaml:"neural" envPrefix:"NEURAL_"`
	Playback     PlaybackConfig     `yaml:"playback" envPrefix:"PLAYBACK_"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded" env:"EMBEDDED"`
	Port           int      `yaml:"port" env:"PORT"`
	StoreDir       string   `yaml:"store_dir" env:"STORE_DIR"`
	Servers        []string `yaml:"servers" env:"SERVERS"`
	Username       string   `yaml:"username" env:"USERNAME"`
	Password       string   `yaml:"password" env:"PASSWORD"`
	Token          string   `yaml:"token" env:"TOKEN"`
	TLSInsecure    bool     `yaml:"tls_insecure" env:"TLS_INSECURE"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" env:"CONNECT_TIMEOUT_MS"`
}

type HistoryConfig struct {
	Path          string `yaml:"path" env:"PATH"`
	RetentionMode string `yaml:"retention_mode" env:"RETENTION_MODE"`
	RetentionDays int    `yaml:"retention_days" env:"RETENTION_DAYS"`
	MaxEntries    int    `yaml:"max_entries" env:"MAX_ENTRIES"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" env:"VACUUM_ON_START"`
}

// SettingsConfig points at the user TTS settings file (YAML or TOML).
type SettingsConfig struct {
	Path  string `yaml:"path" env:"PATH"`
	Watch bool   `yaml:"watch" env:"WATCH"`
}

type OrchestratorConfig struct {
	GraceMS           int `yaml:"grace_ms" env:"GRACE_MS"`
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms" env:"SHUTDOWN_TIMEOUT_MS"`
}

type IngestConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	EventSubject  string `yaml:"event_subject" env:"EVENT_SUBJECT"`
	SaySubject    string `yaml:"say_subject" env:"SAY_SUBJECT"`
	PublishStatus bool   `yaml:"publish_status" env:"PUBLISH_STATUS"`
}

// SystemEngineConfig drives an OS speech command such as espeak-ng or say.
// Command and VoicesCommand are shell-word strings; Command may reference
// {voice}, {rate}, {wpm}, {volume} and {text}.
type SystemEngineConfig struct {
	Enabled         bool   `yaml:"enabled" env:"ENABLED"`
	Command         string `yaml:"command" env:"COMMAND"`
	VoicesCommand   string `yaml:"voices_command" env:"VOICES_COMMAND"`
	VoicesField     int    `yaml:"voices_field" env:"VOICES_FIELD"`
	VoicesSkipLines int    `yaml:"voices_skip_lines" env:"VOICES_SKIP_LINES"`
	BaseWPM         int    `yaml:"base_wpm" env:"BASE_WPM"`
}

type NeuralEngineConfig struct {
	Enabled        bool            `yaml:"enabled" env:"ENABLED"`
	Backend        string          `yaml:"backend" env:"BACKEND"` // mock, exec
	Command        string          `yaml:"command" env:"COMMAND"`
	Concurrency    int             `yaml:"concurrency" env:"CONCURRENCY"`
	StepTimeoutMS  int             `yaml:"step_timeout_ms" env:"STEP_TIMEOUT_MS"`
	SampleRate     int             `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Voices         []VoiceConfig   `yaml:"voices"`
	Segmenter      SegmenterConfig `yaml:"segmenter" envPrefix:"SEGMENTER_"`
	PauseSmoothing bool            `yaml:"pause_smoothing" env:"PAUSE_SMOOTHING"`
	PausesMS       map[string]int  `yaml:"pauses_ms" env:"PAUSES_MS"`
}

type VoiceConfig struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
}

type SegmenterConfig struct {
	Mode       string `yaml:"mode" env:"MODE"` // punctuation, wasm
	MaxTokens  int    `yaml:"max_tokens" env:"MAX_TOKENS"`
	WasmModule string `yaml:"wasm_module" env:"WASM_MODULE"`
}

type PlaybackConfig struct {
	Mode     string `yaml:"mode" env:"MODE"` // device, bus, discard
	Channels int    `yaml:"channels" env:"CHANNELS"`
	BufferMS int    `yaml:"buffer_ms" env:"BUFFER_MS"`
	Subject  string `yaml:"subject" env:"SUBJECT"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-announcer",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusPath: "/metrics",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path:          "./data/announcer-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Settings: SettingsConfig{
			Path:  "./tts-settings.yaml",
			Watch: true,
		},
		Orchestrator: OrchestratorConfig{
			GraceMS:           250,
			ShutdownTimeoutMS: 3000,
		},
		Ingest: IngestConfig{
			Enabled:       true,
			EventSubject:  "stream.events.>",
			SaySubject:    "tts.say",
			PublishStatus: true,
		},
		System: SystemEngineConfig{
			Enabled:         true,
			Command:         "espeak-ng -v {voice} -s {wpm} -a {volume} --stdin",
			VoicesCommand:   "espeak-ng --voices",
			VoicesField:     3,
			VoicesSkipLines: 1,
			BaseWPM:         175,
		},
		Neural: NeuralEngineConfig{
			Enabled:        false,
			Backend:        "mock",
			Concurrency:    2,
			StepTimeoutMS:  30000,
			SampleRate:     24000,
			Voices:         []VoiceConfig{{Name: "af_heart", Language: "en-us"}},
			Segmenter:      SegmenterConfig{Mode: "punctuation", MaxTokens: 48},
			PauseSmoothing: true,
			PausesMS: map[string]int{
				".": 350,
				"!": 350,
				"?": 350,
				",": 150,
				";": 200,
				":": 200,
				"…": 450,
			},
		},
		Playback: PlaybackConfig{
			Mode:     "device",
			Channels: 1,
			BufferMS: 80,
			Subject:  "tts.audio.out",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	cfg.Bus.Servers = trimAll(cfg.Bus.Servers)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.History.Path == "" && cfg.History.RetentionMode != "ephemeral" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	if cfg.Orchestrator.GraceMS < 0 {
		return errors.New("orchestrator.grace_ms must be >= 0")
	}
	if cfg.Orchestrator.ShutdownTimeoutMS <= 0 {
		return errors.New("orchestrator.shutdown_timeout_ms must be positive")
	}
	if cfg.Ingest.Enabled && cfg.Ingest.EventSubject == "" && cfg.Ingest.SaySubject == "" {
		return errors.New("ingest needs event_subject or say_subject when enabled")
	}
	if !cfg.System.Enabled && !cfg.Neural.Enabled {
		return errors.New("at least one of system.enabled or neural.enabled must be true")
	}
	if cfg.System.Enabled {
		if strings.TrimSpace(cfg.System.Command) == "" {
			return errors.New("system.command must be set when the system engine is enabled")
		}
		if cfg.System.BaseWPM <= 0 {
			return errors.New("system.base_wpm must be positive")
		}
	}
	if cfg.Neural.Enabled {
		switch cfg.Neural.Backend {
		case "mock", "exec":
		default:
			return errors.New("neural.backend must be one of mock|exec")
		}
		if cfg.Neural.Backend == "exec" && cfg.Neural.Command == "" {
			return errors.New("neural.command must be set when backend=exec")
		}
		if cfg.Neural.SampleRate <= 0 {
			return errors.New("neural.sample_rate must be positive")
		}
		if cfg.Neural.Concurrency <= 0 {
			return errors.New("neural.concurrency must be >= 1")
		}
		switch cfg.Neural.Segmenter.Mode {
		case "punctuation":
		case "wasm":
			if cfg.Neural.Segmenter.WasmModule == "" {
				return errors.New("neural.segmenter.wasm_module must be set when mode=wasm")
			}
		default:
			return errors.New("neural.segmenter.mode must be one of punctuation|wasm")
		}
		for key := range cfg.Neural.PausesMS {
			if len([]rune(key)) != 1 {
				return fmt.Errorf("neural.pauses_ms key %q must be a single character", key)
			}
		}
	}
	switch cfg.Playback.Mode {
	case "device", "bus", "discard":
	default:
		return errors.New("playback.mode must be one of device|bus|discard")
	}
	if cfg.Playback.Channels <= 0 {
		return errors.New("playback.channels must be positive")
	}
	return nil
}
