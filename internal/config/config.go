package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// CaptureConfig controls the microphone capture session.
type CaptureConfig struct {
	Backend     string `yaml:"backend"` // portaudio, synthetic
	MaxSeconds  int    `yaml:"max_seconds"`
	BlockFrames int    `yaml:"block_frames"`
	DumpDir     string `yaml:"dump_dir"`
}

// TranscribeConfig selects and tunes the inference engine.
type TranscribeConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, whispercpp
	Command    string `yaml:"command"`
	ModelsDir  string `yaml:"models_dir"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	MaxThreads int    `yaml:"max_threads"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Capture     CaptureConfig    `yaml:"capture"`
	Transcribe  TranscribeConfig `yaml:"transcribe"`
	History     HistoryConfig    `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmurd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Backend:     "portaudio",
			MaxSeconds:  30,
			BlockFrames: 480,
		},
		Transcribe: TranscribeConfig{
			Mode:       "whispercpp",
			ModelsDir:  "./models",
			Model:      "ggml-base.en.bin",
			Language:   "en",
			MaxThreads: 6,
		},
		History: HistoryConfig{
			Path:          "./data/murmur-history.db",
			BusyTimeoutMS: 2500,
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

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MURMUR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMUR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Backend, "MURMUR_CAPTURE_BACKEND")
	overrideInt(&cfg.Capture.MaxSeconds, "MURMUR_CAPTURE_MAX_SECONDS")
	overrideInt(&cfg.Capture.BlockFrames, "MURMUR_CAPTURE_BLOCK_FRAMES")
	overrideString(&cfg.Capture.DumpDir, "MURMUR_CAPTURE_DUMP_DIR")
	overrideString(&cfg.Transcribe.Mode, "MURMUR_TRANSCRIBE_MODE")
	overrideString(&cfg.Transcribe.Command, "MURMUR_TRANSCRIBE_COMMAND")
	overrideString(&cfg.Transcribe.ModelsDir, "MURMUR_TRANSCRIBE_MODELS_DIR")
	overrideString(&cfg.Transcribe.Model, "MURMUR_TRANSCRIBE_MODEL")
	overrideString(&cfg.Transcribe.Language, "MURMUR_TRANSCRIBE_LANGUAGE")
	overrideInt(&cfg.Transcribe.MaxThreads, "MURMUR_TRANSCRIBE_MAX_THREADS")
	overrideString(&cfg.History.Path, "MURMUR_HISTORY_PATH")
	overrideInt(&cfg.History.BusyTimeoutMS, "MURMUR_HISTORY_BUSY_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
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
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Capture.Backend {
	case "portaudio", "synthetic":
		// ok
	default:
		return errors.New("capture.backend must be one of portaudio|synthetic")
	}
	if cfg.Capture.MaxSeconds <= 0 {
		return errors.New("capture.max_seconds must be positive")
	}
	if cfg.Capture.BlockFrames <= 0 {
		return errors.New("capture.block_frames must be positive")
	}
	switch cfg.Transcribe.Mode {
	case "mock", "exec", "whispercpp":
		// ok
	default:
		return errors.New("transcribe.mode must be one of mock|exec|whispercpp")
	}
	if cfg.Transcribe.Mode == "exec" && cfg.Transcribe.Command == "" {
		return errors.New("transcribe.command must be set when mode=exec")
	}
	if cfg.Transcribe.ModelsDir == "" {
		return errors.New("transcribe.models_dir must not be empty")
	}
	if cfg.Transcribe.Model == "" {
		return errors.New("transcribe.model must not be empty")
	}
	if cfg.Transcribe.MaxThreads <= 0 {
		return errors.New("transcribe.max_threads must be >= 1")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.BusyTimeoutMS < 0 {
		return errors.New("history.busy_timeout_ms must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
