package cjunct

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment variable this package recognizes.
const envPrefix = "CJUNCT_"

// Config is the Runner's resolved configuration: defaults, overridden by a
// dotenv file, overridden in turn by the real process environment.
type Config struct {
	LogLevel                  string
	LogFile                   string
	EnvFile                   string
	WorkflowFile               string
	WorkflowLoaderSourceFile   string
	DisplayName                string
	DisplaySourceFile          string
	StrategyName               StrategyName
	ForceColor                 string
	ShellInjectYieldFunction   bool
	ExternalModulesPaths       []string
	ActionsClassDefinitionsDir string
	StrictOutcomesRendering    bool
	TracingEndpoint            string
}

// configState is the unexported builder target for functional options,
// following the construction pattern used throughout this codebase for
// multi-field, defaults-plus-overrides types.
type configState struct {
	cfg Config
}

// ConfigOption configures a Config built by NewConfig.
type ConfigOption func(*configState)

// WithLogLevel overrides the log level (debug/info/warn/error).
func WithLogLevel(level string) ConfigOption {
	return func(s *configState) { s.cfg.LogLevel = level }
}

// WithLogFile directs log output to a file path instead of stderr.
func WithLogFile(path string) ConfigOption {
	return func(s *configState) { s.cfg.LogFile = path }
}

// WithEnvFile overrides the dotenv file path consulted during resolution.
func WithEnvFile(path string) ConfigOption {
	return func(s *configState) { s.cfg.EnvFile = path }
}

// WithWorkflowFile pins the workflow source path (or "-" for stdin),
// bypassing autodetection.
func WithWorkflowFile(path string) ConfigOption {
	return func(s *configState) { s.cfg.WorkflowFile = path }
}

// WithStrategyName selects the scheduling strategy.
func WithStrategyName(name StrategyName) ConfigOption {
	return func(s *configState) { s.cfg.StrategyName = name }
}

// WithDisplayName selects a named Display implementation ("default" or
// "markdown").
func WithDisplayName(name string) ConfigOption {
	return func(s *configState) { s.cfg.DisplayName = name }
}

// WithForceColor forces (or forbids) color output regardless of terminal
// detection; pass "1"/"0" or leave empty to defer to detection.
func WithForceColor(v string) ConfigOption {
	return func(s *configState) { s.cfg.ForceColor = v }
}

// WithTracingEndpoint points the OTLP trace exporter at an endpoint URL; an
// empty value leaves tracing disabled.
func WithTracingEndpoint(endpoint string) ConfigOption {
	return func(s *configState) { s.cfg.TracingEndpoint = endpoint }
}

// WithStrictOutcomesRendering toggles strict (error-on-missing-key) versus
// lenient (empty-string) outcome template resolution.
func WithStrictOutcomesRendering(strict bool) ConfigOption {
	return func(s *configState) { s.cfg.StrictOutcomesRendering = strict }
}

// WithExternalModulesPaths adds directories searched for external handler
// modules.
func WithExternalModulesPaths(paths ...string) ConfigOption {
	return func(s *configState) { s.cfg.ExternalModulesPaths = append(s.cfg.ExternalModulesPaths, paths...) }
}

// defaults returns a Config with every field at its built-in default,
// before dotenv/environment resolution is applied.
func defaults() Config {
	return Config{
		LogLevel:                 "info",
		DisplayName:              "default",
		StrategyName:             StrategyLoose,
		ShellInjectYieldFunction: true,
		StrictOutcomesRendering:  false,
	}
}

// NewConfig resolves a Config the same way the CLI does: built-in defaults,
// then a dotenv file (if one resolves), then real process environment
// variables (which always win), then any explicit options passed by the
// caller (which win over everything, including the environment — options
// are how the CLI's own flags take precedence).
func NewConfig(opts ...ConfigOption) (Config, error) {
	cfg := defaults()

	envFile := os.Getenv(envPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadDotenv(envFile); err != nil {
		return Config{}, &BaseError{Message: "loading dotenv file: " + err.Error(), Cause: err}
	}

	applyEnv(&cfg)

	state := &configState{cfg: cfg}
	for _, opt := range opts {
		opt(state)
	}
	return state.cfg, nil
}

// loadDotenv injects path's key/value pairs into the process environment,
// with a synthetic HERE variable (the dotenv file's directory) available
// during its own evaluation. A missing file is not an error: dotenv is
// optional.
func loadDotenv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	env, err := godotenv.Unmarshal("HERE='" + filepath.Dir(abs) + "'\n" + string(raw))
	if err != nil {
		return err
	}
	delete(env, "HERE")
	for k, v := range env {
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, v)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv(envPrefix + "WORKFLOW_FILE"); v != "" {
		cfg.WorkflowFile = v
	}
	if v := os.Getenv(envPrefix + "WORKFLOW_LOADER_SOURCE_FILE"); v != "" {
		cfg.WorkflowLoaderSourceFile = v
	}
	if v := os.Getenv(envPrefix + "DISPLAY_NAME"); v != "" {
		cfg.DisplayName = v
	}
	if v := os.Getenv(envPrefix + "DISPLAY_SOURCE_FILE"); v != "" {
		cfg.DisplaySourceFile = v
	}
	if v := os.Getenv(envPrefix + "STRATEGY_NAME"); v != "" {
		cfg.StrategyName = StrategyName(v)
	}
	if v := os.Getenv(envPrefix + "FORCE_COLOR"); v != "" {
		cfg.ForceColor = v
	}
	if v := os.Getenv(envPrefix + "SHELL_INJECT_YIELD_FUNCTION"); v != "" {
		cfg.ShellInjectYieldFunction = parseBool(v, cfg.ShellInjectYieldFunction)
	}
	if v := os.Getenv(envPrefix + "EXTERNAL_MODULES_PATHS"); v != "" {
		cfg.ExternalModulesPaths = splitNonEmpty(v, ",")
	}
	if v := os.Getenv(envPrefix + "ACTIONS_CLASS_DEFINITIONS_DIRECTORY"); v != "" {
		cfg.ActionsClassDefinitionsDir = v
	}
	if v := os.Getenv(envPrefix + "STRICT_OUTCOMES_RENDERING"); v != "" {
		cfg.StrictOutcomesRendering = parseBool(v, cfg.StrictOutcomesRendering)
	}
	if v := os.Getenv(envPrefix + "TRACING_ENDPOINT"); v != "" {
		cfg.TracingEndpoint = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Logger builds the *slog.Logger this Config describes: level-filtered,
// writing to LogFile when set, otherwise stderr.
func (c Config) Logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	out := os.Stderr
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, &BaseError{Message: "opening log file: " + err.Error(), Cause: err}
		}
		return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), nil
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}
