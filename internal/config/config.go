// Package config loads the service configuration.
//
// SOURCES, IN ORDER:
//  1. defaults (see Default)
//  2. an optional .env file in the working directory (godotenv; it never
//     overrides variables already set in the real environment)
//  3. environment variables
//  4. LANGUAGES_FILE, a TOML file overriding per-language command templates
//
// The tool variables (PYTHON_CMD, NODE_CMD, ...) may carry flags, e.g.
// PYTHON_CMD="python3 -X utf8". They are split with shlex and only replace
// the tool at the head of the default template.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/pipeline"
)

// Executor kinds.
const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

// Config is the complete service configuration.
type Config struct {
	Port         int
	WorkspaceDir string

	RunTimeout     time.Duration
	CompileTimeout time.Duration
	ScriptTimeout  time.Duration
	MaxOutputBytes int

	Executor       string
	DockerImage    string
	DockerPoolSize int
	DockerMemoryMB int64
	DockerCPUs     float64

	ServiceTokenSecret string
	RateLimitRPS       float64
	RateLimitBurst     int

	LogFormat string
	LogLevel  string

	// Templates holds the effective command pair for every language.
	Templates map[language.ID]pipeline.Templates
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	templates := make(map[language.ID]pipeline.Templates, len(pipeline.DefaultTemplates))
	for id, t := range pipeline.DefaultTemplates {
		templates[id] = t
	}
	return Config{
		Port:           8080,
		WorkspaceDir:   filepath.Join(os.TempDir(), "code-runner"),
		RunTimeout:     10 * time.Second,
		CompileTimeout: 30 * time.Second,
		ScriptTimeout:  5 * time.Second,
		MaxOutputBytes: 1 << 20,
		Executor:       ExecutorLocal,
		DockerImage:    "code-runner-toolchains:latest",
		DockerPoolSize: 3,
		DockerMemoryMB: 256,
		DockerCPUs:     1,
		LogFormat:      "text",
		LogLevel:       "info",
		Templates:      templates,
	}
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Unset or empty variables
// keep their defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	p := parser{getenv: getenv}

	p.intVar("PORT", &cfg.Port)
	p.strVar("WORKSPACE_DIR", &cfg.WorkspaceDir)
	p.durationVar("RUN_TIMEOUT", &cfg.RunTimeout)
	p.durationVar("COMPILE_TIMEOUT", &cfg.CompileTimeout)
	p.durationVar("SCRIPT_TIMEOUT", &cfg.ScriptTimeout)
	p.intVar("MAX_OUTPUT_BYTES", &cfg.MaxOutputBytes)

	p.strVar("EXECUTOR", &cfg.Executor)
	p.strVar("DOCKER_IMAGE", &cfg.DockerImage)
	p.intVar("DOCKER_POOL_SIZE", &cfg.DockerPoolSize)
	p.int64Var("DOCKER_MEMORY_MB", &cfg.DockerMemoryMB)
	p.floatVar("DOCKER_CPUS", &cfg.DockerCPUs)

	p.strVar("SERVICE_TOKEN_SECRET", &cfg.ServiceTokenSecret)
	p.floatVar("RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	p.intVar("RATE_LIMIT_BURST", &cfg.RateLimitBurst)

	p.strVar("LOG_FORMAT", &cfg.LogFormat)
	p.strVar("LOG_LEVEL", &cfg.LogLevel)

	if p.err != nil {
		return Config{}, p.err
	}

	tools := []struct {
		env  string
		lang language.ID
		// compile selects which template of the language the tool heads.
		compile bool
	}{
		{"PYTHON_CMD", language.Python, false},
		{"NODE_CMD", language.JavaScript, false},
		{"JAVAC_CMD", language.Java, true},
		{"JAVA_CMD", language.Java, false},
		{"CXX_CMD", language.Cpp, true},
	}
	for _, tool := range tools {
		v := strings.TrimSpace(getenv(tool.env))
		if v == "" {
			continue
		}
		t := cfg.Templates[tool.lang]
		var err error
		if tool.compile {
			t.Compile, err = replaceTool(t.Compile, v)
		} else {
			t.Run, err = replaceTool(t.Run, v)
		}
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", tool.env, err)
		}
		cfg.Templates[tool.lang] = t
	}

	if path := strings.TrimSpace(getenv("LANGUAGES_FILE")); path != "" {
		if err := cfg.applyLanguagesFile(path); err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	case c.RunTimeout <= 0 || c.CompileTimeout <= 0 || c.ScriptTimeout <= 0:
		return fmt.Errorf("config: timeouts must be positive")
	case c.MaxOutputBytes < 0:
		return fmt.Errorf("config: MAX_OUTPUT_BYTES must not be negative")
	case c.Executor != ExecutorLocal && c.Executor != ExecutorDocker:
		return fmt.Errorf("config: EXECUTOR must be %q or %q, got %q", ExecutorLocal, ExecutorDocker, c.Executor)
	case c.RateLimitRPS < 0 || c.RateLimitBurst < 0:
		return fmt.Errorf("config: rate limits must not be negative")
	case c.ServiceTokenSecret != "" && len(c.ServiceTokenSecret) < 16:
		return fmt.Errorf("config: SERVICE_TOKEN_SECRET must be at least 16 characters")
	}
	return nil
}

// replaceTool swaps the leading executable of tpl for the argv in tool.
func replaceTool(tpl pipeline.Template, tool string) (pipeline.Template, error) {
	toolArgs, err := shlex.Split(tool)
	if err != nil {
		return "", err
	}
	fields, err := tpl.Split()
	if err != nil {
		return "", err
	}
	out := append(quoteAll(toolArgs), quoteAll(fields[1:])...)
	return pipeline.Template(strings.Join(out, " ")), nil
}

// quoteAll re-quotes tokens so a joined template splits back to them.
func quoteAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		if t == "" || strings.ContainsAny(t, " \t\n'\"\\#") {
			out[i] = "'" + strings.ReplaceAll(t, "'", `'"'"'`) + "'"
			continue
		}
		out[i] = t
	}
	return out
}

type languagesFile struct {
	Languages []struct {
		ID         string `toml:"id"`
		CompileCmd string `toml:"compile_cmd"`
		RunCmd     string `toml:"run_cmd"`
	} `toml:"languages"`
}

func (c *Config) applyLanguagesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading languages file: %w", err)
	}
	var root languagesFile
	if err := toml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("config: parsing languages file: %w", err)
	}
	for _, l := range root.Languages {
		id, err := language.Parse(l.ID)
		if err != nil {
			return fmt.Errorf("config: languages file: %w", err)
		}
		t := c.Templates[id]
		if l.CompileCmd != "" {
			t.Compile = pipeline.Template(l.CompileCmd)
		}
		if l.RunCmd != "" {
			t.Run = pipeline.Template(l.RunCmd)
		}
		c.Templates[id] = t
	}
	return nil
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := strings.TrimSpace(p.getenv(key))
	return v, v != ""
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("config: invalid %s value %q: %w", key, v, err)
}

func (p *parser) strVar(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *parser) intVar(key string, dst *int) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) int64Var(key string, dst *int64) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) floatVar(key string, dst *float64) {
	if v, ok := p.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

// durationVar accepts Go durations ("10s") and bare seconds ("10").
func (p *parser) durationVar(key string, dst *time.Duration) {
	if v, ok := p.lookup(key); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(secs) * time.Second
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}
