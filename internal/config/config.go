// Package config loads baton's YAML configuration file and derives the cache
// layout from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/agusx1211/baton/internal/agent"
)

// EnvConfig overrides the config file location.
const EnvConfig = "BATON_CONFIG"

// Defaults.
const (
	DefaultAgent         = agent.Claude
	DefaultPollInterval  = 5 * time.Second
	DefaultPruneAfter    = 7 * 24 * time.Hour
	DefaultPruneSchedule = "@hourly"
)

// Duration is a time.Duration written as "5s", "168h" in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// AgentConfig overrides how one backend is launched.
type AgentConfig struct {
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// PushoverConfig holds Pushover notification credentials.
type PushoverConfig struct {
	UserKey  string `yaml:"user_key,omitempty"`  // Pushover user/group key
	AppToken string `yaml:"app_token,omitempty"` // Pushover application API token
	Priority int    `yaml:"priority,omitempty"`
}

// NotifyConfig selects notification backends.
type NotifyConfig struct {
	Desktop  *bool          `yaml:"desktop,omitempty"` // nil means enabled
	Pushover PushoverConfig `yaml:"pushover,omitempty"`
}

// Config is the user's configuration.
type Config struct {
	CacheDir      string                 `yaml:"cache_dir,omitempty"`
	Agent         string                 `yaml:"agent,omitempty"`
	BaseBranch    string                 `yaml:"base_branch,omitempty"`
	PollInterval  Duration               `yaml:"poll_interval,omitempty"`
	PruneAfter    Duration               `yaml:"prune_after,omitempty"`
	PruneSchedule string                 `yaml:"prune_schedule,omitempty"`
	MaxParallel   int                    `yaml:"max_parallel,omitempty"`
	MetricsAddr   string                 `yaml:"metrics_addr,omitempty"`
	IDE           string                 `yaml:"ide,omitempty"` // editor command; empty tries cursor, then code
	Agents        map[string]AgentConfig `yaml:"agents,omitempty"`
	Notify        NotifyConfig           `yaml:"notify,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		CacheDir:      defaultCacheDir(),
		Agent:         string(DefaultAgent),
		PollInterval:  Duration{DefaultPollInterval},
		PruneAfter:    Duration{DefaultPruneAfter},
		PruneSchedule: DefaultPruneSchedule,
		Agents:        map[string]AgentConfig{},
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "baton")
}

// Path returns $BATON_CONFIG, or config.yaml in the user config directory.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "baton", "config.yaml")
}

// Load reads the file at Path.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads path over the defaults. A missing file yields Default.
// Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.CacheDir = expandHome(strings.TrimSpace(c.CacheDir))
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}
	c.Agent = strings.ToLower(strings.TrimSpace(c.Agent))
	if c.Agent == "" {
		c.Agent = string(DefaultAgent)
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval = Duration{DefaultPollInterval}
	}
	if c.PruneAfter.Duration == 0 {
		c.PruneAfter = Duration{DefaultPruneAfter}
	}
	c.IDE = strings.TrimSpace(c.IDE)
	if strings.TrimSpace(c.PruneSchedule) == "" {
		c.PruneSchedule = DefaultPruneSchedule
	}
	if c.Agents == nil {
		c.Agents = map[string]AgentConfig{}
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := agent.ParseBackend(c.Agent); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	for name := range c.Agents {
		if _, err := agent.ParseBackend(name); err != nil {
			return fmt.Errorf("agents.%s: %w", name, err)
		}
	}
	if c.PollInterval.Duration < 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.PruneAfter.Duration < 0 {
		return fmt.Errorf("prune_after must not be negative")
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must be >= 0 (0 means unbounded)")
	}
	if _, err := cron.ParseStandard(c.PruneSchedule); err != nil {
		return fmt.Errorf("prune_schedule %q: %w", c.PruneSchedule, err)
	}
	return nil
}

// Save writes cfg as YAML to path, creating the directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Adapter returns the adapter for backend with any configured overrides.
func (c *Config) Adapter(backend agent.Backend) agent.Adapter {
	a := agent.For(backend)
	if o, ok := c.Agents[string(backend)]; ok {
		a.Command = o.Command
		a.Args = append([]string(nil), o.Args...)
		a.Env = o.Env
	}
	return a
}

// DesktopNotifications reports whether desktop alerts are enabled.
func (c *Config) DesktopNotifications() bool {
	return c.Notify.Desktop == nil || *c.Notify.Desktop
}
