package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kipdesk/internal/domain"
)

const (
	DefaultThresholdWorkingDays = 17
	DefaultEvidenceWindowDays   = 30
	DefaultTimezone             = "Asia/Jakarta"
)

// Config models kipdesk.yml.
type Config struct {
	Office struct {
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"office"`
	Escalation struct {
		ThresholdWorkingDays int `yaml:"threshold_working_days"`
	} `yaml:"escalation"`
	Evidence struct {
		WindowDays int `yaml:"window_days"`
	} `yaml:"evidence"`
	Users    []domain.DirectoryEntry `yaml:"users"`
	Webhooks []Webhook               `yaml:"webhooks"`
}

// Webhook subscribes a URL to case events.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with kip init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Escalation.ThresholdWorkingDays < 0 {
		return fmt.Errorf("config.escalation.threshold_working_days must not be negative")
	}
	if c.Evidence.WindowDays < 0 {
		return fmt.Errorf("config.evidence.window_days must not be negative")
	}
	if c.Office.Timezone != "" {
		if _, err := time.LoadLocation(c.Office.Timezone); err != nil {
			return fmt.Errorf("config.office.timezone: %w", err)
		}
	}
	seen := map[string]bool{}
	for i, u := range c.Users {
		if strings.TrimSpace(u.ID) == "" {
			return fmt.Errorf("config.users[%d].id is required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("config.users contains duplicate id %s", u.ID)
		}
		seen[u.ID] = true
		if _, err := domain.ClassifyRole(u.Role); err != nil {
			return fmt.Errorf("config.users[%d]: %w", i, err)
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(wh.URL, "http://") && !strings.HasPrefix(wh.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be http(s)", i)
		}
	}
	return nil
}

// Threshold returns the escalation threshold, defaulted.
func (c *Config) Threshold() int {
	if c == nil || c.Escalation.ThresholdWorkingDays == 0 {
		return DefaultThresholdWorkingDays
	}
	return c.Escalation.ThresholdWorkingDays
}

// EvidenceWindow returns how long a requester has to submit proof of use.
func (c *Config) EvidenceWindow() time.Duration {
	days := DefaultEvidenceWindowDays
	if c != nil && c.Evidence.WindowDays > 0 {
		days = c.Evidence.WindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *Config) Timezone() string {
	if c == nil || c.Office.Timezone == "" {
		return DefaultTimezone
	}
	return c.Office.Timezone
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "kipdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(officeName string) string {
	return fmt.Sprintf(defaultTemplate, officeName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an office.
func Default(officeName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(officeName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `office:
  name: %q
  timezone: Asia/Jakarta

escalation:
  # Working days (Mon-Fri) a request may stay unresolved before the
  # requester can file an objection. Public holidays are not excluded.
  threshold_working_days: 17

evidence:
  # Calendar days a requester has to submit proof of information use
  # after a case completes.
  window_days: 30

users:
  - id: admin
    role: ADMIN
    display_name: "Administrator"

webhooks: []
`
