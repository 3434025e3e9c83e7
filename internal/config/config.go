package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models governor.yml. Policy sets are loaded once and treated as
// immutable after Validate; engines copy what they need so two engine
// instances never share mutable state.
type Config struct {
	Tenant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"tenant"`
	Guardrails GuardrailPolicy `yaml:"guardrails"`
	Patterns   PatternConfig   `yaml:"patterns"`
	Scheduler  ScheduleConfig  `yaml:"scheduler"`
	Alerts     struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"alerts"`
}

// GuardrailPolicy holds the three classification tiers plus the
// stage-gate set. Hard stops always win over the other tiers.
type GuardrailPolicy struct {
	HardStops        []string `yaml:"hard_stops"`
	ApprovalRequired []string `yaml:"approval_required"`
	Autonomous       []string `yaml:"autonomous"`
	RestrictedStages []string `yaml:"restricted_stages"`
}

// PatternConfig tunes the signal-noise filters.
type PatternConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinEvidenceCount    int     `yaml:"min_evidence_count"`
	Enhancement         struct {
		Enabled bool   `yaml:"enabled"`
		Model   string `yaml:"model"`
	} `yaml:"enhancement"`
}

// ScheduleConfig holds background loop intervals in seconds.
type ScheduleConfig struct {
	PatternScanSeconds    int `yaml:"pattern_scan_seconds"`
	ProactiveCheckSeconds int `yaml:"proactive_check_seconds"`
	GoalRefreshSeconds    int `yaml:"goal_refresh_seconds"`
	DailyDigestSeconds    int `yaml:"daily_digest_seconds"`
	ContextSummarySeconds int `yaml:"context_summary_seconds"`
}

// WebhookConfig describes one alert delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	// MinConfidenceThreshold and MaxConfidenceThreshold clamp the
	// runtime-tunable pattern filter.
	MinConfidenceThreshold = 0.3
	MaxConfidenceThreshold = 0.95
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with agov tenant config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// ToYAML serializes the config for storage.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	if len(c.Guardrails.HardStops) == 0 {
		return fmt.Errorf("config.guardrails.hard_stops must not be empty")
	}
	hard := map[string]bool{}
	for _, a := range c.Guardrails.HardStops {
		if a == "" {
			return fmt.Errorf("config.guardrails.hard_stops contains empty action type")
		}
		hard[a] = true
	}
	for _, a := range c.Guardrails.Autonomous {
		if a == "" {
			return fmt.Errorf("config.guardrails.autonomous contains empty action type")
		}
		if hard[a] {
			return fmt.Errorf("action type %s cannot be both hard_stop and autonomous", a)
		}
	}
	for _, a := range c.Guardrails.ApprovalRequired {
		if a == "" {
			return fmt.Errorf("config.guardrails.approval_required contains empty action type")
		}
	}
	if t := c.Patterns.ConfidenceThreshold; t != 0 && (t < MinConfidenceThreshold || t > MaxConfidenceThreshold) {
		return fmt.Errorf("config.patterns.confidence_threshold must be within [%v, %v]", MinConfidenceThreshold, MaxConfidenceThreshold)
	}
	if c.Patterns.MinEvidenceCount < 0 {
		return fmt.Errorf("config.patterns.min_evidence_count must not be negative")
	}
	for _, iv := range []struct {
		name  string
		value int
	}{
		{"pattern_scan_seconds", c.Scheduler.PatternScanSeconds},
		{"proactive_check_seconds", c.Scheduler.ProactiveCheckSeconds},
		{"goal_refresh_seconds", c.Scheduler.GoalRefreshSeconds},
		{"daily_digest_seconds", c.Scheduler.DailyDigestSeconds},
		{"context_summary_seconds", c.Scheduler.ContextSummarySeconds},
	} {
		if iv.value < 0 {
			return fmt.Errorf("config.scheduler.%s must not be negative", iv.name)
		}
	}
	for i, hook := range c.Alerts.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if hook.URL == "" {
			return fmt.Errorf("config.alerts.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// ConfidenceThreshold returns the configured threshold or the default.
func (c *Config) ConfidenceThreshold() float64 {
	if c.Patterns.ConfidenceThreshold == 0 {
		return 0.7
	}
	return c.Patterns.ConfidenceThreshold
}

// MinEvidenceCount returns the configured evidence floor or the default.
func (c *Config) MinEvidenceCount() int {
	if c.Patterns.MinEvidenceCount == 0 {
		return 2
	}
	return c.Patterns.MinEvidenceCount
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "governor.yml")
}

// GenerateDefault returns default config YAML for a tenant.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID)
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	cfg.Tenant.ID = tenantID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, tenantID))).Decode(&cfg)
	return &cfg
}

const defaultTemplate = `tenant:
  id: %s

guardrails:
  # Hard stops can never run autonomously, under any context.
  hard_stops:
    - commit_pricing
    - contract_modification
    - discount_approval
    - strategic_decision
    - executive_relationship_initiation
    - legal_commitment
    - market_positioning_change

  approval_required:
    - send_proposal
    - offer_concession
    - escalate_to_management
    - schedule_executive_meeting
    - share_product_roadmap
    - send_contract_draft

  autonomous:
    - send_follow_up_email
    - send_chat_message
    - schedule_meeting
    - qualify_conversation
    - update_crm_record
    - log_activity
    - send_nurture_content

  # Otherwise-autonomous actions are blocked during these deal stages.
  restricted_stages:
    - negotiation
    - evaluation
    - closed_won
    - closed_lost

patterns:
  confidence_threshold: 0.7
  min_evidence_count: 2
  enhancement:
    enabled: false
    model: gemini-2.0-flash

scheduler:
  pattern_scan_seconds: 21600
  proactive_check_seconds: 3600
  goal_refresh_seconds: 86400
  daily_digest_seconds: 86400
  context_summary_seconds: 86400

alerts:
  webhooks: []
`
