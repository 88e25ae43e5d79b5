package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models clientline.yml: the status catalog, its transition graph,
// the legacy status mapping, and outbound webhook endpoints.
type Config struct {
	Catalog  CatalogConfig   `yaml:"catalog"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type CatalogConfig struct {
	InitialStatus string             `yaml:"initial_status"`
	Statuses      []StatusConfig     `yaml:"statuses"`
	Transitions   []TransitionConfig `yaml:"transitions"`
	// LegacyStatus collapses each catalog code to one of the four coarse
	// values older consumers read from projects.status.
	LegacyStatus map[string]string `yaml:"legacy_status"`
}

type StatusConfig struct {
	Code                 string `yaml:"code"`
	Name                 string `yaml:"name"`
	Description          string `yaml:"description"`
	Order                int    `yaml:"order"`
	Category             string `yaml:"category"`
	ClientVisible        bool   `yaml:"client_visible"`
	RequiresClientAction bool   `yaml:"requires_client_action"`
	Color                string `yaml:"color"`
	Icon                 string `yaml:"icon"`
}

type TransitionConfig struct {
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var validCategories = map[string]bool{
	"INITIAL":    true,
	"EXECUTION":  true,
	"REVIEW":     true,
	"COMPLETION": true,
}

var validLegacy = map[string]bool{
	"pending": true,
	"active":  true,
	"review":  true,
	"closed":  true,
}

// Validate ensures the config meets required structure. Catalog graph
// properties (reachability of COMPLETED) are checked by catalog.New; this
// layer checks shape and referential consistency only.
func (c *Config) Validate() error {
	if len(c.Catalog.Statuses) == 0 {
		return fmt.Errorf("config.catalog.statuses is required")
	}
	codes := map[string]bool{}
	for _, s := range c.Catalog.Statuses {
		if s.Code == "" {
			return fmt.Errorf("config.catalog.statuses contains empty code")
		}
		if codes[s.Code] {
			return fmt.Errorf("duplicate status code %s", s.Code)
		}
		codes[s.Code] = true
		if !validCategories[s.Category] {
			return fmt.Errorf("status %s has invalid category %q", s.Code, s.Category)
		}
	}
	if c.Catalog.InitialStatus == "" {
		return fmt.Errorf("config.catalog.initial_status is required")
	}
	if !codes[c.Catalog.InitialStatus] {
		return fmt.Errorf("initial status %s is not a registered status", c.Catalog.InitialStatus)
	}
	for _, t := range c.Catalog.Transitions {
		if !codes[t.From] {
			return fmt.Errorf("transition from unknown status %s", t.From)
		}
		for _, to := range t.To {
			if !codes[to] {
				return fmt.Errorf("transition %s -> %s targets unknown status", t.From, to)
			}
			if to == t.From {
				return fmt.Errorf("transition %s -> %s is a self-loop", t.From, to)
			}
		}
	}
	for code := range codes {
		legacy, ok := c.Catalog.LegacyStatus[code]
		if !ok {
			return fmt.Errorf("status %s has no legacy_status mapping", code)
		}
		if !validLegacy[legacy] {
			return fmt.Errorf("status %s maps to invalid legacy status %q", code, legacy)
		}
	}
	for code := range c.Catalog.LegacyStatus {
		if !codes[code] {
			return fmt.Errorf("legacy_status maps unknown status %s", code)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "clientline.yml")
}

// Default returns the default config with the seed catalog.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		// the embedded template must always validate
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// LoadOptional reads config from the workspace, falling back to the default
// catalog when no clientline.yml exists.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
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

// GenerateDefault returns the default config YAML for clientline.yml.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `catalog:
  initial_status: SCOPING

  statuses:
    - code: SCOPING
      name: Scoping
      description: "Gathering requirements and defining project scope"
      order: 1
      category: INITIAL
      client_visible: true
      color: "#6366f1"
      icon: compass

    - code: REVIEWING
      name: Internal Review
      description: "Team is reviewing the intake and scope"
      order: 2
      category: INITIAL
      client_visible: true
      color: "#8b5cf6"
      icon: eye

    - code: PROPOSAL_PHASE
      name: Proposal
      description: "Proposal shared with the client for sign-off"
      order: 3
      category: INITIAL
      client_visible: true
      requires_client_action: true
      color: "#0ea5e9"
      icon: file-text

    - code: PROJECT_IN_PROGRESS
      name: In Progress
      description: "Active build and delivery work"
      order: 4
      category: EXECUTION
      client_visible: true
      color: "#22c55e"
      icon: hammer

    - code: ON_HOLD
      name: On Hold
      description: "Work paused pending an internal blocker"
      order: 5
      category: EXECUTION
      client_visible: false
      color: "#a3a3a3"
      icon: pause

    - code: CLIENT_REVIEW
      name: Client Review
      description: "Deliverables with the client for feedback"
      order: 6
      category: REVIEW
      client_visible: true
      requires_client_action: true
      color: "#f59e0b"
      icon: message-circle

    - code: REVISIONS
      name: Revisions
      description: "Incorporating client feedback"
      order: 7
      category: REVIEW
      client_visible: true
      color: "#f97316"
      icon: edit

    - code: FINAL_APPROVAL
      name: Final Approval
      description: "Awaiting final client approval"
      order: 8
      category: REVIEW
      client_visible: true
      requires_client_action: true
      color: "#eab308"
      icon: check-circle

    - code: COMPLETED
      name: Completed
      description: "Project delivered and closed out"
      order: 9
      category: COMPLETION
      client_visible: true
      color: "#10b981"
      icon: flag

    - code: MAINTENANCE
      name: Maintenance
      description: "Ongoing support and maintenance"
      order: 10
      category: COMPLETION
      client_visible: true
      color: "#14b8a6"
      icon: wrench

  transitions:
    - from: SCOPING
      to: [REVIEWING]
    - from: REVIEWING
      to: [PROPOSAL_PHASE, SCOPING]
    - from: PROPOSAL_PHASE
      to: [PROJECT_IN_PROGRESS, SCOPING]
    - from: PROJECT_IN_PROGRESS
      to: [CLIENT_REVIEW, ON_HOLD]
    - from: ON_HOLD
      to: [PROJECT_IN_PROGRESS]
    - from: CLIENT_REVIEW
      to: [REVISIONS, FINAL_APPROVAL]
    - from: REVISIONS
      to: [CLIENT_REVIEW]
    - from: FINAL_APPROVAL
      to: [COMPLETED, REVISIONS]
    - from: COMPLETED
      to: [MAINTENANCE]
    - from: MAINTENANCE
      to: [PROJECT_IN_PROGRESS]

  legacy_status:
    SCOPING: pending
    REVIEWING: pending
    PROPOSAL_PHASE: pending
    PROJECT_IN_PROGRESS: active
    ON_HOLD: active
    CLIENT_REVIEW: review
    REVISIONS: review
    FINAL_APPROVAL: review
    COMPLETED: closed
    MAINTENANCE: closed

webhooks: []
`
