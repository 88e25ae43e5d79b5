package config

import (
	"strings"
	"testing"
)

func TestDefaultTemplateValidates(t *testing.T) {
	cfg := Default()
	if len(cfg.Catalog.Statuses) != 10 {
		t.Fatalf("expected 10 statuses, got %d", len(cfg.Catalog.Statuses))
	}
	if cfg.Catalog.InitialStatus != "SCOPING" {
		t.Fatalf("expected SCOPING, got %s", cfg.Catalog.InitialStatus)
	}
	if len(cfg.Webhooks) != 0 {
		t.Fatalf("default config must not configure webhooks")
	}
}

func TestValidateRejectsBadCategory(t *testing.T) {
	yaml := `catalog:
  initial_status: A
  statuses:
    - code: A
      name: A
      order: 1
      category: SOMEWHERE
  legacy_status:
    A: pending
`
	_, err := FromYAML([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "invalid category") {
		t.Fatalf("expected category error, got %v", err)
	}
}

func TestValidateRejectsSelfLoop(t *testing.T) {
	yaml := `catalog:
  initial_status: A
  statuses:
    - code: A
      name: A
      order: 1
      category: INITIAL
  transitions:
    - from: A
      to: [A]
  legacy_status:
    A: pending
`
	_, err := FromYAML([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "self-loop") {
		t.Fatalf("expected self-loop error, got %v", err)
	}
}

func TestValidateRejectsBadLegacyValue(t *testing.T) {
	yaml := `catalog:
  initial_status: A
  statuses:
    - code: A
      name: A
      order: 1
      category: INITIAL
  legacy_status:
    A: archived
`
	_, err := FromYAML([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "invalid legacy status") {
		t.Fatalf("expected legacy value error, got %v", err)
	}
}

func TestValidateRequiresTotalLegacyMapping(t *testing.T) {
	yaml := `catalog:
  initial_status: A
  statuses:
    - code: A
      name: A
      order: 1
      category: INITIAL
    - code: B
      name: B
      order: 2
      category: COMPLETION
  transitions:
    - from: A
      to: [B]
  legacy_status:
    A: pending
`
	_, err := FromYAML([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "no legacy_status mapping") {
		t.Fatalf("expected missing mapping error, got %v", err)
	}
}

func TestValidateRejectsUnknownTransitionTarget(t *testing.T) {
	yaml := `catalog:
  initial_status: A
  statuses:
    - code: A
      name: A
      order: 1
      category: INITIAL
  transitions:
    - from: A
      to: [GONE]
  legacy_status:
    A: pending
`
	_, err := FromYAML([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "unknown status") {
		t.Fatalf("expected unknown target error, got %v", err)
	}
}
