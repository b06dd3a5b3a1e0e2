package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.App.HandSize != 5 || len(cfg.People) != 5 || len(cfg.Actions) != 5 {
		t.Fatalf("unexpected default sizes: hand=%d people=%d actions=%d", cfg.App.HandSize, len(cfg.People), len(cfg.Actions))
	}
	if cfg.Reveal.Step != 350*time.Millisecond || cfg.Reveal.Duration != 1300*time.Millisecond {
		t.Fatalf("unexpected reveal timing: %+v", cfg.Reveal)
	}
	if cfg.People[0].Department != "営業" || cfg.People[0].Label() != "営業 佐藤" {
		t.Fatalf("unexpected first person: %+v", cfg.People[0])
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Password != "Suwarika" {
		t.Fatalf("expected default password")
	}
	opt, err := LoadOptional(t.TempDir())
	if err != nil || opt != nil {
		t.Fatalf("expected nil config for missing file, got %v %v", opt, err)
	}
}

func TestFromYAMLOverlaysDefault(t *testing.T) {
	dir := t.TempDir()
	data := `app:
  title: Team Quest
  password: secret
  hand_size: 3
people:
  - {id: p1, dept: 経理, name: 山本}
`
	if err := os.WriteFile(filepath.Join(dir, "hoccoo.yml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HandSize != 3 || cfg.App.Password != "secret" {
		t.Fatalf("overrides not applied: %+v", cfg.App)
	}
	if len(cfg.People) != 1 || cfg.People[0].Name != "山本" {
		t.Fatalf("expected people list replaced, got %+v", cfg.People)
	}
	if len(cfg.Actions) != 5 {
		t.Fatalf("expected default actions kept, got %d", len(cfg.Actions))
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"hand_size": func(c *Config) { c.App.HandSize = 0 },
		"password":  func(c *Config) { c.App.Password = "" },
		"actions":   func(c *Config) { c.Actions = nil },
		"duplicate": func(c *Config) { c.Actions[1].Key = c.Actions[0].Key },
		"keyword":   func(c *Config) { c.Actions[0].Keywords = append(c.Actions[0].Keywords, " ") },
		"templates": func(c *Config) { c.Actions[0].TextTemplates = nil },
		"words":     func(c *Config) { c.Matching.CompletionWords = []string{""} },
		"people":    func(c *Config) { c.People = nil },
		"person id": func(c *Config) { c.People[1].ID = c.People[0].ID },
		"rarity":    func(c *Config) { c.Rewards.Rarities[0].Weight = -1 },
		"item":      func(c *Config) { c.Rewards.Items[0].Rarity = "mythic" },
		"webhook":   func(c *Config) { c.Webhooks = []WebhookConfig{{URL: " "}} },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	if _, err := FromYAML([]byte("app: [")); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
	if _, err := FromYAML([]byte("app:\n  hand_size: -1\n")); err == nil {
		t.Fatalf("expected validation error")
	}
}
