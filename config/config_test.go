package config

import (
	"os"
	"strings"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `dlobflow:
  name: "TestApp"
  version: "1.0"
server:
  http_url: "https://dlob.example.com"
  ws_url: "wss://dlob.example.com/ws"
  initial_strategy: "dlob_server_websocket"
tiers:
- id: "hot"
  multiplier: 1
  depth: 20
- id: "warm"
  multiplier: 30
  depth: 5
markets:
- index: 0
  type: "perp"
  tier: "hot"
storage:
  s3:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Dlobflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Dlobflow.Name)
	}
	if len(cfg.Tiers) != 2 || cfg.Tiers[1].Multiplier != 30 {
		t.Errorf("unexpected tiers: %+v", cfg.Tiers)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Tier != "hot" {
		t.Errorf("unexpected markets: %+v", cfg.Markets)
	}
}

func TestLoadConfigRejectsUnknownTier(t *testing.T) {
	content := `dlobflow:
  name: "TestApp"
  version: "1.0"
server:
  http_url: "https://dlob.example.com"
  ws_url: "wss://dlob.example.com/ws"
tiers:
- id: "hot"
  multiplier: 1
  depth: 20
markets:
- index: 3
  type: "perp"
  tier: "missing"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	_, err = LoadConfig(f.Name())
	if err == nil {
		t.Fatal("expected validation error for unknown tier")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadMarketOverlay(t *testing.T) {
	content := `markets:
- index: 0
  type: "perp"
  tier: "warm"
- index: 7
  type: "spot"
  tier: "hot"
`
	f, err := os.CreateTemp("", "markets-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	overlay, err := LoadMarketOverlay(f.Name())
	if err != nil {
		t.Fatalf("LoadMarketOverlay failed: %v", err)
	}
	if len(overlay.Markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(overlay.Markets))
	}

	base := []MarketConfig{{Index: 0, Type: "perp", Tier: "hot"}}
	merged := overlay.Merge(base)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged markets, got %d", len(merged))
	}
	if merged[0].Tier != "warm" {
		t.Errorf("overlay should replace base assignment, got tier %s", merged[0].Tier)
	}
	if merged[1].Index != 7 || merged[1].Type != "spot" {
		t.Errorf("unexpected appended market: %+v", merged[1])
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
