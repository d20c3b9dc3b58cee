package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Backtest/internal/domain/models"
)

const sampleYAML = `
environment: test
feed:
  csv_dir: ./testdata
  symbols: [AAA, BBB]
  date_from: "2020-01-01"
  date_to: "2020-06-30"
portfolio:
  initial_capital: 50000
  max_long_positions: 4
strategies:
  - name: ma_fast
    kind: ma_crossover
    params: {fast: 3, slow: 10}
    settings:
      max_long_positions: 2
      adjust_position_down: false
  - name: hold
    kind: buy_and_hold
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	c, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 8080 || c.Results.Store != "sqlite" || c.ClickHouse.DialTimeout != 5*time.Second {
		t.Errorf("defaults not applied: port=%d store=%s dial=%v", c.Server.Port, c.Results.Store, c.ClickHouse.DialTimeout)
	}
	if c.Portfolio.InitialCapital != 50000 || c.Portfolio.CommissionPct != 0.0008 || c.Portfolio.RoundLotSize != 10 {
		t.Errorf("portfolio = %+v", c.Portfolio)
	}

	ma, err := ResolvePortfolioSettings(c.Portfolio, c.Strategies[0].Settings)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ma.MaxLongPositions != 2 || ma.AdjustPositionDown || ma.InitialCapital != 50000 {
		t.Errorf("override not layered: %+v", ma)
	}
	if ma.PositionSize != 0.5 {
		t.Errorf("position size = %v, want 0.5", ma.PositionSize)
	}

	hold, _ := ResolvePortfolioSettings(c.Portfolio, c.Strategies[1].Settings)
	if hold.MaxLongPositions != 4 || !hold.AdjustPositionDown || hold.PositionSize != 0.25 {
		t.Errorf("hold settings = %+v", hold)
	}

	opts, err := c.FeedOptions()
	if err != nil {
		t.Fatalf("feed options: %v", err)
	}
	if !opts.DateFrom.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) || len(opts.Symbols) != 2 || !opts.NormalizePrices {
		t.Errorf("feed options = %+v", opts)
	}
}

func TestLoadTOML(t *testing.T) {
	body := `
environment = "test"

[feed]
csv_dir = "data"
symbols = ["AAA"]

[portfolio]
max_short_positions = 2
max_long_positions = 0

[[strategies]]
name = "bb"
kind = "bollinger_reversion"
[strategies.params]
window = 10.0
`
	c, err := Load(writeConfig(t, "config.toml", body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, err := ResolvePortfolioSettings(c.Portfolio, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.PositionSize != 0.5 {
		t.Errorf("short-only position size = %v", s.PositionSize)
	}
	if c.Strategies[0].Params["window"] != 10 {
		t.Errorf("params = %v", c.Strategies[0].Params)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate strategy": sampleYAML + "  - name: hold\n    kind: buy_and_hold\n",
		"bad date":           strings.Replace(sampleYAML, `"2020-06-30"`, `"junk"`, 1),
		"bad settings":       strings.Replace(sampleYAML, "adjust_position_down: false", "commission_pct: 2", 1),
		"live without url":   strings.Replace(sampleYAML, "adjust_position_down: false", "mode: live", 1),
		"unknown store":      sampleYAML + "results:\n  store: mongo\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, "config.yaml", body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("BACKTEST_SYMBOLS", "XXX, YYY ,ZZZ")
	t.Setenv("BACKTEST_SERVER_PORT", "9090")
	t.Setenv("BACKTEST_RUN_ON_START", "true")

	c, err := LoadWithEnv(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Feed.Symbols) != 3 || c.Feed.Symbols[1] != "YYY" {
		t.Errorf("symbols = %v", c.Feed.Symbols)
	}
	if c.Server.Port != 9090 || !c.Replay.RunOnStart {
		t.Errorf("env overrides not applied: %d %v", c.Server.Port, c.Replay.RunOnStart)
	}
}

func TestPortfolioDefaults(t *testing.T) {
	d := PortfolioDefaults()
	if d.Mode != models.ModeBacktest || d.InitialCapital != 100000 || d.ThresholdDangerousTrade != 0.2 {
		t.Errorf("defaults = %+v", d)
	}
}
