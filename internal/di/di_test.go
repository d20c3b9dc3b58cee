package di

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Backtest/internal/domain/models"
	internalrepo "Backtest/internal/repository"
	"Backtest/pkg/config"
)

func writeCSV(t *testing.T, dir, symbol string, base float64) {
	t.Helper()
	var b strings.Builder
	start := time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		p := base + 2*math.Sin(float64(i)/5)
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d,%.2f\n",
			start.AddDate(0, 0, i).Format(time.DateOnly), p, p+1, p-1, p+0.5, 1000+i, p+0.5)
	}
	if err := os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInitializeAppOneShot(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAA", 40)
	writeCSV(t, dir, "BBB", 25)

	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Log.Level = "error"
	cfg.Server.Enabled = false
	cfg.Feed.CSVDir = dir
	cfg.Feed.Symbols = []string{"AAA", "BBB"}
	cfg.Results.SQLitePath = filepath.Join(dir, "runs.db")
	cfg.Strategies = []models.StrategyRunConfig{
		{Name: "hold", Kind: "buy_and_hold"},
		{Name: "ma", Kind: "ma_crossover", Params: map[string]float64{"fast": 3, "slow": 10}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	app, err := InitializeApp(cfg)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if app.Serving() {
		t.Fatal("nothing should be served")
	}
	ctx := context.Background()
	run, err := app.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if run.Status != models.RunFinished || len(run.Rows) != 2 {
		t.Fatalf("run = %+v", run)
	}

	store, err := internalrepo.OpenSQLiteResultStore(cfg.Results.SQLitePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	got, err := store.GetRun(ctx, run.RunID)
	if err != nil || got.Status != models.RunFinished {
		t.Fatalf("stored run: %v %+v", err, got)
	}

	if err := app.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestInitializeAppRejectsMissingClickHouse(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Log.Level = "error"
	cfg.Results.Store = "clickhouse"
	cfg.ClickHouse.Host = "127.0.0.1"
	cfg.ClickHouse.Port = 1
	cfg.ClickHouse.DialTimeout = 200 * time.Millisecond
	if _, err := InitializeApp(cfg); err == nil {
		t.Fatal("expected clickhouse connection error")
	}
}
