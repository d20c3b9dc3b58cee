package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/repository"
	"Backtest/internal/strategy"
	"Backtest/pkg/cache"
	"Backtest/pkg/config"
)

type memSource map[string][]models.RawBar

func (m memSource) LoadBars(_ context.Context, symbol string) ([]models.RawBar, error) {
	rows, ok := m[symbol]
	if !ok {
		return nil, fmt.Errorf("no data for %s", symbol)
	}
	return rows, nil
}

func raw(n int, base float64) []models.RawBar {
	start := time.Date(2019, 6, 3, 0, 0, 0, 0, time.UTC)
	out := make([]models.RawBar, n)
	for i := range out {
		p := base + 3*math.Sin(float64(i)/3)
		out[i] = models.RawBar{Time: start.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p + 0.25, Volume: 1000}
	}
	return out
}

func source() memSource {
	return memSource{"AAA": raw(60, 50), "BBB": raw(60, 30)}
}

func options() Options {
	return Options{
		Feed:      models.FeedOptions{RoundDecimals: 2},
		Portfolio: config.PortfolioDefaults(),
		Parallel:  true,
		SortBy:    "strategy",
		CacheTTL:  time.Minute,
	}
}

func spec(strats ...models.StrategyRunConfig) models.RunSpec {
	return models.RunSpec{
		Feed:       models.FeedOptions{Symbols: []string{"AAA", "BBB"}, RoundDecimals: 2},
		Strategies: strats,
	}
}

var (
	holdCfg = models.StrategyRunConfig{Name: "bh", Kind: "buy_and_hold"}
	maCfg   = models.StrategyRunConfig{Name: "ma", Kind: "ma_crossover", Params: map[string]float64{"fast": 3, "slow": 8}}
)

func openStore(t *testing.T) *repository.SQLiteResultStore {
	t.Helper()
	store, err := repository.OpenSQLiteResultStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

func TestRunPersistsReport(t *testing.T) {
	store := openStore(t)
	bt := NewBacktester(source(), strategy.Builtins(), options(), WithResultStore(store))
	ctx := context.Background()

	run, err := bt.Run(ctx, spec(maCfg, holdCfg))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.RunID == "" || run.Status != models.RunFinished {
		t.Fatalf("run = %+v", run)
	}
	if len(run.Rows) != 2 || run.Rows[0].Strategy != "bh" || run.Rows[1].Strategy != "ma" {
		t.Fatalf("rows = %+v", run.Rows)
	}
	if len(run.Performances) != 2 {
		t.Fatalf("performances = %d", len(run.Performances))
	}

	got, err := store.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.RunFinished || len(got.Rows) != 2 {
		t.Fatalf("stored = %+v", got)
	}

	reports := NewReports(store, nil, time.Minute)
	sorted, err := reports.Run(ctx, run.RunID, "strategy", true)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if sorted.Rows[0].Strategy != "ma" {
		t.Errorf("desc sort = %+v", sorted.Rows)
	}
	trades, err := reports.Trades(ctx, run.RunID, "bh", 100)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("bh trades = %d", len(trades))
	}
	for _, tr := range trades {
		if !tr.FakeClosed {
			t.Errorf("buy and hold trade should be fake closed: %+v", tr)
		}
	}
}

func TestRunRecordsFailure(t *testing.T) {
	store := openStore(t)
	bt := NewBacktester(source(), strategy.Builtins(), options(), WithResultStore(store))
	s := spec(holdCfg)
	s.RunID = "0b7e4a52-5e0c-4a1f-8f0e-0d6f4a1c2b33"
	s.Feed.Symbols = []string{"AAA", "ZZZ"}

	run, err := bt.Run(context.Background(), s)
	if err == nil {
		t.Fatal("expected feed error")
	}
	if run.Status != models.RunFailed || run.Error == "" {
		t.Fatalf("run = %+v", run)
	}
	got, err := store.GetRun(context.Background(), s.RunID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.RunFailed {
		t.Fatalf("stored status = %s", got.Status)
	}
}

func TestRunRejectsUnknownKind(t *testing.T) {
	bt := NewBacktester(source(), strategy.Builtins(), options())
	_, err := bt.Run(context.Background(), spec(models.StrategyRunConfig{Name: "x", Kind: "nope"}))
	if err == nil {
		t.Fatal("unknown kind should fail the run")
	}
}

func TestSpecRejects(t *testing.T) {
	bt := NewBacktester(source(), strategy.Builtins(), options())
	cases := map[string]models.RunRequest{
		"duplicate": {Symbols: []string{"AAA"}, Strategies: []models.StrategyRunConfig{holdCfg, holdCfg}},
		"kind":      {Symbols: []string{"AAA"}, Strategies: []models.StrategyRunConfig{{Name: "x", Kind: "nope"}}},
		"date":      {Symbols: []string{"AAA"}, DateFrom: "yesterday", Strategies: []models.StrategyRunConfig{holdCfg}},
		"range":     {Symbols: []string{"AAA"}, DateFrom: "2020-01-02", DateTo: "2020-01-01", Strategies: []models.StrategyRunConfig{holdCfg}},
	}
	for name, req := range cases {
		if _, err := bt.Spec(req); !errors.Is(err, errs.ErrInvalidRun) {
			t.Errorf("%s: expected invalid run, got %v", name, err)
		}
	}

	s, err := bt.Spec(models.RunRequest{Symbols: []string{"AAA"}, DateTo: "2019-07-01", Strategies: []models.StrategyRunConfig{holdCfg}})
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	if s.RunID == "" || s.Feed.RoundDecimals != 2 || !s.Feed.DateTo.Equal(time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("spec = %+v", s)
	}
}

type fakeQueue struct {
	mu       sync.Mutex
	types    []string
	payloads []interface{}
}

func (q *fakeQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.types = append(q.types, msgType)
	q.payloads = append(q.payloads, payload)
	return nil
}

func TestSubmitThroughQueue(t *testing.T) {
	store := openStore(t)
	mc := cache.NewMemoryCache()
	defer mc.Close()
	reports := repository.NewCachedReports(mc)
	q := &fakeQueue{}
	bt := NewBacktester(source(), strategy.Builtins(), options(),
		WithResultStore(store), WithReportCache(reports), WithQueue(q))
	ctx := context.Background()

	run, err := bt.Submit(ctx, models.RunRequest{Symbols: []string{"AAA", "BBB"}, Strategies: []models.StrategyRunConfig{holdCfg}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.Status != models.RunPending {
		t.Fatalf("status = %s", run.Status)
	}
	got, err := store.GetRun(ctx, run.RunID)
	if err != nil || got.Status != models.RunPending {
		t.Fatalf("pending run not stored: %v %+v", err, got)
	}
	if len(q.types) != 1 || q.types[0] != JobTypeRun {
		t.Fatalf("queue = %v", q.types)
	}

	job := NewRunJob(bt, mc, nil)
	if job.Type() != JobTypeRun {
		t.Fatalf("job type = %s", job.Type())
	}
	if err := job.Handle(ctx, q.payloads[0]); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, err = store.GetRun(ctx, run.RunID)
	if err != nil || got.Status != models.RunFinished {
		t.Fatalf("run not finished: %v %+v", err, got)
	}

	// the cache was refreshed with the finished run
	view := NewReports(nil, reports, time.Minute)
	fin, err := view.Run(ctx, run.RunID, "sharpe", true)
	if err != nil || fin.Status != models.RunFinished {
		t.Fatalf("cached report: %v %+v", err, fin)
	}
	trades, err := view.Trades(ctx, run.RunID, "", 1)
	if err != nil || len(trades) != 1 {
		t.Fatalf("cached trades: %v %d", err, len(trades))
	}
}

func TestRunJobSkipsLockedRun(t *testing.T) {
	store := openStore(t)
	mc := cache.NewMemoryCache()
	defer mc.Close()
	bt := NewBacktester(source(), strategy.Builtins(), options(), WithResultStore(store))
	ctx := context.Background()

	s := spec(holdCfg)
	s.RunID = "5d1c0a8e-3b0f-4e59-9f7a-7c2d9b0e6a10"
	if ok, _ := mc.TryLock(ctx, "lock:run:"+s.RunID, time.Minute); !ok {
		t.Fatal("lock")
	}
	if err := NewRunJob(bt, mc, nil).Handle(ctx, s); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := store.GetRun(ctx, s.RunID); !errors.Is(err, errs.ErrRunNotFound) {
		t.Fatalf("locked run should not execute, got %v", err)
	}
}

func TestReportsNotFound(t *testing.T) {
	if _, err := NewReports(nil, nil, 0).Run(context.Background(), "x", "sharpe", true); !errors.Is(err, errs.ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// instantBroker fills every order in full as soon as it is sent.
type instantBroker struct {
	mu      sync.Mutex
	onFill  func(models.Fill)
	orders  int
	started int
	closed  int
}

func (b *instantBroker) Start(_ context.Context, onFill func(models.Fill), _ func(error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFill = onFill
	b.started++
	return nil
}

func (b *instantBroker) ExecuteOrder(_ context.Context, o *models.Order) error {
	b.mu.Lock()
	b.orders++
	fill := b.onFill
	b.mu.Unlock()
	fill(models.Fill{OrderID: o.ID, Symbol: o.Symbol, Direction: o.Direction, Quantity: o.Remaining(), Price: o.LimitPrice, CreatedAt: o.CreatedAt})
	return nil
}

func (b *instantBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func TestLiveRunRoutesFills(t *testing.T) {
	br := &instantBroker{}
	bt := NewBacktester(source(), strategy.Builtins(), options(), WithLiveBroker(br))
	live := holdCfg
	live.Settings = map[string]any{"mode": "live"}
	other := live
	other.Name = "bh2"

	run, err := bt.Run(context.Background(), spec(live, other))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if br.started != 1 || br.closed != 1 {
		t.Fatalf("broker started %d closed %d", br.started, br.closed)
	}
	if br.orders != 4 {
		t.Fatalf("broker got %d orders", br.orders)
	}
	for _, row := range run.Rows {
		if row.Failed {
			t.Errorf("row = %+v", row)
		}
	}
	if n := len(run.Trades()); n != 4 {
		t.Fatalf("trades = %d", n)
	}
}

func TestLiveRunNeedsBroker(t *testing.T) {
	bt := NewBacktester(source(), strategy.Builtins(), options())
	live := holdCfg
	live.Settings = map[string]any{"mode": "live"}
	if _, err := bt.Run(context.Background(), spec(live)); err == nil {
		t.Fatal("expected error without broker")
	}
}
