package reward

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"goblin-dig/internal/config"
	"goblin-dig/internal/game"
)

// fakeSink fails the first failures calls for each key, then succeeds.
type fakeSink struct {
	mu        sync.Mutex
	failures  int
	permanent bool
	calls     map[string]int
	delivered []string
	block     chan struct{}
}

func newFakeSink(failures int) *fakeSink {
	return &fakeSink{failures: failures, calls: make(map[string]int)}
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Deliver(ctx context.Context, c game.ClaimCommit) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c.ResourceKey]++
	if s.calls[c.ResourceKey] <= s.failures {
		err := errors.New("backend unavailable")
		if s.permanent {
			return Permanent(err)
		}
		return err
	}
	s.delivered = append(s.delivered, c.ResourceKey)
	return nil
}

func testRewardConfig() config.RewardConfig {
	cfg := config.DefaultReward()
	cfg.Workers = 1
	cfg.BufferSize = 4
	cfg.MaxAttempts = 3
	cfg.Timeout = time.Second
	cfg.RatePerSec = 0
	return cfg
}

func newTestDispatcher(cfg config.RewardConfig, sinks ...Sink) *Dispatcher {
	d := NewDispatcher(cfg, sinks...)
	d.backoff = func(int) time.Duration { return time.Millisecond }
	return d
}

func commit(key string) game.ClaimCommit {
	return game.ClaimCommit{EventID: "evt-" + key, ResourceKey: key, WinnerID: "alice", CommittedAt: time.Now()}
}

// TestDispatcherRetriesUntilDelivered verifies transient failures are retried
func TestDispatcherRetriesUntilDelivered(t *testing.T) {
	sink := newFakeSink(2)
	d := newTestDispatcher(testRewardConfig(), sink)

	var results []Result
	d.OnResult(func(r Result) { results = append(results, r) })
	d.Start()

	if err := d.Submit(commit("chest-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(sink.delivered) != 1 || sink.calls["chest-1"] != 3 {
		t.Errorf("Expected delivery on the third attempt, calls=%d delivered=%v", sink.calls["chest-1"], sink.delivered)
	}
	if len(results) != 1 || results[0].Err != nil || results[0].Attempts != 3 {
		t.Errorf("Unexpected results %+v", results)
	}
	if s := d.Stats(); s.Delivered != 1 || s.Failed != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

// TestDispatcherGivesUp verifies bounded retries and permanent errors
func TestDispatcherGivesUp(t *testing.T) {
	tests := []struct {
		name      string
		permanent bool
		wantCalls int
	}{
		{"transient exhausts attempts", false, 3},
		{"permanent stops at once", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newFakeSink(10)
			sink.permanent = tt.permanent
			d := newTestDispatcher(testRewardConfig(), sink)
			d.Start()
			d.Submit(commit("chest-1"))
			d.Stop(context.Background())

			if sink.calls["chest-1"] != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, sink.calls["chest-1"])
			}
			if s := d.Stats(); s.Failed != 1 || s.Delivered != 0 {
				t.Errorf("Unexpected stats %+v", s)
			}
		})
	}
}

// TestDispatcherRejectsDuplicates verifies a resource key is accepted once
func TestDispatcherRejectsDuplicates(t *testing.T) {
	sink := newFakeSink(0)
	d := newTestDispatcher(testRewardConfig(), sink)
	d.Start()

	if err := d.Submit(commit("chest-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := d.Submit(commit("chest-1")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
	d.Stop(context.Background())

	if len(sink.delivered) != 1 {
		t.Errorf("Expected one delivery, got %v", sink.delivered)
	}
	if err := d.Submit(commit("chest-2")); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
}

// TestDispatcherSubmitNeverBlocks verifies a full queue drops instead of waiting
func TestDispatcherSubmitNeverBlocks(t *testing.T) {
	sink := newFakeSink(0)
	sink.block = make(chan struct{})
	cfg := testRewardConfig()
	cfg.BufferSize = 1
	d := newTestDispatcher(cfg, sink)
	d.Start()

	// one in the worker, one buffered, the rest must be refused
	var full int
	for i, key := range []string{"a", "b", "c", "d", "e"} {
		start := time.Now()
		err := d.Submit(commit(key))
		if time.Since(start) > 100*time.Millisecond {
			t.Fatalf("Submit %d blocked", i)
		}
		if errors.Is(err, ErrQueueFull) {
			full++
		}
		if i == 0 {
			// let the worker take the first job
			time.Sleep(20 * time.Millisecond)
		}
	}
	if full != 3 {
		t.Errorf("Expected 3 dropped commits, got %d", full)
	}

	close(sink.block)
	d.Stop(context.Background())

	if d.Stats().Dropped != 3 {
		t.Errorf("Expected dropped=3, got %d", d.Stats().Dropped)
	}
}

// TestDispatcherStopDeadline verifies Stop returns when the drain deadline passes
func TestDispatcherStopDeadline(t *testing.T) {
	sink := newFakeSink(0)
	sink.block = make(chan struct{})
	d := newTestDispatcher(testRewardConfig(), sink)
	d.Start()
	d.Submit(commit("chest-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
}

// TestHTTPSinkHeadersAndStatus verifies headers and status classification
func TestHTTPSinkHeadersAndStatus(t *testing.T) {
	var status atomic.Int32
	var gotKey, gotReq, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotReq = r.Header.Get("X-Request-ID")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, nil, time.Second)
	tests := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusConflict, false, false},
		{http.StatusServiceUnavailable, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadRequest, true, true},
	}
	for _, tt := range tests {
		status.Store(int32(tt.status))
		err := sink.Deliver(context.Background(), commit("chest-9"))
		if (err != nil) != tt.wantErr {
			t.Errorf("status %d: err=%v, wantErr=%v", tt.status, err, tt.wantErr)
		}
		if IsPermanent(err) != tt.permanent {
			t.Errorf("status %d: permanent=%v, want %v", tt.status, IsPermanent(err), tt.permanent)
		}
	}

	if gotKey != "chest-9" {
		t.Errorf("Expected Idempotency-Key chest-9, got %q", gotKey)
	}
	if gotReq == "" {
		t.Error("Missing X-Request-ID")
	}
	if gotBody == "" {
		t.Error("Missing body")
	}
}

// TestLedgerRecordsOnce verifies INSERT OR IGNORE idempotency and readback
func TestLedgerRecordsOnce(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "claims.db"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer l.Close()
	ctx := context.Background()

	c := commit("chest-1")
	c.Reward = game.Reward{Kind: game.RewardTokens, Tokens: &game.TokenReward{Amount: 50, Currency: "GOLD"}}
	for i := 0; i < 3; i++ {
		if err := l.Deliver(ctx, c); err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}
	other := commit("chest-2")
	other.WinnerID = "bob"
	if err := l.Deliver(ctx, other); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(got))
	}
	for _, row := range got {
		if row.ResourceKey == "chest-1" && (row.Reward.Tokens == nil || row.Reward.Tokens.Amount != 50) {
			t.Errorf("Reward lost in ledger: %+v", row.Reward)
		}
	}
	if ok, _ := l.Has(ctx, "chest-2"); !ok {
		t.Error("Expected chest-2 recorded")
	}
	if ok, _ := l.Has(ctx, "chest-3"); ok {
		t.Error("chest-3 was never recorded")
	}
}

// TestLedgerStoresMissingRewardAsNull verifies a reward-less commit leaves the
// reward column NULL and reads back as a zero reward
func TestLedgerStoresMissingRewardAsNull(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "claims.db"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer l.Close()
	ctx := context.Background()

	tests := []struct {
		name     string
		reward   game.Reward
		wantNull bool
	}{
		{"no reward", game.Reward{}, true},
		{"token reward", game.Reward{Kind: game.RewardTokens, Tokens: &game.TokenReward{Amount: 5, Currency: "GOLD"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := commit(tt.name)
			c.Reward = tt.reward
			if err := l.Deliver(ctx, c); err != nil {
				t.Fatalf("Deliver: %v", err)
			}

			var isNull bool
			if err := l.db.QueryRowContext(ctx, "SELECT reward IS NULL FROM claims WHERE resource_key = ?", c.ResourceKey).Scan(&isNull); err != nil {
				t.Fatalf("Query: %v", err)
			}
			if isNull != tt.wantNull {
				t.Errorf("Expected NULL=%v, got %v", tt.wantNull, isNull)
			}

			rows, err := l.Recent(ctx, 10)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			for _, row := range rows {
				if row.ResourceKey == c.ResourceKey && row.Reward.IsZero() != tt.reward.IsZero() {
					t.Errorf("Reward read back as %+v", row.Reward)
				}
			}
		})
	}
}
