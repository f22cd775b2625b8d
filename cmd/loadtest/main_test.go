package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

type fakeStorefrontClient struct {
	mu       sync.Mutex
	placeFn  func(context.Context, string, domain.CustomerInfo, []domain.ItemRequest) (grpcsvc.PlacedOrder, error)
	updateFn func(context.Context, string, domain.OrderStatus) (domain.UpdateStatusResult, error)
	keys     []string
	statuses []domain.OrderStatus
}

func (f *fakeStorefrontClient) PlaceOrder(ctx context.Context, key string, customer domain.CustomerInfo, items []domain.ItemRequest) (grpcsvc.PlacedOrder, error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	if f.placeFn == nil {
		return grpcsvc.PlacedOrder{}, errors.New("unexpected PlaceOrder call")
	}
	return f.placeFn(ctx, key, customer, items)
}

func (f *fakeStorefrontClient) UpdateOrderStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.UpdateStatusResult, error) {
	f.mu.Lock()
	f.statuses = append(f.statuses, next)
	f.mu.Unlock()
	if f.updateFn == nil {
		return domain.UpdateStatusResult{}, errors.New("unexpected UpdateOrderStatus call")
	}
	return f.updateFn(ctx, orderID, next)
}

func placeOK(_ context.Context, key string, customer domain.CustomerInfo, items []domain.ItemRequest) (grpcsvc.PlacedOrder, error) {
	if key == "" || len(customer.Validate()) > 0 || len(items) != 1 {
		return grpcsvc.PlacedOrder{}, status.Error(codes.InvalidArgument, "bad request")
	}
	return grpcsvc.PlacedOrder{OrderID: "order-" + key, OrderNumber: "ORD-1", TotalMinor: 100}, nil
}

func updateOK(context.Context, string, domain.OrderStatus) (domain.UpdateStatusResult, error) {
	return domain.UpdateStatusResult{Success: true}, nil
}

func testConfig(mode loadMode) config {
	return config{
		total:           5,
		concurrency:     2,
		connections:     1,
		timeout:         time.Second,
		mode:            mode,
		productID:       "prod-charger",
		quantity:        1,
		allowRejections: true,
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr bool
	}{
		{name: "checkout", input: "checkout", want: modeCheckout},
		{name: "lifecycle with spaces", input: "  lifecycle ", want: modeLifecycle},
		{name: "unknown", input: "pay", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("parseMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, cfg config)
		wantErr string
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg config) {
				if cfg.addr != "localhost:50051" || cfg.total != 400 || cfg.mode != modeCheckout {
					t.Fatalf("unexpected defaults: %+v", cfg)
				}
				if cfg.productID != "prod-charger" || cfg.quantity != 1 || !cfg.allowRejections {
					t.Fatalf("unexpected order defaults: %+v", cfg)
				}
				if cfg.totalSet {
					t.Fatal("totalSet must be false when -total is not passed")
				}
			},
		},
		{
			name: "duration with explicit total",
			args: []string{"-duration=2s", "-total=10", "-mode=lifecycle", "-product= prod-case ", "-allow-rejections=false"},
			check: func(t *testing.T, cfg config) {
				if cfg.duration != 2*time.Second || !cfg.totalSet || cfg.total != 10 {
					t.Fatalf("unexpected duration config: %+v", cfg)
				}
				if cfg.mode != modeLifecycle || cfg.productID != "prod-case" || cfg.allowRejections {
					t.Fatalf("unexpected overrides: %+v", cfg)
				}
			},
		},
		{name: "zero total", args: []string{"-total=0"}, wantErr: "total must be > 0"},
		{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
		{name: "zero concurrency", args: []string{"-concurrency=0"}, wantErr: "concurrency"},
		{name: "zero connections", args: []string{"-connections=0"}, wantErr: "connections"},
		{name: "zero timeout", args: []string{"-timeout=0s"}, wantErr: "timeout"},
		{name: "blank product", args: []string{"-product=  "}, wantErr: "product is required"},
		{name: "zero quantity", args: []string{"-quantity=0"}, wantErr: "quantity"},
		{name: "bad mode", args: []string{"-mode=refund"}, wantErr: "unsupported mode"},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
			fs.SetOutput(io.Discard)

			cfg, err := parseConfig(fs, tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseConfig() error = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConfig() unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 10)
		dispatchJobs(jobs, config{total: 3})

		var got []int
		for id := range jobs {
			got = append(got, id)
		}
		if len(got) != 3 || got[0] != 0 || got[2] != 2 {
			t.Fatalf("unexpected jobs: %v", got)
		}
	})

	t.Run("duration mode stops at explicit total", func(t *testing.T) {
		jobs := make(chan int, 10)
		dispatchJobs(jobs, config{total: 4, totalSet: true, duration: time.Minute})

		count := 0
		for range jobs {
			count++
		}
		if count != 4 {
			t.Fatalf("expected 4 jobs, got %d", count)
		}
	})

	t.Run("duration mode stops on timer", func(t *testing.T) {
		jobs := make(chan int)
		done := make(chan struct{})
		go func() {
			dispatchJobs(jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		// Читаем медленно, чтобы таймер успел сработать.
		for range jobs {
			time.Sleep(time.Millisecond)
		}
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("dispatchJobs did not stop after duration")
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector(true)
	col.record(scenarioMethod, 10*time.Millisecond, codes.OK)
	col.record(scenarioMethod, 20*time.Millisecond, codes.FailedPrecondition)
	col.record(scenarioMethod, 30*time.Millisecond, codes.Unavailable)
	col.record(grpcsvc.MethodPlaceOrder, 5*time.Millisecond, codes.OK)

	result := col.buildReport(time.Unix(0, 0), 2*time.Second)

	if result.TotalScenarios != 3 || result.SuccessScenarios != 2 || result.FailedScenarios != 1 {
		t.Fatalf("unexpected scenario counters: %+v", result)
	}
	if result.RPS != 1.5 {
		t.Fatalf("RPS = %v, want 1.5", result.RPS)
	}
	if result.ScenarioLatencyMs.Min != 10 || result.ScenarioLatencyMs.Max != 30 || result.ScenarioLatencyMs.P50 != 20 {
		t.Fatalf("unexpected latency summary: %+v", result.ScenarioLatencyMs)
	}
	if got := result.Methods[scenarioMethod].Codes[codes.FailedPrecondition.String()]; got != 1 {
		t.Fatalf("FailedPrecondition count = %d, want 1", got)
	}
	if _, ok := result.Methods[grpcsvc.MethodPlaceOrder]; !ok {
		t.Fatal("PlaceOrder stats are missing")
	}

	strict := newCollector(false)
	strict.record(scenarioMethod, time.Millisecond, codes.FailedPrecondition)
	if got := strict.buildReport(time.Now(), time.Second); got.FailedScenarios != 1 {
		t.Fatalf("strict collector must count rejections as failures, got %+v", got)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{name: "empty", values: nil, p: 95, want: 0},
		{name: "single", values: []float64{7}, p: 99, want: 7},
		{name: "exact rank", values: []float64{1, 2, 3}, p: 50, want: 2},
		{name: "interpolated", values: []float64{0, 10}, p: 25, want: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.values, tt.p); got != tt.want {
				t.Fatalf("percentile() = %v, want %v", got, tt.want)
			}
		})
	}

	if ratio(1, 0) != 0 || ratio(1, 4) != 0.25 {
		t.Fatal("unexpected ratio result")
	}
}

func TestRunScenario(t *testing.T) {
	t.Run("checkout places one order", func(t *testing.T) {
		client := &fakeStorefrontClient{placeFn: placeOK}
		col := newCollector(true)

		runScenario(client, testConfig(modeCheckout), 7, "run", col)

		result := col.buildReport(time.Now(), time.Second)
		if result.SuccessScenarios != 1 {
			t.Fatalf("expected success, got %+v", result.Methods)
		}
		if len(client.keys) != 1 || client.keys[0] != "lt-run-7" {
			t.Fatalf("unexpected idempotency keys: %v", client.keys)
		}
		if len(client.statuses) != 0 {
			t.Fatalf("checkout mode must not update statuses, got %v", client.statuses)
		}
	})

	t.Run("lifecycle walks the order to delivered", func(t *testing.T) {
		client := &fakeStorefrontClient{placeFn: placeOK, updateFn: updateOK}
		col := newCollector(true)

		runScenario(client, testConfig(modeLifecycle), 1, "run", col)

		if len(client.statuses) != len(lifecycleSteps) || client.statuses[2] != domain.OrderStatusDelivered {
			t.Fatalf("unexpected status updates: %v", client.statuses)
		}
		result := col.buildReport(time.Now(), time.Second)
		if result.Methods[grpcsvc.MethodUpdateOrderStatus].Calls != 3 || result.SuccessScenarios != 1 {
			t.Fatalf("unexpected report: %+v", result.Methods)
		}
	})

	t.Run("out of stock is an expected rejection", func(t *testing.T) {
		client := &fakeStorefrontClient{placeFn: func(context.Context, string, domain.CustomerInfo, []domain.ItemRequest) (grpcsvc.PlacedOrder, error) {
			return grpcsvc.PlacedOrder{}, status.Error(codes.FailedPrecondition, "insufficient stock")
		}}
		col := newCollector(true)

		runScenario(client, testConfig(modeLifecycle), 1, "run", col)

		result := col.buildReport(time.Now(), time.Second)
		if result.FailedScenarios != 0 || result.SuccessScenarios != 1 {
			t.Fatalf("rejection must not fail scenario: %+v", result)
		}
		if len(client.statuses) != 0 {
			t.Fatal("rejected order must not be advanced")
		}
	})

	t.Run("rejected transition fails the scenario", func(t *testing.T) {
		client := &fakeStorefrontClient{
			placeFn: placeOK,
			updateFn: func(context.Context, string, domain.OrderStatus) (domain.UpdateStatusResult, error) {
				return domain.UpdateStatusResult{}, status.Error(codes.FailedPrecondition, "invalid transition")
			},
		}
		col := newCollector(true)

		runScenario(client, testConfig(modeLifecycle), 1, "run", col)

		if got := col.buildReport(time.Now(), time.Second).FailedScenarios; got != 1 {
			t.Fatalf("FailedScenarios = %d, want 1", got)
		}
	})

	t.Run("empty order id is internal error", func(t *testing.T) {
		client := &fakeStorefrontClient{placeFn: func(context.Context, string, domain.CustomerInfo, []domain.ItemRequest) (grpcsvc.PlacedOrder, error) {
			return grpcsvc.PlacedOrder{}, nil
		}}
		col := newCollector(true)

		runScenario(client, testConfig(modeCheckout), 1, "run", col)

		codesSeen := col.buildReport(time.Now(), time.Second).Methods[scenarioMethod].Codes
		if codesSeen[codes.Internal.String()] != 1 {
			t.Fatalf("unexpected scenario codes: %v", codesSeen)
		}
	})
}

func TestRunLoad(t *testing.T) {
	first := &fakeStorefrontClient{placeFn: placeOK}
	second := &fakeStorefrontClient{placeFn: placeOK}

	cfg := testConfig(modeCheckout)
	cfg.total = 6
	result := runLoad([]storefrontClient{first, second}, cfg)

	if result.TotalScenarios != 6 || result.FailedScenarios != 0 {
		t.Fatalf("unexpected report: %+v", result)
	}
	if got := len(first.keys) + len(second.keys); got != 6 {
		t.Fatalf("expected 6 PlaceOrder calls across clients, got %d", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	result := report{TotalScenarios: 2, Methods: map[string]methodReport{}}
	if err := writeJSONReport("report.json", result); err != nil {
		t.Fatalf("writeJSONReport() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 {
		t.Fatalf("TotalScenarios = %d, want 2", decoded.TotalScenarios)
	}

	for _, bad := range []string{".", "../escape.json"} {
		if err := writeJSONReport(bad, result); err == nil {
			t.Fatalf("writeJSONReport(%q) expected error", bad)
		}
	}
}

func TestPrintReport(t *testing.T) {
	col := newCollector(true)
	col.record(scenarioMethod, time.Millisecond, codes.OK)
	col.record(grpcsvc.MethodUpdateOrderStatus, time.Millisecond, codes.OK)
	col.record(grpcsvc.MethodPlaceOrder, time.Millisecond, codes.OK)

	var out strings.Builder
	cfg := testConfig(modeLifecycle)
	cfg.duration = time.Second
	printReport(&out, col.buildReport(time.Now(), time.Second), cfg)

	text := out.String()
	for _, want := range []string{"Load test summary", "mode=lifecycle", "run=duration:1s", grpcsvc.MethodPlaceOrder} {
		if !strings.Contains(text, want) {
			t.Fatalf("report %q does not contain %q", text, want)
		}
	}
	if strings.Index(text, grpcsvc.MethodPlaceOrder) > strings.Index(text, grpcsvc.MethodUpdateOrderStatus) {
		t.Fatal("methods must be printed in sorted order")
	}
}
