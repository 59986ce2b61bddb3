package task

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TradePilot/internal/bridge"
	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/exchange"
	"TradePilot/internal/observability/alerting"
	"TradePilot/internal/signal"
	"TradePilot/internal/trade"
	"TradePilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testToken = "0x1111111111111111111111111111111111111111"

type stubSigner struct{ addr common.Address }

func (s stubSigner) Address() common.Address { return s.addr }

func (s stubSigner) SignTx(tx *types.Transaction, _ *big.Int) (*types.Transaction, error) {
	return tx, nil
}

type fakeResolver struct{}

func (fakeResolver) Wallet(ref string) (web3.Signer, error) {
	if ref != "main" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown wallet "+ref)
	}
	return stubSigner{addr: common.HexToAddress("0x2222222222222222222222222222222222222222")}, nil
}

func (fakeResolver) Exchange(ref string) (*exchange.Credentials, error) {
	if ref != "binance-main" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown account "+ref)
	}
	return &exchange.Credentials{APIKey: "key", APISecret: "secret"}, nil
}

type fakeTrades struct {
	mu        sync.Mutex
	results   []trade.Result
	processed atomic.Int32
	latency   time.Duration
}

func (f *fakeTrades) next(ctx context.Context) trade.Result {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return trade.Failure(xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "cancelled"))
		}
	}
	f.processed.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return trade.Result{Success: true, TxHash: "0xabc", AmountReceived: "1"}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakeTrades) Buy(ctx context.Context, _ web3.Signer, _, _ string) trade.Result {
	return f.next(ctx)
}

func (f *fakeTrades) Sell(ctx context.Context, _ web3.Signer, _, _ string) trade.Result {
	return f.next(ctx)
}

type fakeSignals struct {
	got bridge.Credentials
	sig signal.Signal
}

func (f *fakeSignals) Execute(_ context.Context, sig signal.Signal, creds bridge.Credentials) trade.Result {
	f.sig = sig
	f.got = creds
	return trade.Result{Success: true, OrderID: "42"}
}

type recordingProducer struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (r *recordingProducer) Publish(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, jobID)
	return nil
}

func (r *recordingProducer) Close() error { return nil }

func (r *recordingProducer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

type recordingAlerter struct {
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.events = append(r.events, event)
	return nil
}

func providerFailure() trade.Result {
	return trade.Failure(xerrors.New(xerrors.CodeProviderError, "aggregator unavailable"))
}

func buyRequest() Request {
	return Request{Kind: KindBuy, Token: testToken, Amount: "0.01", WalletRef: "main"}
}

func newTestProcessor(t *testing.T, trades *fakeTrades, maxRetries int, opts ...ProcessorOption) (*Processor, *Service, *MemoryStore, *recordingProducer) {
	t.Helper()
	store := NewMemoryStore()
	producer := &recordingProducer{}
	service := NewService(store, producer, maxRetries)
	processor := NewProcessor(Executors{Trades: trades, Credentials: fakeResolver{}}, store, nil, producer, opts...)
	return processor, service, store, producer
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	trades := &fakeTrades{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(Executors{Trades: trades, Credentials: fakeResolver{}}, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		req := buyRequest()
		req.ID = fmt.Sprintf("job-%d", i)
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		stats, err := service.Stats(ctx)
		if err != nil {
			t.Fatalf("查询统计失败: %v", err)
		}
		if stats.Succeeded == total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", trades.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
	if got := int(trades.processed.Load()); got != total {
		t.Fatalf("每个任务应只执行一次，实际 %d", got)
	}
}

func TestProcessorRetriesProviderErrorBeforeBroadcast(t *testing.T) {
	ctx := context.Background()
	trades := &fakeTrades{results: []trade.Result{providerFailure()}}
	processor, service, store, producer := newTestProcessor(t, trades, 3)

	job, err := service.Submit(ctx, buyRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := processor.handle(ctx, job.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusRetrying || got.ErrorCode != string(xerrors.CodeProviderError) {
		t.Fatalf("expected retrying PROVIDER_ERROR, got %s %s", got.Status, got.ErrorCode)
	}
	if producer.count() != 2 {
		t.Fatalf("expected submit + republish, got %d publishes", producer.count())
	}

	if err := processor.handle(ctx, job.ID); err != nil {
		t.Fatalf("handle retry: %v", err)
	}
	got, _ = store.Get(ctx, job.ID)
	if got.Status != StatusSucceeded || got.Attempts != 2 {
		t.Fatalf("expected succeeded after 2 attempts, got %s/%d", got.Status, got.Attempts)
	}
	if got.Result == nil || got.Result.TxHash != "0xabc" || got.LastError != "" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestProcessorNeverRetriesBroadcastTrade(t *testing.T) {
	ctx := context.Background()
	reverted := providerFailure()
	reverted.TxHash = "0xdead"
	trades := &fakeTrades{results: []trade.Result{reverted}}
	processor, service, store, producer := newTestProcessor(t, trades, 3)

	job, _ := service.Submit(ctx, buyRequest())
	if err := processor.handle(ctx, job.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Result == nil || got.Result.TxHash != "0xdead" {
		t.Fatalf("failed result should keep tx hash: %+v", got.Result)
	}
	if producer.count() != 1 {
		t.Fatalf("broadcast trade must not be republished, got %d publishes", producer.count())
	}
	if err := processor.handle(ctx, job.ID); err != nil {
		t.Fatalf("handle finished job: %v", err)
	}
	if trades.processed.Load() != 1 {
		t.Fatalf("finished job executed again")
	}
}

func TestProcessorNonRetryableFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	trades := &fakeTrades{results: []trade.Result{trade.Failure(xerrors.New(xerrors.CodeInsufficientFunds, "余额不足"))}}
	processor, service, store, producer := newTestProcessor(t, trades, 3)

	job, _ := service.Submit(ctx, buyRequest())
	_ = processor.handle(ctx, job.ID)
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusFailed || got.ErrorCode != string(xerrors.CodeInsufficientFunds) {
		t.Fatalf("expected terminal INSUFFICIENT_FUNDS, got %s %s", got.Status, got.ErrorCode)
	}
	if producer.count() != 1 {
		t.Fatalf("terminal failure republished")
	}
}

func TestProcessorAlertsWhenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	alerter := &recordingAlerter{}
	trades := &fakeTrades{results: []trade.Result{providerFailure()}}
	processor, service, store, _ := newTestProcessor(t, trades, 1, WithAlertDispatcher(alerter))

	job, _ := service.Submit(ctx, buyRequest())
	_ = processor.handle(ctx, job.ID)

	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if len(alerter.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerter.events))
	}
	event := alerter.events[0]
	if event.Code != CodeJobExhausted || event.JobID != job.ID || event.Metadata["stage"] != "exhausted" {
		t.Fatalf("unexpected alert: %+v", event)
	}
}

func TestProcessorUnknownWalletFailsWithoutTrading(t *testing.T) {
	ctx := context.Background()
	trades := &fakeTrades{}
	processor, service, store, _ := newTestProcessor(t, trades, 3)

	req := buyRequest()
	req.WalletRef = "missing"
	job, _ := service.Submit(ctx, req)
	_ = processor.handle(ctx, job.ID)

	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusFailed || got.ErrorCode != string(xerrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT failure, got %s %s", got.Status, got.ErrorCode)
	}
	if trades.processed.Load() != 0 {
		t.Fatalf("executor should not run without a wallet")
	}
}

func TestProcessorSignalJobResolvesExchangeAccount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	producer := &recordingProducer{}
	signals := &fakeSignals{}
	service := NewService(store, producer, 3)
	processor := NewProcessor(Executors{Signals: signals, Credentials: fakeResolver{}}, store, nil, producer)

	sig := &signal.Signal{Action: signal.ActionBuy, Token: "PEPE", Confidence: 0.86}
	job, err := service.Submit(ctx, Request{Kind: KindSignal, Signal: sig, ExchangeRef: "binance-main"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Token != "PEPE" {
		t.Fatalf("token should default to the signal token, got %q", job.Token)
	}
	if err := processor.handle(ctx, job.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if signals.got.Exchange == nil || signals.got.Exchange.APIKey != "key" || signals.got.Wallet != nil {
		t.Fatalf("unexpected credentials: %+v", signals.got)
	}
	if signals.sig.Token != "PEPE" {
		t.Fatalf("unexpected signal: %+v", signals.sig)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusSucceeded || got.Result.OrderID != "42" {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name   string
		result trade.Result
		want   bool
	}{
		{"provider error", providerFailure(), true},
		{"timeout", trade.Failure(xerrors.New(xerrors.CodeTimeout, "slow")), true},
		{"no liquidity", trade.Failure(xerrors.New(xerrors.CodeNoLiquidity, "none")), false},
		{"broadcast", trade.Result{ErrorKind: xerrors.CodeProviderError, TxHash: "0x1"}, false},
		{"order placed", trade.Result{ErrorKind: xerrors.CodeProviderError, OrderID: "7"}, false},
		{"success", trade.Result{Success: true}, false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.result); got != tc.want {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
