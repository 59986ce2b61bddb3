package task

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/signal"
)

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), &recordingProducer{}, 3)
	cases := map[string]Request{
		"unknown kind":       {Kind: "swap", Token: testToken, Amount: "1", WalletRef: "main"},
		"buy without token":  {Kind: KindBuy, Amount: "1", WalletRef: "main"},
		"sell without qty":   {Kind: KindSell, Token: testToken, WalletRef: "main"},
		"buy without wallet": {Kind: KindBuy, Token: testToken, Amount: "1"},
		"signal missing":     {Kind: KindSignal, ExchangeRef: "binance-main"},
		"signal bad action":  {Kind: KindSignal, Signal: &signal.Signal{Action: "hold", Token: "PEPE"}, WalletRef: "main"},
		"signal no account":  {Kind: KindSignal, Signal: &signal.Signal{Action: signal.ActionSell, Token: "PEPE"}},
	}
	for name, req := range cases {
		_, err := service.Submit(context.Background(), req)
		if xerrors.CodeOf(err) != CodeJobValidation {
			t.Errorf("%s: expected %s, got %v", name, CodeJobValidation, err)
		}
	}
}

func TestServiceSubmitIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	producer := &recordingProducer{}
	service := NewService(NewMemoryStore(), producer, 0)

	req := buyRequest()
	req.ID = "fixed"
	first, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.MaxRetries != 3 || first.Status != StatusPending {
		t.Fatalf("unexpected job: %+v", first)
	}
	req.Amount = "5"
	second, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Amount != "0.01" {
		t.Fatalf("resubmission should return the existing job, got amount %s", second.Amount)
	}
	if producer.count() != 1 {
		t.Fatalf("expected single publish, got %d", producer.count())
	}
}

func TestServiceSubmitMarksJobFailedWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, &recordingProducer{err: errors.New("broker down")}, 3)

	req := buyRequest()
	req.ID = "unpublished"
	_, err := service.Submit(ctx, req)
	if xerrors.CodeOf(err) != CodeJobPublish {
		t.Fatalf("expected %s, got %v", CodeJobPublish, err)
	}
	job, getErr := store.Get(ctx, "unpublished")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobPublish) {
		t.Fatalf("unexpected job state: %s %s", job.Status, job.ErrorCode)
	}
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store := NewMemoryStore()
	service := NewService(store, &recordingProducer{}, 3)

	job, err := service.Submit(ctx, buyRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = store.Claim(context.Background(), job.ID)
		_ = store.MarkFailed(context.Background(), job.ID, Failure{Code: "NO_ROUTE", Message: "none", Terminal: true})
	}()
	done, err := service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.LastError != "none" {
		t.Fatalf("unexpected job: %+v", done)
	}
}
