package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"TradePilot/internal/config"
	"TradePilot/internal/web3"
)

type nopClient struct {
	web3.Client
	closed *int
}

func (n nopClient) Close() { *n.closed++ }

func TestRegistryLoadsDefinitionsAndPicksDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := "chains:\n  base:\n    rpc_url: http://base\n    chain_id: 8453\n  arbitrum:\n    rpc_url: http://arb\n    chain_id: 42161\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chain file: %v", err)
	}

	closed := 0
	var dialed []string
	dial := func(_ context.Context, name string, def web3.ChainDefinition, _ config.Web3Config) (web3.Client, error) {
		dialed = append(dialed, name+"="+def.RPCURL)
		return nopClient{closed: &closed}, nil
	}

	registry, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path}, dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if len(dialed) != 2 {
		t.Fatalf("expected two chains dialed, got %v", dialed)
	}
	if got := registry.Chains(); len(got) != 2 || got[0] != "arbitrum" {
		t.Fatalf("unexpected chains %v", got)
	}
	if registry.DefaultDefinition().ChainID != 42161 {
		t.Fatalf("default chain should be the first name in order, got %+v", registry.DefaultDefinition())
	}
	registry.Close()
	if closed != 2 {
		t.Fatalf("expected both clients closed, got %d", closed)
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	closed := 0
	dial := func(_ context.Context, name string, def web3.ChainDefinition, _ config.Web3Config) (web3.Client, error) {
		if def.RPCURL != "http://node" || def.ChainID != 1 {
			return nil, errors.New("unexpected definition")
		}
		return nopClient{closed: &closed}, nil
	}
	registry, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: "http://node", ChainID: 1}, dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := registry.DefaultClient(); err != nil {
		t.Fatalf("default client: %v", err)
	}
}

func TestRegistryRequiresEndpoint(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{}, nil); err == nil {
		t.Fatal("expected error when nothing is configured")
	}
}
