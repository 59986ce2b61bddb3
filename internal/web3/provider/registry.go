package provider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"TradePilot/internal/config"
	"TradePilot/internal/web3"
	"TradePilot/internal/web3/ethereum"
)

const fallbackChainName = "default"

// Dialer opens a client for one chain definition.
type Dialer func(ctx context.Context, name string, def web3.ChainDefinition, cfg config.Web3Config) (web3.Client, error)

// DialEVM dials an go-ethereum backed client with the receipt and gas
// settings from the web3 config.
func DialEVM(ctx context.Context, name string, def web3.ChainDefinition, cfg config.Web3Config) (web3.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		Name:                name,
		RPCURL:              def.RPCURL,
		ChainID:             def.ChainID,
		Notes:               def.Description,
		ReceiptPollInterval: time.Duration(cfg.ReceiptPollMillis) * time.Millisecond,
		ReceiptTimeout:      time.Duration(cfg.ReceiptTimeoutSeconds) * time.Second,
		GasBufferPercent:    cfg.GasBufferPercent,
	})
}

type chainEntry struct {
	def    web3.ChainDefinition
	client web3.Client
}

// Registry holds one dialed client per configured chain.
type Registry struct {
	defaultChain string
	chains       map[string]chainEntry
}

// NewRegistry dials every chain in cfg.ChainConfig, or a single "default"
// chain built from cfg.RPCURL when the file defines none. Any failure closes
// the clients already opened.
func NewRegistry(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Registry, error) {
	if dial == nil {
		dial = DialEVM
	}
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	defaultChain := cfg.DefaultChain
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains[fallbackChainName] = web3.ChainDefinition{Type: web3.ChainTypeEVM, RPCURL: cfg.RPCURL, ChainID: cfg.ChainID}
		if defaultChain == "" {
			defaultChain = fallbackChainName
		}
	}
	names := defs.Names()
	if len(names) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	if defaultChain == "" {
		defaultChain = names[0]
	}
	if _, ok := defs.Chains[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	r := &Registry{defaultChain: defaultChain, chains: make(map[string]chainEntry, len(names))}
	for _, name := range names {
		def := defs.Chains[name]
		client, err := dial(ctx, name, def, cfg)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		r.chains[name] = chainEntry{def: def, client: client}
	}
	return r, nil
}

// DefaultClient returns the client for the default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.Client(r.defaultChain)
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultDefinition returns the definition of the default chain.
func (r *Registry) DefaultDefinition() web3.ChainDefinition {
	if r == nil {
		return web3.ChainDefinition{}
	}
	return r.chains[r.defaultChain].def
}

// Client looks a chain client up by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	entry, ok := r.chains[name]
	return entry.client, ok && entry.client != nil
}

// Close closes every client and empties the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for _, entry := range r.chains {
		if entry.client != nil {
			entry.client.Close()
		}
	}
	clear(r.chains)
}

// Chains lists the registered chain names in lexical order.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.chains))
}
