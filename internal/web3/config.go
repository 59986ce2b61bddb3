package web3

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainTypeEVM is the only chain family the executor can sign for.
const ChainTypeEVM = "evm"

// ChainDefinitions is the document shape of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition is one named RPC endpoint.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id"`
	Slug        string `yaml:"slug"`
	Explorer    string `yaml:"explorer"`
	Description string `yaml:"description"`
}

// Validate fills the default type and rejects incomplete or non-EVM entries.
func (d *ChainDefinition) Validate(name string) error {
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	if d.Type == "" {
		d.Type = ChainTypeEVM
	}
	if d.Type != ChainTypeEVM {
		return fmt.Errorf("链 %s 使用了不支持的类型 %s", name, d.Type)
	}
	if strings.TrimSpace(d.RPCURL) == "" {
		return fmt.Errorf("链 %s 缺少 rpc_url", name)
	}
	if d.ChainID < 0 {
		return fmt.Errorf("链 %s 的 chain_id 不能为负数", name)
	}
	return nil
}

// Names returns the chain names in lexical order.
func (d ChainDefinitions) Names() []string {
	return slices.Sorted(maps.Keys(d.Chains))
}

// LoadChainDefinitions reads and validates the chain file. An empty path
// yields an empty set so callers can fall back to a single RPC URL.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := ChainDefinitions{Chains: map[string]ChainDefinition{}}
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for _, name := range defs.Names() {
		def := defs.Chains[name]
		if err := def.Validate(name); err != nil {
			return ChainDefinitions{}, err
		}
		defs.Chains[name] = def
	}
	return defs, nil
}
