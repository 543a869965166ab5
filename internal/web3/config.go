package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Chain types understood by the provider registry.
const (
	TypeEVM    = "evm"
	TypeSolana = "solana"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// NormalizedType returns the lower-case chain type, defaulting to evm.
func (d ChainDefinition) NormalizedType() string {
	t := strings.ToLower(strings.TrimSpace(d.Type))
	if t == "" {
		return TypeEVM
	}
	return t
}

// LoadChainDefinitions parses the YAML file containing chain metadata. An
// empty path yields an empty definition set.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain definitions from YAML.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	normalized := make(map[string]ChainDefinition, len(defs.Chains))
	for name, def := range defs.Chains {
		normalized[strings.ToLower(strings.TrimSpace(name))] = def
	}
	defs.Chains = normalized
	return defs, nil
}
