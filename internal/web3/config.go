package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition overlays or extends a built-in network. Empty fields keep
// the built-in value.
type ChainDefinition struct {
	ChainID             uint64            `yaml:"chain_id"`
	RPCURL              string            `yaml:"rpc_url"`
	WSURL               string            `yaml:"ws_url"`
	BundlerURL          string            `yaml:"bundler_url"`
	PaymasterURL        string            `yaml:"paymaster_url"`
	EntryPoint          string            `yaml:"entry_point"`
	AccountFactory      string            `yaml:"account_factory"`
	AccountInitCodeHash string            `yaml:"account_init_code_hash"`
	PermissionValidator string            `yaml:"permission_validator"`
	Escrow              string            `yaml:"escrow"`
	Description         string            `yaml:"description"`
	Tokens              []TokenDefinition `yaml:"tokens"`
}

// TokenDefinition describes one ERC-20 token entry.
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	Tier     int    `yaml:"tier"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata. An
// empty path yields no overrides.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("read chain definitions: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain metadata from YAML content.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("parse chain definitions: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
