package provider

import (
	"context"
	"testing"

	"AgentEscrow/internal/web3"
)

func TestRegistryConnectsEnabledNetworks(t *testing.T) {
	networks, err := web3.NewNetworks(web3.ChainDefinitions{Chains: map[string]web3.ChainDefinition{
		"baseSepolia": {
			RPCURL:     "http://127.0.0.1:8545",
			BundlerURL: "http://127.0.0.1:4337",
		},
		"devnet": {ChainID: 1337, RPCURL: "http://127.0.0.1:9545"},
	}})
	if err != nil {
		t.Fatalf("networks: %v", err)
	}

	reg, err := NewRegistry(context.Background(), networks, Options{
		DefaultChain: "84532",
		Enabled:      []string{"devnet", "baseSepolia"},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if got := reg.Chains(); len(got) != 2 || got[0] != "baseSepolia" || got[1] != "devnet" {
		t.Fatalf("unexpected chains %v", got)
	}

	def, err := reg.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if def.Network.ChainID != web3.ChainIDBaseSepolia {
		t.Fatalf("unexpected default chain %d", def.Network.ChainID)
	}
	if def.Bundler == nil {
		t.Fatal("default chain has a bundler url, expected a bundler client")
	}

	dev, ok := reg.Endpoints("DEVNET")
	if !ok {
		t.Fatal("devnet endpoints missing")
	}
	if dev.Bundler != nil {
		t.Fatal("devnet has no bundler configured")
	}
}

func TestRegistryRejectsUnknownDefault(t *testing.T) {
	if _, err := NewRegistry(context.Background(), web3.DefaultNetworks(), Options{DefaultChain: "mainnet"}); err == nil {
		t.Fatal("expected unknown default chain to fail")
	}
	if _, err := NewRegistry(context.Background(), web3.DefaultNetworks(), Options{}); err == nil {
		t.Fatal("expected missing default chain to fail")
	}
}
