package web3

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	xerrors "AgentEscrow/internal/errors"
)

func TestBuiltinTokenLookup(t *testing.T) {
	nets := DefaultNetworks()

	tok, err := nets.Token(ChainIDBaseSepolia, "usdc")
	require.NoError(t, err)
	require.Equal(t, "USDC", tok.Symbol)
	require.Equal(t, uint8(6), tok.Decimals)
	require.Equal(t, common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), tok.Address)

	_, err = nets.Token(ChainIDBaseSepolia, "WBTC")
	require.True(t, xerrors.HasCode(err, xerrors.CodeUnregisteredToken))

	_, err = nets.Token(1, "USDC")
	require.True(t, xerrors.HasCode(err, xerrors.CodeUnsupportedChain))

	require.True(t, nets.IsTokenSupported(ChainIDPolygon, "wpol"))
	require.False(t, nets.IsTokenSupported(ChainIDPolygonAmoy, "USDC"))
}

func TestTokensByTierOrdering(t *testing.T) {
	nets := DefaultNetworks()

	tier1, err := nets.TokensByTier(ChainIDPolygon, 1)
	require.NoError(t, err)
	symbols := make([]string, 0, len(tier1))
	for _, tok := range tier1 {
		symbols = append(symbols, tok.Symbol)
	}
	require.Equal(t, []string{"DAI", "USDC", "USDT", "WPOL"}, symbols)

	all, err := nets.TokensByTier(ChainIDPolygon, 3)
	require.NoError(t, err)
	require.Len(t, all, 8)
	require.Equal(t, "WBTC", all[len(all)-1].Symbol)
}

func TestEscrowAddressRequiresDeployment(t *testing.T) {
	nets := DefaultNetworks()

	addr, err := nets.EscrowAddress(ChainIDBaseSepolia)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x1Aed68edafC24cc936cFabEcF88012CdF5DA0601"), addr)

	_, err = nets.EscrowAddress(ChainIDBase)
	require.True(t, xerrors.HasCode(err, xerrors.CodeUnsupportedChain))
}

func TestChainDefinitionOverlay(t *testing.T) {
	defs, err := ParseChainDefinitions([]byte(`
chains:
  base:
    escrow: "0x00000000000000000000000000000000000000e5"
    bundler_url: "https://bundler.example/base"
    tokens:
      - symbol: eurc
        address: "0x60a3E35Cc302bFA44Cb288Bc5a4F316Fdb1adb42"
        decimals: 6
  devnet:
    chain_id: 1337
    rpc_url: "http://127.0.0.1:8545"
    escrow: "0x00000000000000000000000000000000000000e6"
`))
	require.NoError(t, err)

	nets, err := NewNetworks(defs)
	require.NoError(t, err)

	base, err := nets.Lookup("BASE")
	require.NoError(t, err)
	require.True(t, base.HasEscrow())
	require.Equal(t, "https://bundler.example/base", base.BundlerURL)
	require.Equal(t, "https://mainnet.base.org", base.RPCURL)
	_, ok := base.Token("USDC")
	require.True(t, ok)
	eurc, ok := base.Token("EURC")
	require.True(t, ok)
	require.Equal(t, 1, eurc.Tier)

	dev, err := nets.Resolve("1337")
	require.NoError(t, err)
	require.Equal(t, "devnet", dev.Name)
	require.Equal(t, EntryPointV07, dev.EntryPoint)
	require.Contains(t, nets.Names(), "devnet")
}

func TestChainDefinitionRejectsBadInput(t *testing.T) {
	_, err := NewNetworks(ChainDefinitions{Chains: map[string]ChainDefinition{
		"orphan": {RPCURL: "http://localhost:8545"},
	}})
	require.Error(t, err)

	_, err = NewNetworks(ChainDefinitions{Chains: map[string]ChainDefinition{
		"base": {Escrow: "not-an-address"},
	}})
	require.Error(t, err)

	_, err = NewNetworks(ChainDefinitions{Chains: map[string]ChainDefinition{
		"clash": {ChainID: ChainIDPolygon},
	}})
	require.Error(t, err)
}
