package web3

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentEscrow/internal/errors"
)

// Well-known chain identifiers.
const (
	ChainIDPolygon     uint64 = 137
	ChainIDPolygonAmoy uint64 = 80002
	ChainIDBase        uint64 = 8453
	ChainIDBaseSepolia uint64 = 84532
)

// EntryPointV07 is the canonical ERC-4337 v0.7 EntryPoint deployment.
var EntryPointV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

// Token is an ERC-20 token registered for a network.
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Tier     int            `json:"tier"`
}

// Network is the immutable description of one supported chain.
type Network struct {
	Name                string
	ChainID             uint64
	RPCURL              string
	WSURL               string
	BundlerURL          string
	PaymasterURL        string
	EntryPoint          common.Address
	AccountFactory      common.Address
	AccountInitCodeHash common.Hash
	PermissionValidator common.Address
	Escrow              common.Address
	EscrowLegacy        common.Address
	Description         string

	tokens map[string]Token
}

// HasEscrow reports whether an escrow contract is deployed on the network.
func (n Network) HasEscrow() bool {
	return n.Escrow != (common.Address{})
}

// Token looks up a token by symbol, case-insensitively.
func (n Network) Token(symbol string) (Token, bool) {
	tok, ok := n.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return tok, ok
}

// Tokens returns the registered tokens ordered by tier, then symbol.
func (n Network) Tokens() []Token {
	out := make([]Token, 0, len(n.tokens))
	for _, tok := range n.tokens {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier == out[j].Tier {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Tier < out[j].Tier
	})
	return out
}

// TokenByAddress finds the registered token with the given contract address.
func (n Network) TokenByAddress(addr common.Address) (Token, bool) {
	for _, tok := range n.tokens {
		if tok.Address == addr {
			return tok, true
		}
	}
	return Token{}, false
}

// Networks is a read-only registry of supported chains, built once at startup.
type Networks struct {
	byName map[string]Network
	byID   map[uint64]string
}

func builtinNetworks() []Network {
	usdc := func(addr string) Token {
		return Token{Symbol: "USDC", Address: common.HexToAddress(addr), Decimals: 6, Tier: 1}
	}
	return []Network{
		{
			Name:         "baseSepolia",
			ChainID:      ChainIDBaseSepolia,
			RPCURL:       "https://sepolia.base.org",
			EntryPoint:   EntryPointV07,
			Escrow:       common.HexToAddress("0x1Aed68edafC24cc936cFabEcF88012CdF5DA0601"),
			EscrowLegacy: common.HexToAddress("0x71b1544C4E0F8a07eeAEbBe72E2368d32bAaA11d"),
			Description:  "Base Sepolia testnet",
			tokens: map[string]Token{
				"USDC": usdc("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
			},
		},
		{
			Name:        "base",
			ChainID:     ChainIDBase,
			RPCURL:      "https://mainnet.base.org",
			EntryPoint:  EntryPointV07,
			Description: "Base mainnet",
			tokens: map[string]Token{
				"USDC": usdc("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
			},
		},
		{
			Name:        "polygon",
			ChainID:     ChainIDPolygon,
			RPCURL:      "https://polygon-rpc.com",
			EntryPoint:  EntryPointV07,
			Description: "Polygon PoS mainnet",
			tokens: map[string]Token{
				"USDC": usdc("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
				"WPOL": {Symbol: "WPOL", Address: common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"), Decimals: 18, Tier: 1},
				"USDT": {Symbol: "USDT", Address: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"), Decimals: 6, Tier: 1},
				"DAI":  {Symbol: "DAI", Address: common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"), Decimals: 18, Tier: 1},
				"AAVE": {Symbol: "AAVE", Address: common.HexToAddress("0xD6DF932A45C0f255f85145f286eA0b292B21C90B"), Decimals: 18, Tier: 2},
				"WETH": {Symbol: "WETH", Address: common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), Decimals: 18, Tier: 2},
				"UNI":  {Symbol: "UNI", Address: common.HexToAddress("0xb33EaAd8d922B1083446DC23f610c2567fB5180f"), Decimals: 18, Tier: 2},
				"WBTC": {Symbol: "WBTC", Address: common.HexToAddress("0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6"), Decimals: 8, Tier: 3},
			},
		},
		{
			Name:        "polygonAmoy",
			ChainID:     ChainIDPolygonAmoy,
			RPCURL:      "https://rpc-amoy.polygon.technology",
			EntryPoint:  EntryPointV07,
			Description: "Polygon Amoy testnet",
			tokens:      map[string]Token{},
		},
	}
}

// DefaultNetworks returns the registry with only the built-in networks.
func DefaultNetworks() *Networks {
	r, err := NewNetworks(ChainDefinitions{})
	if err != nil {
		panic(err)
	}
	return r
}

// NewNetworks builds the registry from the built-in networks overlaid with the
// supplied definitions. Definitions naming an unknown network add a new one
// and must carry a chain id.
func NewNetworks(defs ChainDefinitions) (*Networks, error) {
	r := &Networks{byName: make(map[string]Network), byID: make(map[uint64]string)}
	for _, n := range builtinNetworks() {
		r.put(n)
	}

	names := make([]string, 0, len(defs.Chains))
	for name := range defs.Chains {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs.Chains[name]
		base, exists := r.byName[strings.ToLower(name)]
		if !exists {
			if def.ChainID == 0 {
				return nil, fmt.Errorf("chain %s: chain_id is required for new networks", name)
			}
			base = Network{Name: name, EntryPoint: EntryPointV07, tokens: map[string]Token{}}
		}
		merged, err := overlay(base, def)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}
		if other, taken := r.byID[merged.ChainID]; taken && other != strings.ToLower(merged.Name) {
			return nil, fmt.Errorf("chain %s: chain id %d already used by %s", name, merged.ChainID, other)
		}
		if exists && base.ChainID != merged.ChainID {
			delete(r.byID, base.ChainID)
		}
		r.put(merged)
	}
	return r, nil
}

func (r *Networks) put(n Network) {
	key := strings.ToLower(n.Name)
	r.byName[key] = n
	r.byID[n.ChainID] = key
}

func overlay(base Network, def ChainDefinition) (Network, error) {
	out := base
	out.tokens = make(map[string]Token, len(base.tokens)+len(def.Tokens))
	for k, v := range base.tokens {
		out.tokens[k] = v
	}
	if def.ChainID != 0 {
		out.ChainID = def.ChainID
	}
	setString(&out.RPCURL, def.RPCURL)
	setString(&out.WSURL, def.WSURL)
	setString(&out.BundlerURL, def.BundlerURL)
	setString(&out.PaymasterURL, def.PaymasterURL)
	setString(&out.Description, def.Description)

	addrs := []struct {
		field *common.Address
		value string
		name  string
	}{
		{&out.EntryPoint, def.EntryPoint, "entry_point"},
		{&out.AccountFactory, def.AccountFactory, "account_factory"},
		{&out.PermissionValidator, def.PermissionValidator, "permission_validator"},
		{&out.Escrow, def.Escrow, "escrow"},
	}
	for _, a := range addrs {
		if strings.TrimSpace(a.value) == "" {
			continue
		}
		if !common.IsHexAddress(a.value) {
			return Network{}, fmt.Errorf("%s is not a valid address: %q", a.name, a.value)
		}
		*a.field = common.HexToAddress(a.value)
	}
	if h := strings.TrimSpace(def.AccountInitCodeHash); h != "" {
		raw := common.FromHex(h)
		if len(raw) != common.HashLength {
			return Network{}, fmt.Errorf("account_init_code_hash must be 32 bytes")
		}
		out.AccountInitCodeHash = common.BytesToHash(raw)
	}

	for _, td := range def.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(td.Symbol))
		if symbol == "" {
			return Network{}, fmt.Errorf("token symbol is required")
		}
		if !common.IsHexAddress(td.Address) {
			return Network{}, fmt.Errorf("token %s: invalid address %q", symbol, td.Address)
		}
		tier := td.Tier
		if tier <= 0 {
			tier = 1
		}
		out.tokens[symbol] = Token{
			Symbol:   symbol,
			Address:  common.HexToAddress(td.Address),
			Decimals: td.Decimals,
			Tier:     tier,
		}
	}
	return out, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Lookup returns the network registered under name (case-insensitive).
func (r *Networks) Lookup(name string) (Network, error) {
	n, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, xerrors.New(xerrors.CodeUnsupportedChain, fmt.Sprintf("chain %q is not supported", name))
	}
	return n, nil
}

// ByChainID returns the network with the given chain id.
func (r *Networks) ByChainID(id uint64) (Network, error) {
	key, ok := r.byID[id]
	if !ok {
		return Network{}, xerrors.New(xerrors.CodeUnsupportedChain, fmt.Sprintf("chain id %d is not supported", id))
	}
	return r.byName[key], nil
}

// Resolve accepts either a network name or a decimal chain id.
func (r *Networks) Resolve(ref string) (Network, error) {
	if id, err := strconv.ParseUint(strings.TrimSpace(ref), 10, 64); err == nil {
		return r.ByChainID(id)
	}
	return r.Lookup(ref)
}

// Names lists the registered network names in sorted order.
func (r *Networks) Names() []string {
	names := make([]string, 0, len(r.byName))
	for _, n := range r.byName {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names
}

// Token resolves a token symbol on a chain.
func (r *Networks) Token(chainID uint64, symbol string) (Token, error) {
	n, err := r.ByChainID(chainID)
	if err != nil {
		return Token{}, err
	}
	tok, ok := n.Token(symbol)
	if !ok {
		return Token{}, xerrors.New(xerrors.CodeUnregisteredToken,
			fmt.Sprintf("token %s is not registered on %s", strings.ToUpper(symbol), n.Name))
	}
	return tok, nil
}

// TokensByTier returns every token on the chain whose tier is at most maxTier.
func (r *Networks) TokensByTier(chainID uint64, maxTier int) ([]Token, error) {
	n, err := r.ByChainID(chainID)
	if err != nil {
		return nil, err
	}
	all := n.Tokens()
	out := all[:0]
	for _, tok := range all {
		if tok.Tier <= maxTier {
			out = append(out, tok)
		}
	}
	return out, nil
}

// IsTokenSupported reports whether symbol is registered on the chain.
func (r *Networks) IsTokenSupported(chainID uint64, symbol string) bool {
	_, err := r.Token(chainID, symbol)
	return err == nil
}

// EscrowAddress returns the escrow contract deployed on the chain.
func (r *Networks) EscrowAddress(chainID uint64) (common.Address, error) {
	n, err := r.ByChainID(chainID)
	if err != nil {
		return common.Address{}, err
	}
	if !n.HasEscrow() {
		return common.Address{}, xerrors.New(xerrors.CodeUnsupportedChain,
			fmt.Sprintf("no escrow contract registered on %s", n.Name))
	}
	return n.Escrow, nil
}
