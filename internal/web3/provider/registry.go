package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"AgentEscrow/internal/web3"
	"AgentEscrow/internal/web3/bundler"
	"AgentEscrow/internal/web3/ethereum"
)

// Endpoints groups the clients of one network.
type Endpoints struct {
	Network web3.Network
	Chain   *ethereum.Client
	// Bundler is nil when the network has no bundler endpoint configured.
	Bundler *bundler.Client
}

// Registry manages the chain and bundler clients of the enabled networks.
type Registry struct {
	defaultChain string
	endpoints    map[string]*Endpoints
}

// Options selects which networks to connect.
type Options struct {
	DefaultChain string
	// Enabled lists extra networks to connect besides the default one.
	Enabled []string
	// PaymasterContext is forwarded to the ERC-7677 paymaster of every network.
	PaymasterContext map[string]any
}

// NewRegistry dials the enabled networks.
func NewRegistry(ctx context.Context, networks *web3.Networks, opts Options) (*Registry, error) {
	if strings.TrimSpace(opts.DefaultChain) == "" {
		return nil, errors.New("no default chain configured")
	}
	def, err := networks.Resolve(opts.DefaultChain)
	if err != nil {
		return nil, fmt.Errorf("default chain %s is not configured: %w", opts.DefaultChain, err)
	}

	wanted := []web3.Network{def}
	for _, name := range opts.Enabled {
		n, err := networks.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("chain %s is not configured: %w", name, err)
		}
		if n.Name != def.Name {
			wanted = append(wanted, n)
		}
	}

	r := &Registry{defaultChain: def.Name, endpoints: make(map[string]*Endpoints, len(wanted))}
	for _, n := range wanted {
		if _, done := r.endpoints[n.Name]; done {
			continue
		}
		ep, err := connect(ctx, n, opts.PaymasterContext)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("initialize chain %s: %w", n.Name, err)
		}
		r.endpoints[n.Name] = ep
	}
	return r, nil
}

func connect(ctx context.Context, n web3.Network, pmContext map[string]any) (*Endpoints, error) {
	chain, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:    n.Name,
		RPCURL:  n.RPCURL,
		ChainID: n.ChainID,
		Notes:   n.Description,
	})
	if err != nil {
		return nil, err
	}
	ep := &Endpoints{Network: n, Chain: chain}
	if strings.TrimSpace(n.BundlerURL) != "" {
		b, err := bundler.Dial(ctx, bundler.Config{
			BundlerURL:       n.BundlerURL,
			PaymasterURL:     n.PaymasterURL,
			EntryPoint:       n.EntryPoint,
			ChainID:          n.ChainID,
			PaymasterContext: pmContext,
		}, chain)
		if err != nil {
			chain.Close()
			return nil, err
		}
		ep.Bundler = b
	}
	return ep, nil
}

// Default returns the endpoints of the default chain.
func (r *Registry) Default() (*Endpoints, error) {
	if r == nil {
		return nil, errors.New("chain registry is not initialized")
	}
	ep, ok := r.endpoints[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("default chain %s is not in the registry", r.defaultChain)
	}
	return ep, nil
}

// Endpoints returns the clients of the named network.
func (r *Registry) Endpoints(name string) (*Endpoints, bool) {
	if r == nil {
		return nil, false
	}
	for key, ep := range r.endpoints {
		if strings.EqualFold(key, name) {
			return ep, true
		}
	}
	return nil, false
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, ep := range r.endpoints {
		if ep.Bundler != nil {
			ep.Bundler.Close()
		}
		if ep.Chain != nil {
			ep.Chain.Close()
		}
		delete(r.endpoints, name)
	}
}

// Chains returns the list of connected network names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
