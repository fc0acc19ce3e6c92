package capability

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/web3"
)

// DefaultValidity is how long a built policy stays usable.
const DefaultValidity = 24 * time.Hour

type policyOptions struct {
	validity time.Duration
	tokens   []string
	now      func() time.Time
}

// PolicyOption customises BuildPolicy.
type PolicyOption func(*policyOptions)

// WithValidity sets the policy lifetime. Non-positive values keep the default.
func WithValidity(d time.Duration) PolicyOption {
	return func(o *policyOptions) {
		if d > 0 {
			o.validity = d
		}
	}
}

// WithTokens restricts approvals to the given token symbols.
func WithTokens(symbols ...string) PolicyOption {
	return func(o *policyOptions) {
		o.tokens = append(o.tokens, symbols...)
	}
}

// WithClock overrides the time source used for the validity window.
func WithClock(now func() time.Time) PolicyOption {
	return func(o *policyOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// escrowPermissions lists the escrow functions a delegate may call along with
// the number of leading arguments each rule covers.
var escrowPermissions = []struct {
	method string
	args   int
}{
	{contracts.MethodCreateEscrow, contracts.CreateEscrowArgCount},
	{contracts.MethodSubmitDelivery, 1},
	{contracts.MethodAccept, 1},
	{contracts.MethodFinalizeRelease, 1},
	{contracts.MethodDispute, 1},
}

// BuildPolicy builds the escrow session policy for a chain: one approve per
// token restricted to the escrow spender, followed by the five escrow
// operations.
func BuildPolicy(networks *web3.Networks, chainID uint64, opts ...PolicyOption) (Policy, error) {
	o := policyOptions{validity: DefaultValidity, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	escrow, err := networks.EscrowAddress(chainID)
	if err != nil {
		return Policy{}, err
	}
	tokens, err := resolveTokens(networks, chainID, o.tokens)
	if err != nil {
		return Policy{}, err
	}
	if len(tokens) == 0 {
		return Policy{}, xerrors.New(xerrors.CodeEmptyTokenSet,
			fmt.Sprintf("no tokens registered for chain %d", chainID))
	}

	approve := Selector(contracts.Selector(contracts.ERC20ABI, contracts.MethodApprove))
	perms := make([]Permission, 0, len(tokens)+len(escrowPermissions))
	for _, tok := range tokens {
		perms = append(perms, Permission{
			Target:   tok.Address,
			Function: contracts.MethodApprove,
			Selector: approve,
			Args:     []ArgRule{EqualAddress(escrow), AnyArg()},
		})
	}
	for _, ep := range escrowPermissions {
		perms = append(perms, escrowPermission(escrow, ep.method, ep.args))
	}

	now := o.now().UTC().Truncate(time.Second)
	return Policy{
		Permissions: perms,
		ValidAfter:  now,
		ValidUntil:  now.Add(o.validity),
	}, nil
}

func escrowPermission(escrow common.Address, method string, args int) Permission {
	rules := make([]ArgRule, args)
	for i := range rules {
		rules[i] = AnyArg()
	}
	return Permission{
		Target:   escrow,
		Function: method,
		Selector: Selector(contracts.Selector(contracts.EscrowABI, method)),
		Args:     rules,
	}
}

func resolveTokens(networks *web3.Networks, chainID uint64, symbols []string) ([]web3.Token, error) {
	if len(symbols) == 0 {
		network, err := networks.ByChainID(chainID)
		if err != nil {
			return nil, err
		}
		return network.Tokens(), nil
	}
	seen := make(map[common.Address]struct{}, len(symbols))
	out := make([]web3.Token, 0, len(symbols))
	for _, symbol := range symbols {
		tok, err := networks.Token(chainID, symbol)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tok.Address]; dup {
			continue
		}
		seen[tok.Address] = struct{}{}
		out = append(out, tok)
	}
	return out, nil
}
