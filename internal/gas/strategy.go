// Package gas decides how a smart account pays for its operations.
package gas

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/web3"
)

// Strategy names a gas payment mode.
type Strategy string

const (
	// SelfFunded pays gas from the account's native balance.
	SelfFunded Strategy = "self-funded"
	// ERC20Sponsored lets a paymaster front gas and recoup it in an ERC-20 token.
	ERC20Sponsored Strategy = "erc20-sponsored"
	// Auto picks one of the concrete strategies from the account balance.
	Auto Strategy = "auto"
)

// MinNativeBalance is the balance (0.01 native, in wei) at or above which auto
// resolves to self-funded.
var MinNativeBalance = big.NewInt(10_000_000_000_000_000)

// ParseStrategy parses a strategy name. An empty value means Auto.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(Auto):
		return Auto, nil
	case string(SelfFunded), "self":
		return SelfFunded, nil
	case string(ERC20Sponsored), "erc20":
		return ERC20Sponsored, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown gas strategy %q", value))
	}
}

// Sponsored reports whether operations need paymaster data.
func (s Strategy) Sponsored() bool {
	return s == ERC20Sponsored
}

func (s Strategy) String() string {
	return string(s)
}

// Resolver turns Auto into a concrete strategy.
type Resolver struct {
	balances web3.BalanceReader
}

// NewResolver builds a resolver that reads balances through reader.
func NewResolver(reader web3.BalanceReader) *Resolver {
	return &Resolver{balances: reader}
}

// Resolve returns requested unchanged unless it is Auto, in which case the
// account's current native balance decides. Nothing is cached.
func (r *Resolver) Resolve(ctx context.Context, account common.Address, requested Strategy) (Strategy, error) {
	if requested != Auto {
		return requested, nil
	}
	if r == nil || r.balances == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "no balance reader configured for auto gas strategy")
	}
	balance, err := r.balances.BalanceAt(ctx, account, nil)
	if err != nil {
		return "", xerrors.FromContext(err, xerrors.CodeNetworkError, "read native balance")
	}
	if balance != nil && balance.Cmp(MinNativeBalance) >= 0 {
		return SelfFunded, nil
	}
	return ERC20Sponsored, nil
}
