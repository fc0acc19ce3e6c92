package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is a single contract invocation submitted on behalf of an account.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Selector returns the 4-byte function selector of the call data, or the zero
// selector when the data is too short.
func (c Call) Selector() [4]byte {
	var sel [4]byte
	if len(c.Data) >= 4 {
		copy(sel[:], c.Data[:4])
	}
	return sel
}

// HasValue reports whether the call transfers native currency.
func (c Call) HasValue() bool {
	return c.Value != nil && c.Value.Sign() > 0
}

// Signer submits calls for one account and returns the resulting transaction
// hash. Implementations decide how the call reaches the chain.
type Signer interface {
	Address() common.Address
	SubmitCall(ctx context.Context, call Call) (common.Hash, error)
}

// BalanceReader reads native-currency balances. A nil block number means the
// latest block.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}
