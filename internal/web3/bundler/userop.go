// Package bundler submits ERC-4337 v0.7 user operations through a bundler
// RPC endpoint, optionally sponsored by an ERC-7677 paymaster service.
package bundler

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is the unpacked v0.7 user operation used on the RPC wire.
type UserOperation struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// GasEstimate is the eth_estimateUserOperationGas result.
type GasEstimate struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit,omitempty"`
}

// PaymasterFields is returned by pm_getPaymasterStubData and pm_getPaymasterData.
type PaymasterFields struct {
	Paymaster                     common.Address `json:"paymaster"`
	PaymasterData                 hexutil.Bytes  `json:"paymasterData"`
	PaymasterVerificationGasLimit *hexutil.Big   `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big   `json:"paymasterPostOpGasLimit,omitempty"`
	IsFinal                       bool           `json:"isFinal,omitempty"`
}

// Receipt is the eth_getUserOperationReceipt result.
type Receipt struct {
	UserOpHash common.Hash    `json:"userOpHash"`
	Sender     common.Address `json:"sender"`
	Success    bool           `json:"success"`
	Reason     string         `json:"reason,omitempty"`
	Receipt    TxReceipt      `json:"receipt"`
}

// TxReceipt is the transaction that included a user operation.
type TxReceipt struct {
	TransactionHash common.Hash  `json:"transactionHash"`
	BlockNumber     *hexutil.Big `json:"blockNumber"`
}

// DummySignature is a well-formed ECDSA signature used for gas estimation.
var DummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

func (op *UserOperation) applyPaymaster(pm PaymasterFields) {
	addr := pm.Paymaster
	op.Paymaster = &addr
	op.PaymasterData = pm.PaymasterData
	if pm.PaymasterVerificationGasLimit != nil {
		op.PaymasterVerificationGasLimit = pm.PaymasterVerificationGasLimit
	}
	if pm.PaymasterPostOpGasLimit != nil {
		op.PaymasterPostOpGasLimit = pm.PaymasterPostOpGasLimit
	}
}

func (op *UserOperation) applyEstimate(est GasEstimate) {
	op.PreVerificationGas = est.PreVerificationGas
	op.VerificationGasLimit = est.VerificationGasLimit
	op.CallGasLimit = est.CallGasLimit
	if op.Paymaster != nil {
		if est.PaymasterVerificationGasLimit != nil {
			op.PaymasterVerificationGasLimit = est.PaymasterVerificationGasLimit
		}
		if est.PaymasterPostOpGasLimit != nil {
			op.PaymasterPostOpGasLimit = est.PaymasterPostOpGasLimit
		}
	}
}

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)

	packedArgs = abi.Arguments{
		{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
		{Type: bytes32Type}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
	}
	hashArgs = abi.Arguments{{Type: bytes32Type}, {Type: addressType}, {Type: uint256Type}}
)

func bigOf(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToInt()
}

// packUint128Pair packs hi and lo as two uint128 halves of one word.
func packUint128Pair(hi, lo *big.Int) [32]byte {
	var out [32]byte
	copy(out[:16], common.LeftPadBytes(hi.Bytes(), 16))
	copy(out[16:], common.LeftPadBytes(lo.Bytes(), 16))
	return out
}

func (op *UserOperation) initCode() []byte {
	if op.Factory == nil {
		return nil
	}
	return append(op.Factory.Bytes(), op.FactoryData...)
}

func (op *UserOperation) paymasterAndData() []byte {
	if op.Paymaster == nil {
		return nil
	}
	out := append([]byte{}, op.Paymaster.Bytes()...)
	out = append(out, common.LeftPadBytes(bigOf(op.PaymasterVerificationGasLimit).Bytes(), 16)...)
	out = append(out, common.LeftPadBytes(bigOf(op.PaymasterPostOpGasLimit).Bytes(), 16)...)
	return append(out, op.PaymasterData...)
}

// Hash computes the v0.7 user operation hash for entryPoint on chainID.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := packedArgs.Pack(
		op.Sender,
		bigOf(op.Nonce),
		[32]byte(crypto.Keccak256Hash(op.initCode())),
		[32]byte(crypto.Keccak256Hash(op.CallData)),
		packUint128Pair(bigOf(op.VerificationGasLimit), bigOf(op.CallGasLimit)),
		bigOf(op.PreVerificationGas),
		packUint128Pair(bigOf(op.MaxPriorityFeePerGas), bigOf(op.MaxFeePerGas)),
		[32]byte(crypto.Keccak256Hash(op.paymasterAndData())),
	)
	if err != nil {
		return common.Hash{}, err
	}
	outer, err := hashArgs.Pack([32]byte(crypto.Keccak256Hash(packed)), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(outer), nil
}

// SignHash signs a user operation hash as an EIP-191 personal message, the
// form ECDSA validators recover against.
func SignHash(key *ecdsa.PrivateKey, hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over hash with SignHash.
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errInvalidSignature
	}
	normalized := append([]byte{}, sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
