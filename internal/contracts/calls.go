package contracts

import (
	"context"
	"fmt"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ValidatorModuleType is the ERC-7579 module type id of validators.
var ValidatorModuleType = big.NewInt(1)

// Terms is the static tuple passed to createEscrow.
type Terms struct {
	Deadline         *big.Int
	DisputeWindow    *big.Int
	AbandonmentGrace *big.Int
	CriteriaHash     [32]byte
}

// EscrowRecord is the raw getEscrow result.
type EscrowRecord struct {
	Token            common.Address
	Buyer            common.Address
	Seller           common.Address
	LockedAmount     *big.Int
	PlatformFee      *big.Int
	Status           uint8
	CreatedAt        *big.Int
	Deadline         *big.Int
	DisputeWindow    *big.Int
	AbandonmentGrace *big.Int
	DeliveredAt      *big.Int
	ProofHash        common.Hash
	CriteriaHash     common.Hash
}

// EscrowID derives the on-chain escrow id of a backend transaction.
func EscrowID(transactionID string) common.Hash {
	return crypto.Keccak256Hash([]byte(transactionID))
}

// PackCreateEscrow encodes createEscrow.
func PackCreateEscrow(escrowID common.Hash, seller common.Address, amount *big.Int, token common.Address, terms Terms) ([]byte, error) {
	return EscrowABI.Pack(MethodCreateEscrow, [32]byte(escrowID), seller, amount, token, terms)
}

// PackSubmitDelivery encodes submitDelivery.
func PackSubmitDelivery(escrowID, proofHash common.Hash) ([]byte, error) {
	return EscrowABI.Pack(MethodSubmitDelivery, [32]byte(escrowID), [32]byte(proofHash))
}

// PackEscrowCall encodes one of the single-argument escrow methods: accept,
// finalizeRelease, dispute, claimAbandoned or getEscrow.
func PackEscrowCall(method string, escrowID common.Hash) ([]byte, error) {
	switch method {
	case MethodAccept, MethodFinalizeRelease, MethodDispute, MethodClaimAbandoned, MethodGetEscrow:
		return EscrowABI.Pack(method, [32]byte(escrowID))
	default:
		return nil, fmt.Errorf("escrow method %s does not take a single escrow id", method)
	}
}

// PackApprove encodes ERC-20 approve.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack(MethodApprove, spender, amount)
}

// PackUninstallValidator encodes uninstallModule for a validator module.
func PackUninstallValidator(module common.Address, deInitData []byte) ([]byte, error) {
	return AccountABI.Pack("uninstallModule", ValidatorModuleType, module, deInitData)
}

// PackInstallValidator encodes installModule for a validator module.
func PackInstallValidator(module common.Address, initData []byte) ([]byte, error) {
	return AccountABI.Pack("installModule", ValidatorModuleType, module, initData)
}

// Argument conditions understood by the permission validator.
const (
	ArgConditionAny   uint8 = 0
	ArgConditionEqual uint8 = 1
)

// PermissionArg constrains one ABI head word of a permitted call.
type PermissionArg struct {
	Condition uint8
	Value     [32]byte
}

// PermissionRule allows one selector on one target.
type PermissionRule struct {
	Target   common.Address
	Selector [4]byte
	Rules    []PermissionArg
}

// PermissionInit is what the permission validator needs to enable a delegate.
type PermissionInit struct {
	PermissionID    common.Hash
	Delegate        common.Address
	Permissions     []PermissionRule
	ValidAfter      uint64
	ValidUntil      uint64
	EnableSignature []byte
}

// PackPermissionInit encodes the validator init data: the permission id
// followed by the ABI-encoded delegate, rules, validity window and the owner's
// enable signature.
func PackPermissionInit(p PermissionInit) ([]byte, error) {
	packed, err := permissionInitArgs.Pack(
		p.Delegate,
		p.Permissions,
		new(big.Int).SetUint64(p.ValidAfter),
		new(big.Int).SetUint64(p.ValidUntil),
		p.EnableSignature,
	)
	if err != nil {
		return nil, fmt.Errorf("pack permission init: %w", err)
	}
	return append(p.PermissionID.Bytes(), packed...), nil
}

// PackExecute encodes an ERC-7579 single execution in the default call mode.
func PackExecute(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	execution := make([]byte, 0, common.AddressLength+32+len(data))
	execution = append(execution, target.Bytes()...)
	execution = append(execution, common.LeftPadBytes(value.Bytes(), 32)...)
	execution = append(execution, data...)
	var mode [32]byte
	return AccountABI.Pack("execute", mode, execution)
}

// UnpackEscrow decodes a getEscrow return payload.
func UnpackEscrow(data []byte) (EscrowRecord, error) {
	out, err := EscrowABI.Unpack(MethodGetEscrow, data)
	if err != nil {
		return EscrowRecord{}, fmt.Errorf("decode getEscrow: %w", err)
	}
	if len(out) != 13 {
		return EscrowRecord{}, fmt.Errorf("decode getEscrow: expected 13 values, got %d", len(out))
	}
	var (
		rec EscrowRecord
		ok  = true
	)
	addr := func(v any) common.Address {
		a, isAddr := v.(common.Address)
		ok = ok && isAddr
		return a
	}
	num := func(v any) *big.Int {
		n, isNum := v.(*big.Int)
		ok = ok && isNum
		return n
	}
	word := func(v any) common.Hash {
		w, isWord := v.([32]byte)
		ok = ok && isWord
		return common.Hash(w)
	}
	rec.Token = addr(out[0])
	rec.Buyer = addr(out[1])
	rec.Seller = addr(out[2])
	rec.LockedAmount = num(out[3])
	rec.PlatformFee = num(out[4])
	status, isStatus := out[5].(uint8)
	ok = ok && isStatus
	rec.Status = status
	rec.CreatedAt = num(out[6])
	rec.Deadline = num(out[7])
	rec.DisputeWindow = num(out[8])
	rec.AbandonmentGrace = num(out[9])
	rec.DeliveredAt = num(out[10])
	rec.ProofHash = word(out[11])
	rec.CriteriaHash = word(out[12])
	if !ok {
		return EscrowRecord{}, fmt.Errorf("decode getEscrow: unexpected value types")
	}
	return rec, nil
}

// PackEscrowRecord encodes a getEscrow return payload. Used by fakes that
// serve escrow reads.
func PackEscrowRecord(rec EscrowRecord) ([]byte, error) {
	zero := func(n *big.Int) *big.Int {
		if n == nil {
			return new(big.Int)
		}
		return n
	}
	return EscrowABI.Methods[MethodGetEscrow].Outputs.Pack(
		rec.Token, rec.Buyer, rec.Seller,
		zero(rec.LockedAmount), zero(rec.PlatformFee), rec.Status,
		zero(rec.CreatedAt), zero(rec.Deadline), zero(rec.DisputeWindow),
		zero(rec.AbandonmentGrace), zero(rec.DeliveredAt),
		[32]byte(rec.ProofHash), [32]byte(rec.CriteriaHash),
	)
}

// Caller performs read-only contract calls against the latest block.
type Caller struct {
	backend bind.ContractCaller
}

// NewCaller wraps a contract caller such as an ethclient or simulated backend.
func NewCaller(backend bind.ContractCaller) *Caller {
	return &Caller{backend: backend}
}

func (c *Caller) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := gethcore.CallMsg{To: &to, Data: data}
	return c.backend.CallContract(ctx, msg, nil)
}

// GetEscrow reads the escrow record stored under escrowID.
func (c *Caller) GetEscrow(ctx context.Context, escrow common.Address, escrowID common.Hash) (EscrowRecord, error) {
	data, err := PackEscrowCall(MethodGetEscrow, escrowID)
	if err != nil {
		return EscrowRecord{}, err
	}
	out, err := c.call(ctx, escrow, data)
	if err != nil {
		return EscrowRecord{}, err
	}
	return UnpackEscrow(out)
}

// TokenBalance reads an ERC-20 balance.
func (c *Caller) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := ERC20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return unpackUint(ERC20ABI.Unpack("balanceOf", out))
}

// Allowance reads an ERC-20 allowance.
func (c *Caller) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := ERC20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return unpackUint(ERC20ABI.Unpack("allowance", out))
}

// IsValidatorInstalled asks the account whether a validator module with the
// given context is still installed.
func (c *Caller) IsValidatorInstalled(ctx context.Context, account, module common.Address, additionalContext []byte) (bool, error) {
	data, err := AccountABI.Pack("isModuleInstalled", ValidatorModuleType, module, additionalContext)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, account, data)
	if err != nil {
		return false, err
	}
	vals, err := AccountABI.Unpack("isModuleInstalled", out)
	if err != nil {
		return false, err
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("isModuleInstalled: unexpected result")
	}
	installed, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("isModuleInstalled: unexpected result type %T", vals[0])
	}
	return installed, nil
}

// EntryPointNonce reads the account nonce for the given key from the
// EntryPoint.
func (c *Caller) EntryPointNonce(ctx context.Context, entryPoint, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}
	data, err := EntryPointABI.Pack("getNonce", sender, key)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, entryPoint, data)
	if err != nil {
		return nil, err
	}
	return unpackUint(EntryPointABI.Unpack("getNonce", out))
}

func unpackUint(vals []any, err error) (*big.Int, error) {
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("expected a single return value, got %d", len(vals))
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected return type %T", vals[0])
	}
	return n, nil
}
