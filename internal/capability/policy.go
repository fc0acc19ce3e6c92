// Package capability implements delegated, policy-scoped session keys: the
// policy a key is bound to, issuance of the serialized credential, loading it
// into a signer, and on-chain revocation.
package capability

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/web3"
)

// ArgCondition constrains one ABI head word of a call.
type ArgCondition string

const (
	// ConditionAny accepts any value.
	ConditionAny ArgCondition = "any"
	// ConditionEqual requires the word to equal the rule value exactly.
	ConditionEqual ArgCondition = "equal"
)

func (c ArgCondition) valid() bool {
	return c == ConditionAny || c == ConditionEqual
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects conditions the
// validator does not enforce.
func (c *ArgCondition) UnmarshalText(text []byte) error {
	cond := ArgCondition(text)
	if !cond.valid() {
		return fmt.Errorf("unknown argument condition %q", text)
	}
	*c = cond
	return nil
}

func (c ArgCondition) code() uint8 {
	if c == ConditionEqual {
		return contracts.ArgConditionEqual
	}
	return contracts.ArgConditionAny
}

// ArgRule constrains the 32-byte word at the rule's argument position.
type ArgRule struct {
	Condition ArgCondition `json:"condition"`
	Value     common.Hash  `json:"value"`
}

// AnyArg is an unconstrained argument.
func AnyArg() ArgRule { return ArgRule{Condition: ConditionAny} }

// EqualAddress requires the argument to be exactly addr.
func EqualAddress(addr common.Address) ArgRule {
	return ArgRule{Condition: ConditionEqual, Value: common.BytesToHash(addr.Bytes())}
}

// Selector is a 4-byte function selector, hex encoded in JSON.
type Selector [4]byte

// MarshalText implements encoding.TextMarshaler.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(s[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Selector) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil || len(raw) != 4 {
		return fmt.Errorf("invalid selector %q", text)
	}
	copy(s[:], raw)
	return nil
}

// Permission allows calls to one function of one contract.
type Permission struct {
	Target   common.Address `json:"target"`
	Function string         `json:"function"`
	Selector Selector       `json:"selector"`
	Args     []ArgRule      `json:"args"`
}

func (p Permission) wildcard() bool {
	return p.Target == (common.Address{}) || p.Selector == (Selector{})
}

func (p Permission) matches(call web3.Call) bool {
	if call.To != p.Target || len(call.Data) < 4 || Selector(call.Selector()) != p.Selector {
		return false
	}
	for i, rule := range p.Args {
		if rule.Condition == ConditionAny {
			continue
		}
		if rule.Condition != ConditionEqual {
			return false
		}
		start := 4 + 32*i
		if len(call.Data) < start+32 {
			return false
		}
		if !bytes.Equal(call.Data[start:start+32], rule.Value.Bytes()) {
			return false
		}
	}
	return true
}

// Policy is the closed set of calls a delegate may sign, bounded in time.
type Policy struct {
	Permissions []Permission `json:"permissions"`
	ValidAfter  time.Time    `json:"validAfter"`
	ValidUntil  time.Time    `json:"validUntil"`
}

// Check rejects calls outside the policy. A call must match at least one
// permission with every constrained argument equal; native value transfers
// are never allowed.
func (p Policy) Check(call web3.Call, now time.Time) error {
	if now.Before(p.ValidAfter) {
		return xerrors.New(xerrors.CodeInvalidCredential, "capability is not valid yet")
	}
	if now.After(p.ValidUntil) {
		return xerrors.New(xerrors.CodeInvalidCredential, "capability expired",
			xerrors.WithMetadata("valid_until", p.ValidUntil.UTC().Format(time.RFC3339)))
	}
	if call.HasValue() {
		return violation(call, "native value transfer is not permitted")
	}
	for _, perm := range p.Permissions {
		if perm.matches(call) {
			return nil
		}
	}
	return violation(call, "call matches no permission")
}

func violation(call web3.Call, reason string) error {
	sel := call.Selector()
	return xerrors.New(xerrors.CodePolicyViolation, reason,
		xerrors.WithMetadata("target", call.To.Hex()),
		xerrors.WithMetadata("selector", "0x"+hex.EncodeToString(sel[:])))
}

// Validate checks the structural invariants of a policy meant for escrow use:
// no wildcard permissions and every approve restricted to the escrow spender.
func (p Policy) Validate(escrow common.Address) error {
	if len(p.Permissions) == 0 {
		return xerrors.New(xerrors.CodePolicyViolation, "policy grants no permissions")
	}
	if !p.ValidUntil.After(p.ValidAfter) {
		return xerrors.New(xerrors.CodePolicyViolation, "policy validity window is empty")
	}
	approve := Selector(contracts.Selector(contracts.ERC20ABI, contracts.MethodApprove))
	spender := EqualAddress(escrow)
	for i, perm := range p.Permissions {
		if perm.wildcard() {
			return xerrors.New(xerrors.CodePolicyViolation,
				fmt.Sprintf("permission %d is an unconstrained wildcard", i))
		}
		for j, rule := range perm.Args {
			if !rule.Condition.valid() {
				return xerrors.New(xerrors.CodePolicyViolation,
					fmt.Sprintf("permission %d argument %d has unknown condition %q", i, j, rule.Condition))
			}
		}
		if perm.Selector != approve {
			continue
		}
		if len(perm.Args) == 0 || perm.Args[0] != spender {
			return xerrors.New(xerrors.CodePolicyViolation,
				fmt.Sprintf("permission %d allows approve to a spender other than the escrow", i),
				xerrors.WithMetadata("token", perm.Target.Hex()))
		}
	}
	return nil
}

// Digest is a canonical hash of the policy, bound into the permission id and
// the owner's enable signature.
func (p Policy) Digest() common.Hash {
	var buf bytes.Buffer
	var word [8]byte
	for _, perm := range p.Permissions {
		buf.Write(perm.Target.Bytes())
		buf.Write(perm.Selector[:])
		binary.BigEndian.PutUint64(word[:], uint64(len(perm.Args)))
		buf.Write(word[:])
		for _, rule := range perm.Args {
			buf.WriteByte(byte(len(rule.Condition)))
			buf.WriteString(string(rule.Condition))
			buf.Write(rule.Value.Bytes())
		}
	}
	binary.BigEndian.PutUint64(word[:], uint64(p.ValidAfter.Unix()))
	buf.Write(word[:])
	binary.BigEndian.PutUint64(word[:], uint64(p.ValidUntil.Unix()))
	buf.Write(word[:])
	return crypto.Keccak256Hash(buf.Bytes())
}

// rules converts the permissions to the validator's on-chain layout.
func (p Policy) rules() []contracts.PermissionRule {
	out := make([]contracts.PermissionRule, 0, len(p.Permissions))
	for _, perm := range p.Permissions {
		args := make([]contracts.PermissionArg, 0, len(perm.Args))
		for _, rule := range perm.Args {
			args = append(args, contracts.PermissionArg{Condition: rule.Condition.code(), Value: rule.Value})
		}
		out = append(out, contracts.PermissionRule{Target: perm.Target, Selector: perm.Selector, Rules: args})
	}
	return out
}
