// Package contracts holds the ABI fragments of the on-chain components the
// coordinator talks to and small helpers to pack and decode their calls.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const escrowABIJSON = `[
  {"type":"function","name":"createEscrow","stateMutability":"nonpayable","inputs":[
    {"name":"escrowId","type":"bytes32"},
    {"name":"seller","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"token","type":"address"},
    {"name":"terms","type":"tuple","components":[
      {"name":"deadline","type":"uint256"},
      {"name":"disputeWindow","type":"uint256"},
      {"name":"abandonmentGrace","type":"uint256"},
      {"name":"criteriaHash","type":"bytes32"}
    ]}
  ],"outputs":[]},
  {"type":"function","name":"submitDelivery","stateMutability":"nonpayable","inputs":[
    {"name":"escrowId","type":"bytes32"},
    {"name":"proofHash","type":"bytes32"}
  ],"outputs":[]},
  {"type":"function","name":"accept","stateMutability":"nonpayable","inputs":[{"name":"escrowId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"finalizeRelease","stateMutability":"nonpayable","inputs":[{"name":"escrowId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"dispute","stateMutability":"nonpayable","inputs":[{"name":"escrowId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"claimAbandoned","stateMutability":"nonpayable","inputs":[{"name":"escrowId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getEscrow","stateMutability":"view","inputs":[{"name":"escrowId","type":"bytes32"}],"outputs":[
    {"name":"token","type":"address"},
    {"name":"buyer","type":"address"},
    {"name":"seller","type":"address"},
    {"name":"lockedAmount","type":"uint256"},
    {"name":"platformFee","type":"uint256"},
    {"name":"status","type":"uint8"},
    {"name":"createdAt","type":"uint256"},
    {"name":"deadline","type":"uint256"},
    {"name":"disputeWindow","type":"uint256"},
    {"name":"abandonmentGrace","type":"uint256"},
    {"name":"deliveredAt","type":"uint256"},
    {"name":"proofHash","type":"bytes32"},
    {"name":"criteriaHash","type":"bytes32"}
  ]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
    {"name":"spender","type":"address"},
    {"name":"amount","type":"uint256"}
  ],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},
    {"name":"spender","type":"address"}
  ],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"}
  ],"outputs":[{"name":"","type":"uint256"}]}
]`

// accountABIJSON covers the ERC-7579 module management and execution surface
// of the smart account.
const accountABIJSON = `[
  {"type":"function","name":"execute","stateMutability":"payable","inputs":[
    {"name":"mode","type":"bytes32"},
    {"name":"executionCalldata","type":"bytes"}
  ],"outputs":[]},
  {"type":"function","name":"installModule","stateMutability":"payable","inputs":[
    {"name":"moduleTypeId","type":"uint256"},
    {"name":"module","type":"address"},
    {"name":"initData","type":"bytes"}
  ],"outputs":[]},
  {"type":"function","name":"uninstallModule","stateMutability":"payable","inputs":[
    {"name":"moduleTypeId","type":"uint256"},
    {"name":"module","type":"address"},
    {"name":"deInitData","type":"bytes"}
  ],"outputs":[]},
  {"type":"function","name":"isModuleInstalled","stateMutability":"view","inputs":[
    {"name":"moduleTypeId","type":"uint256"},
    {"name":"module","type":"address"},
    {"name":"additionalContext","type":"bytes"}
  ],"outputs":[{"name":"","type":"bool"}]}
]`

const entryPointABIJSON = `[
  {"type":"function","name":"getNonce","stateMutability":"view","inputs":[
    {"name":"sender","type":"address"},
    {"name":"key","type":"uint192"}
  ],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

// permissionInitJSON describes the data the permission validator decodes in
// onInstall, after the leading 32-byte permission id.
const permissionInitJSON = `[
  {"type":"function","name":"permissionInit","inputs":[
    {"name":"delegate","type":"address"},
    {"name":"permissions","type":"tuple[]","components":[
      {"name":"target","type":"address"},
      {"name":"selector","type":"bytes4"},
      {"name":"rules","type":"tuple[]","components":[
        {"name":"condition","type":"uint8"},
        {"name":"value","type":"bytes32"}
      ]}
    ]},
    {"name":"validAfter","type":"uint48"},
    {"name":"validUntil","type":"uint48"},
    {"name":"enableSignature","type":"bytes"}
  ],"outputs":[]}
]`

var (
	// EscrowABI is the escrow contract interface.
	EscrowABI = mustParse(escrowABIJSON)
	// ERC20ABI is the subset of ERC-20 the coordinator uses.
	ERC20ABI = mustParse(erc20ABIJSON)
	// AccountABI is the smart account interface.
	AccountABI = mustParse(accountABIJSON)
	// EntryPointABI is the ERC-4337 v0.7 EntryPoint nonce query.
	EntryPointABI = mustParse(entryPointABIJSON)

	permissionInitArgs = mustParse(permissionInitJSON).Methods["permissionInit"].Inputs
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Selector returns the 4-byte selector of method in the given ABI. It panics
// on unknown methods, which are programming errors.
func Selector(contract abi.ABI, method string) [4]byte {
	m, ok := contract.Methods[method]
	if !ok {
		panic("contracts: unknown method " + method)
	}
	var sel [4]byte
	copy(sel[:], m.ID)
	return sel
}

// Escrow method names.
const (
	MethodCreateEscrow    = "createEscrow"
	MethodSubmitDelivery  = "submitDelivery"
	MethodAccept          = "accept"
	MethodFinalizeRelease = "finalizeRelease"
	MethodDispute         = "dispute"
	MethodClaimAbandoned  = "claimAbandoned"
	MethodGetEscrow       = "getEscrow"
	MethodApprove         = "approve"
)

// Number of declared arguments of createEscrow.
const CreateEscrowArgCount = 5
