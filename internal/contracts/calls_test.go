package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestKnownSelectors(t *testing.T) {
	require.Equal(t, [4]byte{0x09, 0x5e, 0xa7, 0xb3}, Selector(ERC20ABI, MethodApprove))
	require.Len(t, EscrowABI.Methods[MethodCreateEscrow].Inputs, CreateEscrowArgCount)

	want := crypto.Keccak256([]byte("accept(bytes32)"))[:4]
	sel := Selector(EscrowABI, MethodAccept)
	require.Equal(t, want, sel[:])
}

func TestEscrowIDIsKeccakOfTransactionID(t *testing.T) {
	id := EscrowID("tx_123")
	require.Equal(t, crypto.Keccak256Hash([]byte("tx_123")), id)
	require.NotEqual(t, id, EscrowID("tx_124"))
}

func TestCreateEscrowHeadLayout(t *testing.T) {
	escrowID := EscrowID("tx_1")
	seller := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	data, err := PackCreateEscrow(escrowID, seller, big.NewInt(100_000_000), token, Terms{
		Deadline:         big.NewInt(1_700_000_000),
		DisputeWindow:    big.NewInt(3600),
		AbandonmentGrace: big.NewInt(172800),
	})
	require.NoError(t, err)
	// Selector plus eight static words: four leading args and the inlined terms tuple.
	require.Len(t, data, 4+8*32)
	require.Equal(t, escrowID.Bytes(), data[4:36])
	require.Equal(t, common.LeftPadBytes(seller.Bytes(), 32), data[36:68])
}

func TestEscrowRecordDecode(t *testing.T) {
	rec := EscrowRecord{
		Token:            common.HexToAddress("0x01"),
		Buyer:            common.HexToAddress("0x02"),
		Seller:           common.HexToAddress("0x03"),
		LockedAmount:     big.NewInt(98),
		PlatformFee:      big.NewInt(2),
		Status:           2,
		CreatedAt:        big.NewInt(10),
		Deadline:         big.NewInt(20),
		DisputeWindow:    big.NewInt(3600),
		AbandonmentGrace: big.NewInt(7200),
		DeliveredAt:      big.NewInt(15),
		ProofHash:        common.HexToHash("0xabc"),
	}
	raw, err := PackEscrowRecord(rec)
	require.NoError(t, err)

	got, err := UnpackEscrow(raw)
	require.NoError(t, err)
	require.Equal(t, rec.Seller, got.Seller)
	require.Equal(t, uint8(2), got.Status)
	require.Equal(t, 0, got.LockedAmount.Cmp(big.NewInt(98)))
	require.Equal(t, rec.ProofHash, got.ProofHash)
	require.Equal(t, common.Hash{}, got.CriteriaHash)

	_, err = UnpackEscrow(raw[:64])
	require.Error(t, err)
}

func TestPackExecuteEncodesSingleExecution(t *testing.T) {
	target := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	inner := []byte{0xde, 0xad, 0xbe, 0xef}
	data, err := PackExecute(target, nil, inner)
	require.NoError(t, err)

	vals, err := AccountABI.Methods["execute"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	execution, ok := vals[1].([]byte)
	require.True(t, ok)
	require.Equal(t, target.Bytes(), execution[:20])
	require.Equal(t, make([]byte, 32), execution[20:52])
	require.Equal(t, inner, execution[52:])
}

func TestPackInstallValidatorCarriesPermissionInit(t *testing.T) {
	validator := common.HexToAddress("0x00000000000000000000000000000000000000f2")
	delegate := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	id := crypto.Keccak256Hash([]byte("permission"))
	initData, err := PackPermissionInit(PermissionInit{
		PermissionID: id,
		Delegate:     delegate,
		Permissions: []PermissionRule{{
			Target:   common.HexToAddress("0xe5"),
			Selector: Selector(EscrowABI, MethodAccept),
			Rules:    []PermissionArg{{Condition: ArgConditionAny}},
		}},
		ValidAfter:      100,
		ValidUntil:      200,
		EnableSignature: make([]byte, 65),
	})
	require.NoError(t, err)
	require.Equal(t, id.Bytes(), initData[:32])

	data, err := PackInstallValidator(validator, initData)
	require.NoError(t, err)
	sel := Selector(AccountABI, "installModule")
	require.Equal(t, sel[:], data[:4])

	vals, err := AccountABI.Methods["installModule"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, ValidatorModuleType, vals[0])
	require.Equal(t, validator, vals[1])
	require.Equal(t, initData, vals[2])

	fields, err := permissionInitArgs.Unpack(initData[32:])
	require.NoError(t, err)
	require.Equal(t, delegate, fields[0])
	require.Equal(t, big.NewInt(200), fields[3])
}
