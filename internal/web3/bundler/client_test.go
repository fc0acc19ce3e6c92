package bundler

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/web3"
)

const testChainID = 84532

type fakeChain struct{}

func (fakeChain) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || *msg.To != web3.EntryPointV07 {
		return nil, errors.New("unexpected call target")
	}
	return contracts.EntryPointABI.Methods["getNonce"].Outputs.Pack(big.NewInt(7))
}

func (fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(2_000_000_000), nil }

func (fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1_000_000_000), nil }

type bundlerAPI struct {
	mu       sync.Mutex
	sent     []UserOperation
	signers  []common.Address
	polls    int
	success  bool
	estimate error
}

func (b *bundlerAPI) EstimateUserOperationGas(op UserOperation, entryPoint common.Address) (GasEstimate, error) {
	if b.estimate != nil {
		return GasEstimate{}, b.estimate
	}
	return GasEstimate{
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(50_000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(120_000)),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(90_000)),
	}, nil
}

func (b *bundlerAPI) SendUserOperation(op UserOperation, entryPoint common.Address) (common.Hash, error) {
	hash, err := op.Hash(entryPoint, big.NewInt(testChainID))
	if err != nil {
		return common.Hash{}, err
	}
	signer, err := RecoverSigner(hash, op.Signature)
	if err != nil {
		return common.Hash{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, op)
	b.signers = append(b.signers, signer)
	return hash, nil
}

func (b *bundlerAPI) GetUserOperationReceipt(hash common.Hash) (*Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls++
	if b.polls < 2 {
		return nil, nil
	}
	r := &Receipt{UserOpHash: hash, Success: b.success}
	r.Receipt.TransactionHash = crypto.Keccak256Hash(hash.Bytes())
	if !b.success {
		r.Reason = "0x08c379a0"
	}
	return r, nil
}

type paymasterAPI struct {
	mu    sync.Mutex
	calls []string
}

func (p *paymasterAPI) GetPaymasterStubData(op UserOperation, entryPoint common.Address, chainID hexutil.Uint64, ctx map[string]any) (PaymasterFields, error) {
	p.mu.Lock()
	p.calls = append(p.calls, "stub")
	p.mu.Unlock()
	return PaymasterFields{
		Paymaster:                     common.HexToAddress("0x00000000000000000000000000000000000000fa"),
		PaymasterData:                 []byte{0x00},
		PaymasterVerificationGasLimit: (*hexutil.Big)(big.NewInt(30_000)),
		PaymasterPostOpGasLimit:       (*hexutil.Big)(big.NewInt(20_000)),
	}, nil
}

func (p *paymasterAPI) GetPaymasterData(op UserOperation, entryPoint common.Address, chainID hexutil.Uint64, ctx map[string]any) (PaymasterFields, error) {
	p.mu.Lock()
	p.calls = append(p.calls, "final")
	p.mu.Unlock()
	return PaymasterFields{
		Paymaster:     common.HexToAddress("0x00000000000000000000000000000000000000fa"),
		PaymasterData: []byte{0xca, 0xfe},
	}, nil
}

func newTestClient(t *testing.T, bundler *bundlerAPI, paymaster *paymasterAPI) *Client {
	t.Helper()
	server := gethrpc.NewServer()
	require.NoError(t, server.RegisterName("eth", bundler))
	if paymaster != nil {
		require.NoError(t, server.RegisterName("pm", paymaster))
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})

	rpcClient, err := gethrpc.DialHTTP(httpServer.URL)
	require.NoError(t, err)
	var pmClient *gethrpc.Client
	if paymaster != nil {
		pmClient = rpcClient
	}
	client := NewClient(rpcClient, pmClient, fakeChain{}, Config{
		ChainID:      testChainID,
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(client.Close)
	return client
}

type keyAuth struct {
	sign func(common.Hash) ([]byte, error)
	lane *big.Int
}

func (k keyAuth) NonceKey() *big.Int                           { return k.lane }
func (k keyAuth) SignUserOpHash(h common.Hash) ([]byte, error) { return k.sign(h) }

func newKeyAuth(t *testing.T) (keyAuth, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return keyAuth{
		sign: func(h common.Hash) ([]byte, error) { return SignHash(key, h) },
		lane: big.NewInt(0),
	}, crypto.PubkeyToAddress(key.PublicKey)
}

func TestSubmitSelfFunded(t *testing.T) {
	api := &bundlerAPI{success: true}
	client := newTestClient(t, api, nil)
	auth, signer := newKeyAuth(t)

	account := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	target := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	txHash, err := client.Submit(context.Background(), account, web3.Call{To: target, Data: []byte{1, 2, 3, 4}}, auth, false)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, txHash)

	require.Len(t, api.sent, 1)
	op := api.sent[0]
	require.Equal(t, account, op.Sender)
	require.Equal(t, int64(7), op.Nonce.ToInt().Int64())
	require.Nil(t, op.Paymaster)
	require.Equal(t, int64(90_000), op.CallGasLimit.ToInt().Int64())
	require.Equal(t, signer, api.signers[0])
	require.GreaterOrEqual(t, api.polls, 2)
}

func TestSubmitSponsoredUsesPaymaster(t *testing.T) {
	api := &bundlerAPI{success: true}
	pm := &paymasterAPI{}
	client := newTestClient(t, api, pm)
	auth, _ := newKeyAuth(t)

	_, err := client.Submit(context.Background(), common.HexToAddress("0xa1"), web3.Call{To: common.HexToAddress("0xb2")}, auth, true)
	require.NoError(t, err)
	require.Equal(t, []string{"stub", "final"}, pm.calls)

	op := api.sent[0]
	require.NotNil(t, op.Paymaster)
	require.Equal(t, hexutil.Bytes{0xca, 0xfe}, op.PaymasterData)
	require.Equal(t, int64(30_000), op.PaymasterVerificationGasLimit.ToInt().Int64())
}

func TestSubmitFailures(t *testing.T) {
	auth, _ := newKeyAuth(t)
	ctx := context.Background()
	call := web3.Call{To: common.HexToAddress("0xb2")}

	client := newTestClient(t, &bundlerAPI{success: true}, nil)
	_, err := client.Submit(ctx, common.HexToAddress("0xa1"), call, auth, true)
	require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet))

	client = newTestClient(t, &bundlerAPI{success: false}, nil)
	_, err = client.Submit(ctx, common.HexToAddress("0xa1"), call, auth, false)
	require.True(t, xerrors.HasCode(err, xerrors.CodeReverted))

	client = newTestClient(t, &bundlerAPI{estimate: errors.New("AA21 didn't pay prefund")}, nil)
	_, err = client.Submit(ctx, common.HexToAddress("0xa1"), call, auth, false)
	require.True(t, xerrors.HasCode(err, xerrors.CodeReverted))
}

func TestUserOperationHashIgnoresSignature(t *testing.T) {
	op := &UserOperation{
		Sender:               common.HexToAddress("0xa1"),
		Nonce:                (*hexutil.Big)(big.NewInt(1)),
		CallData:             []byte{0x01},
		MaxFeePerGas:         (*hexutil.Big)(big.NewInt(10)),
		MaxPriorityFeePerGas: (*hexutil.Big)(big.NewInt(1)),
	}
	h1, err := op.Hash(web3.EntryPointV07, big.NewInt(testChainID))
	require.NoError(t, err)

	op.Signature = DummySignature
	h2, err := op.Hash(web3.EntryPointV07, big.NewInt(testChainID))
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	op.CallData = []byte{0x02}
	h3, err := op.Hash(web3.EntryPointV07, big.NewInt(testChainID))
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)

	h4, err := op.Hash(web3.EntryPointV07, big.NewInt(1))
	require.NoError(t, err)
	require.NotEqual(t, h3, h4)
}

func TestDummySignatureIsWellFormed(t *testing.T) {
	require.Len(t, DummySignature, crypto.SignatureLength)
	require.Equal(t, byte(0x1c), DummySignature[crypto.SignatureLength-1])
}

func TestDialRequiresBundlerURL(t *testing.T) {
	_, err := Dial(context.Background(), Config{BundlerURL: "  "}, nil)
	require.EqualError(t, err, "bundler url is not configured")
}
