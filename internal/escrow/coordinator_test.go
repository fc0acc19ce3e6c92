package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"AgentEscrow/internal/capability"
	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/gas"
	"AgentEscrow/internal/ledger"
	"AgentEscrow/internal/web3"
	"AgentEscrow/internal/web3/bundler"
)

var (
	seller  = common.HexToAddress("0x00000000000000000000000000000000000005e1")
	buyer   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	oneUSDC = big.NewInt(1_000_000)
	t0      = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

// journal records the order of side effects across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeLedger struct {
	log      *journal
	tx       ledger.Transaction
	fund     func(txHash common.Hash) ledger.FundResult
	evidence []ledger.Evidence
}

func (f *fakeLedger) GetTransaction(_ context.Context, id string) (ledger.Transaction, error) {
	f.log.add("ledger:get")
	tx := f.tx
	tx.ID = id
	return tx, nil
}

func (f *fakeLedger) Confirm(_ context.Context, id string) (ledger.Transaction, error) {
	f.log.add("ledger:confirm")
	return ledger.Transaction{ID: id, Status: ledger.StatusCompleted}, nil
}

func (f *fakeLedger) Deliver(_ context.Context, id string, payload any) (ledger.Transaction, error) {
	f.log.add("ledger:deliver")
	raw, _ := payload.(json.RawMessage)
	return ledger.Transaction{ID: id, Status: ledger.StatusDelivered, ResponsePayload: raw}, nil
}

func (f *fakeLedger) OpenDispute(_ context.Context, id, reason string) (ledger.Transaction, error) {
	f.log.add("ledger:dispute")
	return ledger.Transaction{ID: id, Status: ledger.StatusDisputed, DisputeReason: reason}, nil
}

func (f *fakeLedger) DisputeStatus(_ context.Context, id string) (ledger.DisputeStatus, error) {
	f.log.add("ledger:dispute-status")
	return ledger.DisputeStatus{Status: "evaluating", EvidenceCount: len(f.evidence)}, nil
}

func (f *fakeLedger) SubmitEvidence(_ context.Context, id string, ev ledger.Evidence) (string, error) {
	f.log.add("ledger:evidence")
	f.evidence = append(f.evidence, ev)
	return fmt.Sprintf("ev-%d", len(f.evidence)), nil
}

func (f *fakeLedger) Fund(_ context.Context, id string, txHash common.Hash) (ledger.FundResult, error) {
	f.log.add("ledger:fund")
	return f.fund(txHash), nil
}

type fakeReader struct {
	mu       sync.Mutex
	log      *journal
	accounts map[common.Hash]Account
}

func (r *fakeReader) Escrow(_ context.Context, id common.Hash) (Account, error) {
	r.log.add("chain:read")
	r.mu.Lock()
	defer r.mu.Unlock()
	if acct, ok := r.accounts[id]; ok {
		return acct, nil
	}
	return Account{EscrowID: id, Status: StatusNone}, nil
}

func (r *fakeReader) set(txID string, acct Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct.EscrowID = contracts.EscrowID(txID)
	r.accounts[acct.EscrowID] = acct
}

type blockingReader struct{}

func (blockingReader) Escrow(ctx context.Context, _ common.Hash) (Account, error) {
	<-ctx.Done()
	return Account{}, ctx.Err()
}

type recordingSigner struct {
	name  string
	addr  common.Address
	log   *journal
	mu    sync.Mutex
	calls []web3.Call
}

func (s *recordingSigner) Address() common.Address { return s.addr }

func (s *recordingSigner) SubmitCall(_ context.Context, call web3.Call) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	s.log.add(fmt.Sprintf("%s:%x", s.name, call.Selector()))
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s-%d", s.name, len(s.calls)))), nil
}

type fixture struct {
	log     *journal
	ledger  *fakeLedger
	reader  *fakeReader
	signer  *recordingSigner
	network web3.Network
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	network, err := web3.DefaultNetworks().ByChainID(web3.ChainIDBaseSepolia)
	require.NoError(t, err)
	log := &journal{}
	f := &fixture{
		log:     log,
		reader:  &fakeReader{log: log, accounts: map[common.Hash]Account{}},
		signer:  &recordingSigner{name: "session", addr: buyer, log: log},
		network: network,
		now:     t0,
	}
	f.ledger = &fakeLedger{log: log, fund: f.honestFunding}
	return f
}

func (f *fixture) honestFunding(txHash common.Hash) ledger.FundResult {
	return ledger.FundResult{
		Status:       ledger.StatusEscrowed,
		EscrowTxHash: txHash.Hex(),
		OnChain: ledger.OnChainEscrow{
			EscrowID:     contracts.EscrowID("tx_fund").Hex(),
			LockedAmount: "98000000",
			PlatformFee:  "2000000",
		},
	}
}

func (f *fixture) coordinator(t *testing.T, mutate ...func(*Options)) *Coordinator {
	t.Helper()
	opts := Options{
		Network: f.network,
		Ledger:  f.ledger,
		Reader:  f.reader,
		Signer:  f.signer,
		Clock:   func() time.Time { return f.now },
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := NewCoordinator(opts)
	require.NoError(t, err)
	return c
}

func selectorOf(method string) string {
	var sel [4]byte
	if method == contracts.MethodApprove {
		sel = contracts.Selector(contracts.ERC20ABI, method)
	} else {
		sel = contracts.Selector(contracts.EscrowABI, method)
	}
	return fmt.Sprintf("%x", sel)
}

func TestPlatformFeeRoundsHalfUp(t *testing.T) {
	cases := map[int64]int64{
		100_000_000: 2_000_000,
		25:          1, // 0.5
		75:          2, // 1.5
		24:          0, // 0.48
		1:           0,
	}
	for amount, fee := range cases {
		require.Equal(t, fee, PlatformFee(big.NewInt(amount)).Int64(), "amount %d", amount)
		require.Equal(t, amount-fee, LockedAmount(big.NewInt(amount)).Int64(), "amount %d", amount)
	}
	require.Zero(t, PlatformFee(nil).Sign())
}

func TestFundApprovesCreatesAndVerifies(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	amount := new(big.Int).Mul(big.NewInt(100), oneUSDC)
	out, err := c.Fund(context.Background(), FundRequest{
		TransactionID: "tx_fund",
		Seller:        seller,
		Amount:        amount,
	})
	require.NoError(t, err)
	require.True(t, out.Verified)
	require.Equal(t, contracts.EscrowID("tx_fund"), out.EscrowID)
	require.Equal(t, int64(2_000_000), out.PlatformFee.Int64())
	require.Equal(t, int64(98_000_000), out.LockedAmount.Int64())
	require.Equal(t, out.TxHash.Hex(), out.Backend.EscrowTxHash)

	require.Equal(t, []string{
		"chain:read",
		"session:" + selectorOf(contracts.MethodApprove),
		"session:" + selectorOf(contracts.MethodCreateEscrow),
		"ledger:fund",
	}, f.log.list())

	usdc, _ := f.network.Token("USDC")
	require.Equal(t, usdc.Address, f.signer.calls[0].To)
	require.Equal(t, common.LeftPadBytes(f.network.Escrow.Bytes(), 32), f.signer.calls[0].Data[4:36])
	require.Equal(t, f.network.Escrow, f.signer.calls[1].To)

	// createEscrow arguments are all static: id, seller, amount, token, then
	// the four terms words inline.
	create := f.signer.calls[1].Data
	require.Len(t, create, 4+32*(contracts.CreateEscrowArgCount+3))
	word := func(i int) *big.Int { return new(big.Int).SetBytes(create[4+32*i : 4+32*(i+1)]) }
	require.Zero(t, amount.Cmp(word(2)))
	require.Equal(t, t0.Add(DefaultDeliveryDeadline).Unix(), word(4).Int64())
	require.Equal(t, int64(3600), word(5).Int64())
	require.Equal(t, int64(48*3600), word(6).Int64())
}

func TestFundRejectsLocallyBeforeSubmitting(t *testing.T) {
	f := newFixture(t)
	amount := new(big.Int).Mul(big.NewInt(5), oneUSDC)

	noWallet := f.coordinator(t, func(o *Options) { o.Signer = nil })
	_, err := noWallet.Fund(context.Background(), FundRequest{TransactionID: "tx_a", Seller: seller, Amount: amount})
	require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet), "got %v", err)

	c := f.coordinator(t)
	_, err = c.Fund(context.Background(), FundRequest{TransactionID: "tx_a", Seller: seller, Amount: big.NewInt(0)})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	_, err = c.Fund(context.Background(), FundRequest{TransactionID: "tx_a", Amount: amount})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	_, err = c.Fund(context.Background(), FundRequest{TransactionID: "tx_a", Seller: seller, Amount: amount, Token: "WBTC"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeUnregisteredToken))

	_, err = c.Fund(context.Background(), FundRequest{TransactionID: "tx_a", Seller: seller, Amount: amount, Deadline: t0.Add(-time.Minute)})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	f.reader.set("tx_a", Account{Status: StatusFunded})
	_, err = c.Fund(context.Background(), FundRequest{TransactionID: "tx_a", Seller: seller, Amount: amount})
	require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet))

	require.Empty(t, f.signer.calls)
}

func TestFundReportsBackendMismatch(t *testing.T) {
	f := newFixture(t)
	f.ledger.fund = func(txHash common.Hash) ledger.FundResult {
		res := f.honestFunding(txHash)
		res.OnChain.LockedAmount = "97000000"
		return res
	}
	c := f.coordinator(t)

	out, err := c.Fund(context.Background(), FundRequest{
		TransactionID: "tx_fund",
		Seller:        seller,
		Amount:        new(big.Int).Mul(big.NewInt(100), oneUSDC),
	})
	require.True(t, xerrors.HasCode(err, xerrors.CodeVerificationMismatch), "got %v", err)
	require.False(t, out.Verified)
	require.NotEqual(t, common.Hash{}, out.TxHash)
	e, ok := xerrors.From(err)
	require.True(t, ok)
	require.Contains(t, e.Metadata()["locked_amount"], "97000000")
	require.True(t, xerrors.ShouldAlert(err))
}

func TestConfirmAndRelease(t *testing.T) {
	t.Run("delivered escrow is accepted after backend confirm", func(t *testing.T) {
		f := newFixture(t)
		f.reader.set("tx_1", Account{Status: StatusDelivered, DeliveredAt: t0, DisputeWindow: time.Hour})
		out, err := f.coordinator(t).ConfirmAndRelease(context.Background(), "tx_1")
		require.NoError(t, err)
		require.True(t, out.Accepted())
		require.Equal(t, StatusReleased, out.OnChainStatus)
		require.Equal(t, ledger.StatusCompleted, out.Transaction.Status)
		require.Equal(t, []string{"ledger:confirm", "chain:read", "session:" + selectorOf(contracts.MethodAccept)}, f.log.list())
	})

	t.Run("no wallet only confirms with backend", func(t *testing.T) {
		f := newFixture(t)
		out, err := f.coordinator(t, func(o *Options) { o.Signer = nil }).ConfirmAndRelease(context.Background(), "tx_1")
		require.NoError(t, err)
		require.False(t, out.Accepted())
		require.Equal(t, []string{"ledger:confirm"}, f.log.list())
	})

	t.Run("funded escrow is left alone", func(t *testing.T) {
		f := newFixture(t)
		f.reader.set("tx_1", Account{Status: StatusFunded})
		out, err := f.coordinator(t).ConfirmAndRelease(context.Background(), "tx_1")
		require.NoError(t, err)
		require.False(t, out.Accepted())
		require.Equal(t, StatusFunded, out.OnChainStatus)
		require.Empty(t, f.signer.calls)
	})
}

func TestDisputeWindow(t *testing.T) {
	f := newFixture(t)
	f.reader.set("tx_d", Account{Status: StatusDelivered, DeliveredAt: t0, DisputeWindow: time.Hour})
	c := f.coordinator(t)

	_, err := c.Dispute(context.Background(), "tx_d", "  ")
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	f.now = t0.Add(2 * time.Hour)
	_, err = c.Dispute(context.Background(), "tx_d", "wrong output")
	require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet), "got %v", err)
	require.Empty(t, f.signer.calls)

	f.now = t0.Add(time.Hour)
	out, err := c.Dispute(context.Background(), "tx_d", "wrong output")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDisputed, out.Transaction.Status)
	require.Equal(t, "wrong output", out.Transaction.DisputeReason)
	entries := f.log.list()
	require.Equal(t, []string{"session:" + selectorOf(contracts.MethodDispute), "ledger:dispute"}, entries[len(entries)-2:])

	f.reader.set("tx_funded", Account{Status: StatusFunded})
	_, err = c.Dispute(context.Background(), "tx_funded", "late")
	require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet))
}

func TestEvidencePassthrough(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	_, err := c.SubmitEvidence(context.Background(), "tx_d", ledger.Evidence{Type: "audio", Content: "x"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	id, err := c.SubmitEvidence(context.Background(), "tx_d", ledger.Evidence{Type: ledger.EvidenceText, Content: "log excerpt"})
	require.NoError(t, err)
	require.Equal(t, "ev-1", id)

	status, err := c.DisputeStatus(context.Background(), "tx_d")
	require.NoError(t, err)
	require.Equal(t, 1, status.EvidenceCount)
}

func TestFinalizeReleaseWaitsForWindow(t *testing.T) {
	f := newFixture(t)
	f.reader.set("tx_f", Account{Status: StatusDelivered, DeliveredAt: t0, DisputeWindow: time.Hour})
	c := f.coordinator(t)

	f.now = t0.Add(30 * time.Minute)
	_, err := c.FinalizeRelease(context.Background(), "tx_f")
	require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet))

	f.now = t0.Add(time.Hour + time.Second)
	hash, err := c.FinalizeRelease(context.Background(), "tx_f")
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)
	require.Len(t, f.signer.calls, 1)
}

func TestSubmitDeliveryAndDeliver(t *testing.T) {
	f := newFixture(t)
	f.reader.set("tx_s", Account{Status: StatusFunded, Deadline: t0.Add(time.Hour)})
	c := f.coordinator(t)

	_, err := c.SubmitDelivery(context.Background(), "tx_s", common.Hash{})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	payload := json.RawMessage(`{"summary":"done"}`)
	out, err := c.Deliver(context.Background(), "tx_s", payload)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(payload), out.ProofHash)
	require.Equal(t, ledger.StatusDelivered, out.Transaction.Status)
	require.Equal(t, f.network.Escrow, f.signer.calls[0].To)
	require.Equal(t, out.ProofHash.Bytes(), f.signer.calls[0].Data[36:68])

	f.now = t0.Add(time.Hour)
	_, err = c.SubmitDelivery(context.Background(), "tx_s", out.ProofHash)
	require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet))
}

func TestClaimAbandoned(t *testing.T) {
	deadline := t0.Add(7 * 24 * time.Hour)
	account := Account{Status: StatusFunded, Buyer: buyer, Seller: seller, Deadline: deadline, AbandonmentGrace: 48 * time.Hour}

	t.Run("grace period must elapse", func(t *testing.T) {
		f := newFixture(t)
		f.reader.set("tx_ab", account)
		f.now = deadline.Add(47 * time.Hour)
		_, err := f.coordinator(t).ClaimAbandoned(context.Background(), "tx_ab")
		require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet))
		require.Empty(t, f.signer.calls)
	})

	t.Run("delivered escrow cannot be claimed", func(t *testing.T) {
		f := newFixture(t)
		delivered := account
		delivered.Status = StatusDelivered
		f.reader.set("tx_ab", delivered)
		f.now = deadline.Add(72 * time.Hour)
		_, err := f.coordinator(t).ClaimAbandoned(context.Background(), "tx_ab")
		require.True(t, xerrors.HasCode(err, xerrors.CodePreconditionNotMet))
	})

	t.Run("owner signer claims", func(t *testing.T) {
		f := newFixture(t)
		f.reader.set("tx_ab", account)
		f.now = deadline.Add(49 * time.Hour)
		owner := &recordingSigner{name: "owner", addr: buyer, log: f.log}
		hash, err := f.coordinator(t, func(o *Options) { o.OwnerSigner = owner }).ClaimAbandoned(context.Background(), "tx_ab")
		require.NoError(t, err)
		require.NotEqual(t, common.Hash{}, hash)
		require.Len(t, owner.calls, 1)
		require.Empty(t, f.signer.calls)
	})

	t.Run("session policy rejects the claim", func(t *testing.T) {
		f := newFixture(t)
		f.reader.set("tx_ab", account)
		f.now = deadline.Add(49 * time.Hour)

		session, sub := loadSession(t)
		c := f.coordinator(t, func(o *Options) { o.Signer = session })
		_, err := c.ClaimAbandoned(context.Background(), "tx_ab")
		require.True(t, xerrors.HasCode(err, xerrors.CodePolicyViolation), "got %v", err)
		require.Empty(t, sub.calls)
	})
}

type countingSubmitter struct {
	mu    sync.Mutex
	calls []web3.Call
}

func (s *countingSubmitter) Submit(_ context.Context, _ common.Address, call web3.Call, _ bundler.Authorizer, _ bool) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return common.Hash{0x01}, nil
}

// loadSession issues and loads a default escrow session on Base Sepolia whose
// own clock stays inside the validity window.
func loadSession(t *testing.T) (*capability.Session, *countingSubmitter) {
	t.Helper()
	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	nets := web3.DefaultNetworks()
	issued, err := capability.Issue(nets, capability.IssueRequest{
		OwnerKey: ownerKey,
		ChainID:  web3.ChainIDBaseSepolia,
		Account:  buyer,
		Now:      func() time.Time { return t0 },
	})
	require.NoError(t, err)
	sub := &countingSubmitter{}
	session, err := capability.Load(context.Background(), nets, issued.Credential, web3.ChainIDBaseSepolia, capability.LoadOptions{
		Strategy:  gas.SelfFunded,
		Submitter: sub,
		Clock:     func() time.Time { return t0.Add(time.Minute) },
	})
	require.NoError(t, err)
	return session, sub
}

func TestSessionSignerFundsEscrow(t *testing.T) {
	f := newFixture(t)
	session, sub := loadSession(t)
	c := f.coordinator(t, func(o *Options) { o.Signer = session })

	out, err := c.Fund(context.Background(), FundRequest{
		TransactionID: "tx_fund",
		Seller:        seller,
		Amount:        new(big.Int).Mul(big.NewInt(100), oneUSDC),
	})
	require.NoError(t, err)
	require.True(t, out.Verified)
	require.Len(t, sub.calls, 2)
}

func TestCallTimeout(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, func(o *Options) {
		o.Reader = blockingReader{}
		o.CallTimeout = 20 * time.Millisecond
	})
	_, err := c.FinalizeRelease(context.Background(), "tx_slow")
	require.True(t, xerrors.HasCode(err, xerrors.CodeTimeout), "got %v", err)
	require.True(t, xerrors.RetryableError(err))
	require.Empty(t, f.signer.calls)
}

func TestSnapshotReconciles(t *testing.T) {
	f := newFixture(t)
	f.reader.set("tx_r", Account{Status: StatusReleased})
	c := f.coordinator(t)

	f.ledger.tx = ledger.Transaction{Status: ledger.StatusDelivered}
	rec, err := c.Snapshot(context.Background(), "tx_r")
	require.NoError(t, err)
	require.False(t, rec.InSync)
	require.Equal(t, []ledger.TransactionStatus{ledger.StatusCompleted}, rec.Expected)

	f.ledger.tx = ledger.Transaction{Status: ledger.StatusCompleted}
	rec, err = c.Snapshot(context.Background(), "tx_r")
	require.NoError(t, err)
	require.True(t, rec.InSync)
	require.Equal(t, contracts.EscrowID("tx_r"), rec.EscrowID)
}

func TestNewCoordinatorRequiresEscrow(t *testing.T) {
	f := newFixture(t)
	polygon, err := web3.DefaultNetworks().ByChainID(web3.ChainIDPolygon)
	require.NoError(t, err)
	_, err = NewCoordinator(Options{Network: polygon, Ledger: f.ledger, Reader: f.reader})
	require.True(t, xerrors.HasCode(err, xerrors.CodeUnsupportedChain))

	_, err = NewCoordinator(Options{Network: f.network, Reader: f.reader})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInitializationFailure))
}

type escrowCaller struct {
	data []byte
}

func (e escrowCaller) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return e.data, nil
}

func (e escrowCaller) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func TestChainReaderDecodesRecord(t *testing.T) {
	data, err := contracts.PackEscrowRecord(contracts.EscrowRecord{
		Token:            common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		Buyer:            buyer,
		Seller:           seller,
		LockedAmount:     big.NewInt(98_000_000),
		PlatformFee:      big.NewInt(2_000_000),
		Status:           uint8(StatusDelivered),
		CreatedAt:        big.NewInt(t0.Unix()),
		Deadline:         big.NewInt(t0.Add(time.Hour).Unix()),
		DisputeWindow:    big.NewInt(3600),
		AbandonmentGrace: big.NewInt(172800),
		DeliveredAt:      big.NewInt(t0.Add(10 * time.Minute).Unix()),
	})
	require.NoError(t, err)

	reader := NewChainReader(escrowCaller{data: data}, common.HexToAddress("0x1Aed68edafC24cc936cFabEcF88012CdF5DA0601"))
	acct, err := reader.Escrow(context.Background(), contracts.EscrowID("tx_c"))
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, acct.Status)
	require.Equal(t, seller, acct.Seller)
	require.Equal(t, time.Hour, acct.DisputeWindow)
	require.Equal(t, 48*time.Hour, acct.AbandonmentGrace)
	require.True(t, acct.DisputeDeadline().Equal(t0.Add(70*time.Minute)))
	require.True(t, acct.AbandonableAfter().Equal(t0.Add(49*time.Hour)))

	bad, err := contracts.PackEscrowRecord(contracts.EscrowRecord{Status: 9})
	require.NoError(t, err)
	_, err = NewChainReader(escrowCaller{data: bad}, common.Address{}).Escrow(context.Background(), common.Hash{})
	require.Error(t, err)
}
