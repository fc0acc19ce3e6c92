package escrow

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"AgentEscrow/internal/contracts"
	"AgentEscrow/internal/ledger"
)

// expectedLedger maps each chain state to the backend states that agree with
// it. The backend may trail the chain by one step while it indexes events.
var expectedLedger = map[Status][]ledger.TransactionStatus{
	StatusNone:      {ledger.StatusPending},
	StatusFunded:    {ledger.StatusEscrowed, ledger.StatusProcessing},
	StatusDelivered: {ledger.StatusDelivered},
	StatusReleased:  {ledger.StatusCompleted},
	StatusRefunded:  {ledger.StatusRefunded},
	StatusDisputed:  {ledger.StatusDisputed},
	StatusResolved:  {ledger.StatusCompleted, ledger.StatusRefunded},
	StatusAbandoned: {ledger.StatusAbandoned, ledger.StatusRefunded},
}

// ExpectedLedgerStatuses returns the backend states consistent with s.
func ExpectedLedgerStatuses(s Status) []ledger.TransactionStatus {
	return append([]ledger.TransactionStatus(nil), expectedLedger[s]...)
}

// Snapshot reads both views of a transaction and reports whether the backend
// agrees with the chain.
func (c *Coordinator) Snapshot(ctx context.Context, txID string) (out Reconciliation, err error) {
	defer func(started time.Time) { c.observe("snapshot", txID, started, err) }(time.Now())

	if err := requireTxID(txID); err != nil {
		return Reconciliation{}, err
	}
	out.EscrowID = contracts.EscrowID(txID)
	if out.Account, err = c.readEscrow(ctx, out.EscrowID); err != nil {
		return Reconciliation{}, err
	}
	out.Transaction, err = call(ctx, c, "get transaction", func(ctx context.Context) (ledger.Transaction, error) {
		return c.ledger.GetTransaction(ctx, txID)
	})
	if err != nil {
		return Reconciliation{}, err
	}
	out.Expected = ExpectedLedgerStatuses(out.Account.Status)
	for _, s := range out.Expected {
		if s == out.Transaction.Status {
			out.InSync = true
			break
		}
	}
	if !out.InSync {
		c.log.Warn("backend status lags chain",
			"transaction_id", txID,
			"chain_status", out.Account.Status.String(),
			"backend_status", string(out.Transaction.Status))
	}
	return out, nil
}

// ChainReader reads escrow accounts through a contract caller.
type ChainReader struct {
	caller *contracts.Caller
	escrow common.Address
}

var _ Reader = (*ChainReader)(nil)

// NewChainReader reads from the escrow contract at escrow.
func NewChainReader(backend bind.ContractCaller, escrow common.Address) *ChainReader {
	return &ChainReader{caller: contracts.NewCaller(backend), escrow: escrow}
}

// Escrow implements Reader.
func (r *ChainReader) Escrow(ctx context.Context, escrowID common.Hash) (Account, error) {
	rec, err := r.caller.GetEscrow(ctx, r.escrow, escrowID)
	if err != nil {
		return Account{}, err
	}
	return accountFromRecord(escrowID, rec)
}
