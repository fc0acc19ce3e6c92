package escrow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/ledger"
	"AgentEscrow/internal/web3"
)

func (c *Coordinator) escrowCall(method string, id common.Hash) (web3.Call, error) {
	data, err := contracts.PackEscrowCall(method, id)
	if err != nil {
		return web3.Call{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode "+method)
	}
	return web3.Call{To: c.network.Escrow, Data: data}, nil
}

// ConfirmAndRelease confirms the delivery with the backend and, when a wallet
// is loaded and the escrow awaits acceptance, releases the funds on-chain.
// Without a wallet, or in any other on-chain state, only the backend is told.
func (c *Coordinator) ConfirmAndRelease(ctx context.Context, txID string) (out ReleaseOutcome, err error) {
	defer func(started time.Time) { c.observe("confirm", txID, started, err) }(time.Now())

	if err := requireTxID(txID); err != nil {
		return ReleaseOutcome{}, err
	}
	out.Transaction, err = call(ctx, c, "confirm delivery", func(ctx context.Context) (ledger.Transaction, error) {
		return c.ledger.Confirm(ctx, txID)
	})
	if err != nil {
		return ReleaseOutcome{}, err
	}
	if c.signer == nil {
		return out, nil
	}

	id := contracts.EscrowID(txID)
	acct, err := c.readEscrow(ctx, id)
	if err != nil {
		return out, err
	}
	out.OnChainStatus = acct.Status
	if acct.Status != StatusDelivered {
		c.log.Info("escrow not awaiting acceptance, skipping on-chain accept",
			"transaction_id", txID, "status", acct.Status.String())
		return out, nil
	}
	accept, err := c.escrowCall(contracts.MethodAccept, id)
	if err != nil {
		return out, err
	}
	if out.AcceptTxHash, err = c.submit(ctx, c.signer, contracts.MethodAccept, accept); err != nil {
		return out, err
	}
	out.OnChainStatus = StatusReleased
	return out, nil
}

// SubmitDelivery records the seller's proof on-chain. The escrow must be
// funded and the delivery deadline not yet reached.
func (c *Coordinator) SubmitDelivery(ctx context.Context, txID string, proofHash common.Hash) (hash common.Hash, err error) {
	defer func(started time.Time) { c.observe("submit_delivery", txID, started, err) }(time.Now())
	return c.submitDelivery(ctx, txID, proofHash)
}

func (c *Coordinator) submitDelivery(ctx context.Context, txID string, proofHash common.Hash) (common.Hash, error) {
	if err := c.requireSigner(); err != nil {
		return common.Hash{}, err
	}
	if err := requireTxID(txID); err != nil {
		return common.Hash{}, err
	}
	if proofHash == (common.Hash{}) {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "proof hash is required")
	}
	id := contracts.EscrowID(txID)
	acct, err := c.readEscrow(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	if acct.Status != StatusFunded {
		return common.Hash{}, notMet("escrow is not awaiting delivery", acct)
	}
	if !c.now().Before(acct.Deadline) {
		return common.Hash{}, notMet("delivery deadline has passed", acct,
			xerrors.WithMetadata("deadline", acct.Deadline.Format(time.RFC3339)))
	}
	data, err := contracts.PackSubmitDelivery(id, proofHash)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode submitDelivery")
	}
	return c.submit(ctx, c.signer, contracts.MethodSubmitDelivery, web3.Call{To: c.network.Escrow, Data: data})
}

// Deliver hashes the response payload into a delivery proof, submits it
// on-chain and records the payload with the backend.
func (c *Coordinator) Deliver(ctx context.Context, txID string, payload json.RawMessage) (out DeliveryOutcome, err error) {
	defer func(started time.Time) { c.observe("deliver", txID, started, err) }(time.Now())

	if len(payload) == 0 || !json.Valid(payload) {
		return DeliveryOutcome{}, xerrors.New(xerrors.CodeInvalidArgument, "response payload must be valid JSON")
	}
	out.ProofHash = crypto.Keccak256Hash(payload)
	if out.TxHash, err = c.submitDelivery(ctx, txID, out.ProofHash); err != nil {
		return out, err
	}
	out.Transaction, err = call(ctx, c, "record delivery", func(ctx context.Context) (ledger.Transaction, error) {
		return c.ledger.Deliver(ctx, txID, payload)
	})
	return out, err
}

// Dispute contests a delivery within the dispute window, on-chain first and
// then with the backend.
func (c *Coordinator) Dispute(ctx context.Context, txID, reason string) (out DisputeOutcome, err error) {
	defer func(started time.Time) { c.observe("dispute", txID, started, err) }(time.Now())

	if err := c.requireSigner(); err != nil {
		return DisputeOutcome{}, err
	}
	if err := requireTxID(txID); err != nil {
		return DisputeOutcome{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return DisputeOutcome{}, xerrors.New(xerrors.CodeInvalidArgument, "dispute reason is required")
	}
	id := contracts.EscrowID(txID)
	acct, err := c.readEscrow(ctx, id)
	if err != nil {
		return DisputeOutcome{}, err
	}
	if acct.Status != StatusDelivered {
		return DisputeOutcome{}, notMet("only delivered escrows can be disputed", acct)
	}
	if c.now().After(acct.DisputeDeadline()) {
		return DisputeOutcome{}, notMet("dispute window has closed", acct,
			xerrors.WithMetadata("dispute_deadline", acct.DisputeDeadline().Format(time.RFC3339)))
	}
	dispute, err := c.escrowCall(contracts.MethodDispute, id)
	if err != nil {
		return DisputeOutcome{}, err
	}
	if out.TxHash, err = c.submit(ctx, c.signer, contracts.MethodDispute, dispute); err != nil {
		return out, err
	}
	out.Transaction, err = call(ctx, c, "open dispute", func(ctx context.Context) (ledger.Transaction, error) {
		return c.ledger.OpenDispute(ctx, txID, reason)
	})
	return out, err
}

// SubmitEvidence forwards dispute evidence to the backend.
func (c *Coordinator) SubmitEvidence(ctx context.Context, txID string, ev ledger.Evidence) (id string, err error) {
	defer func(started time.Time) { c.observe("evidence", txID, started, err) }(time.Now())

	if err := requireTxID(txID); err != nil {
		return "", err
	}
	if !ev.Type.Valid() {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "unknown evidence type "+string(ev.Type))
	}
	if strings.TrimSpace(ev.Content) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "evidence content is required")
	}
	return call(ctx, c, "submit evidence", func(ctx context.Context) (string, error) {
		return c.ledger.SubmitEvidence(ctx, txID, ev)
	})
}

// DisputeStatus reports the backend's view of the dispute.
func (c *Coordinator) DisputeStatus(ctx context.Context, txID string) (ledger.DisputeStatus, error) {
	if err := requireTxID(txID); err != nil {
		return ledger.DisputeStatus{}, err
	}
	return call(ctx, c, "dispute status", func(ctx context.Context) (ledger.DisputeStatus, error) {
		return c.ledger.DisputeStatus(ctx, txID)
	})
}

// FinalizeRelease releases a delivered escrow once the dispute window has
// elapsed without a dispute.
func (c *Coordinator) FinalizeRelease(ctx context.Context, txID string) (hash common.Hash, err error) {
	defer func(started time.Time) { c.observe("finalize", txID, started, err) }(time.Now())

	if err := c.requireSigner(); err != nil {
		return common.Hash{}, err
	}
	if err := requireTxID(txID); err != nil {
		return common.Hash{}, err
	}
	id := contracts.EscrowID(txID)
	acct, err := c.readEscrow(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	if acct.Status != StatusDelivered {
		return common.Hash{}, notMet("only delivered escrows can be finalized", acct)
	}
	if !c.now().After(acct.DisputeDeadline()) {
		return common.Hash{}, notMet("dispute window still open", acct,
			xerrors.WithMetadata("dispute_deadline", acct.DisputeDeadline().Format(time.RFC3339)))
	}
	finalize, err := c.escrowCall(contracts.MethodFinalizeRelease, id)
	if err != nil {
		return common.Hash{}, err
	}
	return c.submit(ctx, c.signer, contracts.MethodFinalizeRelease, finalize)
}

// ClaimAbandoned returns an undelivered escrow to the buyer after the
// deadline plus grace period. The claim goes through the owner signer when
// one is configured.
func (c *Coordinator) ClaimAbandoned(ctx context.Context, txID string) (hash common.Hash, err error) {
	defer func(started time.Time) { c.observe("claim_abandoned", txID, started, err) }(time.Now())

	signer := c.ownerSigner
	if signer == nil {
		signer = c.signer
	}
	if signer == nil {
		return common.Hash{}, xerrors.New(xerrors.CodePreconditionNotMet, "no wallet loaded")
	}
	if err := requireTxID(txID); err != nil {
		return common.Hash{}, err
	}
	id := contracts.EscrowID(txID)
	acct, err := c.readEscrow(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	if acct.Status != StatusFunded {
		return common.Hash{}, notMet("only funded, undelivered escrows can be claimed", acct)
	}
	if !c.now().After(acct.AbandonableAfter()) {
		return common.Hash{}, notMet("abandonment grace period has not elapsed", acct,
			xerrors.WithMetadata("claimable_after", acct.AbandonableAfter().Format(time.RFC3339)))
	}
	claim, err := c.escrowCall(contracts.MethodClaimAbandoned, id)
	if err != nil {
		return common.Hash{}, err
	}
	return c.submit(ctx, signer, contracts.MethodClaimAbandoned, claim)
}
