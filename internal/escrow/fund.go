package escrow

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/ledger"
	"AgentEscrow/internal/web3"
)

// DefaultToken is funded when FundRequest.Token is empty.
const DefaultToken = "USDC"

// Fund approves the escrow contract, creates the escrow and asks the backend
// to verify it. Every local check runs before anything is submitted.
func (c *Coordinator) Fund(ctx context.Context, req FundRequest) (out FundOutcome, err error) {
	defer func(started time.Time) { c.observe("fund", req.TransactionID, started, err) }(time.Now())

	if err := c.requireSigner(); err != nil {
		return FundOutcome{}, err
	}
	if err := requireTxID(req.TransactionID); err != nil {
		return FundOutcome{}, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return FundOutcome{}, xerrors.New(xerrors.CodeInvalidArgument, "amount must be positive")
	}
	if req.Seller == (common.Address{}) {
		return FundOutcome{}, xerrors.New(xerrors.CodeInvalidArgument, "seller address is required")
	}
	symbol := req.Token
	if strings.TrimSpace(symbol) == "" {
		symbol = DefaultToken
	}
	token, ok := c.network.Token(symbol)
	if !ok {
		return FundOutcome{}, xerrors.New(xerrors.CodeUnregisteredToken,
			fmt.Sprintf("token %s is not registered on %s", strings.ToUpper(symbol), c.network.Name))
	}
	terms, err := c.terms(req)
	if err != nil {
		return FundOutcome{}, err
	}

	escrowID := contracts.EscrowID(req.TransactionID)
	acct, err := c.readEscrow(ctx, escrowID)
	if err != nil {
		return FundOutcome{}, err
	}
	if acct.Status != StatusNone {
		return FundOutcome{}, notMet("escrow already exists for transaction", acct)
	}

	approveData, err := contracts.PackApprove(c.network.Escrow, req.Amount)
	if err != nil {
		return FundOutcome{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode approve")
	}
	createData, err := contracts.PackCreateEscrow(escrowID, req.Seller, req.Amount, token.Address, terms)
	if err != nil {
		return FundOutcome{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode createEscrow")
	}

	out = FundOutcome{
		EscrowID:     escrowID,
		PlatformFee:  PlatformFee(req.Amount),
		LockedAmount: LockedAmount(req.Amount),
	}
	if out.ApproveTxHash, err = c.submit(ctx, c.signer, contracts.MethodApprove, web3.Call{To: token.Address, Data: approveData}); err != nil {
		return out, err
	}
	if out.TxHash, err = c.submit(ctx, c.signer, contracts.MethodCreateEscrow, web3.Call{To: c.network.Escrow, Data: createData}); err != nil {
		return out, err
	}

	out.Backend, err = call(ctx, c, "verify funding", func(ctx context.Context) (ledger.FundResult, error) {
		return c.ledger.Fund(ctx, req.TransactionID, out.TxHash)
	})
	if err != nil {
		return out, err
	}
	if err := verifyFunding(out, out.Backend.OnChain); err != nil {
		return out, err
	}
	out.Verified = true
	return out, nil
}

func (c *Coordinator) terms(req FundRequest) (contracts.Terms, error) {
	now := c.now()
	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = now.Add(DefaultDeliveryDeadline)
	}
	if !deadline.After(now) {
		return contracts.Terms{}, xerrors.New(xerrors.CodeInvalidArgument, "deadline must be in the future")
	}
	window := req.DisputeWindow
	if window == 0 {
		window = DefaultDisputeWindow
	}
	grace := req.AbandonmentGrace
	if grace == 0 {
		grace = DefaultAbandonmentGrace
	}
	if window < 0 || grace < 0 {
		return contracts.Terms{}, xerrors.New(xerrors.CodeInvalidArgument, "dispute window and abandonment grace must not be negative")
	}
	return contracts.Terms{
		Deadline:         big.NewInt(deadline.Unix()),
		DisputeWindow:    big.NewInt(int64(window / time.Second)),
		AbandonmentGrace: big.NewInt(int64(grace / time.Second)),
		CriteriaHash:     req.CriteriaHash,
	}, nil
}

// verifyFunding compares the backend's reading of the escrow with what was
// submitted.
func verifyFunding(out FundOutcome, onChain ledger.OnChainEscrow) error {
	var diffs []xerrors.Option
	if !strings.EqualFold(strings.TrimSpace(onChain.EscrowID), out.EscrowID.Hex()) {
		diffs = append(diffs, xerrors.WithMetadata("escrow_id", fmt.Sprintf("expected %s, backend %s", out.EscrowID.Hex(), onChain.EscrowID)))
	}
	if !amountEquals(onChain.LockedAmount, out.LockedAmount) {
		diffs = append(diffs, xerrors.WithMetadata("locked_amount", fmt.Sprintf("expected %s, backend %s", out.LockedAmount, onChain.LockedAmount)))
	}
	if !amountEquals(onChain.PlatformFee, out.PlatformFee) {
		diffs = append(diffs, xerrors.WithMetadata("platform_fee", fmt.Sprintf("expected %s, backend %s", out.PlatformFee, onChain.PlatformFee)))
	}
	if len(diffs) == 0 {
		return nil
	}
	return xerrors.New(xerrors.CodeVerificationMismatch, "backend funding verification disagrees with submitted escrow", diffs...)
}

func amountEquals(backend string, want *big.Int) bool {
	got, ok := new(big.Int).SetString(strings.TrimSpace(backend), 10)
	return ok && got.Cmp(want) == 0
}
