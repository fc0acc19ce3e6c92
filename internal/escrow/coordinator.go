package escrow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/ledger"
	"AgentEscrow/internal/observability/metrics"
	"AgentEscrow/internal/web3"
	"AgentEscrow/pkg/logger"
)

// DefaultCallTimeout bounds every network call made by the coordinator.
const DefaultCallTimeout = 30 * time.Second

// Ledger is the backend view of transactions.
type Ledger interface {
	GetTransaction(ctx context.Context, id string) (ledger.Transaction, error)
	Confirm(ctx context.Context, id string) (ledger.Transaction, error)
	Deliver(ctx context.Context, id string, responsePayload any) (ledger.Transaction, error)
	OpenDispute(ctx context.Context, id, reason string) (ledger.Transaction, error)
	DisputeStatus(ctx context.Context, id string) (ledger.DisputeStatus, error)
	SubmitEvidence(ctx context.Context, id string, ev ledger.Evidence) (string, error)
	Fund(ctx context.Context, id string, txHash common.Hash) (ledger.FundResult, error)
}

// Reader reads escrow accounts from the chain. An unknown id yields an
// account in StatusNone.
type Reader interface {
	Escrow(ctx context.Context, escrowID common.Hash) (Account, error)
}

// Options wires a Coordinator.
type Options struct {
	// Network supplies the escrow contract and the token registry.
	Network web3.Network
	Ledger  Ledger
	Reader  Reader
	// Signer submits escrow calls. Nil means no wallet is loaded.
	Signer web3.Signer
	// OwnerSigner is used for calls a delegated signer may not make
	// (abandon-claim). Falls back to Signer when nil.
	OwnerSigner web3.Signer
	Clock       func() time.Time
	CallTimeout time.Duration
}

// Coordinator drives one buyer's or seller's escrows through their lifecycle,
// keeping the on-chain account and the backend record in step. It holds no
// per-transaction state and is safe for concurrent use.
type Coordinator struct {
	network     web3.Network
	ledger      Ledger
	reader      Reader
	signer      web3.Signer
	ownerSigner web3.Signer
	now         func() time.Time
	timeout     time.Duration
	log         *slog.Logger
}

// NewCoordinator validates opts and builds a coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "escrow coordinator requires a ledger")
	}
	if opts.Reader == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "escrow coordinator requires a chain reader")
	}
	if !opts.Network.HasEscrow() {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain,
			"no escrow contract deployed on "+opts.Network.Name,
			xerrors.WithMetadata("chain", opts.Network.Name))
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Coordinator{
		network:     opts.Network,
		ledger:      opts.Ledger,
		reader:      opts.Reader,
		signer:      opts.Signer,
		ownerSigner: opts.OwnerSigner,
		now:         now,
		timeout:     timeout,
		log:         logger.Named("escrow"),
	}, nil
}

// Network returns the network the coordinator operates on.
func (c *Coordinator) Network() web3.Network { return c.network }

// HasSigner reports whether a wallet is loaded.
func (c *Coordinator) HasSigner() bool { return c.signer != nil }

// withTimeout runs fn under the per-call timeout and classifies failures that
// are not already domain errors.
func (c *Coordinator) withTimeout(ctx context.Context, what string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); !ok && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, what+" timed out")
	}
	return xerrors.FromContext(err, xerrors.CodeNetworkError, what+" failed")
}

func (c *Coordinator) readEscrow(ctx context.Context, id common.Hash) (Account, error) {
	return call(ctx, c, "read escrow", func(ctx context.Context) (Account, error) {
		return c.reader.Escrow(ctx, id)
	})
}

func (c *Coordinator) submit(ctx context.Context, signer web3.Signer, op string, tx web3.Call) (common.Hash, error) {
	hash, err := call(ctx, c, "submit "+op, func(ctx context.Context) (common.Hash, error) {
		return signer.SubmitCall(ctx, tx)
	})
	if err != nil {
		return common.Hash{}, err
	}
	logger.Audit().Info("escrow call submitted",
		slog.String("operation", op),
		slog.String("account", signer.Address().Hex()),
		slog.String("chain", c.network.Name),
		slog.String("tx_hash", hash.Hex()),
	)
	return hash, nil
}

// observe records the outcome of op and logs failures.
func (c *Coordinator) observe(op, txID string, started time.Time, err error) {
	code := "OK"
	if err != nil {
		code = string(xerrors.CodeOf(err))
		c.log.Warn("escrow operation failed",
			slog.String("operation", op),
			slog.String("transaction_id", txID),
			slog.String("code", code),
			slog.String("error", err.Error()))
	}
	metrics.ObserveEscrowOp(op, code, time.Since(started))
}

func requireTxID(id string) error {
	if strings.TrimSpace(id) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "transaction id is required")
	}
	return nil
}

func (c *Coordinator) requireSigner() error {
	if c.signer == nil {
		return xerrors.New(xerrors.CodePreconditionNotMet, "no wallet loaded")
	}
	return nil
}

func notMet(msg string, acct Account, extra ...xerrors.Option) error {
	opts := append([]xerrors.Option{
		xerrors.WithMetadata("escrow_id", acct.EscrowID.Hex()),
		xerrors.WithMetadata("status", acct.Status.String()),
	}, extra...)
	return xerrors.New(xerrors.CodePreconditionNotMet, msg, opts...)
}

// call runs a single backend or chain request under the per-call timeout.
func call[T any](ctx context.Context, c *Coordinator, what string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := c.withTimeout(ctx, what, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
