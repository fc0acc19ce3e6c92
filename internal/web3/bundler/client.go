package bundler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/web3"
	"AgentEscrow/pkg/logger"
)

var errInvalidSignature = errors.New("invalid signature length")

// Authorizer authorizes user operations for one validator of the account.
type Authorizer interface {
	// NonceKey selects the EntryPoint nonce lane, which also routes
	// validation to the right validator.
	NonceKey() *big.Int
	SignUserOpHash(hash common.Hash) ([]byte, error)
}

// ChainReader is the node access the client needs besides the bundler.
type ChainReader interface {
	bind.ContractCaller
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Config describes the account-abstraction endpoints of one network.
type Config struct {
	BundlerURL   string
	PaymasterURL string
	EntryPoint   common.Address
	ChainID      uint64
	// PaymasterContext is passed verbatim to the ERC-7677 methods, for
	// example the ERC-20 token the paymaster should charge.
	PaymasterContext map[string]any
	PollInterval     time.Duration
}

// Client submits user operations and waits for their inclusion.
type Client struct {
	bundler   *gethrpc.Client
	paymaster *gethrpc.Client
	chain     ChainReader
	caller    *contracts.Caller
	cfg       Config
	chainID   *big.Int
	log       *slog.Logger
}

// Dial connects to the configured bundler and paymaster endpoints.
func Dial(ctx context.Context, cfg Config, chain ChainReader) (*Client, error) {
	bundlerURL := strings.TrimSpace(cfg.BundlerURL)
	if bundlerURL == "" {
		return nil, errors.New("bundler url is not configured")
	}
	bundlerRPC, err := gethrpc.DialContext(ctx, bundlerURL)
	if err != nil {
		return nil, fmt.Errorf("dial bundler: %w", err)
	}
	var paymasterRPC *gethrpc.Client
	if pmURL := strings.TrimSpace(cfg.PaymasterURL); pmURL != "" {
		paymasterRPC, err = gethrpc.DialContext(ctx, pmURL)
		if err != nil {
			bundlerRPC.Close()
			return nil, fmt.Errorf("dial paymaster: %w", err)
		}
	}
	return NewClient(bundlerRPC, paymasterRPC, chain, cfg), nil
}

// NewClient wraps already connected RPC clients. paymaster may be nil when
// sponsorship is not available.
func NewClient(bundler, paymaster *gethrpc.Client, chain ChainReader, cfg Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.EntryPoint == (common.Address{}) {
		cfg.EntryPoint = web3.EntryPointV07
	}
	return &Client{
		bundler:   bundler,
		paymaster: paymaster,
		chain:     chain,
		caller:    contracts.NewCaller(chain),
		cfg:       cfg,
		chainID:   new(big.Int).SetUint64(cfg.ChainID),
		log:       logger.Named("bundler"),
	}
}

// Close releases the RPC connections.
func (c *Client) Close() {
	if c.paymaster != nil && c.paymaster != c.bundler {
		c.paymaster.Close()
	}
	if c.bundler != nil {
		c.bundler.Close()
	}
}

// Submit wraps call in an account execution, has auth sign it, sends it to
// the bundler and waits until it is included. The returned hash is the
// including transaction's hash.
func (c *Client) Submit(ctx context.Context, account common.Address, call web3.Call, auth Authorizer, sponsored bool) (common.Hash, error) {
	if sponsored && c.paymaster == nil {
		return common.Hash{}, xerrors.New(xerrors.CodePreconditionNotMet, "sponsored gas requested but no paymaster is configured")
	}
	op, err := c.prepare(ctx, account, call, auth.NonceKey(), sponsored)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := op.Hash(c.cfg.EntryPoint, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash user operation: %w", err)
	}
	sig, err := auth.SignUserOpHash(hash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign user operation: %w", err)
	}
	op.Signature = sig

	var sent common.Hash
	if err := c.bundler.CallContext(ctx, &sent, "eth_sendUserOperation", op, c.cfg.EntryPoint); err != nil {
		return common.Hash{}, rpcError(err, "send user operation")
	}
	c.log.Info("user operation sent",
		slog.String("sender", account.Hex()),
		slog.String("user_op_hash", sent.Hex()),
		slog.Bool("sponsored", sponsored),
	)

	receipt, err := c.WaitReceipt(ctx, sent)
	if err != nil {
		return common.Hash{}, err
	}
	if !receipt.Success {
		return common.Hash{}, xerrors.New(xerrors.CodeReverted, "user operation reverted",
			xerrors.WithMetadata("user_op_hash", sent.Hex()),
			xerrors.WithMetadata("tx_hash", receipt.Receipt.TransactionHash.Hex()),
			xerrors.WithMetadata("reason", receipt.Reason))
	}
	return receipt.Receipt.TransactionHash, nil
}

func (c *Client) prepare(ctx context.Context, account common.Address, call web3.Call, key *big.Int, sponsored bool) (*UserOperation, error) {
	callData, err := contracts.PackExecute(call.To, call.Value, call.Data)
	if err != nil {
		return nil, fmt.Errorf("encode execution: %w", err)
	}
	nonce, err := c.caller.EntryPointNonce(ctx, c.cfg.EntryPoint, account, key)
	if err != nil {
		return nil, xerrors.FromContext(err, xerrors.CodeNetworkError, "read entry point nonce")
	}
	maxFee, err := c.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.FromContext(err, xerrors.CodeNetworkError, "suggest gas price")
	}
	tip, err := c.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.FromContext(err, xerrors.CodeNetworkError, "suggest gas tip")
	}

	op := &UserOperation{
		Sender:               account,
		Nonce:                (*hexutil.Big)(nonce),
		CallData:             callData,
		CallGasLimit:         new(hexutil.Big),
		VerificationGasLimit: new(hexutil.Big),
		PreVerificationGas:   new(hexutil.Big),
		MaxFeePerGas:         (*hexutil.Big)(maxFee),
		MaxPriorityFeePerGas: (*hexutil.Big)(tip),
		Signature:            DummySignature,
	}

	if sponsored {
		var stub PaymasterFields
		if err := c.paymaster.CallContext(ctx, &stub, "pm_getPaymasterStubData",
			op, c.cfg.EntryPoint, hexutil.Uint64(c.cfg.ChainID), c.paymasterContext()); err != nil {
			return nil, rpcError(err, "paymaster stub data")
		}
		op.applyPaymaster(stub)
	}

	var est GasEstimate
	if err := c.bundler.CallContext(ctx, &est, "eth_estimateUserOperationGas", op, c.cfg.EntryPoint); err != nil {
		return nil, rpcError(err, "estimate user operation gas")
	}
	op.applyEstimate(est)

	if sponsored {
		var final PaymasterFields
		if err := c.paymaster.CallContext(ctx, &final, "pm_getPaymasterData",
			op, c.cfg.EntryPoint, hexutil.Uint64(c.cfg.ChainID), c.paymasterContext()); err != nil {
			return nil, rpcError(err, "paymaster data")
		}
		op.applyPaymaster(final)
	}
	return op, nil
}

func (c *Client) paymasterContext() map[string]any {
	if c.cfg.PaymasterContext == nil {
		return map[string]any{}
	}
	return c.cfg.PaymasterContext
}

// WaitReceipt polls eth_getUserOperationReceipt until the operation is
// included or ctx ends.
func (c *Client) WaitReceipt(ctx context.Context, userOpHash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		var receipt *Receipt
		if err := c.bundler.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", userOpHash); err != nil {
			return nil, rpcError(err, "user operation receipt")
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.FromContext(ctx.Err(), xerrors.CodeTimeout, "user operation not included")
		case <-ticker.C:
		}
	}
}

// rpcError separates JSON-RPC rejections, which are terminal, from transport
// failures.
func rpcError(err error, op string) error {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return xerrors.Wrap(xerrors.CodeReverted, err, op+" rejected",
			xerrors.WithMetadata("rpc_code", fmt.Sprint(rpcErr.ErrorCode())))
	}
	return xerrors.FromContext(err, xerrors.CodeNetworkError, op)
}
