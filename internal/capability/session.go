package capability

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/gas"
	"AgentEscrow/internal/web3"
	"AgentEscrow/internal/web3/bundler"
	"AgentEscrow/pkg/logger"
)

// Submitter delivers one call from a smart account, authorized by auth, and
// returns the hash of the transaction that included it.
type Submitter interface {
	Submit(ctx context.Context, account common.Address, call web3.Call, auth bundler.Authorizer, sponsored bool) (common.Hash, error)
}

// LoadOptions configures Load.
type LoadOptions struct {
	// Strategy is the requested gas strategy; empty means auto.
	Strategy  gas.Strategy
	Submitter Submitter
	Balances  web3.BalanceReader
	Clock     func() time.Time
	// Installation, when set, makes Load reject credentials whose permission
	// is not installed on the account, including revoked ones.
	Installation InstallationChecker
}

// Session is a loaded delegated credential. It implements web3.Signer and
// only ever submits calls its policy allows.
type Session struct {
	info      Info
	key       *ecdsa.PrivateKey
	strategy  gas.Strategy
	submitter Submitter
	now       func() time.Time
}

var _ web3.Signer = (*Session)(nil)

// Load parses a credential for use on chainID, optionally confirms its
// permission is installed, and resolves the gas strategy once for the session.
func Load(ctx context.Context, networks *web3.Networks, blob string, chainID uint64, opts LoadOptions) (*Session, error) {
	cred, err := decodeCredential(blob)
	if err != nil {
		return nil, err
	}
	if _, err := networks.ByChainID(chainID); err != nil {
		return nil, err
	}
	if cred.ChainID != chainID {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "credential was issued for a different chain",
			xerrors.WithMetadata("credential_chain", formatChain(cred.ChainID)),
			xerrors.WithMetadata("requested_chain", formatChain(chainID)))
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	if now().After(cred.Policy.ValidUntil) {
		return nil, invalid("capability expired", nil)
	}
	if opts.Installation != nil {
		installed, err := opts.Installation.Installed(ctx, cred.Info)
		if err != nil {
			return nil, err
		}
		if !installed {
			return nil, xerrors.New(xerrors.CodeInvalidCredential, "capability is not installed or was revoked",
				xerrors.WithMetadata("permission_id", cred.PermissionID.Hex()))
		}
	}

	requested := opts.Strategy
	if requested == "" {
		requested = gas.Auto
	}
	strategy, err := gas.NewResolver(opts.Balances).Resolve(ctx, cred.Account, requested)
	if err != nil {
		return nil, err
	}

	logger.Named("capability").Info("session key loaded",
		slog.String("account", cred.Account.Hex()),
		slog.String("delegate", cred.Delegate.Hex()),
		slog.String("gas_strategy", strategy.String()),
		slog.Time("valid_until", cred.Policy.ValidUntil),
	)

	return &Session{
		info:      cred.Info,
		key:       cred.sessionKey,
		strategy:  strategy,
		submitter: opts.Submitter,
		now:       now,
	}, nil
}

// Address returns the smart account the session acts for.
func (s *Session) Address() common.Address { return s.info.Account }

// Delegate returns the session key's own address.
func (s *Session) Delegate() common.Address { return s.info.Delegate }

// Strategy returns the gas strategy resolved at load time.
func (s *Session) Strategy() gas.Strategy { return s.strategy }

// Policy returns the policy embedded in the credential.
func (s *Session) Policy() Policy { return s.info.Policy }

// Info returns the public credential contents.
func (s *Session) Info() Info { return s.info }

// SubmitCall checks the call against the policy before handing it to the
// submitter. Rejected calls never leave the process.
func (s *Session) SubmitCall(ctx context.Context, call web3.Call) (common.Hash, error) {
	if err := s.info.Policy.Check(call, s.now()); err != nil {
		logger.Audit().Warn("session call rejected",
			slog.String("account", s.info.Account.Hex()),
			slog.String("target", call.To.Hex()),
			slog.String("error", err.Error()),
		)
		return common.Hash{}, err
	}
	if s.submitter == nil {
		return common.Hash{}, xerrors.New(xerrors.CodePreconditionNotMet, "no submitter configured for session")
	}
	return s.submitter.Submit(ctx, s.info.Account, call,
		permissionAuthority(s.key, s.info.PermissionID), s.strategy.Sponsored())
}

// OwnerSigner signs for the smart account with the owner's root key. It has
// full authority and applies no policy.
type OwnerSigner struct {
	owner     common.Address
	account   common.Address
	key       *ecdsa.PrivateKey
	strategy  gas.Strategy
	submitter Submitter
}

var _ web3.Signer = (*OwnerSigner)(nil)

// NewOwnerSigner builds a full-authority signer for account. strategy must
// be concrete; use gas.Resolver to turn auto into one.
func NewOwnerSigner(key *ecdsa.PrivateKey, account common.Address, strategy gas.Strategy, submitter Submitter) *OwnerSigner {
	return &OwnerSigner{
		owner:     crypto.PubkeyToAddress(key.PublicKey),
		account:   account,
		key:       key,
		strategy:  strategy,
		submitter: submitter,
	}
}

// Address returns the smart account.
func (o *OwnerSigner) Address() common.Address { return o.account }

// Owner returns the owner EOA.
func (o *OwnerSigner) Owner() common.Address { return o.owner }

// SubmitCall submits call through the root validator.
func (o *OwnerSigner) SubmitCall(ctx context.Context, call web3.Call) (common.Hash, error) {
	if o.submitter == nil {
		return common.Hash{}, xerrors.New(xerrors.CodePreconditionNotMet, "no submitter configured for owner signer")
	}
	hash, err := o.submitter.Submit(ctx, o.account, call, rootAuthority(o.key), o.strategy.Sponsored())
	if err != nil {
		return common.Hash{}, err
	}
	logger.Audit().Info("owner call submitted",
		slog.String("account", o.account.Hex()),
		slog.String("target", call.To.Hex()),
		slog.String("tx_hash", hash.Hex()),
	)
	return hash, nil
}
