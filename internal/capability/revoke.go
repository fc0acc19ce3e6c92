package capability

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/gas"
	"AgentEscrow/internal/web3"
	"AgentEscrow/pkg/logger"
)

// RevokeRequest identifies the credential to revoke.
type RevokeRequest struct {
	OwnerKey   *ecdsa.PrivateKey
	Credential string
	ChainID    uint64
	// Strategy defaults to self-funded. Auto requires Balances.
	Strategy gas.Strategy
	Balances web3.BalanceReader
	// Installation, when set, makes Revoke refuse permissions that are not
	// installed.
	Installation InstallationChecker
}

// Revoke uninstalls the delegate's permission from the smart account using
// the owner's root key. The returned hash only means the uninstall was
// included; callers wanting certainty use RevocationWatcher.
func Revoke(ctx context.Context, networks *web3.Networks, req RevokeRequest, submitter Submitter) (common.Hash, error) {
	cred, err := ownedCredential(networks, req.OwnerKey, req.Credential, req.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	if req.Installation != nil {
		installed, err := req.Installation.Installed(ctx, cred.Info)
		if err != nil {
			return common.Hash{}, err
		}
		if !installed {
			return common.Hash{}, xerrors.New(xerrors.CodePreconditionNotMet, "permission is not installed on the account",
				xerrors.WithMetadata("permission_id", cred.PermissionID.Hex()))
		}
	}
	strategy, err := resolveOwnerStrategy(ctx, cred.Account, req.Strategy, req.Balances)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := contracts.PackUninstallValidator(cred.Validator, cred.PermissionID.Bytes())
	if err != nil {
		return common.Hash{}, err
	}
	owner := NewOwnerSigner(req.OwnerKey, cred.Account, strategy, submitter)
	hash, err := owner.SubmitCall(ctx, web3.Call{To: cred.Account, Data: data})
	if err != nil {
		return common.Hash{}, err
	}

	logger.Audit().Warn("session key revoked",
		slog.String("account", cred.Account.Hex()),
		slog.String("delegate", cred.Delegate.Hex()),
		slog.String("permission_id", cred.PermissionID.Hex()),
		slog.String("tx_hash", hash.Hex()),
	)
	return hash, nil
}

// RevocationWatcher observes whether a delegate's permission is still
// installed on its account.
type RevocationWatcher struct {
	caller   *contracts.Caller
	interval time.Duration
}

// NewRevocationWatcher polls through backend every interval (default 2s).
func NewRevocationWatcher(backend bind.ContractCaller, interval time.Duration) *RevocationWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &RevocationWatcher{caller: contracts.NewCaller(backend), interval: interval}
}

// Installed reports whether the credential's permission is currently
// installed on-chain.
func (w *RevocationWatcher) Installed(ctx context.Context, info Info) (bool, error) {
	installed, err := w.caller.IsValidatorInstalled(ctx, info.Account, info.Validator, info.PermissionID.Bytes())
	if err != nil {
		return false, xerrors.FromContext(err, xerrors.CodeNetworkError, "query module installation")
	}
	return installed, nil
}

// WaitRevoked blocks until the permission is no longer installed or ctx ends.
func (w *RevocationWatcher) WaitRevoked(ctx context.Context, info Info) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		installed, err := w.Installed(ctx, info)
		if err != nil && !xerrors.RetryableError(err) {
			return err
		}
		if err == nil && !installed {
			return nil
		}
		select {
		case <-ctx.Done():
			return xerrors.FromContext(ctx.Err(), xerrors.CodeTimeout, "revocation not observed")
		case <-ticker.C:
		}
	}
}

func formatChain(id uint64) string {
	return strconv.FormatUint(id, 10)
}
