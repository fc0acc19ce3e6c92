package capability

import (
	"context"
	"crypto/ecdsa"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/gas"
	"AgentEscrow/internal/web3"
	"AgentEscrow/pkg/logger"
)

// InstallationChecker reports whether a credential's permission is currently
// installed on its account. RevocationWatcher implements it.
type InstallationChecker interface {
	Installed(ctx context.Context, info Info) (bool, error)
}

var _ InstallationChecker = (*RevocationWatcher)(nil)

// InstallRequest identifies the credential whose permission the owner enables.
type InstallRequest struct {
	OwnerKey   *ecdsa.PrivateKey
	Credential string
	ChainID    uint64
	// Strategy defaults to self-funded. Auto requires Balances.
	Strategy gas.Strategy
	Balances web3.BalanceReader
}

// Install enables the delegate on the smart account by installing the
// permission validator with the credential's rules, signed with the owner's
// root key. Session calls only validate once this has been included.
func Install(ctx context.Context, networks *web3.Networks, req InstallRequest, submitter Submitter) (common.Hash, error) {
	cred, err := ownedCredential(networks, req.OwnerKey, req.Credential, req.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	strategy, err := resolveOwnerStrategy(ctx, cred.Account, req.Strategy, req.Balances)
	if err != nil {
		return common.Hash{}, err
	}

	initData, err := permissionInitData(cred)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := contracts.PackInstallValidator(cred.Validator, initData)
	if err != nil {
		return common.Hash{}, err
	}
	owner := NewOwnerSigner(req.OwnerKey, cred.Account, strategy, submitter)
	hash, err := owner.SubmitCall(ctx, web3.Call{To: cred.Account, Data: data})
	if err != nil {
		return common.Hash{}, err
	}

	logger.Audit().Info("session key installed",
		slog.String("account", cred.Account.Hex()),
		slog.String("delegate", cred.Delegate.Hex()),
		slog.String("permission_id", cred.PermissionID.Hex()),
		slog.String("tx_hash", hash.Hex()),
	)
	return hash, nil
}

func permissionInitData(cred *credential) ([]byte, error) {
	return contracts.PackPermissionInit(contracts.PermissionInit{
		PermissionID:    cred.PermissionID,
		Delegate:        cred.Delegate,
		Permissions:     cred.Policy.rules(),
		ValidAfter:      uint64(cred.Policy.ValidAfter.Unix()),
		ValidUntil:      uint64(cred.Policy.ValidUntil.Unix()),
		EnableSignature: cred.enableSig,
	})
}

// ownedCredential decodes blob and checks it belongs to ownerKey on chainID.
func ownedCredential(networks *web3.Networks, ownerKey *ecdsa.PrivateKey, blob string, chainID uint64) (*credential, error) {
	if ownerKey == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "owner key is required")
	}
	cred, err := decodeCredential(blob)
	if err != nil {
		return nil, err
	}
	if _, err := networks.ByChainID(chainID); err != nil {
		return nil, err
	}
	if cred.ChainID != chainID {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "credential was issued for a different chain")
	}
	if owner := crypto.PubkeyToAddress(ownerKey.PublicKey); owner != cred.Owner {
		return nil, invalid("owner key does not match credential owner", nil)
	}
	if cred.Validator == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "credential has no permission validator")
	}
	return cred, nil
}

func resolveOwnerStrategy(ctx context.Context, account common.Address, requested gas.Strategy, balances web3.BalanceReader) (gas.Strategy, error) {
	if requested == "" {
		requested = gas.SelfFunded
	}
	return gas.NewResolver(balances).Resolve(ctx, account, requested)
}
