package capability

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/web3"
	"AgentEscrow/pkg/logger"
)

// IssueRequest describes a new delegated credential.
type IssueRequest struct {
	OwnerKey *ecdsa.PrivateKey
	ChainID  uint64
	// Policy overrides the default escrow policy. It must still pass
	// Policy.Validate for the chain's escrow.
	Policy   *Policy
	Validity time.Duration
	Tokens   []string
	// Account overrides the derived smart account address.
	Account common.Address
	Now     func() time.Time
}

// Issued is the result of Issue. Credential is the only secret and must be
// handed to the agent out of band.
type Issued struct {
	Owner        common.Address
	Delegate     common.Address
	Account      common.Address
	PermissionID common.Hash
	ValidUntil   time.Time
	Policy       Policy
	Credential   string
}

// Issue mints a session key bound to the escrow policy of the chain. The
// owner key signs the enable digest and is not retained.
func Issue(networks *web3.Networks, req IssueRequest) (Issued, error) {
	if req.OwnerKey == nil {
		return Issued{}, xerrors.New(xerrors.CodeInvalidArgument, "owner key is required")
	}
	network, err := networks.ByChainID(req.ChainID)
	if err != nil {
		return Issued{}, err
	}
	escrow, err := networks.EscrowAddress(req.ChainID)
	if err != nil {
		return Issued{}, err
	}

	var policy Policy
	if req.Policy != nil {
		policy = *req.Policy
	} else {
		policy, err = BuildPolicy(networks, req.ChainID,
			WithValidity(req.Validity), WithTokens(req.Tokens...), WithClock(req.Now))
		if err != nil {
			return Issued{}, err
		}
	}
	if err := policy.Validate(escrow); err != nil {
		return Issued{}, err
	}

	owner := crypto.PubkeyToAddress(req.OwnerKey.PublicKey)
	account := req.Account
	if account == (common.Address{}) {
		if account, err = DeriveAccount(network, owner); err != nil {
			return Issued{}, err
		}
	}

	sessionKey, err := crypto.GenerateKey()
	if err != nil {
		return Issued{}, fmt.Errorf("generate session key: %w", err)
	}
	delegate := crypto.PubkeyToAddress(sessionKey.PublicKey)

	info := Info{
		ChainID:      req.ChainID,
		Owner:        owner,
		Account:      account,
		Delegate:     delegate,
		Validator:    network.PermissionValidator,
		PermissionID: PermissionID(delegate, policy.Digest()),
		Policy:       policy,
	}
	sig, err := crypto.Sign(enableDigest(info).Bytes(), req.OwnerKey)
	if err != nil {
		return Issued{}, fmt.Errorf("sign enable digest: %w", err)
	}
	blob, err := encodeCredential(info, sessionKey, sig)
	if err != nil {
		return Issued{}, fmt.Errorf("encode credential: %w", err)
	}

	logger.Audit().Info("session key issued",
		slog.Uint64("chain_id", req.ChainID),
		slog.String("owner", owner.Hex()),
		slog.String("account", account.Hex()),
		slog.String("delegate", delegate.Hex()),
		slog.String("permission_id", info.PermissionID.Hex()),
		slog.Int("permissions", len(policy.Permissions)),
		slog.Time("valid_until", policy.ValidUntil),
	)

	return Issued{
		Owner:        owner,
		Delegate:     delegate,
		Account:      account,
		PermissionID: info.PermissionID,
		ValidUntil:   policy.ValidUntil,
		Policy:       policy,
		Credential:   blob,
	}, nil
}
