package capability

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/web3"
	"AgentEscrow/internal/web3/bundler"
)

// DeriveAccount computes the counterfactual smart account of owner on the
// network: CREATE2 over the account factory with salt keccak(owner).
func DeriveAccount(network web3.Network, owner common.Address) (common.Address, error) {
	if network.AccountFactory == (common.Address{}) || network.AccountInitCodeHash == (common.Hash{}) {
		return common.Address{}, xerrors.New(xerrors.CodeUnsupportedChain,
			"smart account factory is not configured for "+network.Name)
	}
	salt := crypto.Keccak256Hash(owner.Bytes())
	return crypto.CreateAddress2(network.AccountFactory, salt, network.AccountInitCodeHash.Bytes()), nil
}

// Nonce key layout: validation mode, validator type, 20-byte validator id and
// a 2-byte sequence key.
const (
	validatorTypeRoot       byte = 0x00
	validatorTypePermission byte = 0x02
)

func nonceKey(validatorType byte, id []byte) *big.Int {
	key := make([]byte, 24)
	key[1] = validatorType
	copy(key[2:22], id)
	return new(big.Int).SetBytes(key)
}

// keyAuthority authorizes user operations with a secp256k1 key.
type keyAuthority struct {
	key *ecdsa.PrivateKey
	nk  *big.Int
}

var _ bundler.Authorizer = (*keyAuthority)(nil)

func rootAuthority(key *ecdsa.PrivateKey) *keyAuthority {
	return &keyAuthority{key: key, nk: nonceKey(validatorTypeRoot, nil)}
}

func permissionAuthority(key *ecdsa.PrivateKey, permissionID common.Hash) *keyAuthority {
	return &keyAuthority{key: key, nk: nonceKey(validatorTypePermission, permissionID.Bytes()[:20])}
}

func (a *keyAuthority) NonceKey() *big.Int { return new(big.Int).Set(a.nk) }

func (a *keyAuthority) SignUserOpHash(hash common.Hash) ([]byte, error) {
	return bundler.SignHash(a.key, hash)
}
