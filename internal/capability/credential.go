package capability

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentEscrow/internal/errors"
)

const credentialVersion = 1

var enableDomain = []byte("\x19AgentEscrow capability enable v1")

// envelope is the serialized form of a credential.
type envelope struct {
	Version         int            `json:"v"`
	ChainID         uint64         `json:"chainId"`
	Owner           common.Address `json:"owner"`
	Account         common.Address `json:"account"`
	Delegate        common.Address `json:"delegate"`
	SessionKey      hexutil.Bytes  `json:"sessionKey"`
	Validator       common.Address `json:"validator"`
	PermissionID    common.Hash    `json:"permissionId"`
	Policy          Policy         `json:"policy"`
	EnableSignature hexutil.Bytes  `json:"enableSignature"`
}

// Info is the public part of a credential.
type Info struct {
	ChainID      uint64         `json:"chainId"`
	Owner        common.Address `json:"owner"`
	Account      common.Address `json:"account"`
	Delegate     common.Address `json:"delegate"`
	Validator    common.Address `json:"validator"`
	PermissionID common.Hash    `json:"permissionId"`
	Policy       Policy         `json:"policy"`
}

// ValidUntil returns the expiry of the embedded policy.
func (i Info) ValidUntil() time.Time { return i.Policy.ValidUntil }

type credential struct {
	Info
	sessionKey *ecdsa.PrivateKey
	enableSig  []byte
}

// PermissionID derives the permission identifier of a delegate under a policy.
func PermissionID(delegate common.Address, policyDigest common.Hash) common.Hash {
	return crypto.Keccak256Hash(delegate.Bytes(), policyDigest.Bytes())
}

// enableDigest is what the owner signs to enable the delegate on the account.
func enableDigest(info Info) common.Hash {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], info.ChainID)
	return crypto.Keccak256Hash(
		enableDomain,
		chain[:],
		info.Account.Bytes(),
		info.Delegate.Bytes(),
		info.Validator.Bytes(),
		info.PermissionID.Bytes(),
		info.Policy.Digest().Bytes(),
	)
}

func encodeCredential(info Info, sessionKey *ecdsa.PrivateKey, enableSig []byte) (string, error) {
	env := envelope{
		Version:         credentialVersion,
		ChainID:         info.ChainID,
		Owner:           info.Owner,
		Account:         info.Account,
		Delegate:        info.Delegate,
		SessionKey:      crypto.FromECDSA(sessionKey),
		Validator:       info.Validator,
		PermissionID:    info.PermissionID,
		Policy:          info.Policy,
		EnableSignature: enableSig,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func invalid(reason string, cause error) error {
	if cause != nil {
		return xerrors.Wrap(xerrors.CodeInvalidCredential, cause, reason)
	}
	return xerrors.New(xerrors.CodeInvalidCredential, reason)
}

// decodeCredential parses the blob and verifies its internal consistency and
// the owner's enable signature. Expiry is checked by callers.
func decodeCredential(blob string) (*credential, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(blob), "="))
	if err != nil {
		return nil, invalid("credential is not valid base64url", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, invalid("credential payload is malformed", err)
	}
	if env.Version != credentialVersion {
		return nil, invalid("unsupported credential version", nil)
	}
	key, err := crypto.ToECDSA(env.SessionKey)
	if err != nil {
		return nil, invalid("credential session key is malformed", err)
	}
	info := Info{
		ChainID:      env.ChainID,
		Owner:        env.Owner,
		Account:      env.Account,
		Delegate:     env.Delegate,
		Validator:    env.Validator,
		PermissionID: env.PermissionID,
		Policy:       env.Policy,
	}
	if crypto.PubkeyToAddress(key.PublicKey) != info.Delegate {
		return nil, invalid("session key does not match delegate", nil)
	}
	if PermissionID(info.Delegate, info.Policy.Digest()) != info.PermissionID {
		return nil, invalid("permission id does not match policy", nil)
	}
	if len(env.EnableSignature) != crypto.SignatureLength {
		return nil, invalid("enable signature is malformed", nil)
	}
	pub, err := crypto.SigToPub(enableDigest(info).Bytes(), env.EnableSignature)
	if err != nil {
		return nil, invalid("enable signature is malformed", err)
	}
	if crypto.PubkeyToAddress(*pub) != info.Owner {
		return nil, invalid("enable signature was not made by the owner", nil)
	}
	return &credential{Info: info, sessionKey: key, enableSig: env.EnableSignature}, nil
}

// Inspect returns the public contents of a credential after verifying it. It
// does not check expiry.
func Inspect(blob string) (Info, error) {
	cred, err := decodeCredential(blob)
	if err != nil {
		return Info{}, err
	}
	return cred.Info, nil
}
