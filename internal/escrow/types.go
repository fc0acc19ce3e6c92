package escrow

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentEscrow/internal/contracts"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/ledger"
)

// Status is the on-chain escrow state. The numeric values match the contract.
type Status uint8

const (
	StatusNone Status = iota
	StatusFunded
	StatusDelivered
	StatusReleased
	StatusRefunded
	StatusDisputed
	StatusResolved
	StatusAbandoned
)

var statusNames = [...]string{
	StatusNone:      "none",
	StatusFunded:    "funded",
	StatusDelivered: "delivered",
	StatusReleased:  "released",
	StatusRefunded:  "refunded",
	StatusDisputed:  "disputed",
	StatusResolved:  "resolved",
	StatusAbandoned: "abandoned",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is a known contract state.
func (s Status) Valid() bool { return int(s) < len(statusNames) }

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusResolved, StatusAbandoned:
		return true
	}
	return false
}

// Account mirrors the escrow struct stored by the contract.
type Account struct {
	EscrowID         common.Hash
	Token            common.Address
	Buyer            common.Address
	Seller           common.Address
	LockedAmount     *big.Int
	PlatformFee      *big.Int
	Status           Status
	CreatedAt        time.Time
	Deadline         time.Time
	DisputeWindow    time.Duration
	AbandonmentGrace time.Duration
	// DeliveredAt is zero until the seller submits delivery.
	DeliveredAt  time.Time
	ProofHash    common.Hash
	CriteriaHash common.Hash
}

// DisputeDeadline is the last instant at which the buyer may dispute.
func (a Account) DisputeDeadline() time.Time {
	if a.DeliveredAt.IsZero() {
		return time.Time{}
	}
	return a.DeliveredAt.Add(a.DisputeWindow)
}

// AbandonableAfter is the instant after which an undelivered escrow may be
// reclaimed by the buyer.
func (a Account) AbandonableAfter() time.Time {
	return a.Deadline.Add(a.AbandonmentGrace)
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

func seconds(v *big.Int) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(v.Int64()) * time.Second
}

// accountFromRecord converts the raw contract tuple.
func accountFromRecord(id common.Hash, rec contracts.EscrowRecord) (Account, error) {
	status := Status(rec.Status)
	if !status.Valid() {
		return Account{}, xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("escrow %s reports unknown status %d", id.Hex(), rec.Status))
	}
	return Account{
		EscrowID:         id,
		Token:            rec.Token,
		Buyer:            rec.Buyer,
		Seller:           rec.Seller,
		LockedAmount:     orZero(rec.LockedAmount),
		PlatformFee:      orZero(rec.PlatformFee),
		Status:           status,
		CreatedAt:        unixTime(rec.CreatedAt),
		Deadline:         unixTime(rec.Deadline),
		DisputeWindow:    seconds(rec.DisputeWindow),
		AbandonmentGrace: seconds(rec.AbandonmentGrace),
		DeliveredAt:      unixTime(rec.DeliveredAt),
		ProofHash:        rec.ProofHash,
		CriteriaHash:     rec.CriteriaHash,
	}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// FundRequest describes an escrow to create. Zero durations and deadline take
// the package defaults. Token is a registered symbol and defaults to USDC.
type FundRequest struct {
	TransactionID    string
	Seller           common.Address
	Amount           *big.Int
	Token            string
	Deadline         time.Time
	DisputeWindow    time.Duration
	AbandonmentGrace time.Duration
	CriteriaHash     common.Hash
}

// FundOutcome reports a completed funding.
type FundOutcome struct {
	EscrowID      common.Hash
	ApproveTxHash common.Hash
	TxHash        common.Hash
	PlatformFee   *big.Int
	LockedAmount  *big.Int
	Verified      bool
	Backend       ledger.FundResult
}

// ReleaseOutcome reports a confirm-and-release.
type ReleaseOutcome struct {
	Transaction ledger.Transaction
	// AcceptTxHash is zero when no on-chain accept was submitted.
	AcceptTxHash  common.Hash
	OnChainStatus Status
}

// Accepted reports whether an on-chain accept was submitted.
func (o ReleaseOutcome) Accepted() bool { return o.AcceptTxHash != (common.Hash{}) }

// DeliveryOutcome reports a seller delivery.
type DeliveryOutcome struct {
	ProofHash   common.Hash
	TxHash      common.Hash
	Transaction ledger.Transaction
}

// DisputeOutcome reports an opened dispute.
type DisputeOutcome struct {
	TxHash      common.Hash
	Transaction ledger.Transaction
}

// Reconciliation compares the chain and backend views of one transaction.
type Reconciliation struct {
	EscrowID    common.Hash
	Account     Account
	Transaction ledger.Transaction
	// Expected lists the backend states consistent with the chain state.
	Expected []ledger.TransactionStatus
	InSync   bool
}
