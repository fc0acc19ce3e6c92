package ledger

import (
	"encoding/json"
	"time"
)

// TransactionStatus is the business-level state tracked by the backend.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusEscrowed   TransactionStatus = "escrowed"
	StatusProcessing TransactionStatus = "processing"
	StatusDelivered  TransactionStatus = "delivered"
	StatusCompleted  TransactionStatus = "completed"
	StatusRefunded   TransactionStatus = "refunded"
	StatusDisputed   TransactionStatus = "disputed"
	StatusAbandoned  TransactionStatus = "abandoned"
)

// Role filters transaction listings by the caller's side of the trade.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAll    Role = "all"
)

// AgentRef is the short agent description embedded in a transaction.
type AgentRef struct {
	ID        string `json:"id"`
	AgentName string `json:"agentName"`
}

// ServiceRef is the short service description embedded in a transaction.
type ServiceRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
}

// Transaction is the backend record of a purchase.
type Transaction struct {
	ID              string            `json:"id"`
	ServiceID       string            `json:"serviceId"`
	BuyerAgentID    string            `json:"buyerAgentId"`
	SellerAgentID   string            `json:"sellerAgentId"`
	Quantity        int               `json:"quantity"`
	UnitPrice       float64           `json:"unitPrice"`
	Subtotal        float64           `json:"subtotal"`
	BuyerFee        float64           `json:"buyerFee"`
	SellerFee       float64           `json:"sellerFee"`
	TotalCharged    float64           `json:"totalCharged"`
	SellerReceives  float64           `json:"sellerReceives"`
	Currency        string            `json:"currency"`
	PaymentMethod   string            `json:"paymentMethod"`
	PaymentStatus   string            `json:"paymentStatus"`
	Status          TransactionStatus `json:"status"`
	EscrowAddress   string            `json:"escrowAddress,omitempty"`
	EscrowTxHash    string            `json:"escrowTxHash,omitempty"`
	CallbackURL     string            `json:"callbackUrl,omitempty"`
	RequestPayload  json.RawMessage   `json:"requestPayload,omitempty"`
	ResponsePayload json.RawMessage   `json:"responsePayload,omitempty"`
	DeliveryProof   string            `json:"deliveryProof,omitempty"`
	DeliveredAt     *time.Time        `json:"deliveredAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	DisputeReason   string            `json:"disputeReason,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	MyRole          Role              `json:"myRole,omitempty"`
	Service         *ServiceRef       `json:"service,omitempty"`
	BuyerAgent      *AgentRef         `json:"buyerAgent,omitempty"`
	SellerAgent     *AgentRef         `json:"sellerAgent,omitempty"`
}

// ListParams narrows ListTransactions. Zero values are omitted from the query.
type ListParams struct {
	Role   Role
	Status TransactionStatus
	Limit  int
	Offset int
}

// TransactionList is one page of transactions.
type TransactionList struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}

// DisputeOutcome is the resolution reached for a dispute.
type DisputeOutcome string

const (
	OutcomeBuyerRefund DisputeOutcome = "buyer_refund"
	OutcomeSellerPaid  DisputeOutcome = "seller_paid"
	OutcomeSplit       DisputeOutcome = "split"
)

// DisputeStatus reports the progress of a dispute.
type DisputeStatus struct {
	Status        string          `json:"status"`
	Outcome       *DisputeOutcome `json:"outcome"`
	BuyerPercent  *int            `json:"buyerPercent"`
	SellerPercent *int            `json:"sellerPercent"`
	EvidenceCount int             `json:"evidenceCount"`
	CreatedAt     time.Time       `json:"createdAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt"`
}

// EvidenceType enumerates the accepted evidence kinds.
type EvidenceType string

const (
	EvidenceText EvidenceType = "text"
	EvidenceLink EvidenceType = "link"
	EvidenceFile EvidenceType = "file"
)

// Valid reports whether t is a known evidence kind.
func (t EvidenceType) Valid() bool {
	switch t {
	case EvidenceText, EvidenceLink, EvidenceFile:
		return true
	}
	return false
}

// Evidence is submitted by either party of an open dispute.
type Evidence struct {
	Type    EvidenceType `json:"type"`
	Content string       `json:"content"`
}

// OnChainEscrow is the backend's reading of the escrow account after funding.
// Amounts are decimal strings in token base units.
type OnChainEscrow struct {
	EscrowID     string `json:"escrowId"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	LockedAmount string `json:"lockedAmount"`
	PlatformFee  string `json:"platformFee"`
	Status       string `json:"status"`
}

// FundResult is returned by the backend fund verification.
type FundResult struct {
	ID           string            `json:"id"`
	Status       TransactionStatus `json:"status"`
	EscrowTxHash string            `json:"escrowTxHash"`
	OnChain      OnChainEscrow     `json:"onChain"`
}

// envelope is the response wrapper shared by all endpoints.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
	Message string          `json:"message,omitempty"`
}

type detail struct {
	Path    []any  `json:"path"`
	Message string `json:"message"`
}
