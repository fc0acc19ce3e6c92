package ledger

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentEscrow/internal/errors"
)

const transactionsPath = "/api/v1/transactions"

func transactionPath(id string, suffix ...string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "transaction id is required")
	}
	if strings.ContainsAny(id, "/?#") {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "malformed transaction id "+strconv.Quote(id))
	}
	p := transactionsPath + "/" + id
	for _, s := range suffix {
		p += "/" + s
	}
	return p, nil
}

// ListTransactions returns one page of the caller's transactions.
func (c *Client) ListTransactions(ctx context.Context, params ListParams) (TransactionList, error) {
	query := url.Values{}
	if params.Role != "" {
		query.Set("role", string(params.Role))
	}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		query.Set("offset", strconv.Itoa(params.Offset))
	}
	var list TransactionList
	if err := c.get(ctx, transactionsPath, query, &list); err != nil {
		return TransactionList{}, err
	}
	return list, nil
}

// GetTransaction fetches a transaction by identifier.
func (c *Client) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	endpoint, err := transactionPath(id)
	if err != nil {
		return Transaction{}, err
	}
	var tx Transaction
	if err := c.get(ctx, endpoint, nil, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Deliver records the seller's response payload.
func (c *Client) Deliver(ctx context.Context, id string, responsePayload any) (Transaction, error) {
	endpoint, err := transactionPath(id, "deliver")
	if err != nil {
		return Transaction{}, err
	}
	var tx Transaction
	body := map[string]any{"responsePayload": responsePayload}
	if err := c.post(ctx, endpoint, body, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Confirm marks the delivery as accepted by the buyer.
func (c *Client) Confirm(ctx context.Context, id string) (Transaction, error) {
	endpoint, err := transactionPath(id, "confirm")
	if err != nil {
		return Transaction{}, err
	}
	var tx Transaction
	if err := c.post(ctx, endpoint, nil, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// OpenDispute opens a dispute with the given reason.
func (c *Client) OpenDispute(ctx context.Context, id, reason string) (Transaction, error) {
	endpoint, err := transactionPath(id, "dispute")
	if err != nil {
		return Transaction{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return Transaction{}, xerrors.New(xerrors.CodeInvalidArgument, "dispute reason is required")
	}
	var tx Transaction
	if err := c.post(ctx, endpoint, map[string]string{"reason": reason}, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// DisputeStatus reports the state of an open or resolved dispute.
func (c *Client) DisputeStatus(ctx context.Context, id string) (DisputeStatus, error) {
	endpoint, err := transactionPath(id, "dispute")
	if err != nil {
		return DisputeStatus{}, err
	}
	var status DisputeStatus
	if err := c.get(ctx, endpoint, nil, &status); err != nil {
		return DisputeStatus{}, err
	}
	return status, nil
}

// SubmitEvidence attaches evidence to an open dispute and returns its id.
func (c *Client) SubmitEvidence(ctx context.Context, id string, ev Evidence) (string, error) {
	endpoint, err := transactionPath(id, "dispute", "evidence")
	if err != nil {
		return "", err
	}
	if !ev.Type.Valid() {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "unknown evidence type "+strconv.Quote(string(ev.Type)))
	}
	if strings.TrimSpace(ev.Content) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "evidence content is required")
	}
	var out struct {
		EvidenceID string `json:"evidenceId"`
	}
	if err := c.post(ctx, endpoint, ev, &out); err != nil {
		return "", err
	}
	return out.EvidenceID, nil
}

// Fund asks the backend to verify the on-chain funding transaction.
func (c *Client) Fund(ctx context.Context, id string, txHash common.Hash) (FundResult, error) {
	endpoint, err := transactionPath(id, "fund")
	if err != nil {
		return FundResult{}, err
	}
	var res FundResult
	if err := c.post(ctx, endpoint, map[string]string{"txHash": txHash.Hex()}, &res); err != nil {
		return FundResult{}, err
	}
	return res, nil
}
