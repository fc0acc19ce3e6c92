package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentEscrow/internal/auth"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/escrow"
	"AgentEscrow/internal/inbox"
	"AgentEscrow/internal/ledger"
	"AgentEscrow/internal/webhook"
)

type stubEscrows struct {
	snap escrow.Reconciliation
	err  error
}

func (s stubEscrows) Snapshot(_ context.Context, txID string) (escrow.Reconciliation, error) {
	if s.err != nil {
		return escrow.Reconciliation{}, s.err
	}
	snap := s.snap
	snap.Transaction.ID = txID
	return snap, nil
}

type fixture struct {
	router http.Handler
	inbox  *inbox.Service
	token  string
}

func newFixture(t *testing.T, escrows Escrows) fixture {
	t.Helper()
	svc := inbox.NewService(inbox.NewMemoryStore(), inbox.NewMemoryQueue(16), 3)
	listener, err := webhook.NewListener(svc, webhook.ListenerOptions{Secret: "hook-secret"})
	require.NoError(t, err)
	authSvc, err := auth.NewService(auth.Config{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)
	token, err := authSvc.Issue("ops", auth.ReadScopes())
	require.NoError(t, err)
	return fixture{
		router: NewRouter(Options{
			WebhookPath:   "/webhook",
			Webhook:       listener,
			Deliveries:    svc,
			Escrows:       escrows,
			Auth:          authSvc,
			EnableMetrics: true,
		}),
		inbox: svc,
		token: token,
	}
}

func (f fixture) get(t *testing.T, path string, withToken bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if withToken {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func pushDelivery(t *testing.T, f fixture, txID string) {
	t.Helper()
	body := `{"event":"service.delivered","transactionId":"` + txID +
		`","serviceId":"svc_1","responsePayload":{"ok":true},"deliveredAt":"2026-05-04T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign("hook-secret", []byte(body)))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/healthz", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.get(t, "/metrics", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "escrowd_http_requests_total")
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/api/v1/deliveries", "/api/v1/deliveries/stats", "/api/v1/escrows/tx_1"} {
		rec := f.get(t, path, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED", path)
	}
}

func TestWebhookThenListDeliveries(t *testing.T) {
	f := newFixture(t, nil)
	pushDelivery(t, f, "tx_1")
	pushDelivery(t, f, "tx_2")

	rec := f.get(t, "/api/v1/deliveries?transaction=tx_1&verified=true", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Deliveries []inbox.Delivery `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Deliveries, 1)
	assert.Equal(t, "tx_1", list.Deliveries[0].TransactionID)
	assert.True(t, list.Deliveries[0].Verified)

	rec = f.get(t, "/api/v1/deliveries/"+list.Deliveries[0].ID, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/api/v1/deliveries/stats", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats inbox.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Pending)
}

func TestDeliveryQueryValidation(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/v1/deliveries?limit=-1&status=bogus&order=sideways", true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Code    string                `json:"code"`
		Details []xerrors.FieldError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(xerrors.CodeValidation), body.Code)
	assert.Len(t, body.Details, 3)
}

func TestDeliveryNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/v1/deliveries/missing", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEscrowSnapshot(t *testing.T) {
	stub := stubEscrows{snap: escrow.Reconciliation{
		EscrowID: common.HexToHash("0x01"),
		Account: escrow.Account{
			Status:       escrow.StatusDelivered,
			LockedAmount: big.NewInt(990000),
			PlatformFee:  big.NewInt(10000),
			Deadline:     time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC),
			DeliveredAt:  time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		},
		Transaction: ledger.Transaction{Status: ledger.StatusDelivered},
		Expected:    []ledger.TransactionStatus{ledger.StatusDelivered},
		InSync:      true,
	}}
	f := newFixture(t, stub)
	rec := f.get(t, "/api/v1/escrows/tx_9", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view snapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "delivered", view.ChainStatus)
	assert.Equal(t, "990000", view.Locked)
	assert.Equal(t, "tx_9", view.Transaction.ID)
	assert.Equal(t, []string{"delivered"}, view.Expected)
	assert.True(t, view.InSync)
	require.NotNil(t, view.DeliveredAt)

	f = newFixture(t, stubEscrows{err: xerrors.New(xerrors.CodeVerificationMismatch, "escrow id mismatch")})
	rec = f.get(t, "/api/v1/escrows/tx_9", true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEscrowsDisabled(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/v1/escrows/tx_1", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
