package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentEscrow/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "key-1", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, env map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	c, err := NewClient(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.BaseURL() != DefaultBaseURL {
		t.Fatalf("unexpected base url %s", c.BaseURL())
	}
}

func TestConfirmSendsKeyWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/transactions/tx-1/confirm" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "key-1" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("missing accept header")
		}
		if ct := r.Header.Get("Content-Type"); ct != "" {
			t.Errorf("confirm must not send a body, got content type %q", ct)
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"id": "tx-1", "status": "completed"},
		})
	})

	tx, err := c.Confirm(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if tx.ID != "tx-1" || tx.Status != StatusCompleted {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestListTransactionsSkipsEmptyParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("role") != "buyer" || q.Get("limit") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Has("status") || q.Has("offset") {
			t.Errorf("empty params must be omitted: %s", r.URL.RawQuery)
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"transactions": []map[string]any{{"id": "a"}, {"id": "b"}},
				"total":        2,
				"limit":        5,
			},
		})
	})

	list, err := c.ListTransactions(context.Background(), ListParams{Role: RoleBuyer, Limit: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 2 || len(list.Transactions) != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestFundAndEvidencePayloads(t *testing.T) {
	hash := common.HexToHash("0xabc")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/api/v1/transactions/tx-9/fund":
			var in map[string]string
			_ = json.Unmarshal(body, &in)
			if in["txHash"] != hash.Hex() {
				t.Errorf("unexpected fund body %s", body)
			}
			writeEnvelope(w, http.StatusOK, map[string]any{
				"success": true,
				"data": map[string]any{
					"id":     "tx-9",
					"status": "escrowed",
					"onChain": map[string]any{
						"escrowId":     "0x01",
						"lockedAmount": "98000000",
						"platformFee":  "2000000",
					},
				},
			})
		case "/api/v1/transactions/tx-9/dispute/evidence":
			if !strings.Contains(string(body), `"type":"link"`) {
				t.Errorf("unexpected evidence body %s", body)
			}
			writeEnvelope(w, http.StatusCreated, map[string]any{
				"success": true,
				"data":    map[string]any{"evidenceId": "ev-1"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	res, err := c.Fund(context.Background(), "tx-9", hash)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if res.Status != StatusEscrowed || res.OnChain.PlatformFee != "2000000" {
		t.Fatalf("unexpected fund result %+v", res)
	}

	id, err := c.SubmitEvidence(context.Background(), "tx-9", Evidence{Type: EvidenceLink, Content: "https://proof"})
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if id != "ev-1" {
		t.Fatalf("unexpected evidence id %q", id)
	}

	if _, err := c.SubmitEvidence(context.Background(), "tx-9", Evidence{Type: "video", Content: "x"}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid evidence type to fail locally, got %v", err)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header string
		env    map[string]any
		code   xerrors.Code
		check  func(t *testing.T, err error)
	}{
		{name: "unauthorized", status: 401, env: map[string]any{"error": "bad key"}, code: xerrors.CodeUnauthenticated},
		{name: "payment", status: 402, env: map[string]any{"error": "fund first"}, code: xerrors.CodePaymentRequired},
		{name: "forbidden", status: 403, env: map[string]any{}, code: xerrors.CodeForbidden},
		{name: "not found", status: 404, env: map[string]any{"error": "missing"}, code: xerrors.CodeNotFound},
		{
			name:   "validation",
			status: 400,
			env: map[string]any{
				"error": "Invalid data",
				"details": []map[string]any{
					{"path": []any{"input", "amount"}, "message": "too big"},
					{"path": []any{}, "message": "bad"},
				},
			},
			code: xerrors.CodeValidation,
			check: func(t *testing.T, err error) {
				fields := xerrors.FieldErrors(err)
				if len(fields) != 2 || fields[0].Path != "input.amount" || fields[1].Path != "unknown" {
					t.Fatalf("unexpected field errors %+v", fields)
				}
				if !strings.Contains(err.Error(), "input.amount: too big") {
					t.Fatalf("field errors missing from message: %v", err)
				}
			},
		},
		{
			name: "rate limited", status: 429, header: "7", env: map[string]any{"error": "slow down"},
			code: xerrors.CodeRateLimited,
			check: func(t *testing.T, err error) {
				if got := xerrors.RetryAfter(err); got != 7*time.Second {
					t.Fatalf("unexpected retry after %s", got)
				}
			},
		},
		{
			name: "rate limited default", status: 429, env: map[string]any{},
			code: xerrors.CodeRateLimited,
			check: func(t *testing.T, err error) {
				if got := xerrors.RetryAfter(err); got != DefaultRetryAfter {
					t.Fatalf("unexpected retry after %s", got)
				}
			},
		},
		{
			name: "server error", status: 500, env: map[string]any{},
			code: xerrors.CodeUnknown,
			check: func(t *testing.T, err error) {
				if !strings.Contains(err.Error(), "HTTP 500") {
					t.Fatalf("expected status fallback message, got %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				writeEnvelope(w, tc.status, tc.env)
			})
			_, err := c.GetTransaction(context.Background(), "tx-1")
			if !xerrors.HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if tc.check != nil {
				tc.check(t, err)
			}
		})
	}
}

func TestInvalidJSONResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})
	_, err := c.GetTransaction(context.Background(), "tx-1")
	if err == nil || !strings.Contains(err.Error(), "invalid JSON response (HTTP 502)") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTimeoutAndNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.GetTransaction(context.Background(), "tx-1"); !xerrors.HasCode(err, xerrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	c, err = NewClient(Config{BaseURL: closedURL, APIKey: "k"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.GetTransaction(context.Background(), "tx-1")
	if !xerrors.HasCode(err, xerrors.CodeNetworkError) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !xerrors.RetryableError(err) {
		t.Fatal("network errors should be retryable")
	}
}

func TestRegisterSignsMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet := crypto.PubkeyToAddress(key.PublicKey)
	at := time.Unix(1_700_000_000, 0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != registerPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "" {
			t.Errorf("registration must not send an api key")
		}
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		sig, err := hexutil.Decode(in["signature"])
		if err != nil || len(sig) != 65 {
			t.Errorf("bad signature %q", in["signature"])
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sig[64] -= 27
		pub, err := crypto.SigToPub(accounts.TextHash([]byte(in["message"])), sig)
		if err != nil || crypto.PubkeyToAddress(*pub) != wallet {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "signature mismatch"})
			return
		}
		if !strings.HasSuffix(in["message"], "\nTimestamp: 1700000000") || in["agentName"] != "buyer-bot" {
			t.Errorf("unexpected message %q", in["message"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":       true,
			"apiKey":        "aba_123",
			"agentId":       "agent-1",
			"walletAddress": wallet.Hex(),
		})
	}))
	defer srv.Close()

	reg, err := Register(context.Background(), Config{BaseURL: srv.URL}, RegisterRequest{
		Key:       key,
		AgentName: "buyer-bot",
		Now:       func() time.Time { return at },
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.APIKey != "aba_123" || reg.AgentID != "agent-1" {
		t.Fatalf("unexpected registration %+v", reg)
	}

	msg := RegisterMessage("abbababa.com", wallet, at)
	if !strings.HasPrefix(msg, "Register on abbababa.com\nWallet: "+wallet.Hex()) {
		t.Fatalf("unexpected message %q", msg)
	}
}
