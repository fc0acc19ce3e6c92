package escrowd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestRequestsRequireToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s", r.URL.Path)
	})
	if _, err := client.GetDelivery(context.Background(), "d-1"); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestListDeliveriesSendsFilter(t *testing.T) {
	verified := true
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/deliveries" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		q := r.URL.Query()
		if q.Get("status") != "pending,failed" || q.Get("verified") != "true" ||
			q.Get("transaction") != "tx_1" || q.Get("limit") != "5" || q.Get("order") != "asc" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"deliveries": []Delivery{{ID: "d-1", TransactionID: "tx_1", Status: "pending", Verified: true}},
		})
	})
	client.SetAccessToken("token")

	items, err := client.ListDeliveries(context.Background(), DeliveryFilter{
		Statuses:      []string{"pending", "failed"},
		Verified:      &verified,
		TransactionID: "tx_1",
		Limit:         5,
		Ascending:     true,
	})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(items) != 1 || items[0].ID != "d-1" {
		t.Fatalf("unexpected deliveries: %+v", items)
	}
}

func TestEscrowSnapshotError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/escrows/tx_404" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "NOT_FOUND", "error": "transaction not found"})
	})
	client.SetAccessToken("token")

	_, err := client.EscrowSnapshot(context.Background(), "tx_404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestDeliveryStatsDropsPaging(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("limit") {
			t.Fatalf("stats should not page: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(DeliveryStats{Total: 3, Succeeded: 2, Failed: 1})
	})
	client.SetAccessToken("token")

	stats, err := client.DeliveryStats(context.Background(), DeliveryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
