package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/escrow"
	"AgentEscrow/internal/inbox"
	"AgentEscrow/internal/ledger"
)

type handlers struct {
	deliveries Deliveries
	escrows    Escrows
}

func (h *handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.deliveries == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "delivery inbox is not enabled"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := h.deliveries.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*inbox.Delivery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": items})
}

func (h *handlers) deliveryStats(w http.ResponseWriter, r *http.Request) {
	if h.deliveries == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "delivery inbox is not enabled"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.deliveries.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) getDelivery(w http.ResponseWriter, r *http.Request) {
	if h.deliveries == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "delivery inbox is not enabled"))
		return
	}
	d, err := h.deliveries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type snapshotView struct {
	EscrowID    string             `json:"escrowId"`
	ChainStatus string             `json:"chainStatus"`
	Buyer       string             `json:"buyer"`
	Seller      string             `json:"seller"`
	Token       string             `json:"token"`
	Locked      string             `json:"lockedAmount"`
	Fee         string             `json:"platformFee"`
	Deadline    time.Time          `json:"deadline"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty"`
	Transaction ledger.Transaction `json:"transaction"`
	Expected    []string           `json:"expectedBackendStatus"`
	InSync      bool               `json:"inSync"`
}

func (h *handlers) escrowSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.escrows == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "escrow coordinator is not enabled"))
		return
	}
	snap, err := h.escrows.Snapshot(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap))
}

func viewOf(snap escrow.Reconciliation) snapshotView {
	acct := snap.Account
	v := snapshotView{
		EscrowID:    snap.EscrowID.Hex(),
		ChainStatus: acct.Status.String(),
		Buyer:       acct.Buyer.Hex(),
		Seller:      acct.Seller.Hex(),
		Token:       acct.Token.Hex(),
		Locked:      bigString(acct.LockedAmount),
		Fee:         bigString(acct.PlatformFee),
		Deadline:    acct.Deadline,
		Transaction: snap.Transaction,
		InSync:      snap.InSync,
	}
	if !acct.DeliveredAt.IsZero() {
		at := acct.DeliveredAt
		v.DeliveredAt = &at
	}
	for _, s := range snap.Expected {
		v.Expected = append(v.Expected, string(s))
	}
	return v
}

func bigString(v interface{ String() string }) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func listOptionsFromQuery(r *http.Request) ([]inbox.ListOption, error) {
	q := r.URL.Query()
	var (
		opts   []inbox.ListOption
		fields []xerrors.FieldError
	)
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fields = append(fields, xerrors.FieldError{Path: "limit", Message: "must be a positive integer"})
		} else {
			opts = append(opts, inbox.WithLimit(n))
		}
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fields = append(fields, xerrors.FieldError{Path: "offset", Message: "must be a non-negative integer"})
		} else {
			opts = append(opts, inbox.WithOffset(n))
		}
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []inbox.Status
		for _, part := range strings.Split(raw, ",") {
			s := inbox.Status(strings.TrimSpace(part))
			if !inbox.IsValidStatus(s) {
				fields = append(fields, xerrors.FieldError{Path: "status", Message: "unknown status " + string(s)})
				continue
			}
			statuses = append(statuses, s)
		}
		opts = append(opts, inbox.WithStatuses(statuses...))
	}
	if raw := q.Get("verified"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fields = append(fields, xerrors.FieldError{Path: "verified", Message: "must be a boolean"})
		} else {
			opts = append(opts, inbox.WithVerified(b))
		}
	}
	if raw := strings.TrimSpace(q.Get("transaction")); raw != "" {
		opts = append(opts, inbox.WithTransaction(raw))
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, inbox.WithSortOrder(inbox.SortByUpdatedAsc))
	default:
		fields = append(fields, xerrors.FieldError{Path: "order", Message: "must be asc or desc"})
	}
	if len(fields) > 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "invalid query", xerrors.WithFieldErrors(fields...))
	}
	return opts, nil
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, inbox.CodeDeliveryNotFound:
		return http.StatusNotFound
	case xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case xerrors.CodeForbidden:
		return http.StatusForbidden
	case xerrors.CodeConflict, xerrors.CodePreconditionNotMet:
		return http.StatusConflict
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeNetworkError, xerrors.CodeVerificationMismatch:
		return http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := map[string]any{"code": code, "error": err.Error()}
	if e, ok := xerrors.From(err); ok {
		body["error"] = e.Message()
	}
	if fields := xerrors.FieldErrors(err); len(fields) > 0 {
		body["details"] = fields
	}
	writeJSON(w, statusFor(code), body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
