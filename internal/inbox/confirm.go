package inbox

import (
	"context"

	"AgentEscrow/internal/escrow"
	xerrors "AgentEscrow/internal/errors"
)

// Confirmer releases escrowed funds for a delivered transaction.
type Confirmer interface {
	ConfirmAndRelease(ctx context.Context, txID string) (escrow.ReleaseOutcome, error)
}

// AutoConfirm returns an executor that confirms every delivery it is handed.
// Unsigned deliveries are refused unless allowUnverified is set.
func AutoConfirm(c Confirmer, allowUnverified bool) Executor {
	return ExecutorFunc(func(ctx context.Context, d Delivery) (string, error) {
		if !d.Verified && !allowUnverified {
			return "", xerrors.New(xerrors.CodePreconditionNotMet, "refusing to auto-confirm an unverified delivery",
				xerrors.WithMetadata("transaction_id", d.TransactionID))
		}
		out, err := c.ConfirmAndRelease(ctx, d.TransactionID)
		if err != nil {
			return "", err
		}
		if out.Accepted() {
			return "confirmed; accept submitted in " + out.AcceptTxHash.Hex(), nil
		}
		return "confirmed; backend status " + string(out.Transaction.Status), nil
	})
}

// RecordOnly acknowledges deliveries without acting on them.
func RecordOnly() Executor {
	return ExecutorFunc(func(context.Context, Delivery) (string, error) {
		return "recorded", nil
	})
}
