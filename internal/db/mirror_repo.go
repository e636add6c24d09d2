package db

import (
	"context"
	"fmt"
	"log/slog"

	"resonate/internal/types"
)

// mirrorTables maps an event category to its mirror table. The table name
// is always taken from this fixed map, never from event input.
var mirrorTables = map[types.EventCategory]string{
	types.CategoryCustomer: "stripe_customers",
	types.CategoryProduct:  "stripe_products",
	types.CategoryPrice:    "stripe_prices",
	types.CategoryInvoice:  "stripe_invoices",
	types.CategoryCharge:   "stripe_charges",
}

// MirrorRepo maintains the pass-through mirror rows for customer, product,
// price, invoice, and charge objects. The reconciliation core treats these
// as dumb key/payload tables: upsert by id on create/update events, delete
// by id on *.deleted events.
type MirrorRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewMirrorRepo creates a new MirrorRepo backed by the given database
// connection (pool or transaction).
func NewMirrorRepo(db DBTX, logger *slog.Logger) *MirrorRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorRepo{db: db, logger: logger}
}

// Upsert writes the raw object payload under its processor-assigned id.
// Replays of the same event converge on the same row.
func (r *MirrorRepo) Upsert(ctx context.Context, category types.EventCategory, id string, payload []byte) error {
	table, ok := mirrorTables[category]
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("no mirror table for category %s", category), nil)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO `+table+` (id, payload, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET payload = EXCLUDED.payload,
		     updated_at = NOW()`,
		id, payload,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			fmt.Sprintf("failed to upsert %s mirror row", category), err)
	}
	return nil
}

// Delete removes the mirror row for a *.deleted event. Deleting a row that
// was never mirrored is a no-op, keeping replays and out-of-order deletes
// safe.
func (r *MirrorRepo) Delete(ctx context.Context, category types.EventCategory, id string) error {
	table, ok := mirrorTables[category]
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("no mirror table for category %s", category), nil)
	}

	_, err := r.db.Exec(ctx,
		`DELETE FROM `+table+` WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			fmt.Sprintf("failed to delete %s mirror row", category), err)
	}
	return nil
}
