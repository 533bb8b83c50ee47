package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
)

// ActualsRefresher recomputes the cached `actual` of one (item, month) cell
// from the transactions settling in it. It runs out of the request path,
// driven by movement events, so writes stay cheap and the cache converges.
type ActualsRefresher struct {
	store Store
}

func NewActualsRefresher(store Store) *ActualsRefresher {
	return &ActualsRefresher{store: store}
}

// Refresh sums the movements of one cell and upserts the result. Refunds
// subtract from the spent amount; the cell floor is not clamped, a month can
// legitimately go negative when refunds exceed spending.
func (r *ActualsRefresher) Refresh(ctx context.Context, itemID int64, p core.Period) error {
	if itemID == 0 {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}
	txs, err := r.store.TransactionsByItemPeriod(ctx, itemID, p)
	if err != nil {
		return fmt.Errorf("load cell transactions: %w", err)
	}

	actual := decimal.Zero
	for _, t := range txs {
		if t.Amount.Direction == core.Refund {
			actual = actual.Sub(t.Amount.Magnitude)
		} else {
			actual = actual.Add(t.Amount.Magnitude)
		}
	}

	err = r.store.UpsertMonthlyActual(ctx, itemID, p.Month, actual)
	if errors.Is(err, core.ErrNotFound) {
		// the item vanished between event and refresh; nothing to cache
		slog.WarnContext(ctx, "Skipping actuals refresh for missing item",
			"item_id", itemID, "month", p.Month, "year", p.Year)
		return nil
	}
	if err != nil {
		return fmt.Errorf("upsert actual: %w", err)
	}
	slog.DebugContext(ctx, "Refreshed monthly actual",
		"item_id", itemID, "month", p.Month, "year", p.Year, "actual", actual.String())
	return nil
}
