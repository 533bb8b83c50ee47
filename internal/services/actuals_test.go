package services

import (
	"context"
	"testing"

	"bilancio/internal/core"
)

func TestActualsRefresh(t *testing.T) {
	store := newFakeStore()
	_, _, it, acc := seedYear(t, store)
	svc := fixedService(store, nil)
	ctx := context.Background()

	record := func(mag string, dir core.Direction) {
		t.Helper()
		if _, err := svc.RecordTransaction(ctx, TransactionInput{
			Year: 2024, ItemID: it.ID, AccountID: acc.ID,
			Date: core.NewDate(2024, 3, 2), Amount: dec(mag), Direction: dir,
		}); err != nil {
			t.Fatalf("record %s: %v", mag, err)
		}
	}
	record("50", core.Expense)
	record("25.25", core.Expense)
	record("10", core.Refund)

	refresher := NewActualsRefresher(store)
	if err := refresher.Refresh(ctx, it.ID, core.Period{Month: 3, Year: 2024}); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	values, _ := store.MonthlyValuesByYear(ctx, store.years[2024].ID)
	for _, mv := range values {
		if mv.ItemID == it.ID && mv.Month == 3 {
			if !mv.Actual.Equal(dec("65.25")) {
				t.Fatalf("actual: got %s, want 65.25", mv.Actual)
			}
			return
		}
	}
	t.Fatalf("cell not found")
}

func TestActualsRefreshEmptyCell(t *testing.T) {
	store := newFakeStore()
	_, _, it, _ := seedYear(t, store)
	refresher := NewActualsRefresher(store)

	if err := refresher.Refresh(context.Background(), it.ID, core.Period{Month: 8, Year: 2024}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	values, _ := store.MonthlyValuesByYear(context.Background(), store.years[2024].ID)
	for _, mv := range values {
		if mv.ItemID == it.ID && mv.Month == 8 && !mv.Actual.IsZero() {
			t.Fatalf("empty cell should stay zero, got %s", mv.Actual)
		}
	}
}

func TestActualsRefreshMissingItem(t *testing.T) {
	store := newFakeStore()
	seedYear(t, store)
	refresher := NewActualsRefresher(store)

	// a stale event for a deleted item is dropped, not an error
	if err := refresher.Refresh(context.Background(), 9999, core.Period{Month: 1, Year: 2024}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestActualsRefreshInvalidPeriod(t *testing.T) {
	refresher := NewActualsRefresher(newFakeStore())
	if err := refresher.Refresh(context.Background(), 1, core.Period{Month: 13, Year: 2024}); err == nil {
		t.Fatalf("expected error for invalid month")
	}
}
