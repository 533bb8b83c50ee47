package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	if err := NewDate(2024, 1, 1).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Date{Time: time.Time{}}).Validate(); !errors.Is(err, ErrInvalidDay) {
		t.Fatalf("zero date: got %v, want ErrInvalidDay", err)
	}
}

// A zero date surfaces as ErrInvalidDay through transaction validation, so
// the boundary can map it to a client error instead of a server one.
func TestTransactionValidateZeroDate(t *testing.T) {
	tx := Transaction{
		Amount: Amount{Magnitude: decimal.NewFromInt(5), Direction: Expense},
		Period: Period{Month: 3, Year: 2024},
	}
	if err := tx.Validate(); !errors.Is(err, ErrInvalidDay) {
		t.Fatalf("got %v, want ErrInvalidDay", err)
	}
}

func TestGroupTypeValidate(t *testing.T) {
	for _, gt := range []GroupType{GroupIncome, GroupExpense, GroupSavings} {
		if err := gt.Validate(); err != nil {
			t.Fatalf("%s: expected ok, got %v", gt, err)
		}
	}
	if err := GroupType("stocks").Validate(); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestPaymentMethodValidate(t *testing.T) {
	cases := []struct {
		pm PaymentMethod
		ok bool
	}{
		{PaymentMethod{ID: 1, Name: "Checking"}, true},
		{PaymentMethod{ID: 1, Name: "Card", SettlementDay: 18}, true},
		{PaymentMethod{ID: 1, Name: "Card", SettlementDay: 31}, true},
		{PaymentMethod{ID: 1, Name: ""}, false},
		{PaymentMethod{ID: 1, Name: "Card", SettlementDay: 32}, false},
		{PaymentMethod{ID: 1, Name: "Card", SettlementDay: -1}, false},
		{PaymentMethod{ID: 1, Name: "Card", LinkedTo: 1}, false}, // self-link
	}
	for i, tc := range cases {
		err := tc.pm.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestTransferValidate(t *testing.T) {
	good := Transfer{
		Date:        NewDate(2024, 5, 1),
		Amount:      decimal.NewFromInt(10),
		Source:      AccountRef{Type: AccountPayment, ID: 1},
		Destination: AccountRef{Type: AccountPayment, ID: 2},
		Period:      Period{Month: 5, Year: 2024},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bad := good
	bad.Amount = decimal.NewFromInt(-10)
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for negative amount")
	}

	bad = good
	bad.Destination = good.Source
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for identical endpoints")
	}

	bad = good
	bad.Period = Period{Month: 13, Year: 2024}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for invalid period")
	}
}

func TestMonthlyValueValidate(t *testing.T) {
	cases := []struct {
		mv MonthlyValue
		ok bool
	}{
		{MonthlyValue{ItemID: 1, Month: 1}, true},
		{MonthlyValue{ItemID: 1, Month: 12, Budget: decimal.NewFromInt(5)}, true},
		{MonthlyValue{ItemID: 1, Month: 0}, false},
		{MonthlyValue{ItemID: 1, Month: 13}, false},
		{MonthlyValue{ItemID: 1, Month: 6, Budget: decimal.NewFromInt(-1)}, false},
	}
	for i, tc := range cases {
		err := tc.mv.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}
