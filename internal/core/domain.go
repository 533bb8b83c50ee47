package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GroupType classifies a budget group and, through it, every item in the
// group. Items without a group count as expenses during aggregation.
type GroupType string

const (
	GroupIncome  GroupType = "income"
	GroupExpense GroupType = "expense"
	GroupSavings GroupType = "savings"
)

// AccountType distinguishes the two kinds of endpoints a transfer can have.
type AccountType string

const (
	AccountPayment     AccountType = "payment_method"
	AccountSavingsItem AccountType = "savings_item"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrInvalidMonth         = errors.New("invalid month")
	ErrInvalidDay           = errors.New("invalid day")
	ErrInvalidSettlementDay = errors.New("invalid settlement day")
	ErrInvalidGroupType     = errors.New("invalid group type")
	ErrEmptyName            = errors.New("empty name")
	ErrLinkCycle            = errors.New("payment method link would form a cycle")
)

type (
	Date struct {
		time.Time
	}

	// BudgetYear anchors all figures of one fiscal year. The year number is
	// immutable once created; the initial balance may be edited.
	BudgetYear struct {
		ID             int64
		BudgetID       int64
		Year           int
		InitialBalance decimal.Decimal
	}

	BudgetGroup struct {
		ID        int64
		BudgetID  int64
		Name      string
		Slug      string
		Type      GroupType
		SortOrder int
	}

	// BudgetItem belongs to exactly one BudgetYear. Its income/expense/savings
	// classification is inherited from the group, never stored on the item.
	// LinkedAccountID mirrors a savings item onto a payment-method account.
	BudgetItem struct {
		ID              int64
		YearID          int64
		GroupID         int64 // 0 = unclassified
		Name            string
		Slug            string
		SortOrder       int
		YearlyBudget    decimal.Decimal
		LinkedAccountID int64 // 0 = none
	}

	// MonthlyValue holds one month's budgeted figure and the cached actual
	// derived from transactions. Exactly 12 exist per item.
	MonthlyValue struct {
		ItemID int64
		Month  int
		Budget decimal.Decimal
		Actual decimal.Decimal
	}

	// Transaction is a single money movement against a payment method,
	// stamped once at write time with the accounting period it settles in.
	Transaction struct {
		ID        int64
		YearID    int64
		ItemID    int64 // 0 = unclassified
		AccountID int64
		Date      Date
		Amount    Amount
		Period    Period
	}

	// AccountRef identifies one endpoint of a transfer.
	AccountRef struct {
		Type AccountType
		ID   int64
	}

	// Transfer is a zero-sum movement between two accounts: the source loses
	// Amount, the destination gains it, both in the stamped period.
	Transfer struct {
		ID            int64
		YearID        int64
		Date          Date
		Amount        decimal.Decimal // always positive
		Source        AccountRef
		Destination   AccountRef
		Period        Period
		SavingsItemID int64 // 0 = none
	}

	// PaymentMethod is a payment instrument. When LinkedTo is set the method
	// rolls its movements up into that parent and is not displayed standalone.
	PaymentMethod struct {
		ID            int64
		BudgetID      int64
		Name          string
		Institution   string
		SortOrder     int
		IsAccount     bool
		IsSavings     bool
		SettlementDay int   // 0 = unset, settles in the calendar month
		LinkedTo      int64 // 0 = standalone
	}

	// AccountBalance is the per-year starting balance of one account, the
	// only mutable anchor for balance computation. Upserted, never duplicated.
	AccountBalance struct {
		YearID         int64
		Account        AccountRef
		InitialBalance decimal.Decimal
	}
)

func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("zero date: %w", ErrInvalidDay)
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month number
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

func (t GroupType) Validate() error {
	switch t {
	case GroupIncome, GroupExpense, GroupSavings:
		return nil
	default:
		return ErrInvalidGroupType
	}
}

func (g BudgetGroup) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	return g.Type.Validate()
}

func (i BudgetItem) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return ErrEmptyName
	}
	if i.YearlyBudget.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m MonthlyValue) Validate() error {
	if m.Month < 1 || m.Month > 12 {
		return ErrInvalidMonth
	}
	if m.Budget.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	return t.Period.Validate()
}

func (t Transfer) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if t.Source == t.Destination {
		return errors.New("transfer endpoints must differ")
	}
	return t.Period.Validate()
}

func (r AccountRef) Validate() error {
	if r.ID <= 0 {
		return errors.New("account ref requires an id")
	}
	switch r.Type {
	case AccountPayment, AccountSavingsItem:
		return nil
	default:
		return errors.New("invalid account type")
	}
}

func (p PaymentMethod) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if p.SettlementDay < 0 || p.SettlementDay > 31 {
		return ErrInvalidSettlementDay
	}
	if p.LinkedTo != 0 && p.LinkedTo == p.ID {
		return ErrLinkCycle
	}
	return nil
}
