// Package storage is the SQLite-backed repository behind the budgeting
// engine. Every data method resolves the tenant scope from the context first
// and fails with tenant.ErrNoScope when none was established; only Raw is
// exempt, for infrastructure call sites.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"bilancio/internal/core"
	"bilancio/internal/tenant"
)

type Repository struct {
	db *sql.DB
}

func Open(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Raw exposes the unguarded handle for infrastructure code only: health
// pings, maintenance. Application queries go through the scoped methods.
func (r *Repository) Raw() *sql.DB {
	return r.db
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func decFrom(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return core.Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return core.Date{Time: t}, nil
}

// ----- budget years -----

const yearColumns = "id, budget_id, year, initial_balance"

func scanYear(row interface{ Scan(...any) error }) (core.BudgetYear, error) {
	var y core.BudgetYear
	var balance string
	if err := row.Scan(&y.ID, &y.BudgetID, &y.Year, &balance); err != nil {
		return core.BudgetYear{}, err
	}
	var err error
	y.InitialBalance, err = decFrom(balance)
	return y, err
}

// YearByNumber loads the tenant's budget year or core.ErrNotFound.
func (r *Repository) YearByNumber(ctx context.Context, year int) (core.BudgetYear, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.BudgetYear{}, err
	}
	row := r.db.QueryRowContext(ctx,
		"SELECT "+yearColumns+" FROM budget_years WHERE budget_id = ? AND year = ?",
		scope.BudgetID, year)
	y, err := scanYear(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetYear{}, core.ErrNotFound
	}
	if err != nil {
		return core.BudgetYear{}, fmt.Errorf("load year %d: %w", year, err)
	}
	return y, nil
}

// CreateYear inserts a new budget year. A duplicate (budget, year) pair is
// core.ErrAlreadyExists: opening the same year twice on purpose is an error.
func (r *Repository) CreateYear(ctx context.Context, year int, initial decimal.Decimal) (core.BudgetYear, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.BudgetYear{}, err
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO budget_years (budget_id, year, initial_balance) VALUES (?, ?, ?)",
		scope.BudgetID, year, initial.String())
	if isUniqueViolation(err) {
		return core.BudgetYear{}, fmt.Errorf("year %d: %w", year, core.ErrAlreadyExists)
	}
	if err != nil {
		return core.BudgetYear{}, fmt.Errorf("create year %d: %w", year, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.BudgetYear{}, fmt.Errorf("create year %d: %w", year, err)
	}
	return core.BudgetYear{ID: id, BudgetID: scope.BudgetID, Year: year, InitialBalance: initial}, nil
}

// GetOrCreateYear returns the existing year or creates it with a zero
// initial balance. Racing creators converge on the same row.
func (r *Repository) GetOrCreateYear(ctx context.Context, year int) (core.BudgetYear, error) {
	y, err := r.YearByNumber(ctx, year)
	if err == nil {
		return y, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.BudgetYear{}, err
	}
	y, err = r.CreateYear(ctx, year, decimal.Zero)
	if errors.Is(err, core.ErrAlreadyExists) {
		return r.YearByNumber(ctx, year)
	}
	return y, err
}

func (r *Repository) SetInitialBalance(ctx context.Context, yearID int64, balance decimal.Decimal) error {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE budget_years SET initial_balance = ? WHERE id = ? AND budget_id = ?",
		balance.String(), yearID, scope.BudgetID)
	if err != nil {
		return fmt.Errorf("set initial balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ----- groups and items -----

func (r *Repository) CreateGroup(ctx context.Context, g core.BudgetGroup) (core.BudgetGroup, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.BudgetGroup{}, err
	}
	if err := g.Validate(); err != nil {
		return core.BudgetGroup{}, err
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO budget_groups (budget_id, name, slug, type, sort_order) VALUES (?, ?, ?, ?, ?)",
		scope.BudgetID, g.Name, g.Slug, string(g.Type), g.SortOrder)
	if isUniqueViolation(err) {
		return core.BudgetGroup{}, fmt.Errorf("group %q: %w", g.Slug, core.ErrAlreadyExists)
	}
	if err != nil {
		return core.BudgetGroup{}, fmt.Errorf("create group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return core.BudgetGroup{}, fmt.Errorf("create group: %w", err)
	}
	g.BudgetID = scope.BudgetID
	return g, nil
}

func (r *Repository) Groups(ctx context.Context) ([]core.BudgetGroup, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, budget_id, name, slug, type, sort_order FROM budget_groups WHERE budget_id = ? ORDER BY sort_order, id",
		scope.BudgetID)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()

	var groups []core.BudgetGroup
	for rows.Next() {
		var g core.BudgetGroup
		var gt string
		if err := rows.Scan(&g.ID, &g.BudgetID, &g.Name, &g.Slug, &gt, &g.SortOrder); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Type = core.GroupType(gt)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CreateItem inserts the item together with its 12 monthly rows in one
// transaction; an item without a full set of months never exists.
func (r *Repository) CreateItem(ctx context.Context, it core.BudgetItem) (core.BudgetItem, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.BudgetItem{}, err
	}
	if err := it.Validate(); err != nil {
		return core.BudgetItem{}, err
	}
	if err := r.ownYear(ctx, scope, it.YearID); err != nil {
		return core.BudgetItem{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.BudgetItem{}, fmt.Errorf("begin create item: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO budget_items (year_id, group_id, name, slug, sort_order, yearly_budget, linked_account_id) VALUES (?, ?, ?, ?, ?, ?, ?)",
		it.YearID, nullID(it.GroupID), it.Name, it.Slug, it.SortOrder, it.YearlyBudget.String(), nullID(it.LinkedAccountID))
	if isUniqueViolation(err) {
		return core.BudgetItem{}, fmt.Errorf("item %q: %w", it.Slug, core.ErrAlreadyExists)
	}
	if err != nil {
		return core.BudgetItem{}, fmt.Errorf("create item: %w", err)
	}
	it.ID, err = res.LastInsertId()
	if err != nil {
		return core.BudgetItem{}, fmt.Errorf("create item: %w", err)
	}

	for month := 1; month <= 12; month++ {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO monthly_values (item_id, month) VALUES (?, ?)", it.ID, month); err != nil {
			return core.BudgetItem{}, fmt.Errorf("create monthly values: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.BudgetItem{}, fmt.Errorf("commit create item: %w", err)
	}
	return it, nil
}

const itemColumns = "i.id, i.year_id, i.group_id, i.name, i.slug, i.sort_order, i.yearly_budget, i.linked_account_id"

func scanItem(row interface{ Scan(...any) error }) (core.BudgetItem, error) {
	var it core.BudgetItem
	var groupID, linkedID sql.NullInt64
	var yearly string
	if err := row.Scan(&it.ID, &it.YearID, &groupID, &it.Name, &it.Slug, &it.SortOrder, &yearly, &linkedID); err != nil {
		return core.BudgetItem{}, err
	}
	it.GroupID = groupID.Int64
	it.LinkedAccountID = linkedID.Int64
	var err error
	it.YearlyBudget, err = decFrom(yearly)
	return it, err
}

func (r *Repository) ItemsByYear(ctx context.Context, yearID int64) ([]core.BudgetItem, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM budget_items i JOIN budget_years y ON y.id = i.year_id WHERE i.year_id = ? AND y.budget_id = ? ORDER BY i.sort_order, i.id",
		yearID, scope.BudgetID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var items []core.BudgetItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) ItemByID(ctx context.Context, id int64) (core.BudgetItem, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.BudgetItem{}, err
	}
	row := r.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM budget_items i JOIN budget_years y ON y.id = i.year_id WHERE i.id = ? AND y.budget_id = ?",
		id, scope.BudgetID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetItem{}, core.ErrNotFound
	}
	if err != nil {
		return core.BudgetItem{}, fmt.Errorf("load item %d: %w", id, err)
	}
	return it, nil
}

func (r *Repository) MonthlyValuesByYear(ctx context.Context, yearID int64) ([]core.MonthlyValue, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.item_id, m.month, m.budget, m.actual
		 FROM monthly_values m
		 JOIN budget_items i ON i.id = m.item_id
		 JOIN budget_years y ON y.id = i.year_id
		 WHERE i.year_id = ? AND y.budget_id = ?
		 ORDER BY m.item_id, m.month`,
		yearID, scope.BudgetID)
	if err != nil {
		return nil, fmt.Errorf("load monthly values: %w", err)
	}
	defer rows.Close()

	var values []core.MonthlyValue
	for rows.Next() {
		var mv core.MonthlyValue
		var budget, actual string
		if err := rows.Scan(&mv.ItemID, &mv.Month, &budget, &actual); err != nil {
			return nil, fmt.Errorf("scan monthly value: %w", err)
		}
		if mv.Budget, err = decFrom(budget); err != nil {
			return nil, fmt.Errorf("parse budget: %w", err)
		}
		if mv.Actual, err = decFrom(actual); err != nil {
			return nil, fmt.Errorf("parse actual: %w", err)
		}
		values = append(values, mv)
	}
	return values, rows.Err()
}

// UpsertMonthlyBudget writes the budgeted figure for one (item, month) cell.
// Insert-or-update on the unique key keeps concurrent writers from ever
// producing two rows; the last writer wins.
func (r *Repository) UpsertMonthlyBudget(ctx context.Context, itemID int64, month int, budget decimal.Decimal) error {
	return r.upsertMonthly(ctx, itemID, month, "budget", budget)
}

// UpsertMonthlyActual writes the cached actual for one (item, month) cell.
func (r *Repository) UpsertMonthlyActual(ctx context.Context, itemID int64, month int, actual decimal.Decimal) error {
	return r.upsertMonthly(ctx, itemID, month, "actual", actual)
}

func (r *Repository) upsertMonthly(ctx context.Context, itemID int64, month int, column string, v decimal.Decimal) error {
	if month < 1 || month > 12 {
		return core.ErrInvalidMonth
	}
	// scope guard happens in ItemByID; an unowned item is ErrNotFound
	if _, err := r.ItemByID(ctx, itemID); err != nil {
		return err
	}
	// column is one of two compile-time constants, never user input
	query := fmt.Sprintf(
		"INSERT INTO monthly_values (item_id, month, %s) VALUES (?, ?, ?) ON CONFLICT (item_id, month) DO UPDATE SET %s = excluded.%s",
		column, column, column)
	if _, err := r.db.ExecContext(ctx, query, itemID, month, v.String()); err != nil {
		return fmt.Errorf("upsert monthly %s: %w", column, err)
	}
	return nil
}

// ReorderItems applies a drag-and-drop ordering as one transaction of
// independent row updates. No concurrency token: last writer wins.
func (r *Repository) ReorderItems(ctx context.Context, yearID int64, orderedIDs []int64) error {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := r.ownYear(ctx, scope, yearID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback()

	for pos, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx,
			"UPDATE budget_items SET sort_order = ? WHERE id = ? AND year_id = ?",
			pos, id, yearID); err != nil {
			return fmt.Errorf("reorder item %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r *Repository) ownYear(ctx context.Context, scope tenant.Scope, yearID int64) error {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM budget_years WHERE id = ? AND budget_id = ?", yearID, scope.BudgetID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check year ownership: %w", err)
	}
	return nil
}

// ----- transactions and transfers -----

func (r *Repository) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := r.ownYear(ctx, scope, t.YearID); err != nil {
		return core.Transaction{}, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (year_id, item_id, account_id, date, amount, direction, accounting_month, accounting_year)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.YearID, nullID(t.ItemID), nullID(t.AccountID), t.Date.Format("2006-01-02"),
		t.Amount.Magnitude.String(), string(t.Amount.Direction), t.Period.Month, t.Period.Year)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET item_id = ?, account_id = ?, date = ?, amount = ?, direction = ?, accounting_month = ?, accounting_year = ?
		 WHERE id = ? AND year_id IN (SELECT id FROM budget_years WHERE budget_id = ?)`,
		nullID(t.ItemID), nullID(t.AccountID), t.Date.Format("2006-01-02"),
		t.Amount.Magnitude.String(), string(t.Amount.Direction), t.Period.Month, t.Period.Year,
		t.ID, scope.BudgetID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

const transactionColumns = "t.id, t.year_id, t.item_id, t.account_id, t.date, t.amount, t.direction, t.accounting_month, t.accounting_year"

func scanTransaction(rows *sql.Rows) (core.Transaction, error) {
	var t core.Transaction
	var itemID, accountID sql.NullInt64
	var date, amount, direction string
	if err := rows.Scan(&t.ID, &t.YearID, &itemID, &accountID, &date, &amount, &direction, &t.Period.Month, &t.Period.Year); err != nil {
		return core.Transaction{}, err
	}
	t.ItemID = itemID.Int64
	t.AccountID = accountID.Int64
	parsed, err := parseDate(date)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Date = parsed
	if t.Amount.Magnitude, err = decFrom(amount); err != nil {
		return core.Transaction{}, err
	}
	t.Amount.Direction = core.Direction(direction)
	return t, nil
}

func (r *Repository) TransactionByID(ctx context.Context, id int64) (core.Transaction, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+transactionColumns+` FROM transactions t
		 JOIN budget_years y ON y.id = t.year_id
		 WHERE t.id = ? AND y.budget_id = ?`, id, scope.BudgetID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("load transaction %d: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return core.Transaction{}, err
		}
		return core.Transaction{}, core.ErrNotFound
	}
	return scanTransaction(rows)
}

// TransactionsByAccountingYear loads every movement settling in the fiscal
// year, regardless of the calendar year it was recorded in.
func (r *Repository) TransactionsByAccountingYear(ctx context.Context, fiscalYear int) ([]core.Transaction, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+transactionColumns+` FROM transactions t
		 JOIN budget_years y ON y.id = t.year_id
		 WHERE y.budget_id = ? AND t.accounting_year = ?
		 ORDER BY t.accounting_month, t.id`,
		scope.BudgetID, fiscalYear)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// TransactionsByItemPeriod loads the movements behind one (item, month)
// actual. Used by the actuals refresher.
func (r *Repository) TransactionsByItemPeriod(ctx context.Context, itemID int64, p core.Period) ([]core.Transaction, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+transactionColumns+` FROM transactions t
		 JOIN budget_years y ON y.id = t.year_id
		 WHERE y.budget_id = ? AND t.item_id = ? AND t.accounting_month = ? AND t.accounting_year = ?`,
		scope.BudgetID, itemID, p.Month, p.Year)
	if err != nil {
		return nil, fmt.Errorf("load item transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *Repository) InsertTransfer(ctx context.Context, tr core.Transfer) (core.Transfer, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.Transfer{}, err
	}
	if err := tr.Validate(); err != nil {
		return core.Transfer{}, err
	}
	if err := r.ownYear(ctx, scope, tr.YearID); err != nil {
		return core.Transfer{}, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transfers (year_id, date, amount, source_type, source_id, destination_type, destination_id, accounting_month, accounting_year, savings_item_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.YearID, tr.Date.Format("2006-01-02"), tr.Amount.String(),
		string(tr.Source.Type), tr.Source.ID, string(tr.Destination.Type), tr.Destination.ID,
		tr.Period.Month, tr.Period.Year, nullID(tr.SavingsItemID))
	if err != nil {
		return core.Transfer{}, fmt.Errorf("insert transfer: %w", err)
	}
	tr.ID, err = res.LastInsertId()
	if err != nil {
		return core.Transfer{}, fmt.Errorf("insert transfer: %w", err)
	}
	return tr, nil
}

func (r *Repository) TransfersByAccountingYear(ctx context.Context, fiscalYear int) ([]core.Transfer, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.year_id, t.date, t.amount, t.source_type, t.source_id, t.destination_type, t.destination_id, t.accounting_month, t.accounting_year, t.savings_item_id
		 FROM transfers t
		 JOIN budget_years y ON y.id = t.year_id
		 WHERE y.budget_id = ? AND t.accounting_year = ?
		 ORDER BY t.accounting_month, t.id`,
		scope.BudgetID, fiscalYear)
	if err != nil {
		return nil, fmt.Errorf("load transfers: %w", err)
	}
	defer rows.Close()

	var transfers []core.Transfer
	for rows.Next() {
		var tr core.Transfer
		var date, amount, srcType, dstType string
		var savingsItemID sql.NullInt64
		if err := rows.Scan(&tr.ID, &tr.YearID, &date, &amount, &srcType, &tr.Source.ID, &dstType, &tr.Destination.ID, &tr.Period.Month, &tr.Period.Year, &savingsItemID); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		parsed, err := parseDate(date)
		if err != nil {
			return nil, fmt.Errorf("parse transfer date: %w", err)
		}
		tr.Date = parsed
		if tr.Amount, err = decFrom(amount); err != nil {
			return nil, fmt.Errorf("parse transfer amount: %w", err)
		}
		tr.Source.Type = core.AccountType(srcType)
		tr.Destination.Type = core.AccountType(dstType)
		tr.SavingsItemID = savingsItemID.Int64
		transfers = append(transfers, tr)
	}
	return transfers, rows.Err()
}

// ----- payment methods and balances -----

// CreateAccount inserts a payment method. Linking to a method that is itself
// linked is rejected: roll-up groups are one level deep and can never cycle.
func (r *Repository) CreateAccount(ctx context.Context, pm core.PaymentMethod) (core.PaymentMethod, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.PaymentMethod{}, err
	}
	if err := pm.Validate(); err != nil {
		return core.PaymentMethod{}, err
	}
	if pm.LinkedTo != 0 {
		parent, err := r.accountByID(ctx, scope, pm.LinkedTo)
		if err != nil {
			return core.PaymentMethod{}, err
		}
		if parent.LinkedTo != 0 {
			return core.PaymentMethod{}, core.ErrLinkCycle
		}
	}

	var day sql.NullInt64
	if pm.SettlementDay > 0 {
		day = sql.NullInt64{Int64: int64(pm.SettlementDay), Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_methods (budget_id, name, institution, sort_order, is_account, is_savings_account, settlement_day, linked_payment_method_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scope.BudgetID, pm.Name, pm.Institution, pm.SortOrder, pm.IsAccount, pm.IsSavings, day, nullID(pm.LinkedTo))
	if err != nil {
		return core.PaymentMethod{}, fmt.Errorf("create payment method: %w", err)
	}
	pm.ID, err = res.LastInsertId()
	if err != nil {
		return core.PaymentMethod{}, fmt.Errorf("create payment method: %w", err)
	}
	pm.BudgetID = scope.BudgetID
	return pm, nil
}

func (r *Repository) accountByID(ctx context.Context, scope tenant.Scope, id int64) (core.PaymentMethod, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, budget_id, name, institution, sort_order, is_account, is_savings_account, settlement_day, linked_payment_method_id
		 FROM payment_methods WHERE id = ? AND budget_id = ?`, id, scope.BudgetID)
	pm, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PaymentMethod{}, core.ErrNotFound
	}
	if err != nil {
		return core.PaymentMethod{}, fmt.Errorf("load payment method %d: %w", id, err)
	}
	return pm, nil
}

func (r *Repository) AccountByID(ctx context.Context, id int64) (core.PaymentMethod, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return core.PaymentMethod{}, err
	}
	return r.accountByID(ctx, scope, id)
}

func scanAccount(row interface{ Scan(...any) error }) (core.PaymentMethod, error) {
	var pm core.PaymentMethod
	var day, linked sql.NullInt64
	if err := row.Scan(&pm.ID, &pm.BudgetID, &pm.Name, &pm.Institution, &pm.SortOrder, &pm.IsAccount, &pm.IsSavings, &day, &linked); err != nil {
		return core.PaymentMethod{}, err
	}
	pm.SettlementDay = int(day.Int64)
	pm.LinkedTo = linked.Int64
	return pm, nil
}

func (r *Repository) Accounts(ctx context.Context) ([]core.PaymentMethod, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, budget_id, name, institution, sort_order, is_account, is_savings_account, settlement_day, linked_payment_method_id
		 FROM payment_methods WHERE budget_id = ? ORDER BY sort_order, id`, scope.BudgetID)
	if err != nil {
		return nil, fmt.Errorf("load payment methods: %w", err)
	}
	defer rows.Close()

	var accounts []core.PaymentMethod
	for rows.Next() {
		pm, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		accounts = append(accounts, pm)
	}
	return accounts, rows.Err()
}

// UpsertAccountBalance sets the per-year starting balance of one account.
// Insert-or-update on the (year, type, id) key: setting the same balance
// twice is one row, racing writers never duplicate, last value wins.
func (r *Repository) UpsertAccountBalance(ctx context.Context, b core.AccountBalance) error {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := b.Account.Validate(); err != nil {
		return err
	}
	if err := r.ownYear(ctx, scope, b.YearID); err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO account_balances (year_id, account_type, account_id, initial_balance)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (year_id, account_type, account_id) DO UPDATE SET initial_balance = excluded.initial_balance`,
		b.YearID, string(b.Account.Type), b.Account.ID, b.InitialBalance.String())
	if err != nil {
		return fmt.Errorf("upsert account balance: %w", err)
	}
	return nil
}

func (r *Repository) AccountBalancesByYear(ctx context.Context, yearID int64) ([]core.AccountBalance, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.year_id, b.account_type, b.account_id, b.initial_balance
		 FROM account_balances b
		 JOIN budget_years y ON y.id = b.year_id
		 WHERE b.year_id = ? AND y.budget_id = ?`, yearID, scope.BudgetID)
	if err != nil {
		return nil, fmt.Errorf("load account balances: %w", err)
	}
	defer rows.Close()

	var balances []core.AccountBalance
	for rows.Next() {
		var b core.AccountBalance
		var accType, balance string
		if err := rows.Scan(&b.YearID, &accType, &b.Account.ID, &balance); err != nil {
			return nil, fmt.Errorf("scan account balance: %w", err)
		}
		b.Account.Type = core.AccountType(accType)
		if b.InitialBalance, err = decFrom(balance); err != nil {
			return nil, fmt.Errorf("parse account balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
