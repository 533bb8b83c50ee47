// Package tenant carries the user/budget scope every data access must run
// under. Reads and writes of shared financial data go through a scope taken
// from the context; forgetting to establish one fails fast with ErrNoScope
// instead of silently leaking rows across tenants.
package tenant

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoScope is returned when a data-access call runs outside an established
// tenant context. Always fatal to the operation, never retried.
var ErrNoScope = errors.New("tenant: no scope in context")

// Scope identifies the tenant a request operates for.
type Scope struct {
	UserID   int64
	BudgetID int64
}

func (s Scope) Validate() error {
	if s.UserID <= 0 || s.BudgetID <= 0 {
		return fmt.Errorf("tenant: invalid scope (user=%d budget=%d)", s.UserID, s.BudgetID)
	}
	return nil
}

type ctxKey struct{}

// NewContext returns a context carrying the scope.
func NewContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext extracts the scope or fails with ErrNoScope. Infrastructure
// code with legitimately no tenant (migrations, health checks) must not call
// this; it uses the store's raw handle instead.
func FromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	if !ok {
		return Scope{}, ErrNoScope
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}
