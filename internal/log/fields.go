package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldBudgetID  = "budget_id"
	FieldYear      = "year"
	FieldItemID    = "item_id"
	FieldAccountID = "account_id"
	FieldMonth     = "month"
	FieldAmount    = "amount"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
)
