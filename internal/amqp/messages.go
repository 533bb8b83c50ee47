package amqp

import (
	"encoding/json"
	"time"

	"bilancio/internal/core"
)

// MovementMessage tells the actuals worker that a movement touched one
// (item, accounting month) cell. It carries only the coordinates; the worker
// re-reads the transactions from the database, so stale or duplicated
// deliveries converge on the same result.
type MovementMessage struct {
	UserID    int64     `json:"user_id"`
	BudgetID  int64     `json:"budget_id"`
	ItemID    int64     `json:"item_id"`
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMovementMessage(userID, budgetID, itemID int64, p core.Period) *MovementMessage {
	return &MovementMessage{
		UserID:    userID,
		BudgetID:  budgetID,
		ItemID:    itemID,
		Month:     p.Month,
		Year:      p.Year,
		Timestamp: time.Now(),
	}
}

func (m *MovementMessage) Period() core.Period {
	return core.Period{Month: m.Month, Year: m.Year}
}

// ToJSON converts the message to JSON bytes
func (m *MovementMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MovementMessageFromJSON creates a message from JSON bytes
func MovementMessageFromJSON(data []byte) (*MovementMessage, error) {
	var msg MovementMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
