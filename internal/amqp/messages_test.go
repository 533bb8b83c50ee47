package amqp

import (
	"testing"

	"bilancio/internal/core"
)

func TestMovementMessageRoundTrip(t *testing.T) {
	msg := NewMovementMessage(1, 2, 42, core.Period{Month: 1, Year: 2025})
	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := MovementMessageFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.UserID != 1 || got.BudgetID != 2 || got.ItemID != 42 {
		t.Fatalf("ids: %+v", got)
	}
	if got.Period() != (core.Period{Month: 1, Year: 2025}) {
		t.Fatalf("period: %+v", got.Period())
	}
}

func TestMovementMessageMalformed(t *testing.T) {
	if _, err := MovementMessageFromJSON([]byte("{not json")); err == nil {
		t.Fatalf("expected error")
	}
}
