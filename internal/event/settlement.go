package event

import (
	"time"

	"github.com/google/uuid"
)

// DebtSettlement records an external payment clearing part or all of a
// member's negative cash balance. The payer may be anyone, the member's
// account is the one credited.
// Idempotency key: settlement_id.
type DebtSettlement struct {
	SettlementID uuid.UUID // Idempotency key
	Member       string
	AmountCents  int64
	Sequence     int64
	Timestamp    time.Time
}

func (s *DebtSettlement) IdempotencyKey() string {
	return s.SettlementID.String()
}

func (s *DebtSettlement) EventType() EventType {
	return EventTypeDebtSettlement
}

func (s *DebtSettlement) SourceSequence() int64 {
	return s.Sequence
}
