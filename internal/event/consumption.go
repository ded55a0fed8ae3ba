package event

import (
	"time"

	"github.com/google/uuid"
)

// ConsumptionRequest is one meter reading in a consumption cycle
type ConsumptionRequest struct {
	MeterID  uint64
	Quantity int64 // units consumed
}

// EnergyConsumption carries one cycle's metered consumption. Requests for
// the configured export meter are grid deliveries, all other meter ids must
// resolve to a member.
// Idempotency key: consumption_id.
type EnergyConsumption struct {
	ConsumptionID uuid.UUID // Idempotency key
	Requests      []ConsumptionRequest
	Sequence      int64
	Timestamp     time.Time
}

func (c *EnergyConsumption) IdempotencyKey() string {
	return c.ConsumptionID.String()
}

func (c *EnergyConsumption) EventType() EventType {
	return EventTypeEnergyConsumption
}

func (c *EnergyConsumption) SourceSequence() int64 {
	return c.Sequence
}
