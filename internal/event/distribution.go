package event

import (
	"time"

	"github.com/google/uuid"
)

// EnergySource is one production or import reading in a distribution cycle
type EnergySource struct {
	SourceID uint64
	Price    int64 // cents per unit
	Quantity int64 // units produced
	IsImport bool
}

// EnergyDistribution carries one cycle's energy readings. Applying it voids
// the previous consumption pool, allocates community production pro-rata and
// moves the battery to the absolute target state.
// Idempotency key: distribution_id.
type EnergyDistribution struct {
	DistributionID uuid.UUID // Idempotency key
	Sources        []EnergySource
	BatteryTarget  int64 // absolute charge state after this cycle
	Sequence       int64 // Source sequence from metering gateway
	Timestamp      time.Time
}

func (d *EnergyDistribution) IdempotencyKey() string {
	return d.DistributionID.String()
}

func (d *EnergyDistribution) EventType() EventType {
	return EventTypeEnergyDistribution
}

func (d *EnergyDistribution) SourceSequence() int64 {
	return d.Sequence
}
