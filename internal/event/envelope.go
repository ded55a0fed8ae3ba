package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMemberAdded
	EventTypeMemberRemoved
	EventTypeBatteryConfigured
	EventTypeExportMeterAssigned
	EventTypeImportSourceTagged
	EventTypeEnergyDistribution
	EventTypeEnergyConsumption
	EventTypeDebtSettlement
)

// EventEnvelope wraps every applied event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeMemberAdded:
		return "MemberAdded"
	case EventTypeMemberRemoved:
		return "MemberRemoved"
	case EventTypeBatteryConfigured:
		return "BatteryConfigured"
	case EventTypeExportMeterAssigned:
		return "ExportMeterAssigned"
	case EventTypeImportSourceTagged:
		return "ImportSourceTagged"
	case EventTypeEnergyDistribution:
		return "EnergyDistribution"
	case EventTypeEnergyConsumption:
		return "EnergyConsumption"
	case EventTypeDebtSettlement:
		return "DebtSettlement"
	default:
		return "Unknown"
	}
}
