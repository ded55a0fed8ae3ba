package event

import (
	"time"

	"github.com/google/uuid"
)

// BatteryConfigured sets the community battery price and capacity.
type BatteryConfigured struct {
	CommandID uuid.UUID
	Price     int64 // cents per unit
	Capacity  int64 // units
	Sequence  int64
	Timestamp time.Time
}

func (b *BatteryConfigured) IdempotencyKey() string {
	return b.CommandID.String()
}

func (b *BatteryConfigured) EventType() EventType {
	return EventTypeBatteryConfigured
}

func (b *BatteryConfigured) SourceSequence() int64 {
	return b.Sequence
}

// ExportMeterAssigned designates the grid export meter id.
type ExportMeterAssigned struct {
	CommandID uuid.UUID
	MeterID   uint64
	Sequence  int64
	Timestamp time.Time
}

func (e *ExportMeterAssigned) IdempotencyKey() string {
	return e.CommandID.String()
}

func (e *ExportMeterAssigned) EventType() EventType {
	return EventTypeExportMeterAssigned
}

func (e *ExportMeterAssigned) SourceSequence() int64 {
	return e.Sequence
}

// ImportSourceTagged marks a source id as grid import for all future
// distributions.
type ImportSourceTagged struct {
	CommandID uuid.UUID
	SourceID  uint64
	Sequence  int64
	Timestamp time.Time
}

func (i *ImportSourceTagged) IdempotencyKey() string {
	return i.CommandID.String()
}

func (i *ImportSourceTagged) EventType() EventType {
	return EventTypeImportSourceTagged
}

func (i *ImportSourceTagged) SourceSequence() int64 {
	return i.Sequence
}
