package ingestion

import (
	"GridLedger/internal/event"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "EnergyDistribution":
		return parseEnergyDistribution(raw.Data)
	case "EnergyConsumption":
		return parseEnergyConsumption(raw.Data)
	case "MemberAdded":
		return parseMemberAdded(raw.Data)
	case "MemberRemoved":
		return parseMemberRemoved(raw.Data)
	case "BatteryConfigured":
		return parseBatteryConfigured(raw.Data)
	case "ExportMeterAssigned":
		return parseExportMeterAssigned(raw.Data)
	case "ImportSourceTagged":
		return parseImportSourceTagged(raw.Data)
	case "DebtSettlement":
		return parseDebtSettlement(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type energySourceJSON struct {
	SourceID uint64 `json:"source_id"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	IsImport bool   `json:"is_import,omitempty"`
}

type energyDistributionJSON struct {
	DistributionID string             `json:"distribution_id"`
	Sources        []energySourceJSON `json:"sources"`
	BatteryTarget  int64              `json:"battery_target"`
	Sequence       int64              `json:"sequence"`
	TimestampUs    int64              `json:"timestamp_us"`
}

func parseEnergyDistribution(data []byte) (*event.EnergyDistribution, error) {
	var j energyDistributionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EnergyDistribution: %w", err)
	}
	distID, err := uuid.Parse(j.DistributionID)
	if err != nil {
		return nil, fmt.Errorf("parse distribution_id: %w", err)
	}

	sources := make([]event.EnergySource, len(j.Sources))
	for i, s := range j.Sources {
		sources[i] = event.EnergySource{
			SourceID: s.SourceID,
			Price:    s.Price,
			Quantity: s.Quantity,
			IsImport: s.IsImport,
		}
	}

	return &event.EnergyDistribution{
		DistributionID: distID,
		Sources:        sources,
		BatteryTarget:  j.BatteryTarget,
		Sequence:       j.Sequence,
		Timestamp:      time.UnixMicro(j.TimestampUs),
	}, nil
}

type consumptionRequestJSON struct {
	MeterID  uint64 `json:"meter_id"`
	Quantity int64  `json:"quantity"`
}

type energyConsumptionJSON struct {
	ConsumptionID string                   `json:"consumption_id"`
	Requests      []consumptionRequestJSON `json:"requests"`
	Sequence      int64                    `json:"sequence"`
	TimestampUs   int64                    `json:"timestamp_us"`
}

func parseEnergyConsumption(data []byte) (*event.EnergyConsumption, error) {
	var j energyConsumptionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EnergyConsumption: %w", err)
	}
	consID, err := uuid.Parse(j.ConsumptionID)
	if err != nil {
		return nil, fmt.Errorf("parse consumption_id: %w", err)
	}

	requests := make([]event.ConsumptionRequest, len(j.Requests))
	for i, r := range j.Requests {
		requests[i] = event.ConsumptionRequest{
			MeterID:  r.MeterID,
			Quantity: r.Quantity,
		}
	}

	return &event.EnergyConsumption{
		ConsumptionID: consID,
		Requests:      requests,
		Sequence:      j.Sequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type memberAddedJSON struct {
	CommandID    string   `json:"command_id"`
	Address      string   `json:"address"`
	Meters       []uint64 `json:"meters"`
	OwnershipBps int64    `json:"ownership_bps"`
	Sequence     int64    `json:"sequence"`
	TimestampUs  int64    `json:"timestamp_us"`
}

func parseMemberAdded(data []byte) (*event.MemberAdded, error) {
	var j memberAddedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MemberAdded: %w", err)
	}
	cmdID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	return &event.MemberAdded{
		CommandID:    cmdID,
		Address:      j.Address,
		Meters:       j.Meters,
		OwnershipBps: j.OwnershipBps,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type memberRemovedJSON struct {
	CommandID   string `json:"command_id"`
	Address     string `json:"address"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseMemberRemoved(data []byte) (*event.MemberRemoved, error) {
	var j memberRemovedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MemberRemoved: %w", err)
	}
	cmdID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	return &event.MemberRemoved{
		CommandID: cmdID,
		Address:   j.Address,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type batteryConfiguredJSON struct {
	CommandID   string `json:"command_id"`
	Price       int64  `json:"price"`
	Capacity    int64  `json:"capacity"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBatteryConfigured(data []byte) (*event.BatteryConfigured, error) {
	var j batteryConfiguredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BatteryConfigured: %w", err)
	}
	cmdID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	return &event.BatteryConfigured{
		CommandID: cmdID,
		Price:     j.Price,
		Capacity:  j.Capacity,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type exportMeterAssignedJSON struct {
	CommandID   string `json:"command_id"`
	MeterID     uint64 `json:"meter_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseExportMeterAssigned(data []byte) (*event.ExportMeterAssigned, error) {
	var j exportMeterAssignedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ExportMeterAssigned: %w", err)
	}
	cmdID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	return &event.ExportMeterAssigned{
		CommandID: cmdID,
		MeterID:   j.MeterID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type importSourceTaggedJSON struct {
	CommandID   string `json:"command_id"`
	SourceID    uint64 `json:"source_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseImportSourceTagged(data []byte) (*event.ImportSourceTagged, error) {
	var j importSourceTaggedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ImportSourceTagged: %w", err)
	}
	cmdID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	return &event.ImportSourceTagged{
		CommandID: cmdID,
		SourceID:  j.SourceID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type debtSettlementJSON struct {
	SettlementID string `json:"settlement_id"`
	Member       string `json:"member"`
	AmountCents  int64  `json:"amount_cents"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseDebtSettlement(data []byte) (*event.DebtSettlement, error) {
	var j debtSettlementJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DebtSettlement: %w", err)
	}
	settleID, err := uuid.Parse(j.SettlementID)
	if err != nil {
		return nil, fmt.Errorf("parse settlement_id: %w", err)
	}
	return &event.DebtSettlement{
		SettlementID: settleID,
		Member:       j.Member,
		AmountCents:  j.AmountCents,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}
