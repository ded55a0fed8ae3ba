package event

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals a stored event payload (as written to the event log)
// back into its typed event. Used during replay; the payload is the core's
// own JSON encoding, not the external wire format.
func Decode(eventType string, data []byte) (Event, error) {
	var evt Event

	switch eventType {
	case "MemberAdded":
		evt = &MemberAdded{}
	case "MemberRemoved":
		evt = &MemberRemoved{}
	case "BatteryConfigured":
		evt = &BatteryConfigured{}
	case "ExportMeterAssigned":
		evt = &ExportMeterAssigned{}
	case "ImportSourceTagged":
		evt = &ImportSourceTagged{}
	case "EnergyDistribution":
		evt = &EnergyDistribution{}
	case "EnergyConsumption":
		evt = &EnergyConsumption{}
	case "DebtSettlement":
		evt = &DebtSettlement{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
