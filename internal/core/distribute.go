package core

import (
	"GridLedger/internal/event"
	"GridLedger/internal/ledger"
	"GridLedger/internal/state"
)

// handleEnergyDistribution applies one distribution cycle: void the previous
// pool, allocate community production pro-rata by ownership, book import
// sources into the import bucket and move the battery to its target state.
// No cash moves here; value is realized at consumption time.
func (c *DeterministicCore) handleEnergyDistribution(evt *event.EnergyDistribution) (*ledger.Batch, error) {
	// Validate everything before touching state: the cycle is atomic.
	if len(evt.Sources) == 0 {
		return nil, preconditionf("distribution: no sources provided")
	}
	if total := c.registry.OwnershipTotal(); total != state.FullOwnershipBps {
		return nil, preconditionf("distribution: total ownership must be 100%%, got %d bps", total)
	}

	var totalUnits int64
	for _, src := range evt.Sources {
		if src.Quantity <= 0 {
			return nil, preconditionf("distribution: source %d has non-positive quantity %d",
				src.SourceID, src.Quantity)
		}
		if src.Price < 0 {
			return nil, preconditionf("distribution: source %d has negative price %d",
				src.SourceID, src.Price)
		}
		totalUnits += src.Quantity
	}

	if err := c.battery.ValidateTarget(evt.BatteryTarget); err != nil {
		return nil, preconditionf("distribution: %v", err)
	}
	batteryDelta := evt.BatteryTarget - c.battery.State()
	if batteryDelta > totalUnits {
		return nil, preconditionf("distribution: battery charge %d exceeds distributed units %d",
			batteryDelta, totalUnits)
	}

	// Commit. The previous pool is voided, never rolled over.
	members := c.registry.ActiveMembers()
	lots := make([]state.Lot, 0, len(evt.Sources)*len(members))

	for _, src := range evt.Sources {
		if src.IsImport || c.registry.IsImportSource(src.SourceID) {
			lots = append(lots, state.Lot{
				SourceID: src.SourceID,
				Owner:    state.ImportOwner,
				Price:    src.Price,
				Quantity: src.Quantity,
			})
			continue
		}
		lots = append(lots, c.allocateSource(src, members)...)
	}

	c.pool.Replace(lots)

	// Battery: a positive delta charges from the cheapest pool lots with no
	// cash movement, a negative delta injects a battery-owned lot.
	switch {
	case batteryDelta > 0:
		_, drawn := c.pool.Draw(batteryDelta)
		if drawn != batteryDelta {
			// Ruled out by the pre-check above
			panic("battery charge drew fewer units than validated")
		}
		if c.metrics != nil {
			c.metrics.BatteryChargedUnits.Add(float64(batteryDelta))
		}
	case batteryDelta < 0:
		c.pool.Append(state.Lot{
			Owner:    state.BatteryOwner,
			Price:    c.battery.Price(),
			Quantity: -batteryDelta,
		})
		if c.metrics != nil {
			c.metrics.BatteryInjectedUnits.Add(float64(-batteryDelta))
		}
	}
	c.battery.SetState(evt.BatteryTarget)

	if c.metrics != nil {
		c.metrics.DistributionCycles.Inc()
		c.metrics.DistributionUnits.Add(float64(totalUnits))
		c.metrics.DistributionSources.Observe(float64(len(evt.Sources)))
	}
	c.log.Info().
		Int("sources", len(evt.Sources)).
		Int64("units", totalUnits).
		Int64("battery_delta", batteryDelta).
		Int("pool_lots", c.pool.Len()).
		Msg("energy distributed")

	return nil, nil
}

// allocateSource splits one community source across members pro-rata by
// ownership share using floor division. The last member in registration
// order receives the remainder, so the split is always lossless.
func (c *DeterministicCore) allocateSource(src event.EnergySource, members []*state.Member) []state.Lot {
	lots := make([]state.Lot, 0, len(members))

	var assigned int64
	for i, m := range members {
		var share int64
		if i == len(members)-1 {
			share = src.Quantity - assigned
		} else {
			share = src.Quantity * m.Ownership / state.FullOwnershipBps
		}
		assigned += share

		if share > 0 {
			lots = append(lots, state.Lot{
				SourceID: src.SourceID,
				Owner:    state.MemberOwner(m.Address),
				Price:    src.Price,
				Quantity: share,
			})
		}
	}

	return lots
}
