package core

import (
	"GridLedger/internal/event"
	"GridLedger/internal/ledger"
	"GridLedger/internal/state"
)

// handleEnergyConsumption settles one consumption cycle against the pool.
// Members first burn their own allocation (value-neutral), under-consumers
// sell their surplus to the grid, over-consumers buy their shortfall from
// the remaining pool cheapest-first, and export meter requests deliver pool
// energy to the grid. All cash movements land in one journal batch.
func (c *DeterministicCore) handleEnergyConsumption(evt *event.EnergyConsumption) (*ledger.Batch, error) {
	if len(evt.Requests) == 0 {
		return nil, preconditionf("consumption: no requests provided")
	}

	// Net requests per member, keeping first-appearance order. The export
	// meter is netted separately. Any unknown meter rejects the whole cycle.
	exportMeter, exportMeterSet := c.registry.ExportMeter()

	requested := make(map[string]int64)
	var order []string
	var exportRequested int64

	for _, req := range evt.Requests {
		if req.Quantity < 0 {
			return nil, preconditionf("consumption: meter %d has negative quantity %d",
				req.MeterID, req.Quantity)
		}

		if exportMeterSet && req.MeterID == exportMeter {
			exportRequested += req.Quantity
			continue
		}

		member, ok := c.registry.MeterOwner(req.MeterID)
		if !ok {
			return nil, preconditionf("consumption: meter %d not registered to any member", req.MeterID)
		}
		if _, seen := requested[member]; !seen {
			order = append(order, member)
		}
		requested[member] += req.Quantity
	}

	batch := c.journalGen.Begin(evt.IdempotencyKey(), evt.Timestamp.UnixMicro())

	// Phase 1: own-allocation matching. Consuming your own lots moves no
	// cash; surplus own units are sold to the grid at lot prices.
	type shortfall struct {
		member string
		units  int64
	}
	var shortfalls []shortfall

	for _, member := range order {
		want := requested[member]
		owned := c.pool.OwnedQuantity(member)

		use := want
		if owned < use {
			use = owned
		}
		if use > 0 {
			c.pool.DrawOwned(member, use)
		}

		switch {
		case owned > want:
			fills, drawn := c.pool.DrawOwned(member, owned-want)
			value := fillValue(fills)
			if err := c.journalGen.Transfer(batch, ledger.JournalTypeSurplusSale,
				ledger.NewMemberAccountKey(member), ledger.ExportAccount, value); err != nil {
				panic("surplus sale transfer: " + err.Error())
			}
			if c.metrics != nil {
				c.metrics.SurplusSoldUnits.Add(float64(drawn))
			}
		case want > owned:
			shortfalls = append(shortfalls, shortfall{member: member, units: want - owned})
		}
	}

	// Phase 2: shortfall purchases from the remaining pool, cheapest-first.
	// A draw that outruns the pool is clamped at what is available.
	for _, s := range shortfalls {
		fills, drawn := c.pool.Draw(s.units)
		if drawn < s.units {
			c.clampWarn("shortfall", s.member, s.units, drawn)
		}

		consumerAcct := ledger.NewMemberAccountKey(s.member)
		for _, fill := range fills {
			jt, ownerAcct := fillCreditAccount(fill)
			if err := c.journalGen.Transfer(batch, jt, ownerAcct, consumerAcct,
				fill.Price*fill.Quantity); err != nil {
				panic("shortfall transfer: " + err.Error())
			}
		}
		if c.metrics != nil {
			c.metrics.ShortfallDrawnUnits.Add(float64(drawn))
		}
	}

	// Phase 3: export meter delivery. The grid buys pool energy at lot
	// prices; lot owners are credited, the export account pays.
	if exportRequested > 0 {
		fills, drawn := c.pool.Draw(exportRequested)
		if drawn < exportRequested {
			c.clampWarn("export", "grid", exportRequested, drawn)
		}

		for _, fill := range fills {
			_, ownerAcct := fillCreditAccount(fill)
			if err := c.journalGen.Transfer(batch, ledger.JournalTypeExportDelivery,
				ownerAcct, ledger.ExportAccount, fill.Price*fill.Quantity); err != nil {
				panic("export delivery transfer: " + err.Error())
			}
		}
		if c.metrics != nil {
			c.metrics.ExportDeliveredUnits.Add(float64(drawn))
		}
	}

	sealed, err := c.journalGen.Seal(batch)
	if err != nil {
		panic("seal consumption batch: " + err.Error())
	}

	if c.metrics != nil {
		c.metrics.SettlementCycles.Inc()
		c.metrics.SettlementRequests.Observe(float64(len(evt.Requests)))
	}
	c.log.Info().
		Int("requests", len(evt.Requests)).
		Int("members", len(order)).
		Int64("export_requested", exportRequested).
		Int64("pool_remaining", c.pool.TotalQuantity()).
		Msg("consumption settled")

	return sealed, nil
}

// fillCreditAccount resolves who gets paid for a consumed fill: member lots
// pay the member, import-bucket and battery lots pay the grid import account.
func fillCreditAccount(fill state.Fill) (ledger.JournalType, ledger.AccountKey) {
	if fill.Owner.Kind == state.LotOwnerMember {
		return ledger.JournalTypePoolPurchase, ledger.NewMemberAccountKey(fill.Owner.Member)
	}
	return ledger.JournalTypeImportPurchase, ledger.ImportAccount
}

func fillValue(fills []state.Fill) int64 {
	var value int64
	for _, f := range fills {
		value += f.Price * f.Quantity
	}
	return value
}

func (c *DeterministicCore) clampWarn(kind, who string, want, got int64) {
	if c.metrics != nil {
		c.metrics.DrawShortfallClamped.Inc()
	}
	c.log.Warn().
		Str("draw", kind).
		Str("consumer", who).
		Int64("requested_units", want).
		Int64("drawn_units", got).
		Msg("pool exhausted, draw clamped")
}
