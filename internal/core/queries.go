package core

import (
	"GridLedger/internal/state"
)

// MemberInfo is the queryable view of one member
type MemberInfo struct {
	Address      string
	Meters       []uint64
	OwnershipBps int64
	BalanceCents int64
}

// Member returns one member's registration and cash balance
func (c *DeterministicCore) Member(address string) (MemberInfo, bool) {
	m, ok := c.registry.Member(address)
	if !ok {
		return MemberInfo{}, false
	}
	return MemberInfo{
		Address:      m.Address,
		Meters:       append([]uint64(nil), m.Meters...),
		OwnershipBps: m.Ownership,
		BalanceCents: c.balanceTracker.MemberBalance(address),
	}, true
}

// AllocatedUnits returns the units a member currently holds in the pool
func (c *DeterministicCore) AllocatedUnits(address string) int64 {
	return c.pool.OwnedQuantity(address)
}

// PoolSnapshot returns the consumption pool in price order
func (c *DeterministicCore) PoolSnapshot() []state.Lot {
	return c.pool.Snapshot()
}

// PoolUnits returns the total units remaining in the pool
func (c *DeterministicCore) PoolUnits() int64 {
	return c.pool.TotalQuantity()
}

// CashCreditBalance returns a member's cash balance in cents
func (c *DeterministicCore) CashCreditBalance(address string) int64 {
	return c.balanceTracker.MemberBalance(address)
}

// Debt returns a member's outstanding debt in cents (0 when balance >= 0)
func (c *DeterministicCore) Debt(address string) int64 {
	return c.balanceTracker.MemberDebt(address)
}

// ExportBalance returns the grid export account balance
func (c *DeterministicCore) ExportBalance() int64 {
	return c.balanceTracker.ExportBalance()
}

// ImportBalance returns the grid import account balance
func (c *DeterministicCore) ImportBalance() int64 {
	return c.balanceTracker.ImportBalance()
}

// SettledBalance returns the external settlement account balance
func (c *DeterministicCore) SettledBalance() int64 {
	return c.balanceTracker.SettledBalance()
}

// BatteryInfo returns the battery configuration and charge state
func (c *DeterministicCore) BatteryInfo() state.BatteryInfo {
	return c.battery.Info()
}

// MeterOwner resolves a meter id to its owning member
func (c *DeterministicCore) MeterOwner(meter uint64) (string, bool) {
	return c.registry.MeterOwner(meter)
}

// OwnershipTotal returns the registered ownership total in basis points
func (c *DeterministicCore) OwnershipTotal() int64 {
	return c.registry.OwnershipTotal()
}

// VerifyZeroSum re-checks the global zero-sum invariant on demand
func (c *DeterministicCore) VerifyZeroSum() error {
	return c.validator.ValidateGlobalBalance()
}
