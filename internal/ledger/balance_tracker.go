package ledger

import "fmt"

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// MemberBalance returns a member's cash credit balance in cents.
// Positive means the community owes the member, negative means debt.
func (bt *BalanceTracker) MemberBalance(member string) int64 {
	return bt.GetBalance(NewMemberAccountKey(member))
}

// MemberDebt returns the outstanding debt in cents (0 when balance >= 0)
func (bt *BalanceTracker) MemberDebt(member string) int64 {
	balance := bt.MemberBalance(member)
	if balance >= 0 {
		return 0
	}
	return -balance
}

// ExportBalance returns the grid export account balance (<= 0 in normal
// operation: surplus sold to the grid accrues here as a liability)
func (bt *BalanceTracker) ExportBalance() int64 {
	return bt.GetBalance(ExportAccount)
}

// ImportBalance returns the grid import account balance (>= 0 in normal
// operation: proceeds of consumed import and battery energy)
func (bt *BalanceTracker) ImportBalance() int64 {
	return bt.GetBalance(ImportAccount)
}

// SettledBalance returns the external settlement counter account balance.
// Trends negative as members clear debt with money from outside the system.
func (bt *BalanceTracker) SettledBalance() int64 {
	return bt.GetBalance(SettledAccount)
}

// ComputeGlobalBalance sums all account balances (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// SetBalance overwrites an account balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// Snapshot returns a copy of all balances (for state hashing and projections)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
