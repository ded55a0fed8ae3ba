package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is balanced and well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the system is zero-sum: member balances,
// export, import and settled must sum to exactly zero. Allocation uses
// lossless remainder assignment, so no rounding tolerance is applied.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	total := v.tracker.ComputeGlobalBalance()
	if total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}
