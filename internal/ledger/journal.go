package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	// Under-consumed allocation sold to the grid: member is credited, the
	// export account carries the matching negative.
	JournalTypeSurplusSale JournalType = iota
	// Shortfall draw against another member's pool lot
	JournalTypePoolPurchase
	// Shortfall draw against an import-bucket or battery lot
	JournalTypeImportPurchase
	// Export meter delivery drawn from the pool
	JournalTypeExportDelivery
	// External payment clearing a member's negative balance
	JournalTypeDebtSettlement
)

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups per-cycle entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Amount        int64       // Cash amount in cents (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents the full set of journal entries produced by one
// settlement cycle or debt settlement
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by
// construction (a single positive amount moves from credit account to debit
// account), so Σ debits == Σ credits is guaranteed per-entry. Multi-leg
// cycles (a settlement touching many members) use multiple entries under one
// batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
