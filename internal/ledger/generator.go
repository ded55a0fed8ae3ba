package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from settlement cycles
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// Sequence returns the sequence the next batch will carry
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence restores the sequence counter (snapshot restore only)
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// Begin opens an empty batch at the current sequence. The caller appends
// transfers and then commits with Seal.
func (jg *JournalGenerator) Begin(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 4),
	}
}

// Transfer appends one balanced entry to the batch. Zero-amount transfers
// are dropped so callers do not need to special-case empty legs.
func (jg *JournalGenerator) Transfer(b *Batch, jt JournalType, debit, credit AccountKey, amount int64) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("negative transfer amount: %d", amount)
	}

	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
	return nil
}

// Seal validates the batch and advances the sequence. A batch that ends up
// with no journals is discarded (nil, nil): some cycles move no cash.
func (jg *JournalGenerator) Seal(b *Batch) (*Batch, error) {
	if len(b.Journals) == 0 {
		jg.sequence++
		return nil, nil
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("seal batch: %w", err)
	}
	jg.sequence++
	return b, nil
}

// GenerateDebtSettlement creates the batch for an external debt payment.
// Pre-checks: the member must carry debt and the payment must not exceed it.
// The settled account absorbs the matching credit, so money entering from
// outside keeps the ledger zero-sum.
func (jg *JournalGenerator) GenerateDebtSettlement(
	member string,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("settlement amount must be positive: %d", amount)
	}

	debt := jg.balanceTracker.MemberDebt(member)
	if debt == 0 {
		return nil, fmt.Errorf("member %s has no debt to settle", member)
	}
	if amount > debt {
		return nil, fmt.Errorf("settlement %d exceeds outstanding debt %d", amount, debt)
	}

	batch := jg.Begin(eventRef, timestamp)
	if err := jg.Transfer(batch, JournalTypeDebtSettlement,
		NewMemberAccountKey(member), SettledAccount, amount); err != nil {
		return nil, err
	}
	return jg.Seal(batch)
}
