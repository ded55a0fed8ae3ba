package projection

import "testing"

// --- Settlement History ---

func TestSettlementHistory_RecordsMemberSides(t *testing.T) {
	p := NewSettlementHistoryProjection()

	output := ProjectionOutput{
		Sequence:  7,
		EventType: "EnergyConsumption",
		Timestamp: 1_700_000_000_000,
		JournalEntries: []JournalEntry{
			// 0xaaa1 receives surplus sale proceeds from the grid
			{DebitAccount: "member:0xaaa1:cash_credit", CreditAccount: "grid:export", Amount: 70_000, JournalType: 1},
			// 0xbbb2 pays 0xccc3 for pool energy
			{DebitAccount: "member:0xccc3:cash_credit", CreditAccount: "member:0xbbb2:cash_credit", Amount: 17_500, JournalType: 2},
		},
	}

	p.Record(output, "cycle-1")

	got := p.QueryByMember("0xbbb2", 10)
	if len(got) != 1 {
		t.Fatalf("got %d entries for 0xbbb2, want 1", len(got))
	}
	if got[0].Amount != -17_500 {
		t.Errorf("payer amount: got %d, want %d", got[0].Amount, -17_500)
	}
	if got[0].EventRef != "cycle-1" {
		t.Errorf("event ref: got %q, want %q", got[0].EventRef, "cycle-1")
	}

	got = p.QueryByMember("0xccc3", 10)
	if len(got) != 1 {
		t.Fatalf("got %d entries for 0xccc3, want 1", len(got))
	}
	if got[0].Amount != 17_500 {
		t.Errorf("receiver amount: got %d, want %d", got[0].Amount, 17_500)
	}
}

func TestSettlementHistory_GridAccountsProduceNoEntries(t *testing.T) {
	p := NewSettlementHistoryProjection()

	p.Record(ProjectionOutput{
		Sequence: 1,
		JournalEntries: []JournalEntry{
			{DebitAccount: "grid:import", CreditAccount: "grid:export", Amount: 100, JournalType: 3},
		},
	}, "cycle-x")

	if got := p.QueryByMember("0xaaa1", 10); len(got) != 0 {
		t.Errorf("got %d entries, want 0", len(got))
	}
}

func TestSettlementHistory_NewestFirstWithLimit(t *testing.T) {
	p := NewSettlementHistoryProjection()

	for i := int64(1); i <= 5; i++ {
		p.Record(ProjectionOutput{
			Sequence: i,
			JournalEntries: []JournalEntry{
				{DebitAccount: "member:0xaaa1:cash_credit", CreditAccount: "grid:export", Amount: i * 100, JournalType: 1},
			},
		}, "cycle")
	}

	got := p.QueryByMember("0xaaa1", 2)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Sequence != 5 || got[1].Sequence != 4 {
		t.Errorf("got sequences %d,%d, want 5,4", got[0].Sequence, got[1].Sequence)
	}
}
