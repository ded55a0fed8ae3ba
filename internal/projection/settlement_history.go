package projection

// SettlementHistoryEntry records one cash movement from a settlement cycle
// as seen from a member's perspective.
type SettlementHistoryEntry struct {
	Member      string
	EventRef    string // consumption or settlement cycle id
	JournalType int32
	Amount      int64 // Signed: positive = received, negative = paid
	Sequence    int64
	Timestamp   int64
}

// SettlementHistoryProjection maintains queryable settlement history.
// It lives in memory beside the SQL projections; dashboards use it for
// recent-activity views without hitting Postgres.
type SettlementHistoryProjection struct {
	entries []SettlementHistoryEntry
}

func NewSettlementHistoryProjection() *SettlementHistoryProjection {
	return &SettlementHistoryProjection{
		entries: make([]SettlementHistoryEntry, 0),
	}
}

// Record appends the member-facing movements of one projection output.
// Only journals touching a member account produce entries.
func (p *SettlementHistoryProjection) Record(output ProjectionOutput, eventRef string) {
	for _, j := range output.JournalEntries {
		if member, ok := memberFromPath(j.DebitAccount); ok {
			p.entries = append(p.entries, SettlementHistoryEntry{
				Member:      member,
				EventRef:    eventRef,
				JournalType: j.JournalType,
				Amount:      j.Amount,
				Sequence:    output.Sequence,
				Timestamp:   output.Timestamp,
			})
		}
		if member, ok := memberFromPath(j.CreditAccount); ok {
			p.entries = append(p.entries, SettlementHistoryEntry{
				Member:      member,
				EventRef:    eventRef,
				JournalType: j.JournalType,
				Amount:      -j.Amount,
				Sequence:    output.Sequence,
				Timestamp:   output.Timestamp,
			})
		}
	}
}

// QueryByMember returns the most recent entries for a member, newest first.
func (p *SettlementHistoryProjection) QueryByMember(member string, limit int) []SettlementHistoryEntry {
	result := make([]SettlementHistoryEntry, 0)

	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Member == member {
			result = append(result, p.entries[i])
		}
	}

	return result
}

// memberFromPath extracts the member address from an account path of the
// form "member:ADDR:cash_credit". Grid accounts return false.
func memberFromPath(path string) (string, bool) {
	const prefix = "member:"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return "", false
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], true
		}
	}
	return "", false
}
