package query

// MemberBalanceResponse represents a member's cash-credit state for API queries.
type MemberBalanceResponse struct {
	Member       string `json:"member"`
	BalanceCents int64  `json:"balance_cents"`
	DebtCents    int64  `json:"debt_cents"` // -balance when negative, else 0
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GridAccountsResponse represents the grid-side counterparty accounts.
type GridAccountsResponse struct {
	ExportCents  int64 `json:"export_cents"`
	ImportCents  int64 `json:"import_cents"`
	SettledCents int64 `json:"settled_cents"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// PoolLotResponse is one lot of the projected allocation pool.
type PoolLotResponse struct {
	SourceID  uint64 `json:"source_id"`
	OwnerKind int32  `json:"owner_kind"`
	OwnerAddr string `json:"owner_addr,omitempty"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

// PoolResponse represents the current allocation pool.
type PoolResponse struct {
	Lots         []PoolLotResponse `json:"lots"`
	TotalUnits   int64             `json:"total_units"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// BatteryResponse represents the projected battery state.
type BatteryResponse struct {
	Price        int64 `json:"price"`
	Capacity     int64 `json:"capacity"`
	ChargeState  int64 `json:"charge_state"`
	Configured   bool  `json:"configured"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	Imbalance       int64   `json:"imbalance"` // non-zero global balance sum, if any
}
