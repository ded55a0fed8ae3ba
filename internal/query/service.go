package query

import (
	"context"
	"database/sql"
	"fmt"
)

// QueryService provides read-only access to projection tables. All responses
// include as_of_sequence for freshness semantics: callers can compare it to
// the core sequence to see how far projections lag.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetMemberBalance returns a member's cash-credit balance and derived debt.
func (qs *QueryService) GetMemberBalance(ctx context.Context, member string) (*MemberBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	accountPath := fmt.Sprintf("member:%s:cash_credit", member)
	balance, err := qs.getProjectedBalance(ctx, accountPath)
	if err != nil {
		return nil, err
	}

	var debt int64
	if balance < 0 {
		debt = -balance
	}

	return &MemberBalanceResponse{
		Member:       member,
		BalanceCents: balance,
		DebtCents:    debt,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetGridAccounts returns the export, import, and settled account balances.
func (qs *QueryService) GetGridAccounts(ctx context.Context) (*GridAccountsResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	export, err := qs.getProjectedBalance(ctx, "grid:export")
	if err != nil {
		return nil, err
	}
	imported, err := qs.getProjectedBalance(ctx, "grid:import")
	if err != nil {
		return nil, err
	}
	settled, err := qs.getProjectedBalance(ctx, "grid:settled")
	if err != nil {
		return nil, err
	}

	return &GridAccountsResponse{
		ExportCents:  export,
		ImportCents:  imported,
		SettledCents: settled,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetPool returns the projected allocation pool, price-ascending.
func (qs *QueryService) GetPool(ctx context.Context) (*PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT source_id, owner_kind, owner_addr, price, quantity
		FROM projections.pool_lots
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &PoolResponse{AsOfSequence: asOfSeq}
	for rows.Next() {
		var lot PoolLotResponse
		if err := rows.Scan(&lot.SourceID, &lot.OwnerKind, &lot.OwnerAddr, &lot.Price, &lot.Quantity); err != nil {
			return nil, err
		}
		resp.Lots = append(resp.Lots, lot)
		resp.TotalUnits += lot.Quantity
	}

	return resp, rows.Err()
}

// GetBattery returns the projected battery state.
func (qs *QueryService) GetBattery(ctx context.Context) (*BatteryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &BatteryResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT price, capacity, charge_state FROM projections.battery_state WHERE id = 1
	`).Scan(&resp.Price, &resp.Capacity, &resp.ChargeState)
	if err == sql.ErrNoRows {
		return resp, nil // Battery never configured
	}
	if err != nil {
		return nil, err
	}

	resp.Configured = true
	return resp, nil
}

// GetJournalHistory returns journal entries touching a member's account,
// newest first, with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	member string,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPath := fmt.Sprintf("member:%s:cash_credit", member)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account = $1 OR credit_account = $1
	`
	args := []interface{}{accountPath}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the zero-sum invariant
// over the projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	// All balances must sum to zero: members plus grid counterparties
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM projections.balances
	`).Scan(&report.Imbalance)
	if err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.Imbalance == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
