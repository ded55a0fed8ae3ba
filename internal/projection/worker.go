package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	EventRef       string // idempotency key of the source event
	JournalEntries []JournalEntry
	Pool           []PoolLot
	Battery        BatteryState
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
// Amounts follow the ledger convention: the debit account gains, the
// credit account pays.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   int32
}

// PoolLot is one lot of the current allocation pool.
type PoolLot struct {
	SourceID  uint64
	OwnerKind int32
	OwnerAddr string
	Price     int64
	Quantity  int64
}

// BatteryState is the current battery charge state.
type BatteryState struct {
	Price      int64
	Capacity   int64
	State      int64
	Configured bool
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *SettlementHistoryProjection
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   NewSettlementHistoryProjection(),
	}
}

// History exposes the in-memory settlement history kept beside the SQL
// projections.
func (pw *ProjectionWorker) History() *SettlementHistoryProjection {
	return pw.history
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue: projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.history.Record(output, output.EventRef)
			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal entries
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Replace the pool projection wholesale. Pools are small (one lot per
	// source per member), so the full rewrite is cheaper than diffing.
	if err := pw.replacePoolProjection(ctx, tx, output); err != nil {
		return fmt.Errorf("pool projection: %w", err)
	}

	// Upsert battery state
	if output.Battery.Configured {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.battery_state (id, price, capacity, charge_state, last_sequence, updated_at)
			VALUES (1, $1, $2, $3, $4, NOW())
			ON CONFLICT (id) DO UPDATE SET price = $1, capacity = $2, charge_state = $3, last_sequence = $4, updated_at = NOW()
		`, output.Battery.Price, output.Battery.Capacity, output.Battery.State, output.Sequence); err != nil {
			return fmt.Errorf("battery projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Debit account gains
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2, last_sequence = $3
	`, j.DebitAccount, j.Amount, seq); err != nil {
		return err
	}

	// Credit account pays
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, -$2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $2, last_sequence = $3
	`, j.CreditAccount, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) replacePoolProjection(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM projections.pool_lots`); err != nil {
		return err
	}

	for i, lot := range output.Pool {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pool_lots (position, source_id, owner_kind, owner_addr, price, quantity, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, i, lot.SourceID, lot.OwnerKind, lot.OwnerAddr, lot.Price, lot.Quantity, output.Sequence); err != nil {
			return err
		}
	}

	return nil
}

// RebuildProjections rebuilds the balance projection from the event log.
// Pool and battery projections refresh on the next processed event, so only
// balances need the journal replay.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.pool_lots`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debit side gains
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credit side pays
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
