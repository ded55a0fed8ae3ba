package persistence_test

import (
	"context"
	"testing"
	"time"

	"GridLedger/internal/persistence"
	"GridLedger/internal/testutil"

	"github.com/google/uuid"
)

// --- Event log writes ---

func TestWriteEventBatch_IdempotentOnConflict(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db, 50, 10*time.Millisecond)

	events := []persistence.EventRow{
		{
			Sequence:       1,
			EventType:      "MemberAdded",
			IdempotencyKey: "member-added:0xaaa1",
			Payload:        []byte(`{"Address":"0xaaa1"}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      time.Now(),
		},
	}

	if err := writer.WriteEventBatch(ctx, events); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// Same sequence again must not error
	if err := writer.WriteEventBatch(ctx, events); err != nil {
		t.Fatalf("conflicting write: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM event_log.events`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d events, want 1", count)
	}
}

func TestWriteJournalBatch_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db, 50, 10*time.Millisecond)

	journals := []persistence.JournalRow{
		{
			JournalID:     uuid.NewString(),
			BatchID:       uuid.NewString(),
			EventRef:      "cycle-1",
			Sequence:      3,
			DebitAccount:  "member:0xaaa1:cash_credit",
			CreditAccount: "grid:export",
			Amount:        70_000,
			JournalType:   1,
			Timestamp:     time.Now().UnixMicro(),
		},
	}

	if err := writer.WriteJournalBatch(ctx, journals); err != nil {
		t.Fatalf("write journals: %v", err)
	}

	var amount int64
	err := db.QueryRow(`SELECT amount FROM event_log.journal WHERE event_ref = 'cycle-1'`).Scan(&amount)
	if err != nil {
		t.Fatalf("read back journal: %v", err)
	}
	if amount != 70_000 {
		t.Errorf("got amount %d, want %d", amount, 70_000)
	}
}

// --- Idempotency ---

func TestPostgresIdempotencyChecker(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db, 50, 10*time.Millisecond)
	checker := persistence.NewPostgresIdempotencyChecker(db)

	dup, err := checker.IsDuplicate("MemberAdded", "member-added:0xaaa1")
	if err != nil {
		t.Fatalf("check before write: %v", err)
	}
	if dup {
		t.Error("got duplicate before any write")
	}

	err = writer.WriteEventBatch(ctx, []persistence.EventRow{{
		Sequence:       1,
		EventType:      "MemberAdded",
		IdempotencyKey: "member-added:0xaaa1",
		Payload:        []byte(`{}`),
		StateHash:      make([]byte, 32),
		PrevHash:       make([]byte, 32),
		Timestamp:      time.Now(),
	}})
	if err != nil {
		t.Fatalf("write event: %v", err)
	}

	dup, err = checker.IsDuplicate("MemberAdded", "member-added:0xaaa1")
	if err != nil {
		t.Fatalf("check after write: %v", err)
	}
	if !dup {
		t.Error("got no duplicate after write")
	}
}

// --- Snapshots ---

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	mgr := persistence.NewSnapshotManager(db)

	hash := make([]byte, 32)
	hash[0] = 0xab

	snap := &persistence.SnapshotData{
		Sequence:  42,
		StateHash: hash,
		Balances: []persistence.BalanceSnapshot{
			{AccountPath: "member:0xaaa1:cash_credit", Balance: 70_000},
			{AccountPath: "grid:export", Balance: -70_000},
		},
		Members: []persistence.MemberSnapshot{
			{Address: "0xaaa1", Meters: []uint64{101}, OwnershipBps: 10_000},
		},
		Pool: []persistence.LotSnapshot{
			{SourceID: 1, OwnerKind: 0, OwnerAddr: "0xaaa1", Price: 100, Quantity: 500},
		},
		Battery:         persistence.BatterySnapshot{Price: 14, Capacity: 100, State: 30, Configured: true},
		SequenceState:   map[string]int64{"metering": 7},
		IdempotencyKeys: []string{"MemberAdded:member-added:0xaaa1"},
		CreatedAt:       time.Now(),
	}

	if err := mgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots are not loaded
	loaded, err := mgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load before verify: %v", err)
	}
	if loaded != nil {
		t.Fatal("loaded unverified snapshot")
	}

	if err := mgr.MarkVerified(ctx, 42); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	loaded, err = mgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load after verify: %v", err)
	}
	if loaded == nil {
		t.Fatal("got no snapshot after verify")
	}
	if loaded.Sequence != 42 {
		t.Errorf("got sequence %d, want 42", loaded.Sequence)
	}
	if len(loaded.Balances) != 2 {
		t.Errorf("got %d balances, want 2", len(loaded.Balances))
	}
	if !loaded.Battery.Configured || loaded.Battery.State != 30 {
		t.Errorf("battery state not preserved: %+v", loaded.Battery)
	}
	if loaded.SequenceState["metering"] != 7 {
		t.Errorf("got metering seq %d, want 7", loaded.SequenceState["metering"])
	}
}

// --- Schema migrations ---

func TestMigratorUp_SecondRunIsNoop(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	// SetupTestDB already ran Up once. A second run must skip every
	// recorded version without touching the schema.
	var before int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM public.schema_migrations`).Scan(&before); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if before == 0 {
		t.Fatal("no migrations recorded after setup")
	}

	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("second up: %v", err)
	}

	var after int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM public.schema_migrations`).Scan(&after); err != nil {
		t.Fatalf("recount versions: %v", err)
	}
	if after != before {
		t.Errorf("got %d recorded versions, want %d", after, before)
	}
}
