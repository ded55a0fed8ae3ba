package core

import (
	"GridLedger/internal/event"
	"GridLedger/internal/ledger"
	"GridLedger/internal/observability"
	"GridLedger/internal/state"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// DeterministicCore is the single-threaded event processor. It owns the
// membership registry, the consumption pool, the battery and the cash ledger,
// and applies one event at a time: validate, mutate, journal, emit.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	registry          *state.Registry
	pool              *state.Pool
	battery           *state.Battery
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	log               zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is what the core emits per applied event
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch // nil when the event moved no cash
	Pool     []state.Lot   // pool snapshot after apply
	Battery  state.BatteryInfo
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		registry:          state.NewRegistry(),
		pool:              state.NewPool(),
		battery:           state.NewBattery(),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		log:               observability.NewLogger("core"),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "sequence").Inc()
		}
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Handlers validate all preconditions before mutating
	// anything, so a returned error means no state change.
	batch, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "precondition").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Validate and apply the journal batch. Config events and
	// cashless cycles produce no batch but still get an envelope.
	if batch != nil && len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
		if c.metrics != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(journalTypeName(j.JournalType)).Inc()
			}
		}
	}

	// Step 5: State digest, hash chain, envelope
	stateDigest := c.computeStateDigest(batch)
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal event payload: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       c.hasher.GetPrevHash(),
	}

	output := CoreOutput{
		Envelope: envelope,
		Batch:    batch,
		Pool:     c.pool.Snapshot(),
		Battery:  c.battery.Info(),
	}
	c.sequence++

	// Step 6: Post-check. The zero-sum invariant must hold after every
	// applied event; a violation means the ledger is corrupted.
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", eventType, err))
	}

	// Step 7: Emit outputs. Persist channel uses a BLOCKING send
	// (backpressure), projection channel a NON-BLOCKING send with drop.
	c.persistChan <- output
	select {
	case c.projectionChan <- output:
	default:
		// Dropped; projections catch up via rebuild
		if c.metrics != nil {
			c.metrics.ProjectionDrops.Inc()
		}
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.PoolLots.Set(float64(c.pool.Len()))
		c.metrics.PoolUnits.Set(float64(c.pool.TotalQuantity()))
		c.metrics.BatteryChargeState.Set(float64(c.battery.State()))
	}

	return nil
}

// getPartition determines the partition key for sequence validation.
// Metering events (distribution, consumption) arrive on their own ordered
// stream, everything else is administrative.
func (c *DeterministicCore) getPartition(evt event.Event) string {
	switch evt.(type) {
	case *event.EnergyDistribution, *event.EnergyConsumption:
		return "metering"
	default:
		return "admin"
	}
}

// getEventTimestamp extracts the versioned timestamp from the event.
// The core never calls time.Now() for state: all timestamps are inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.MemberAdded:
		return e.Timestamp
	case *event.MemberRemoved:
		return e.Timestamp
	case *event.BatteryConfigured:
		return e.Timestamp
	case *event.ExportMeterAssigned:
		return e.Timestamp
	case *event.ImportSourceTagged:
		return e.Timestamp
	case *event.EnergyDistribution:
		return e.Timestamp
	case *event.EnergyConsumption:
		return e.Timestamp
	case *event.DebtSettlement:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T", evt))
	}
}

// computeStateDigest creates canonical bytes for the state hash: affected
// account balances, then the full pool, then the battery state.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	for _, lot := range c.pool.Snapshot() {
		digest = append(digest, byte(lot.Owner.Kind))
		digest = append(digest, byte(len(lot.Owner.Member)))
		digest = append(digest, []byte(lot.Owner.Member)...)
		digest = appendInt64LE(digest, lot.Price)
		digest = appendInt64LE(digest, lot.Quantity)
	}

	digest = appendInt64LE(digest, c.battery.State())

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func journalTypeName(jt ledger.JournalType) string {
	switch jt {
	case ledger.JournalTypeSurplusSale:
		return "surplus_sale"
	case ledger.JournalTypePoolPurchase:
		return "pool_purchase"
	case ledger.JournalTypeImportPurchase:
		return "import_purchase"
	case ledger.JournalTypeExportDelivery:
		return "export_delivery"
	case ledger.JournalTypeDebtSettlement:
		return "debt_settlement"
	default:
		return "unknown"
	}
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.MemberAdded:
		return c.handleMemberAdded(e)
	case *event.MemberRemoved:
		return c.handleMemberRemoved(e)
	case *event.BatteryConfigured:
		return c.handleBatteryConfigured(e)
	case *event.ExportMeterAssigned:
		return c.handleExportMeterAssigned(e)
	case *event.ImportSourceTagged:
		return c.handleImportSourceTagged(e)
	case *event.EnergyDistribution:
		return c.handleEnergyDistribution(e)
	case *event.EnergyConsumption:
		return c.handleEnergyConsumption(e)
	case *event.DebtSettlement:
		return c.handleDebtSettlement(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Administrative handlers ---

func (c *DeterministicCore) handleMemberAdded(evt *event.MemberAdded) (*ledger.Batch, error) {
	if err := c.registry.AddMember(evt.Address, evt.Meters, evt.OwnershipBps); err != nil {
		return nil, preconditionf("add member: %v", err)
	}

	c.log.Info().
		Str("member", evt.Address).
		Int64("ownership_bps", evt.OwnershipBps).
		Int("meters", len(evt.Meters)).
		Msg("member added")
	return nil, nil
}

func (c *DeterministicCore) handleMemberRemoved(evt *event.MemberRemoved) (*ledger.Batch, error) {
	if err := c.registry.RemoveMember(evt.Address); err != nil {
		return nil, preconditionf("remove member: %v", err)
	}

	c.log.Info().Str("member", evt.Address).Msg("member removed")
	return nil, nil
}

func (c *DeterministicCore) handleBatteryConfigured(evt *event.BatteryConfigured) (*ledger.Batch, error) {
	if err := c.battery.Configure(evt.Price, evt.Capacity); err != nil {
		return nil, preconditionf("configure battery: %v", err)
	}

	c.log.Info().
		Int64("price", evt.Price).
		Int64("capacity", evt.Capacity).
		Msg("battery configured")
	return nil, nil
}

func (c *DeterministicCore) handleExportMeterAssigned(evt *event.ExportMeterAssigned) (*ledger.Batch, error) {
	if err := c.registry.SetExportMeter(evt.MeterID); err != nil {
		return nil, preconditionf("set export meter: %v", err)
	}

	c.log.Info().Uint64("meter_id", evt.MeterID).Msg("export meter assigned")
	return nil, nil
}

func (c *DeterministicCore) handleImportSourceTagged(evt *event.ImportSourceTagged) (*ledger.Batch, error) {
	c.registry.TagImportSource(evt.SourceID)

	c.log.Info().Uint64("source_id", evt.SourceID).Msg("import source tagged")
	return nil, nil
}

func (c *DeterministicCore) handleDebtSettlement(evt *event.DebtSettlement) (*ledger.Batch, error) {
	if _, ok := c.registry.Member(evt.Member); !ok {
		return nil, preconditionf("settle debt: member %s does not exist", evt.Member)
	}

	batch, err := c.journalGen.GenerateDebtSettlement(
		evt.Member, evt.IdempotencyKey(), evt.AmountCents, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, preconditionf("settle debt: %v", err)
	}

	if c.metrics != nil {
		c.metrics.DebtSettledCents.Add(float64(evt.AmountCents))
	}
	c.log.Info().
		Str("member", evt.Member).
		Int64("amount_cents", evt.AmountCents).
		Msg("debt settled")
	return batch, nil
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Members         []*state.Member
	Pool            []state.Lot
	Battery         state.BatteryInfo
	ExportMeter     uint64
	ExportMeterSet  bool
	ImportSources   []uint64
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state. On warm restart
// the caller loads the latest snapshot, then replays events past it.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	for _, m := range snap.Members {
		if err := c.registry.AddMember(m.Address, m.Meters, m.Ownership); err != nil {
			return fmt.Errorf("restore member %s: %w", m.Address, err)
		}
	}
	if snap.ExportMeterSet {
		if err := c.registry.SetExportMeter(snap.ExportMeter); err != nil {
			return fmt.Errorf("restore export meter: %w", err)
		}
	}
	for _, sourceID := range snap.ImportSources {
		c.registry.TagImportSource(sourceID)
	}

	c.pool.Replace(snap.Pool)

	if snap.Battery.Configured {
		if err := c.battery.Configure(snap.Battery.Price, snap.Battery.Capacity); err != nil {
			return fmt.Errorf("restore battery: %w", err)
		}
		c.battery.SetState(snap.Battery.State)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence + 1)
	c.idempotency.Warm(snap.IdempotencyKeys)

	return nil
}

// WarmLRU loads recent idempotency keys recovered from the event log
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}

// GetSequence returns the current global sequence number
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip)
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	exportMeter, exportSet := c.registry.ExportMeter()

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Members:         c.registry.ActiveMembers(),
		Pool:            c.pool.Snapshot(),
		Battery:         c.battery.Info(),
		ExportMeter:     exportMeter,
		ExportMeterSet:  exportSet,
		ImportSources:   c.registry.ImportSources(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}
