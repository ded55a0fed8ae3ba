package core_test

import (
	"GridLedger/internal/core"
	"GridLedger/internal/event"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- Test helpers ---

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore() (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(0, persistChan, projChan, nil, nil)
	return c, persistChan, projChan
}

func mustMemberAdded(addr string, meters []uint64, bps int64) *event.MemberAdded {
	return &event.MemberAdded{
		CommandID:    uuid.New(),
		Address:      addr,
		Meters:       meters,
		OwnershipBps: bps,
		Timestamp:    time.UnixMicro(1_000_000),
	}
}

func mustDistribution(sources []event.EnergySource, batteryTarget int64) *event.EnergyDistribution {
	return &event.EnergyDistribution{
		DistributionID: uuid.New(),
		Sources:        sources,
		BatteryTarget:  batteryTarget,
		Timestamp:      time.UnixMicro(2_000_000),
	}
}

func mustConsumption(requests []event.ConsumptionRequest) *event.EnergyConsumption {
	return &event.EnergyConsumption{
		ConsumptionID: uuid.New(),
		Requests:      requests,
		Timestamp:     time.UnixMicro(3_000_000),
	}
}

// setupCommunity registers the three-member 40/35/25 community used by most
// settlement scenarios: A=0xaaa1 (meter 101), B=0xbbb2 (102), C=0xccc3 (103).
func setupCommunity(t *testing.T, c *core.DeterministicCore) {
	t.Helper()
	members := []struct {
		addr  string
		meter uint64
		bps   int64
	}{
		{"0xaaa1", 101, 4_000},
		{"0xbbb2", 102, 3_500},
		{"0xccc3", 103, 2_500},
	}
	for _, m := range members {
		if err := c.ProcessEvent(mustMemberAdded(m.addr, []uint64{m.meter}, m.bps)); err != nil {
			t.Fatalf("add member %s: %v", m.addr, err)
		}
	}
}

func requireZeroSum(t *testing.T, c *core.DeterministicCore) {
	t.Helper()
	if err := c.VerifyZeroSum(); err != nil {
		t.Fatalf("zero-sum violated: %v", err)
	}
}

// ============================================================================
// Test: Membership
// ============================================================================

func TestAddMember_RegistersOwnershipAndMeters(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if total := c.OwnershipTotal(); total != 10_000 {
		t.Errorf("ownership total: got %d, want 10_000", total)
	}
	if owner, ok := c.MeterOwner(102); !ok || owner != "0xbbb2" {
		t.Errorf("meter 102: got %q/%v", owner, ok)
	}

	info, ok := c.Member("0xaaa1")
	if !ok {
		t.Fatal("member 0xaaa1 should exist")
	}
	if info.OwnershipBps != 4_000 || info.BalanceCents != 0 {
		t.Errorf("unexpected member info: %+v", info)
	}
}

func TestAddMember_Rejections(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	rejected := []*event.MemberAdded{
		mustMemberAdded("", []uint64{200}, 1),       // empty address
		mustMemberAdded("0xaaa1", []uint64{200}, 1), // duplicate member
		mustMemberAdded("0xddd4", []uint64{101}, 1), // meter taken
		mustMemberAdded("0xddd4", []uint64{200}, 0), // zero ownership
		mustMemberAdded("0xddd4", []uint64{200}, 1), // would exceed 100%
	}

	for i, evt := range rejected {
		err := c.ProcessEvent(evt)
		if err == nil {
			t.Errorf("case %d: expected rejection", i)
			continue
		}
		if !core.IsPrecondition(err) {
			t.Errorf("case %d: expected precondition error, got %v", i, err)
		}
	}

	if total := c.OwnershipTotal(); total != 10_000 {
		t.Errorf("ownership total after rejections: got %d, want 10_000", total)
	}
}

func TestRemoveMember_ReleasesShareAndMeters(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	err := c.ProcessEvent(&event.MemberRemoved{
		CommandID: uuid.New(),
		Address:   "0xccc3",
		Timestamp: time.UnixMicro(1_500_000),
	})
	if err != nil {
		t.Fatalf("remove member: %v", err)
	}

	if total := c.OwnershipTotal(); total != 7_500 {
		t.Errorf("ownership total: got %d, want 7_500", total)
	}
	if _, ok := c.MeterOwner(103); ok {
		t.Error("meter 103 should be released")
	}
	if _, ok := c.Member("0xccc3"); ok {
		t.Error("member should be gone")
	}
}

// ============================================================================
// Test: Distribution
// ============================================================================

func TestDistribution_RequiresFullOwnership(t *testing.T) {
	c, _, _ := newTestCore()
	if err := c.ProcessEvent(mustMemberAdded("0xaaa1", []uint64{101}, 4_000)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
	}, 0))
	if err == nil || !core.IsPrecondition(err) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}
	if c.PoolUnits() != 0 {
		t.Error("rejected distribution must not touch the pool")
	}
}

func TestDistribution_NoSources_Rejected(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	err := c.ProcessEvent(mustDistribution(nil, 0))
	if err == nil || !core.IsPrecondition(err) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}
}

func TestDistribution_ProRataAllocation(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
		{SourceID: 2, Price: 200, Quantity: 500},
	}, 0))
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}

	// 40% / 35% / 25% of each source, floor division, remainder to last
	cases := []struct {
		member string
		want   int64
	}{
		{"0xaaa1", 600}, // 400 + 200
		{"0xbbb2", 525}, // 350 + 175
		{"0xccc3", 375}, // 250 + 125
	}
	for _, tc := range cases {
		if got := c.AllocatedUnits(tc.member); got != tc.want {
			t.Errorf("%s allocated: got %d, want %d", tc.member, got, tc.want)
		}
	}

	if total := c.PoolUnits(); total != 1_500 {
		t.Errorf("pool total: got %d, want 1_500 (allocation must be lossless)", total)
	}

	// Pool is price-ascending
	lots := c.PoolSnapshot()
	for i := 1; i < len(lots); i++ {
		if lots[i].Price < lots[i-1].Price {
			t.Fatalf("pool not sorted: lot %d price %d after %d", i, lots[i].Price, lots[i-1].Price)
		}
	}

	requireZeroSum(t, c)
}

func TestDistribution_RemainderToLastMember(t *testing.T) {
	c, _, _ := newTestCore()
	if err := c.ProcessEvent(mustMemberAdded("0xaaa1", []uint64{101}, 3_333)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := c.ProcessEvent(mustMemberAdded("0xbbb2", []uint64{102}, 6_667)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	if got := c.AllocatedUnits("0xaaa1"); got != 333 {
		t.Errorf("first member: got %d, want 333", got)
	}
	if got := c.AllocatedUnits("0xbbb2"); got != 667 {
		t.Errorf("last member: got %d, want 667 (remainder absorbed)", got)
	}
}

func TestDistribution_ReplacesPreviousPool(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 400},
	}, 0)); err != nil {
		t.Fatalf("first distribution: %v", err)
	}
	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 800},
	}, 0)); err != nil {
		t.Fatalf("second distribution: %v", err)
	}

	if total := c.PoolUnits(); total != 800 {
		t.Errorf("pool total: got %d, want 800 (previous cycle voided)", total)
	}
}

func TestDistribution_ImportSources_NotAllocated(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 10, Quantity: 100},
		{SourceID: 2, Price: 25, Quantity: 50, IsImport: true},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	// Import units sit in the import bucket, not in member allocations
	var allocated int64
	for _, m := range []string{"0xaaa1", "0xbbb2", "0xccc3"} {
		allocated += c.AllocatedUnits(m)
	}
	if allocated != 100 {
		t.Errorf("member allocations: got %d, want 100", allocated)
	}
	if total := c.PoolUnits(); total != 150 {
		t.Errorf("pool total: got %d, want 150", total)
	}
}

func TestDistribution_TaggedImportSource(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(&event.ImportSourceTagged{
		CommandID: uuid.New(),
		SourceID:  7,
		Timestamp: time.UnixMicro(1_500_000),
	}); err != nil {
		t.Fatalf("tag import source: %v", err)
	}

	// Source 7 is import even without the per-cycle flag
	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 7, Price: 25, Quantity: 60},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	for _, m := range []string{"0xaaa1", "0xbbb2", "0xccc3"} {
		if got := c.AllocatedUnits(m); got != 0 {
			t.Errorf("%s should hold no allocation from tagged import, got %d", m, got)
		}
	}
	if total := c.PoolUnits(); total != 60 {
		t.Errorf("pool total: got %d, want 60", total)
	}
}

// ============================================================================
// Test: Consumption settlement
// ============================================================================

// The canonical 40/35/25 scenario: two sources (1000 @ 100, 500 @ 200),
// A consumes 100 (under), B consumes 700 (over), C stays idle.
func TestConsumption_UnderAndOverConsumers(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
		{SourceID: 2, Price: 200, Quantity: 500},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	if err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
		{MeterID: 101, Quantity: 100},
		{MeterID: 102, Quantity: 700},
	})); err != nil {
		t.Fatalf("consumption: %v", err)
	}

	// A burned 100 of its 400 @ 100 lot; the surplus 300 @ 100 + 200 @ 200
	// was sold to the grid for 70_000.
	if got := c.CashCreditBalance("0xaaa1"); got != 70_000 {
		t.Errorf("A balance: got %d, want 70_000", got)
	}

	// B burned its full 525 and bought 175 from C's 250 @ 100 lot.
	if got := c.CashCreditBalance("0xbbb2"); got != -17_500 {
		t.Errorf("B balance: got %d, want -17_500", got)
	}
	if got := c.CashCreditBalance("0xccc3"); got != 17_500 {
		t.Errorf("C balance: got %d, want 17_500", got)
	}

	if got := c.ExportBalance(); got != -70_000 {
		t.Errorf("export balance: got %d, want -70_000", got)
	}
	if got := c.ImportBalance(); got != 0 {
		t.Errorf("import balance: got %d, want 0", got)
	}

	// C still holds its unsold remainder: 75 @ 100 + 125 @ 200
	if got := c.AllocatedUnits("0xccc3"); got != 200 {
		t.Errorf("C remaining allocation: got %d, want 200", got)
	}

	requireZeroSum(t, c)
}

func TestConsumption_ExactConsumption_ValueNeutral(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	if err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
		{MeterID: 101, Quantity: 400},
		{MeterID: 102, Quantity: 350},
		{MeterID: 103, Quantity: 250},
	})); err != nil {
		t.Fatalf("consumption: %v", err)
	}

	for _, m := range []string{"0xaaa1", "0xbbb2", "0xccc3"} {
		if got := c.CashCreditBalance(m); got != 0 {
			t.Errorf("%s balance: got %d, want 0 (own consumption is value-neutral)", m, got)
		}
	}
	if c.PoolUnits() != 0 {
		t.Errorf("pool should be empty, has %d units", c.PoolUnits())
	}
	requireZeroSum(t, c)
}

func TestConsumption_UnknownMeter_RejectsWholeCycle(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}
	before := c.PoolUnits()

	err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
		{MeterID: 101, Quantity: 100},
		{MeterID: 999, Quantity: 50}, // unregistered
	}))
	if err == nil || !core.IsPrecondition(err) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}

	// Atomic: nothing moved
	if c.PoolUnits() != before {
		t.Error("rejected cycle must not touch the pool")
	}
	if got := c.CashCreditBalance("0xaaa1"); got != 0 {
		t.Errorf("rejected cycle must not move cash, A=%d", got)
	}
}

func TestConsumption_EmptyRequests_Rejected(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	err := c.ProcessEvent(mustConsumption(nil))
	if err == nil || !core.IsPrecondition(err) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}
}

func TestConsumption_ImportLots_CreditImportAccount(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	// 100 community units @ 10 and 50 imported units @ 25
	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 10, Quantity: 100},
		{SourceID: 2, Price: 25, Quantity: 50, IsImport: true},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	// A owns 40, B 35, C 25. Everyone burns their own 10-cent lots first,
	// so by the shortfall phase only the 50 import units remain.
	if err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
		{MeterID: 101, Quantity: 70},
		{MeterID: 102, Quantity: 35},
		{MeterID: 103, Quantity: 85},
	})); err != nil {
		t.Fatalf("consumption: %v", err)
	}

	// Shortfalls fill in first-appearance order: A (30) draws 30 import
	// units at 25 (pays 750, 20 units left), then C (60) is clamped to the
	// remaining 20 (pays 500). Both fills credit the import account.
	if got := c.ImportBalance(); got != 1_250 {
		t.Errorf("import account: got %d, want %d", got, 1_250)
	}
	if got := c.CashCreditBalance("0xaaa1"); got != -750 {
		t.Errorf("A balance: got %d, want %d", got, -750)
	}
	if got := c.CashCreditBalance("0xbbb2"); got != 0 {
		t.Errorf("B balance: got %d, want 0 (exact consumer)", got)
	}
	if got := c.CashCreditBalance("0xccc3"); got != -500 {
		t.Errorf("C balance: got %d, want %d", got, -500)
	}
	if got := c.PoolUnits(); got != 0 {
		t.Errorf("pool should be drained by the clamped draw, got %d units", got)
	}
	requireZeroSum(t, c)
}

func TestConsumption_ExportMeterDelivery(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(&event.ExportMeterAssigned{
		CommandID: uuid.New(),
		MeterID:   9_999,
		Timestamp: time.UnixMicro(1_500_000),
	}); err != nil {
		t.Fatalf("assign export meter: %v", err)
	}

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	// 100 units flow out through the export meter: drawn cheapest-first
	// from the pool, owners credited, export account pays.
	if err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
		{MeterID: 9_999, Quantity: 100},
	})); err != nil {
		t.Fatalf("consumption: %v", err)
	}

	if got := c.ExportBalance(); got != -10_000 {
		t.Errorf("export balance: got %d, want -10_000", got)
	}
	// A's cheapest lot is first in pool order (400 @ 100); the 100 exported
	// units came out of it.
	if got := c.CashCreditBalance("0xaaa1"); got != 10_000 {
		t.Errorf("A balance: got %d, want 10_000", got)
	}
	if got := c.PoolUnits(); got != 900 {
		t.Errorf("pool total: got %d, want 900", got)
	}
	requireZeroSum(t, c)
}

func TestConsumption_PoolExhaustion_ClampsWithoutError(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 100},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	// A wants far more than the whole pool holds. The draw clamps at the
	// available quantity, the cycle still succeeds and stays zero-sum.
	if err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
		{MeterID: 101, Quantity: 10_000},
	})); err != nil {
		t.Fatalf("consumption should clamp, not fail: %v", err)
	}

	if c.PoolUnits() != 0 {
		t.Errorf("pool should be drained, has %d units", c.PoolUnits())
	}
	requireZeroSum(t, c)
}

// ============================================================================
// Test: Battery
// ============================================================================

func TestBattery_ChargeDrawsFromPoolWithoutCash(t *testing.T) {
	c, _, _ := newTestCore()
	if err := c.ProcessEvent(mustMemberAdded("0xaaa1", []uint64{101}, 10_000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := c.ProcessEvent(&event.BatteryConfigured{
		CommandID: uuid.New(),
		Price:     14,
		Capacity:  100,
		Timestamp: time.UnixMicro(1_500_000),
	}); err != nil {
		t.Fatalf("configure battery: %v", err)
	}

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 10, Quantity: 200},
	}, 30)); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	if got := c.BatteryInfo().State; got != 30 {
		t.Errorf("battery state: got %d, want 30", got)
	}
	if got := c.PoolUnits(); got != 170 {
		t.Errorf("pool total: got %d, want 170 (charge drew 30)", got)
	}
	if got := c.CashCreditBalance("0xaaa1"); got != 0 {
		t.Errorf("charging must move no cash, got %d", got)
	}
	requireZeroSum(t, c)
}

func TestBattery_DischargeInjectsLotAtBatteryPrice(t *testing.T) {
	c, _, _ := newTestCore()
	if err := c.ProcessEvent(mustMemberAdded("0xaaa1", []uint64{101}, 10_000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := c.ProcessEvent(&event.BatteryConfigured{
		CommandID: uuid.New(),
		Price:     14,
		Capacity:  100,
		Timestamp: time.UnixMicro(1_500_000),
	}); err != nil {
		t.Fatalf("configure battery: %v", err)
	}

	// Charge 30, then discharge to 0 in the next cycle
	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 10, Quantity: 200},
	}, 30)); err != nil {
		t.Fatalf("first distribution: %v", err)
	}
	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 10, Quantity: 50},
	}, 0)); err != nil {
		t.Fatalf("second distribution: %v", err)
	}

	if got := c.PoolUnits(); got != 80 {
		t.Errorf("pool total: got %d, want 80 (50 allocated + 30 discharged)", got)
	}

	// Consuming past the member's 50 units buys battery energy at 14,
	// crediting the import account.
	if err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
		{MeterID: 101, Quantity: 80},
	})); err != nil {
		t.Fatalf("consumption: %v", err)
	}

	if got := c.ImportBalance(); got != 420 {
		t.Errorf("import balance: got %d, want 420 (30 units @ 14)", got)
	}
	if got := c.CashCreditBalance("0xaaa1"); got != -420 {
		t.Errorf("member balance: got %d, want -420", got)
	}
	requireZeroSum(t, c)
}

func TestBattery_TargetBeyondCapacity_Rejected(t *testing.T) {
	c, _, _ := newTestCore()
	if err := c.ProcessEvent(mustMemberAdded("0xaaa1", []uint64{101}, 10_000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := c.ProcessEvent(&event.BatteryConfigured{
		CommandID: uuid.New(),
		Price:     14,
		Capacity:  100,
		Timestamp: time.UnixMicro(1_500_000),
	}); err != nil {
		t.Fatalf("configure battery: %v", err)
	}

	err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 10, Quantity: 500},
	}, 101))
	if err == nil || !core.IsPrecondition(err) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}
	if c.PoolUnits() != 0 {
		t.Error("rejected distribution must not touch the pool")
	}
}

func TestBattery_ChargeExceedingDistribution_Rejected(t *testing.T) {
	c, _, _ := newTestCore()
	if err := c.ProcessEvent(mustMemberAdded("0xaaa1", []uint64{101}, 10_000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := c.ProcessEvent(&event.BatteryConfigured{
		CommandID: uuid.New(),
		Price:     14,
		Capacity:  100,
		Timestamp: time.UnixMicro(1_500_000),
	}); err != nil {
		t.Fatalf("configure battery: %v", err)
	}

	err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 10, Quantity: 20},
	}, 50))
	if err == nil || !core.IsPrecondition(err) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}
}

// ============================================================================
// Test: Debt settlement
// ============================================================================

func TestDebtSettlement_ClearsDebt(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
		{SourceID: 2, Price: 200, Quantity: 500},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}
	if err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
		{MeterID: 101, Quantity: 100},
		{MeterID: 102, Quantity: 700},
	})); err != nil {
		t.Fatalf("consumption: %v", err)
	}

	if got := c.Debt("0xbbb2"); got != 17_500 {
		t.Fatalf("B debt: got %d, want 17_500", got)
	}

	// Partial payment
	if err := c.ProcessEvent(&event.DebtSettlement{
		SettlementID: uuid.New(),
		Member:       "0xbbb2",
		AmountCents:  10_000,
		Timestamp:    time.UnixMicro(4_000_000),
	}); err != nil {
		t.Fatalf("debt settlement: %v", err)
	}

	if got := c.Debt("0xbbb2"); got != 7_500 {
		t.Errorf("B debt after partial payment: got %d, want 7_500", got)
	}
	if got := c.SettledBalance(); got != -10_000 {
		t.Errorf("settled balance: got %d, want -10_000", got)
	}
	requireZeroSum(t, c)

	// Overpayment rejected
	err := c.ProcessEvent(&event.DebtSettlement{
		SettlementID: uuid.New(),
		Member:       "0xbbb2",
		AmountCents:  7_501,
		Timestamp:    time.UnixMicro(4_100_000),
	})
	if err == nil || !core.IsPrecondition(err) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}

	// Full payment of the remainder
	if err := c.ProcessEvent(&event.DebtSettlement{
		SettlementID: uuid.New(),
		Member:       "0xbbb2",
		AmountCents:  7_500,
		Timestamp:    time.UnixMicro(4_200_000),
	}); err != nil {
		t.Fatalf("final settlement: %v", err)
	}

	if got := c.Debt("0xbbb2"); got != 0 {
		t.Errorf("B debt after full payment: got %d, want 0", got)
	}
	if got := c.SettledBalance(); got != -17_500 {
		t.Errorf("settled balance: got %d, want -17_500", got)
	}
	requireZeroSum(t, c)

	// No debt left: further settlements rejected
	err = c.ProcessEvent(&event.DebtSettlement{
		SettlementID: uuid.New(),
		Member:       "0xbbb2",
		AmountCents:  1,
		Timestamp:    time.UnixMicro(4_300_000),
	})
	if err == nil || !core.IsPrecondition(err) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}
}

// ============================================================================
// Test: Pipeline mechanics
// ============================================================================

func TestIdempotency_DuplicateDistribution_Ignored(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	dist := mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 400},
	}, 0)

	if err := c.ProcessEvent(dist); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	seqAfterFirst := c.GetSequence()

	// Redelivery of the exact same distribution id
	if err := c.ProcessEvent(dist); err != nil {
		t.Fatalf("duplicate should be silently skipped: %v", err)
	}

	if got := c.GetSequence(); got != seqAfterFirst {
		t.Errorf("duplicate must not advance the sequence: got %d, want %d", got, seqAfterFirst)
	}
	if got := c.PoolUnits(); got != 400 {
		t.Errorf("pool total: got %d, want 400", got)
	}
}

func TestSequenceValidation_GapDetected(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	first := mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 400},
	}, 0)
	first.Sequence = 10
	if err := c.ProcessEvent(first); err != nil {
		t.Fatalf("first metering event: %v", err)
	}

	gapped := mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 500},
	}, 0)
	gapped.Sequence = 13 // expected 11
	if err := c.ProcessEvent(gapped); err == nil {
		t.Error("sequence gap should be rejected")
	}
}

func TestStateHashChain_Deterministic(t *testing.T) {
	run := func() [32]byte {
		c, _, _ := newTestCore()

		// Fixed IDs so both runs hash identical inputs
		add := mustMemberAdded("0xaaa1", []uint64{101}, 10_000)
		add.CommandID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440001")
		if err := c.ProcessEvent(add); err != nil {
			t.Fatalf("add member: %v", err)
		}

		dist := mustDistribution([]event.EnergySource{
			{SourceID: 1, Price: 100, Quantity: 400},
		}, 0)
		dist.DistributionID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440002")
		if err := c.ProcessEvent(dist); err != nil {
			t.Fatalf("distribution: %v", err)
		}

		return c.GetStateHash()
	}

	if run() != run() {
		t.Error("identical event streams must produce identical state hashes")
	}
}

func TestEnvelope_HasCorrectFields(t *testing.T) {
	c, persistChan, _ := newTestCore()
	setupCommunity(t, c)

	// Drain the membership envelopes
	for len(persistChan) > 0 {
		<-persistChan
	}

	dist := mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 400},
	}, 0)
	if err := c.ProcessEvent(dist); err != nil {
		t.Fatalf("distribution: %v", err)
	}

	out := <-persistChan
	env := out.Envelope
	if env.EventType != event.EventTypeEnergyDistribution {
		t.Errorf("event type: got %v", env.EventType)
	}
	if env.IdempotencyKey != dist.DistributionID.String() {
		t.Errorf("idempotency key: got %q", env.IdempotencyKey)
	}
	if env.Sequence != 3 {
		t.Errorf("sequence: got %d, want 3", env.Sequence)
	}
	if len(env.Payload) == 0 {
		t.Error("payload should carry the marshaled event")
	}
	if len(out.Pool) == 0 {
		t.Error("output should carry the pool snapshot")
	}
}

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput) // unbuffered, nobody reading
	c := core.NewDeterministicCore(0, persistChan, projChan, nil, nil)

	// Must not block even though the projection channel is full
	if err := c.ProcessEvent(mustMemberAdded("0xaaa1", []uint64{101}, 10_000)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(persistChan) != 1 {
		t.Error("persist channel should have received the output")
	}
}

func TestBatchJournals_ReferenceConsumptionCycle(t *testing.T) {
	c, persistChan, _ := newTestCore()
	setupCommunity(t, c)

	if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
		{SourceID: 1, Price: 100, Quantity: 1_000},
	}, 0)); err != nil {
		t.Fatalf("distribution: %v", err)
	}
	for len(persistChan) > 0 {
		<-persistChan
	}

	cons := mustConsumption([]event.ConsumptionRequest{
		{MeterID: 101, Quantity: 100},
	})
	if err := c.ProcessEvent(cons); err != nil {
		t.Fatalf("consumption: %v", err)
	}

	out := <-persistChan
	if out.Batch == nil {
		t.Fatal("consumption with surplus must produce a batch")
	}
	if out.Batch.EventRef != cons.ConsumptionID.String() {
		t.Errorf("batch event ref: got %q", out.Batch.EventRef)
	}
	var total int64
	for _, j := range out.Batch.Journals {
		total += j.Amount
	}
	// A's surplus 300 @ 100
	if total != 30_000 {
		t.Errorf("batch total: got %d, want 30_000", total)
	}
}

// Repeated cycles: each distribution voids the previous pool, so cycles do
// not leak value into each other and balances grow linearly.
func TestFullLifecycle_MultiCycle(t *testing.T) {
	c, _, _ := newTestCore()
	setupCommunity(t, c)

	for cycle := 0; cycle < 5; cycle++ {
		if err := c.ProcessEvent(mustDistribution([]event.EnergySource{
			{SourceID: 1, Price: 100, Quantity: 1_000},
			{SourceID: 2, Price: 200, Quantity: 500},
		}, 0)); err != nil {
			t.Fatalf("cycle %d distribution: %v", cycle, err)
		}
		if err := c.ProcessEvent(mustConsumption([]event.ConsumptionRequest{
			{MeterID: 101, Quantity: 100},
			{MeterID: 102, Quantity: 700},
		})); err != nil {
			t.Fatalf("cycle %d consumption: %v", cycle, err)
		}
		requireZeroSum(t, c)
	}

	// Per cycle: A +70_000, B -17_500, C +17_500 (B buys C's cheap units)
	if got := c.CashCreditBalance("0xaaa1"); got != 350_000 {
		t.Errorf("A after 5 cycles: got %d, want 350_000", got)
	}
	if got := c.CashCreditBalance("0xbbb2"); got != -87_500 {
		t.Errorf("B after 5 cycles: got %d, want -87_500", got)
	}
}
