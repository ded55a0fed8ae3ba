package core

import (
	"sync"

	"GridLedger/internal/event"
	"GridLedger/internal/state"
)

// Handle serializes access to the deterministic core. The NATS ingestion
// loop and the admin API both apply events through it, and queries read the
// live state under the same lock. One writer, ever.
type Handle struct {
	mu   sync.Mutex
	core *DeterministicCore
}

func NewHandle(core *DeterministicCore) *Handle {
	return &Handle{core: core}
}

// Process applies one event under the writer lock
func (h *Handle) Process(evt event.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.ProcessEvent(evt)
}

func (h *Handle) Member(address string) (MemberInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.Member(address)
}

func (h *Handle) AllocatedUnits(address string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.AllocatedUnits(address)
}

func (h *Handle) PoolSnapshot() []state.Lot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.PoolSnapshot()
}

func (h *Handle) PoolUnits() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.PoolUnits()
}

func (h *Handle) CashCreditBalance(address string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.CashCreditBalance(address)
}

func (h *Handle) Debt(address string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.Debt(address)
}

func (h *Handle) ExportBalance() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.ExportBalance()
}

func (h *Handle) ImportBalance() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.ImportBalance()
}

func (h *Handle) SettledBalance() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.SettledBalance()
}

func (h *Handle) BatteryInfo() state.BatteryInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.BatteryInfo()
}

func (h *Handle) MeterOwner(meter uint64) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.MeterOwner(meter)
}

func (h *Handle) OwnershipTotal() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.OwnershipTotal()
}

func (h *Handle) VerifyZeroSum() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.VerifyZeroSum()
}

func (h *Handle) Sequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.GetSequence()
}

func (h *Handle) StateHash() [32]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.GetStateHash()
}

// CreateSnapshotState captures a consistent snapshot under the lock
func (h *Handle) CreateSnapshotState() *SnapshotState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core.CreateSnapshotState()
}
