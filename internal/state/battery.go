package state

import "fmt"

// BatteryInfo is the queryable battery configuration and charge state
type BatteryInfo struct {
	Price      int64 // cents per unit charged to consumers of discharged energy
	Capacity   int64 // units
	State      int64 // units currently stored, 0 <= State <= Capacity
	Configured bool
}

// Battery models the community battery. Each distribution sets the charge
// state to an absolute target; the delta against the previous state decides
// whether the battery draws from or injects into the pool.
type Battery struct {
	price      int64
	capacity   int64
	state      int64
	configured bool
}

func NewBattery() *Battery {
	return &Battery{}
}

// Configure sets price and capacity. Reconfiguration is allowed as long as
// the stored charge still fits the new capacity.
func (b *Battery) Configure(price, capacity int64) error {
	if price <= 0 {
		return fmt.Errorf("battery price must be > 0, got %d", price)
	}
	if capacity <= 0 {
		return fmt.Errorf("battery capacity must be > 0, got %d", capacity)
	}
	if b.state > capacity {
		return fmt.Errorf("stored charge %d exceeds new capacity %d", b.state, capacity)
	}

	b.price = price
	b.capacity = capacity
	b.configured = true
	return nil
}

func (b *Battery) Configured() bool {
	return b.configured
}

func (b *Battery) Price() int64 {
	return b.price
}

func (b *Battery) State() int64 {
	return b.state
}

// ValidateTarget checks an absolute charge target against the configuration
func (b *Battery) ValidateTarget(target int64) error {
	if target == 0 && !b.configured {
		return nil
	}
	if !b.configured {
		return fmt.Errorf("battery not configured")
	}
	if target < 0 {
		return fmt.Errorf("battery target must be >= 0, got %d", target)
	}
	if target > b.capacity {
		return fmt.Errorf("battery target %d exceeds capacity %d", target, b.capacity)
	}
	return nil
}

// SetState commits a validated charge target
func (b *Battery) SetState(target int64) {
	b.state = target
}

func (b *Battery) Info() BatteryInfo {
	return BatteryInfo{
		Price:      b.price,
		Capacity:   b.capacity,
		State:      b.state,
		Configured: b.configured,
	}
}
