package state

import "sort"

// LotOwnerKind distinguishes who holds a lot in the consumption pool
type LotOwnerKind uint8

const (
	LotOwnerMember LotOwnerKind = iota
	LotOwnerImport
	LotOwnerBattery
)

// LotOwner identifies the owner of a pool lot. Member lots carry the member
// address; import-bucket and battery lots do not belong to any member.
type LotOwner struct {
	Kind   LotOwnerKind
	Member string // set only when Kind == LotOwnerMember
}

func MemberOwner(address string) LotOwner {
	return LotOwner{Kind: LotOwnerMember, Member: address}
}

var (
	ImportOwner  = LotOwner{Kind: LotOwnerImport}
	BatteryOwner = LotOwner{Kind: LotOwnerBattery}
)

// Lot is one tranche of allocated energy awaiting consumption
type Lot struct {
	SourceID uint64
	Owner    LotOwner
	Price    int64 // cents per unit
	Quantity int64 // units remaining, always > 0 while in the pool
}

// Fill records a quantity drawn from one lot at its price
type Fill struct {
	SourceID uint64
	Owner    LotOwner
	Price    int64
	Quantity int64
}

// Pool is the consumption pool: lots held price-ascending, stable for equal
// prices (insertion order preserved). Each distribution voids and replaces
// the entire pool.
type Pool struct {
	lots []Lot
}

func NewPool() *Pool {
	return &Pool{}
}

// Replace discards all current lots and installs the given set, sorted
// price-ascending. Lots with non-positive quantity are dropped.
func (p *Pool) Replace(lots []Lot) {
	p.lots = p.lots[:0]
	for _, lot := range lots {
		if lot.Quantity > 0 {
			p.lots = append(p.lots, lot)
		}
	}
	sort.SliceStable(p.lots, func(i, j int) bool {
		return p.lots[i].Price < p.lots[j].Price
	})
}

// Append inserts lots keeping price order
func (p *Pool) Append(lots ...Lot) {
	for _, lot := range lots {
		if lot.Quantity > 0 {
			p.lots = append(p.lots, lot)
		}
	}
	sort.SliceStable(p.lots, func(i, j int) bool {
		return p.lots[i].Price < p.lots[j].Price
	})
}

// Draw removes up to qty units cheapest-first across all owners. It returns
// the fills and the quantity actually drawn, which is less than qty when the
// pool runs dry. Exhausted lots are removed.
func (p *Pool) Draw(qty int64) ([]Fill, int64) {
	return p.draw(qty, func(Lot) bool { return true })
}

// DrawOwned removes up to qty units cheapest-first among one member's lots
func (p *Pool) DrawOwned(member string, qty int64) ([]Fill, int64) {
	return p.draw(qty, func(lot Lot) bool {
		return lot.Owner.Kind == LotOwnerMember && lot.Owner.Member == member
	})
}

func (p *Pool) draw(qty int64, match func(Lot) bool) ([]Fill, int64) {
	var fills []Fill
	var drawn int64

	kept := p.lots[:0]
	for i := range p.lots {
		lot := p.lots[i]
		if drawn >= qty || !match(lot) {
			kept = append(kept, lot)
			continue
		}

		take := qty - drawn
		if take > lot.Quantity {
			take = lot.Quantity
		}
		fills = append(fills, Fill{
			SourceID: lot.SourceID,
			Owner:    lot.Owner,
			Price:    lot.Price,
			Quantity: take,
		})
		drawn += take

		if lot.Quantity > take {
			lot.Quantity -= take
			kept = append(kept, lot)
		}
	}
	p.lots = kept

	return fills, drawn
}

// OwnedQuantity sums the units a member currently holds in the pool
func (p *Pool) OwnedQuantity(member string) int64 {
	var total int64
	for _, lot := range p.lots {
		if lot.Owner.Kind == LotOwnerMember && lot.Owner.Member == member {
			total += lot.Quantity
		}
	}
	return total
}

// TotalQuantity sums all units in the pool
func (p *Pool) TotalQuantity() int64 {
	var total int64
	for _, lot := range p.lots {
		total += lot.Quantity
	}
	return total
}

// Len returns the number of lots
func (p *Pool) Len() int {
	return len(p.lots)
}

// Snapshot returns a copy of all lots in pool order
func (p *Pool) Snapshot() []Lot {
	out := make([]Lot, len(p.lots))
	copy(out, p.lots)
	return out
}
