package state

import "fmt"

// FullOwnershipBps is the ownership total required before distribution runs
const FullOwnershipBps = int64(10_000)

// Member is a community member with an ownership share and metering devices
type Member struct {
	Address   string
	Meters    []uint64
	Ownership int64 // basis points, 10_000 = 100%
}

// Registry tracks membership, meter assignment and import tagging.
// Registration order is preserved: the last registered active member absorbs
// the division remainder during allocation.
type Registry struct {
	members     map[string]*Member
	order       []string // active member addresses in registration order
	meterOwners map[uint64]string
	totalBps    int64

	exportMeter    uint64
	exportMeterSet bool
	importSources  map[uint64]bool
}

func NewRegistry() *Registry {
	return &Registry{
		members:       make(map[string]*Member),
		meterOwners:   make(map[uint64]string),
		importSources: make(map[uint64]bool),
	}
}

// AddMember registers a member with its meters and ownership share
func (r *Registry) AddMember(address string, meters []uint64, ownershipBps int64) error {
	if address == "" {
		return fmt.Errorf("invalid member address")
	}
	if _, exists := r.members[address]; exists {
		return fmt.Errorf("member %s already exists", address)
	}
	if ownershipBps <= 0 {
		return fmt.Errorf("ownership must be greater than 0, got %d", ownershipBps)
	}
	if r.totalBps+ownershipBps > FullOwnershipBps {
		return fmt.Errorf("total ownership exceeds 100%%: %d + %d > %d",
			r.totalBps, ownershipBps, FullOwnershipBps)
	}
	for _, meter := range meters {
		if owner, taken := r.meterOwners[meter]; taken {
			return fmt.Errorf("meter %d already assigned to %s", meter, owner)
		}
		if r.exportMeterSet && meter == r.exportMeter {
			return fmt.Errorf("meter %d is the export meter", meter)
		}
	}

	member := &Member{
		Address:   address,
		Meters:    append([]uint64(nil), meters...),
		Ownership: ownershipBps,
	}
	r.members[address] = member
	r.order = append(r.order, address)
	for _, meter := range meters {
		r.meterOwners[meter] = address
	}
	r.totalBps += ownershipBps

	return nil
}

// RemoveMember deregisters a member and releases its meters
func (r *Registry) RemoveMember(address string) error {
	member, exists := r.members[address]
	if !exists {
		return fmt.Errorf("member %s does not exist", address)
	}

	for _, meter := range member.Meters {
		delete(r.meterOwners, meter)
	}
	r.totalBps -= member.Ownership
	delete(r.members, address)

	for i, addr := range r.order {
		if addr == address {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	return nil
}

// Member returns a registered member by address
func (r *Registry) Member(address string) (*Member, bool) {
	m, ok := r.members[address]
	return m, ok
}

// ActiveMembers returns all members in registration order
func (r *Registry) ActiveMembers() []*Member {
	out := make([]*Member, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.members[addr])
	}
	return out
}

// MeterOwner resolves a meter id to its owning member address
func (r *Registry) MeterOwner(meter uint64) (string, bool) {
	owner, ok := r.meterOwners[meter]
	return owner, ok
}

// OwnershipTotal returns the sum of all ownership shares in basis points
func (r *Registry) OwnershipTotal() int64 {
	return r.totalBps
}

// SetExportMeter designates the meter id whose consumption requests are
// grid exports rather than member consumption
func (r *Registry) SetExportMeter(meter uint64) error {
	if owner, taken := r.meterOwners[meter]; taken {
		return fmt.Errorf("meter %d already assigned to %s", meter, owner)
	}
	r.exportMeter = meter
	r.exportMeterSet = true
	return nil
}

// ExportMeter returns the configured export meter id
func (r *Registry) ExportMeter() (uint64, bool) {
	return r.exportMeter, r.exportMeterSet
}

// TagImportSource marks a source id as grid import regardless of the
// per-distribution flag
func (r *Registry) TagImportSource(sourceID uint64) {
	r.importSources[sourceID] = true
}

// IsImportSource reports whether a source id carries the import tag
func (r *Registry) IsImportSource(sourceID uint64) bool {
	return r.importSources[sourceID]
}

// ImportSources returns all tagged source ids (for snapshots)
func (r *Registry) ImportSources() []uint64 {
	out := make([]uint64, 0, len(r.importSources))
	for id := range r.importSources {
		out = append(out, id)
	}
	return out
}
