package ledger

import (
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeMember AccountScope = iota
	AccountScopeGrid
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Member sub-types
	SubTypeCashCredit AccountSubType = iota

	// Grid sub-types
	SubTypeGridExport
	SubTypeGridImport
	SubTypeGridSettled
)

// AccountKey is the in-memory key for balance tracking. Balances are held
// in a single cash asset (integer cents), so no asset dimension is needed.
type AccountKey struct {
	Scope   AccountScope
	Member  string // member address for member accounts, empty for grid accounts
	SubType AccountSubType
}

// NewMemberAccountKey creates a key for a member's cash credit account
func NewMemberAccountKey(member string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeMember,
		Member:  member,
		SubType: SubTypeCashCredit,
	}
}

// NewGridAccountKey creates a key for a grid boundary account
func NewGridAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeGrid,
		SubType: subType,
	}
}

// Well-known grid accounts. Export absorbs surplus sold to the grid, import
// collects proceeds of imported energy, settled is the counter account for
// external debt settlements.
var (
	ExportAccount  = NewGridAccountKey(SubTypeGridExport)
	ImportAccount  = NewGridAccountKey(SubTypeGridImport)
	SettledAccount = NewGridAccountKey(SubTypeGridSettled)
)

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeMember:
		return fmt.Sprintf("member:%s:%s", k.Member, k.subTypeName())
	case AccountScopeGrid:
		return fmt.Sprintf("grid:%s", k.subTypeName())
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath. Used when restoring
// balances from a snapshot, where keys are stored as strings.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 3 && parts[0] == "member" && parts[2] == "cash_credit":
		return NewMemberAccountKey(parts[1]), nil
	case len(parts) == 2 && parts[0] == "grid":
		switch parts[1] {
		case "export":
			return ExportAccount, nil
		case "import":
			return ImportAccount, nil
		case "settled":
			return SettledAccount, nil
		}
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCashCredit:
		return "cash_credit"
	case SubTypeGridExport:
		return "export"
	case SubTypeGridImport:
		return "import"
	case SubTypeGridSettled:
		return "settled"
	default:
		return "unknown"
	}
}
