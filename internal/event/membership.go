package event

import (
	"time"

	"github.com/google/uuid"
)

// MemberAdded registers a new community member.
// Idempotency key: command_id (UUID from admin surface).
type MemberAdded struct {
	CommandID    uuid.UUID // Idempotency key
	Address      string
	Meters       []uint64
	OwnershipBps int64 // basis points, 10_000 = 100%
	Sequence     int64 // Source sequence from upstream
	Timestamp    time.Time
}

func (m *MemberAdded) IdempotencyKey() string {
	return m.CommandID.String()
}

func (m *MemberAdded) EventType() EventType {
	return EventTypeMemberAdded
}

func (m *MemberAdded) SourceSequence() int64 {
	return m.Sequence
}

// MemberRemoved deregisters a member and releases its meters.
type MemberRemoved struct {
	CommandID uuid.UUID
	Address   string
	Sequence  int64
	Timestamp time.Time
}

func (m *MemberRemoved) IdempotencyKey() string {
	return m.CommandID.String()
}

func (m *MemberRemoved) EventType() EventType {
	return EventTypeMemberRemoved
}

func (m *MemberRemoved) SourceSequence() int64 {
	return m.Sequence
}
