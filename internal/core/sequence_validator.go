package core

import "fmt"

// SequenceValidator validates source sequences per partition. Commands with
// source sequence 0 are unsequenced (admin API submissions) and skip the
// check. Not thread-safe; only accessed under the single-writer lock.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	gaps            map[string]int64
	outOfOrder      map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == 0 {
		return nil
	}

	expected := sv.expectedNextSeq[partition]
	if expected == 0 {
		// First sequenced event on this partition anchors the stream
		sv.expectedNextSeq[partition] = sourceSequence + 1
		return nil
	}

	if sourceSequence < expected {
		if isDuplicate {
			// Redelivery of an already processed event
			return nil
		}
		sv.outOfOrder[partition]++
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence > expected {
		sv.gaps[partition]++
		return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	sv.expectedNextSeq[partition] = expected + 1
	return nil
}

// GetExpectedSequence returns the next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes the expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns the expected-sequence map for snapshots
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// Gaps returns the gap count for a partition
func (sv *SequenceValidator) Gaps(partition string) int64 {
	return sv.gaps[partition]
}

// OutOfOrder returns the out-of-order count for a partition
func (sv *SequenceValidator) OutOfOrder(partition string) int64 {
	return sv.outOfOrder[partition]
}
