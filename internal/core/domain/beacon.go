package domain

// Mainnet consensus-chain parameters.
const (
	SlotsPerEpoch         uint64 = 32
	SlotsPerSyncCommittee uint64 = 8192
	EpochsPerSyncCommittee uint64 = 256

	// TargetBatchSize caps how many epochs go into one proof batch so
	// the prover input stays within its resource limits.
	TargetBatchSize uint64 = 32
)

// HeadEvent is a newly observed consensus-chain head.
type HeadEvent struct {
	Slot      uint64 `json:"slot,string"`
	BlockRoot string `json:"block"`
}

// SlotToEpoch returns the epoch containing the slot.
func SlotToEpoch(slot uint64) uint64 {
	return slot / SlotsPerEpoch
}

// SlotToCommitteeID returns the sync committee period containing the slot.
func SlotToCommitteeID(slot uint64) uint64 {
	return slot / SlotsPerSyncCommittee
}

// CommitteeIDByEpoch returns the sync committee period containing the epoch.
func CommitteeIDByEpoch(epoch uint64) uint64 {
	return epoch / EpochsPerSyncCommittee
}

// FirstSlotOfCommittee returns the first slot of a committee period.
func FirstSlotOfCommittee(committeeID uint64) uint64 {
	return committeeID * SlotsPerSyncCommittee
}

// LastEpochOfCommittee returns the last epoch inside a committee period.
// Epoch batches never cross this boundary.
func LastEpochOfCommittee(committeeID uint64) uint64 {
	return (committeeID+1)*EpochsPerSyncCommittee - 1
}
