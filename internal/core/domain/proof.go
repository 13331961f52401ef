package domain

// VerifiedEpoch is the decommitment record stored for each epoch of a
// batch after its proof is verified on-chain.
type VerifiedEpoch struct {
	EpochID             uint64 `db:"epoch_id"`
	BeaconHeaderRoot    string `db:"beacon_header_root"`
	BeaconStateRoot     string `db:"beacon_state_root"`
	Slot                uint64 `db:"slot"`
	CommitteeHash       string `db:"committee_hash"`
	NSigners            uint64 `db:"n_signers"`
	ExecutionHeaderHash string `db:"execution_header_hash"`
	ExecutionHeight     uint64 `db:"execution_header_height"`
	BatchIndex          int    `db:"batch_index"`
	BatchRoot           string `db:"batch_root"`
}

// VerifiedSyncCommittee records a committee hash verified on-chain.
type VerifiedSyncCommittee struct {
	CommitteeID   uint64 `db:"committee_id"`
	CommitteeHash string `db:"committee_hash"`
	Slot          uint64 `db:"slot"`
}
