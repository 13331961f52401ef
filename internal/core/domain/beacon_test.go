package domain

import "testing"

func TestSlotMath(t *testing.T) {
	if got := SlotToEpoch(0); got != 0 {
		t.Errorf("SlotToEpoch(0) = %d", got)
	}
	if got := SlotToEpoch(31); got != 0 {
		t.Errorf("SlotToEpoch(31) = %d", got)
	}
	if got := SlotToEpoch(32); got != 1 {
		t.Errorf("SlotToEpoch(32) = %d", got)
	}
	if got := SlotToCommitteeID(8191); got != 0 {
		t.Errorf("SlotToCommitteeID(8191) = %d", got)
	}
	if got := SlotToCommitteeID(8192); got != 1 {
		t.Errorf("SlotToCommitteeID(8192) = %d", got)
	}
}

func TestCommitteeBoundaries(t *testing.T) {
	// Committee period 1 spans slots [8192, 16383] = epochs [256, 511].
	if got := FirstSlotOfCommittee(1); got != 8192 {
		t.Errorf("FirstSlotOfCommittee(1) = %d", got)
	}
	if got := LastEpochOfCommittee(1); got != 511 {
		t.Errorf("LastEpochOfCommittee(1) = %d", got)
	}
	if got := CommitteeIDByEpoch(255); got != 0 {
		t.Errorf("CommitteeIDByEpoch(255) = %d", got)
	}
	if got := CommitteeIDByEpoch(256); got != 1 {
		t.Errorf("CommitteeIDByEpoch(256) = %d", got)
	}

	// Slot and epoch views of a committee period must agree.
	for _, id := range []uint64{0, 1, 7, 100} {
		slot := FirstSlotOfCommittee(id)
		if got := SlotToCommitteeID(slot); got != id {
			t.Errorf("SlotToCommitteeID(FirstSlotOfCommittee(%d)) = %d", id, got)
		}
		if got := CommitteeIDByEpoch(LastEpochOfCommittee(id)); got != id {
			t.Errorf("CommitteeIDByEpoch(LastEpochOfCommittee(%d)) = %d", id, got)
		}
		if got := CommitteeIDByEpoch(LastEpochOfCommittee(id) + 1); got != id+1 {
			t.Errorf("epoch past boundary of %d maps to committee %d", id, got)
		}
	}
}
