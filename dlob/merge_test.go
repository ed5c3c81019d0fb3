package dlob

import (
	"testing"

	"dlobflow/models"
)

func TestMergeL2FoldsEqualPrices(t *testing.T) {
	vamm := models.L2Snapshot{
		Bids: []models.L2Level{models.SingleSourceLevel(100_000_000, 5_000_000_000, models.SourceVamm)},
		Asks: []models.L2Level{},
	}
	dlobSide := models.L2Snapshot{
		Bids: []models.L2Level{models.SingleSourceLevel(100_000_000, 7_000_000_000, models.SourceDlob)},
		Asks: []models.L2Level{},
	}

	merged := MergeL2([]models.L2Snapshot{vamm, dlobSide})
	if len(merged.Bids) != 1 {
		t.Fatalf("expected 1 bid level, got %d", len(merged.Bids))
	}
	lvl := merged.Bids[0]
	if lvl.Size != 12_000_000_000 {
		t.Errorf("expected size 12e9, got %d", lvl.Size)
	}
	if lvl.Sources[models.SourceVamm] != 5_000_000_000 || lvl.Sources[models.SourceDlob] != 7_000_000_000 {
		t.Errorf("unexpected source map: %v", lvl.Sources)
	}
}

func TestMergeL2RecomputesSizeFromSources(t *testing.T) {
	// Size field disagrees with the source map; the map wins.
	snap := models.L2Snapshot{
		Bids: []models.L2Level{{
			Price:   50_000_000,
			Size:    999,
			Sources: map[string]int64{models.SourceDlob: 3_000_000_000},
		}},
	}
	merged := MergeL2([]models.L2Snapshot{snap})
	if merged.Bids[0].Size != 3_000_000_000 {
		t.Errorf("size should come from the source map, got %d", merged.Bids[0].Size)
	}
}

func TestMergeL2SortsSides(t *testing.T) {
	a := models.L2Snapshot{
		Bids: []models.L2Level{
			models.SingleSourceLevel(10, 1, models.SourceDlob),
			models.SingleSourceLevel(30, 1, models.SourceDlob),
		},
		Asks: []models.L2Level{
			models.SingleSourceLevel(50, 1, models.SourceDlob),
		},
	}
	b := models.L2Snapshot{
		Bids: []models.L2Level{models.SingleSourceLevel(20, 1, models.SourceVamm)},
		Asks: []models.L2Level{
			models.SingleSourceLevel(40, 1, models.SourceVamm),
			models.SingleSourceLevel(60, 1, models.SourceVamm),
		},
	}

	merged := MergeL2([]models.L2Snapshot{a, b})
	wantBids := []int64{30, 20, 10}
	for i, want := range wantBids {
		if merged.Bids[i].Price != want {
			t.Errorf("bid %d: expected price %d, got %d", i, want, merged.Bids[i].Price)
		}
	}
	wantAsks := []int64{40, 50, 60}
	for i, want := range wantAsks {
		if merged.Asks[i].Price != want {
			t.Errorf("ask %d: expected price %d, got %d", i, want, merged.Asks[i].Price)
		}
	}
}

func TestMergeL2OrderIndependent(t *testing.T) {
	snaps := []models.L2Snapshot{
		{Bids: []models.L2Level{models.SingleSourceLevel(100, 5, models.SourceVamm)}, Slot: 10},
		{Bids: []models.L2Level{models.SingleSourceLevel(100, 7, models.SourceDlob)}, Slot: 12},
		{Bids: []models.L2Level{models.SingleSourceLevel(90, 2, models.SourcePhoenix)}, Slot: 11},
	}
	reversed := []models.L2Snapshot{snaps[2], snaps[1], snaps[0]}

	forward := MergeL2(snaps)
	backward := MergeL2(reversed)

	if forward.Slot != 12 || backward.Slot != 12 {
		t.Errorf("expected max slot 12, got %d and %d", forward.Slot, backward.Slot)
	}
	if len(forward.Bids) != len(backward.Bids) {
		t.Fatalf("level counts differ: %d vs %d", len(forward.Bids), len(backward.Bids))
	}
	for i := range forward.Bids {
		f, b := forward.Bids[i], backward.Bids[i]
		if f.Price != b.Price || f.Size != b.Size {
			t.Errorf("level %d differs: %+v vs %+v", i, f, b)
		}
	}
}

func TestMergeL2Empty(t *testing.T) {
	merged := MergeL2(nil)
	if len(merged.Bids) != 0 || len(merged.Asks) != 0 || merged.Slot != 0 {
		t.Errorf("expected empty result, got %+v", merged)
	}
}
