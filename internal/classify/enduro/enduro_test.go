package enduro_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"crono/internal/classify/enduro"
	"crono/internal/domain"
	id "crono/pkg/domain"
)

var (
	base    = time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	stageID = id.StageID(uuid.New())
	catA    = id.CategoryID(uuid.New())
)

func stage(laps, specials int, penalty time.Duration, firstLapCounts bool) domain.Stage {
	return domain.Stage{
		ID:             stageID,
		Modality:       id.ModalityEnduro,
		Laps:           laps,
		Specials:       specials,
		Penalty:        penalty,
		FirstLapCounts: firstLapCounts,
		Phase:          id.PhaseRunning,
	}
}

func reg(bike, order int, rider string) domain.Registration {
	return domain.Registration{StageID: stageID, Bike: bike, RiderName: rider, CategoryID: catA, Order: order}
}

// pair emits an entry/exit pair for (bike, lap, special) taking d to complete.
func pair(bike, lap, special int, at time.Time, d time.Duration) []domain.Reading {
	return []domain.Reading{
		{StageID: stageID, Bike: bike, Type: id.ReadingEntry, Special: special, Lap: lap, Timestamp: at},
		{StageID: stageID, Bike: bike, Type: id.ReadingExit, Special: special, Lap: lap, Timestamp: at.Add(d)},
	}
}

func entryOnly(bike, lap, special int, at time.Time) domain.Reading {
	return domain.Reading{StageID: stageID, Bike: bike, Type: id.ReadingEntry, Special: special, Lap: lap, Timestamp: at}
}

func TestClassifyNoShowPenalty(t *testing.T) {
	// One lap, two specials; bike completes only the first.
	st := stage(1, 2, 60*time.Second, true)
	readings := pair(7, 1, 1, base, 3*time.Minute)

	rows := enduro.Classify(st, readings, []domain.Registration{reg(7, 1, "Alda")}, false, true)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.Total != 4*time.Minute {
		t.Fatalf("total = %v, want 4m (3m resolved + 60s penalty)", r.Total)
	}
	if r.Penalized != 1 {
		t.Fatalf("penalized = %d, want 1", r.Penalized)
	}
	if r.Specials[1].Status != enduro.SpecialMissingBoth {
		t.Fatalf("special 2 status = %s, want missing_both", r.Specials[1].Status)
	}
}

func TestClassifyMissingHalfPairsCostFullPenalty(t *testing.T) {
	st := stage(1, 2, 60*time.Second, true)
	readings := []domain.Reading{
		entryOnly(7, 1, 1, base), // no exit
		{StageID: stageID, Bike: 7, Type: id.ReadingExit, Special: 2, Lap: 1, Timestamp: base.Add(5 * time.Minute)}, // no entry
	}

	rows := enduro.Classify(st, readings, []domain.Registration{reg(7, 1, "Alda")}, true, true)
	r := rows[0]
	if r.Total != 2*time.Minute {
		t.Fatalf("total = %v, want 2m (two full penalties)", r.Total)
	}
	if r.Specials[0].Status != enduro.SpecialMissingExit || r.Specials[1].Status != enduro.SpecialMissingEntry {
		t.Fatalf("statuses = %s, %s", r.Specials[0].Status, r.Specials[1].Status)
	}
	if r.Specials[0].Reason == r.Specials[1].Reason {
		t.Fatal("missing-entry and missing-exit must carry distinct reasons")
	}
}

func TestClassifyReconnaissanceLapExcluded(t *testing.T) {
	// Two laps, one special, first lap does not count.
	st := stage(2, 1, 60*time.Second, false)
	var readings []domain.Reading
	readings = append(readings, pair(7, 1, 1, base, 10*time.Minute)...) // recon, slow
	readings = append(readings, pair(7, 2, 1, base.Add(time.Hour), 3*time.Minute)...)

	rows := enduro.Classify(st, readings, []domain.Registration{reg(7, 1, "Alda")}, false, true)
	r := rows[0]
	if r.Total != 3*time.Minute {
		t.Fatalf("total = %v, want 3m (recon lap excluded)", r.Total)
	}
	if r.Counted != 1 || r.Penalized != 0 {
		t.Fatalf("counted = %d penalized = %d, want 1 and 0", r.Counted, r.Penalized)
	}
	// Recon detail still present, marked not counted.
	if len(r.Specials) != 2 || r.Specials[0].Counted || r.Specials[0].Formatted == "" {
		t.Fatalf("recon special detail wrong: %+v", r.Specials[0])
	}
}

func TestClassifyStatusLadder(t *testing.T) {
	st := stage(1, 4, 60*time.Second, true)
	var readings []domain.Reading
	// Bike 1: all four specials resolved.
	for sp := 1; sp <= 4; sp++ {
		readings = append(readings, pair(1, 1, sp, base.Add(time.Duration(sp)*10*time.Minute), 3*time.Minute)...)
	}
	// Bike 2: readings but zero completed specials.
	readings = append(readings, entryOnly(2, 1, 1, base))
	// Bike 3 registered, no readings at all.

	regs := []domain.Registration{reg(1, 1, "A"), reg(2, 2, "B"), reg(3, 3, "C")}
	rows := enduro.Classify(st, readings, regs, true, false)

	statuses := make(map[int]id.EnduroStatus)
	for _, r := range rows {
		statuses[r.Bike] = r.Status
	}
	if statuses[1] != id.EnduroClassified {
		t.Fatalf("bike 1 = %s, want CLASSIFICADO", statuses[1])
	}
	if statuses[2] != id.EnduroRetired {
		t.Fatalf("bike 2 = %s, want ABANDONO", statuses[2])
	}
	if statuses[3] != id.EnduroDidNotStart {
		t.Fatalf("bike 3 = %s, want NAO_LARGOU", statuses[3])
	}
}

func TestClassifyDisqualificationBoundary(t *testing.T) {
	// Four counted specials. Exactly half penalized keeps the rider
	// classified; one more tips into disqualification.
	st := stage(1, 4, 60*time.Second, true)

	half := append(pair(1, 1, 1, base, 3*time.Minute), pair(1, 1, 2, base.Add(10*time.Minute), 3*time.Minute)...)
	rows := enduro.Classify(st, half, []domain.Registration{reg(1, 1, "A")}, true, false)
	if rows[0].Penalized != 2 || rows[0].Status != id.EnduroClassified {
		t.Fatalf("half penalized: status = %s penalized = %d, want CLASSIFICADO / 2", rows[0].Status, rows[0].Penalized)
	}

	one := pair(1, 1, 1, base, 3*time.Minute)
	rows = enduro.Classify(st, one, []domain.Registration{reg(1, 1, "A")}, true, false)
	if rows[0].Penalized != 3 || rows[0].Status != id.EnduroDisqualified {
		t.Fatalf("over half: status = %s penalized = %d, want DESCLASSIFICADO / 3", rows[0].Status, rows[0].Penalized)
	}
}

func TestClassifyRankingAndTieBreak(t *testing.T) {
	st := stage(1, 1, 60*time.Second, true)
	var readings []domain.Reading
	readings = append(readings, pair(1, 1, 1, base, 3*time.Minute)...)
	readings = append(readings, pair(2, 1, 1, base.Add(20*time.Minute), 3*time.Minute)...) // same total
	readings = append(readings, pair(3, 1, 1, base.Add(40*time.Minute), 2*time.Minute)...)

	// Bike 2 registered before bike 1: wins the tie.
	regs := []domain.Registration{reg(2, 1, "B"), reg(1, 2, "A"), reg(3, 3, "C")}
	rows := enduro.Classify(st, readings, regs, false, false)

	wantOrder := []int{3, 2, 1}
	for i, bike := range wantOrder {
		if rows[i].Bike != bike || rows[i].Position != i+1 {
			t.Fatalf("rank %d = bike %d pos %d, want bike %d pos %d", i, rows[i].Bike, rows[i].Position, bike, i+1)
		}
	}
}

func TestClassifyNonClassifiedInclusion(t *testing.T) {
	st := stage(1, 1, 60*time.Second, true)
	readings := pair(1, 1, 1, base, 3*time.Minute)
	regs := []domain.Registration{reg(1, 1, "A"), reg(2, 2, "B")}

	rows := enduro.Classify(st, readings, regs, false, false)
	if len(rows) != 1 {
		t.Fatalf("excluded mode rows = %d, want 1", len(rows))
	}

	rows = enduro.Classify(st, readings, regs, true, false)
	if len(rows) != 2 {
		t.Fatalf("included mode rows = %d, want 2", len(rows))
	}
	if rows[1].Bike != 2 || rows[1].Position != 0 {
		t.Fatalf("non-classified row = bike %d pos %d, want bike 2 pos 0", rows[1].Bike, rows[1].Position)
	}
}

func TestClassifyBestTimeFlags(t *testing.T) {
	st := stage(1, 2, 60*time.Second, true)
	var readings []domain.Reading
	readings = append(readings, pair(1, 1, 1, base, 3*time.Minute)...)
	readings = append(readings, pair(1, 1, 2, base.Add(10*time.Minute), 5*time.Minute)...)
	readings = append(readings, pair(2, 1, 1, base.Add(time.Minute), 4*time.Minute)...)
	readings = append(readings, pair(2, 1, 2, base.Add(11*time.Minute), 4*time.Minute)...)

	regs := []domain.Registration{reg(1, 1, "A"), reg(2, 2, "B")}
	rows := enduro.Classify(st, readings, regs, false, true)

	byBike := make(map[int]enduro.Row)
	for _, r := range rows {
		byBike[r.Bike] = r
	}
	// Special 1 best: bike 1 (3m). Special 2 best: bike 2 (4m).
	if !byBike[1].Specials[0].OverallBest || byBike[2].Specials[0].OverallBest {
		t.Fatal("special 1 overall best should be bike 1")
	}
	if !byBike[2].Specials[1].OverallBest || byBike[1].Specials[1].OverallBest {
		t.Fatal("special 2 overall best should be bike 2")
	}
	// Personal bests: bike 1's special 1, bike 2's either (both 4m, first wins).
	if !byBike[1].Specials[0].PersonalBest {
		t.Fatal("bike 1 personal best should be special 1")
	}
	if !byBike[2].Specials[0].PersonalBest {
		t.Fatal("bike 2 personal best should be its first 4m special")
	}
}

func TestClassifyDeterministic(t *testing.T) {
	st := stage(2, 2, 60*time.Second, false)
	var readings []domain.Reading
	readings = append(readings, pair(1, 2, 1, base, 3*time.Minute)...)
	readings = append(readings, pair(2, 2, 1, base.Add(time.Minute), 3*time.Minute)...)
	regs := []domain.Registration{reg(1, 1, "A"), reg(2, 2, "B")}

	first := enduro.Classify(st, readings, regs, true, true)
	for i := 0; i < 10; i++ {
		again := enduro.Classify(st, readings, regs, true, true)
		if len(again) != len(first) {
			t.Fatal("row count changed between identical runs")
		}
		for j := range again {
			a, b := again[j], first[j]
			if a.Bike != b.Bike || a.Position != b.Position || a.Status != b.Status ||
				a.TotalFormatted != b.TotalFormatted || len(a.Specials) != len(b.Specials) {
				t.Fatalf("run %d row %d diverged", i, j)
			}
		}
	}
}
