// Package timing derives elapsed times from accepted readings. Everything
// here is a pure function over reading slices so the incremental ingest path
// and the full-recompute path cannot disagree.
package timing

import (
	"sort"
	"time"

	"crono/internal/domain"
	id "crono/pkg/domain"
)

// AnnotatePass assigns the lap number and elapsed time of a new circuit
// pass. prior must be the bike's accepted passes in timestamp order.
//
// Lap 1 measures pre-race staging, not a real lap, so it carries no elapsed
// time unless the stage has an official start timestamp to measure against.
func AnnotatePass(st domain.Stage, prior []domain.Reading, r domain.Reading) domain.Reading {
	r.Lap = len(prior) + 1
	r.Elapsed = nil
	if r.Lap == 1 {
		if st.StartedAt != nil && r.Timestamp.After(*st.StartedAt) {
			d := r.Timestamp.Sub(*st.StartedAt)
			r.Elapsed = &d
		}
		return r
	}
	d := r.Timestamp.Sub(prior[len(prior)-1].Timestamp)
	r.Elapsed = &d
	return r
}

// AnnotateExit resolves an enduro exit against the bike's entries. entries
// must be the bike's accepted entry readings. When no entry matches the
// exit's special and lap the elapsed stays nil: the entry may still arrive,
// or never will, and penalty assessment happens at classification time.
func AnnotateExit(entries []domain.Reading, r domain.Reading) domain.Reading {
	r.Elapsed = nil
	for _, e := range entries {
		if e.Special == r.Special && e.Lap == r.Lap && !e.Timestamp.After(r.Timestamp) {
			d := r.Timestamp.Sub(e.Timestamp)
			r.Elapsed = &d
			return r
		}
	}
	return r
}

// Recompute re-derives lap numbers and elapsed times for every accepted
// reading of a stage from scratch. Used after corrections; it must produce
// exactly what incremental application would have.
func Recompute(st domain.Stage, readings []domain.Reading) []domain.Reading {
	out := make([]domain.Reading, len(readings))
	copy(out, readings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	switch st.Modality {
	case id.ModalityCircuit:
		recomputeCircuit(st, out)
	case id.ModalityEnduro:
		recomputeEnduro(out)
	}
	return out
}

func recomputeCircuit(st domain.Stage, readings []domain.Reading) {
	lastPass := make(map[int]*domain.Reading)
	lapCount := make(map[int]int)

	for i := range readings {
		r := &readings[i]
		if r.Type != id.ReadingPass {
			continue
		}
		lapCount[r.Bike]++
		r.Lap = lapCount[r.Bike]
		r.Elapsed = nil
		if prev := lastPass[r.Bike]; prev != nil {
			d := r.Timestamp.Sub(prev.Timestamp)
			r.Elapsed = &d
		} else if st.StartedAt != nil && r.Timestamp.After(*st.StartedAt) {
			d := r.Timestamp.Sub(*st.StartedAt)
			r.Elapsed = &d
		}
		lastPass[r.Bike] = r
	}
}

type pairKey struct {
	bike    int
	special int
	lap     int
}

func recomputeEnduro(readings []domain.Reading) {
	entryAt := make(map[pairKey]time.Time)

	for i := range readings {
		r := &readings[i]
		key := pairKey{bike: r.Bike, special: r.Special, lap: r.Lap}
		switch r.Type {
		case id.ReadingEntry:
			r.Elapsed = nil
			if _, seen := entryAt[key]; !seen {
				entryAt[key] = r.Timestamp
			}
		case id.ReadingExit:
			r.Elapsed = nil
			if at, ok := entryAt[key]; ok && !at.After(r.Timestamp) {
				d := r.Timestamp.Sub(at)
				r.Elapsed = &d
			}
		}
	}
}
