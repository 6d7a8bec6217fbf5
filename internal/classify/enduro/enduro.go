// Package enduro builds the special-stage leaderboard: per (bike, lap,
// special) entry/exit resolution, no-show penalties, reconnaissance-lap
// exclusion and the status ladder. Classify is a pure function over a
// snapshot of accepted readings.
package enduro

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/timefmt"
)

// SpecialStatus describes how one (lap, special) slot resolved for a rider.
type SpecialStatus string

const (
	SpecialResolved     SpecialStatus = "resolved"
	SpecialMissingBoth  SpecialStatus = "missing_both"
	SpecialMissingEntry SpecialStatus = "missing_entry"
	SpecialMissingExit  SpecialStatus = "missing_exit"
)

// Special is one resolved or penalized segment of a rider's run. All four
// missing variants cost the same full stage penalty; only the reason differs.
type Special struct {
	Lap     int           `json:"lap"`
	Special int           `json:"special"`
	Status  SpecialStatus `json:"status"`

	Elapsed   *time.Duration `json:"-"`
	Formatted string         `json:"elapsed,omitempty"`
	Reason    string         `json:"reason,omitempty"`

	// Counted is false on reconnaissance-lap segments: shown in detail,
	// excluded from totals and from the penalty count.
	Counted bool `json:"counted"`

	PersonalBest bool `json:"personalBest,omitempty"`
	OverallBest  bool `json:"overallBest,omitempty"`
	CategoryBest bool `json:"categoryBest,omitempty"`
}

// Row is one rider's classification.
type Row struct {
	Position   int           `json:"position,omitempty"`
	Bike       int           `json:"bike"`
	Rider      string        `json:"rider,omitempty"`
	CategoryID id.CategoryID `json:"categoryId,omitempty"`
	Category   string        `json:"category,omitempty"`
	Registered bool          `json:"registered"`

	Status id.EnduroStatus `json:"status"`

	Total          time.Duration `json:"-"`
	TotalFormatted string        `json:"total,omitempty"`

	// Resolved, Penalized and Counted cover counted segments only.
	Resolved  int `json:"resolved"`
	Penalized int `json:"penalized"`
	Counted   int `json:"counted"`

	Specials []Special `json:"specials,omitempty"`

	regOrder int
	readings int
}

// Classify ranks the stage. Classified riders are ordered by ascending total
// with registration order as the stable tie-break; non-classified riders are
// appended with position 0 only when includeNonClassified is set.
func Classify(st domain.Stage, readings []domain.Reading, regs []domain.Registration, includeNonClassified, includeDetail bool) []Row {
	byBike := splitByBike(readings)
	rows := seedRows(regs, byBike)

	// Rider resolutions are independent; fan out and merge single-threaded.
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range rows {
		g.Go(func() error {
			resolveRider(st, &rows[i], byBike[rows[i].Bike])
			return nil
		})
	}
	_ = g.Wait()

	flagBestTimes(rows)

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		ac, bc := a.Status == id.EnduroClassified, b.Status == id.EnduroClassified
		if ac != bc {
			return ac
		}
		if !ac {
			return a.regOrder < b.regOrder
		}
		if a.Total != b.Total {
			return a.Total < b.Total
		}
		return a.regOrder < b.regOrder
	})

	out := make([]Row, 0, len(rows))
	pos := 0
	for _, r := range rows {
		if r.Status == id.EnduroClassified {
			pos++
			r.Position = pos
		} else if !includeNonClassified {
			continue
		}
		if !includeDetail {
			r.Specials = nil
		}
		out = append(out, r)
	}
	return out
}

func splitByBike(readings []domain.Reading) map[int][]domain.Reading {
	byBike := make(map[int][]domain.Reading)
	for _, r := range readings {
		byBike[r.Bike] = append(byBike[r.Bike], r)
	}
	return byBike
}

func seedRows(regs []domain.Registration, byBike map[int][]domain.Reading) []Row {
	ordered := make([]domain.Registration, len(regs))
	copy(ordered, regs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	rows := make([]Row, 0, len(ordered))
	seen := make(map[int]bool, len(ordered))
	for _, reg := range ordered {
		if seen[reg.Bike] {
			continue
		}
		seen[reg.Bike] = true
		rows = append(rows, Row{
			Bike:       reg.Bike,
			Rider:      reg.RiderName,
			CategoryID: reg.CategoryID,
			Category:   reg.Category,
			Registered: true,
			regOrder:   reg.Order,
		})
	}

	extra := make([]int, 0)
	for bike := range byBike {
		if !seen[bike] {
			extra = append(extra, bike)
		}
	}
	sort.Ints(extra)
	for _, bike := range extra {
		// Unregistered bikes sort after every registered rider.
		rows = append(rows, Row{Bike: bike, regOrder: len(ordered) + bike})
	}
	return rows
}

// resolveRider walks every (lap, special) slot of the stage, pairing entry
// and exit readings, charging the full penalty for any missing half, and
// derives the rider's status.
func resolveRider(st domain.Stage, row *Row, readings []domain.Reading) {
	row.readings = len(readings)

	type slot struct{ entry, exit *domain.Reading }
	slots := make(map[[2]int]*slot)
	for i := range readings {
		r := &readings[i]
		key := [2]int{r.Lap, r.Special}
		s := slots[key]
		if s == nil {
			s = &slot{}
			slots[key] = s
		}
		switch r.Type {
		case id.ReadingEntry:
			if s.entry == nil {
				s.entry = r
			}
		case id.ReadingExit:
			if s.exit == nil {
				s.exit = r
			}
		}
	}

	for lap := 1; lap <= st.Laps; lap++ {
		counted := st.FirstLapCounts || lap > 1
		for special := 1; special <= st.Specials; special++ {
			sp := Special{Lap: lap, Special: special, Counted: counted}
			s := slots[[2]int{lap, special}]

			switch {
			case s != nil && s.entry != nil && s.exit != nil && !s.entry.Timestamp.After(s.exit.Timestamp):
				e := s.exit.Timestamp.Sub(s.entry.Timestamp)
				sp.Status = SpecialResolved
				sp.Elapsed = &e
				sp.Formatted = timefmt.Elapsed(e)
			case s != nil && s.exit != nil:
				sp.Status = SpecialMissingEntry
				sp.Reason = fmt.Sprintf("lap %d special %d: exit recorded without entry", lap, special)
			case s != nil && s.entry != nil:
				sp.Status = SpecialMissingExit
				sp.Reason = fmt.Sprintf("lap %d special %d: entry recorded without exit", lap, special)
			default:
				sp.Status = SpecialMissingBoth
				sp.Reason = fmt.Sprintf("lap %d special %d: no readings", lap, special)
			}

			if counted {
				row.Counted++
				if sp.Status == SpecialResolved {
					row.Resolved++
					row.Total += *sp.Elapsed
				} else {
					row.Penalized++
					row.Total += st.Penalty
				}
			}
			row.Specials = append(row.Specials, sp)
		}
	}

	row.Status = deriveStatus(row)
	if row.Status == id.EnduroClassified || row.Status == id.EnduroDisqualified {
		row.TotalFormatted = timefmt.Elapsed(row.Total)
	}
}

// deriveStatus applies the ladder in rulebook order: did-not-start, retired,
// then the strict greater-than-half disqualification boundary.
func deriveStatus(row *Row) id.EnduroStatus {
	switch {
	case row.readings == 0:
		return id.EnduroDidNotStart
	case row.Resolved == 0:
		return id.EnduroRetired
	case 2*row.Penalized > row.Counted:
		return id.EnduroDisqualified
	default:
		return id.EnduroClassified
	}
}

// flagBestTimes ranks resolved times independently per (lap, special) across
// all riders for the overall and category flags, and marks each rider's own
// fastest segment.
func flagBestTimes(rows []Row) {
	type ref struct{ row, sp int }
	overall := make(map[[2]int]ref)
	byCat := make(map[[2]int]map[id.CategoryID]ref)

	for i := range rows {
		personal := -1
		for j := range rows[i].Specials {
			sp := &rows[i].Specials[j]
			if sp.Status != SpecialResolved {
				continue
			}
			if personal < 0 || *sp.Elapsed < *rows[i].Specials[personal].Elapsed {
				personal = j
			}
			key := [2]int{sp.Lap, sp.Special}
			if best, ok := overall[key]; !ok || *sp.Elapsed < *rows[best.row].Specials[best.sp].Elapsed {
				overall[key] = ref{row: i, sp: j}
			}
			cat := rows[i].CategoryID
			if cat.IsNil() {
				continue
			}
			if byCat[key] == nil {
				byCat[key] = make(map[id.CategoryID]ref)
			}
			if best, ok := byCat[key][cat]; !ok || *sp.Elapsed < *rows[best.row].Specials[best.sp].Elapsed {
				byCat[key][cat] = ref{row: i, sp: j}
			}
		}
		if personal >= 0 {
			rows[i].Specials[personal].PersonalBest = true
		}
	}

	for _, r := range overall {
		rows[r.row].Specials[r.sp].OverallBest = true
	}
	for _, cats := range byCat {
		for _, r := range cats {
			rows[r.row].Specials[r.sp].CategoryBest = true
		}
	}
}
