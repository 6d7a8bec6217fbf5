// Package circuit builds the live lap-based leaderboard. Classify is a pure
// function over a snapshot of a stage's accepted readings: identical inputs
// always produce identical rows, including gap strings and flags, so it is
// safe to run concurrently and to cache the output.
package circuit

import (
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/timefmt"
)

// Lap is one completed or staging lap of a rider.
type Lap struct {
	Number     int            `json:"number"`
	Elapsed    *time.Duration `json:"-"`
	Cumulative *time.Duration `json:"-"`

	Formatted           string `json:"elapsed,omitempty"`
	CumulativeFormatted string `json:"cumulative,omitempty"`
}

// Row is one leaderboard entry.
type Row struct {
	Position   int           `json:"position,omitempty"`
	Bike       int           `json:"bike"`
	Rider      string        `json:"rider,omitempty"`
	CategoryID id.CategoryID `json:"categoryId,omitempty"`
	Category   string        `json:"category,omitempty"`
	Registered bool          `json:"registered"`

	Laps           int           `json:"laps"`
	Total          time.Duration `json:"-"`
	TotalFormatted string        `json:"total,omitempty"`

	BestLap          *time.Duration `json:"-"`
	BestLapFormatted string         `json:"bestLap,omitempty"`
	OverallBestLap   bool           `json:"overallBestLap,omitempty"`
	CategoryBestLap  bool           `json:"categoryBestLap,omitempty"`

	Gap      string `json:"gap,omitempty"`
	GapAhead string `json:"gapAhead,omitempty"`

	Status id.RiderStatus `json:"status"`

	Detail []Lap `json:"detail,omitempty"`
}

// Classify ranks every bike that is registered for the stage or has at least
// one accepted pass. readings must already exclude discarded rows; order does
// not matter, the engine sorts its own copy.
func Classify(st domain.Stage, readings []domain.Reading, regs []domain.Registration, includeDetail bool) []Row {
	passes := make([]domain.Reading, 0, len(readings))
	for _, r := range readings {
		if r.Type == id.ReadingPass {
			passes = append(passes, r)
		}
	}
	sort.SliceStable(passes, func(i, j int) bool {
		return passes[i].Timestamp.Before(passes[j].Timestamp)
	})

	byBike := make(map[int][]domain.Reading)
	for _, p := range passes {
		byBike[p.Bike] = append(byBike[p.Bike], p)
	}

	// Per-bike computations are independent; fan them out and keep the
	// ranking merge single-threaded. No shared state is touched inside the
	// goroutines, so the result stays deterministic.
	rows := seedRows(st, regs, byBike)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range rows {
		g.Go(func() error {
			buildLaps(&rows[i], byBike[rows[i].Bike], includeDetail)
			rows[i].Status = riderStatus(st, byBike[rows[i].Bike])
			return nil
		})
	}
	_ = g.Wait()

	rank(rows)
	applyGaps(rows)
	flagBestLaps(rows)
	return rows
}

// seedRows creates one row per registration plus one per unregistered bike
// that produced readings, in a deterministic pre-rank order.
func seedRows(st domain.Stage, regs []domain.Registration, byBike map[int][]domain.Reading) []Row {
	rows := make([]Row, 0, len(regs))
	seen := make(map[int]bool, len(regs))

	ordered := make([]domain.Registration, len(regs))
	copy(ordered, regs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

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
		rows = append(rows, Row{Bike: bike})
	}
	return rows
}

func buildLaps(row *Row, passes []domain.Reading, includeDetail bool) {
	var cum time.Duration
	for i, p := range passes {
		lap := Lap{Number: i + 1}
		if p.Elapsed != nil {
			e := *p.Elapsed
			lap.Elapsed = &e
			lap.Formatted = timefmt.Elapsed(e)
			cum += e
			c := cum
			lap.Cumulative = &c
			lap.CumulativeFormatted = timefmt.Elapsed(c)

			row.Laps++
			if i > 0 && (row.BestLap == nil || e < *row.BestLap) {
				b := e
				row.BestLap = &b
			}
		}
		if includeDetail {
			row.Detail = append(row.Detail, lap)
		}
	}
	row.Total = cum
	if row.Laps > 0 {
		row.TotalFormatted = timefmt.Elapsed(cum)
	}
	if row.BestLap != nil {
		row.BestLapFormatted = timefmt.Elapsed(*row.BestLap)
	}
}

func riderStatus(st domain.Stage, passes []domain.Reading) id.RiderStatus {
	if len(passes) == 0 {
		if st.Phase == id.PhaseNotStarted {
			return id.RiderNotStarted
		}
		return id.RiderAwaiting
	}
	if st.Phase == id.PhaseFinished {
		return id.RiderFinished
	}
	if st.FlagAt != nil && passes[len(passes)-1].Timestamp.After(*st.FlagAt) {
		return id.RiderFinished
	}
	return id.RiderRunning
}

// rank orders rows by: has a completed lap, lap count, cumulative time, then
// personal best lap as the final tie-break. Positions go only to riders with
// at least one completed lap.
func rank(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if (a.Laps > 0) != (b.Laps > 0) {
			return a.Laps > 0
		}
		if a.Laps != b.Laps {
			return a.Laps > b.Laps
		}
		if a.Total != b.Total {
			return a.Total < b.Total
		}
		switch {
		case a.BestLap == nil || b.BestLap == nil:
			return false
		default:
			return *a.BestLap < *b.BestLap
		}
	})
	pos := 0
	for i := range rows {
		if rows[i].Laps == 0 {
			continue
		}
		pos++
		rows[i].Position = pos
	}
}

func applyGaps(rows []Row) {
	if len(rows) == 0 || rows[0].Laps == 0 {
		return
	}
	leader := rows[0]
	prev := leader
	for i := 1; i < len(rows); i++ {
		r := &rows[i]
		if r.Laps == 0 {
			break
		}
		if r.Laps == leader.Laps {
			r.Gap = timefmt.Gap(r.Total - leader.Total)
			if prev.Laps == r.Laps {
				r.GapAhead = timefmt.Gap(r.Total - prev.Total)
			}
		} else {
			r.Gap = timefmt.LapsDown(leader.Laps - r.Laps)
		}
		prev = *r
	}
}

// flagBestLaps marks the single fastest non-staging lap overall and per
// category. The first row in rank order wins an exact tie, which is stable
// because ranking itself is deterministic.
func flagBestLaps(rows []Row) {
	overall := -1
	byCategory := make(map[id.CategoryID]int)
	for i := range rows {
		if rows[i].BestLap == nil {
			continue
		}
		if overall < 0 || *rows[i].BestLap < *rows[overall].BestLap {
			overall = i
		}
		cat := rows[i].CategoryID
		if cat.IsNil() {
			continue
		}
		if best, ok := byCategory[cat]; !ok || *rows[i].BestLap < *rows[best].BestLap {
			byCategory[cat] = i
		}
	}
	if overall >= 0 {
		rows[overall].OverallBestLap = true
	}
	for _, i := range byCategory {
		rows[i].CategoryBestLap = true
	}
}
