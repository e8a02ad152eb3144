// Package montecarlo implements the reference statistical validator: a
// standalone simulator that estimates, for every flow length N and
// adversarial duplicate count D, the probability of each of the four
// possible hypothesis-test outcomes. It exists to pin down the same math
// the detection core applies in pennyflow.EvaluateCounters, against
// synthetic drop/duplicate traces rather than live flows.
//
// Grounded on theoretical-analysis/sim.cc: the two nested loops (over
// Monte-Carlo runs and over flow length N for a fixed duplicate count D)
// and the four-way outcome tally are ported directly. The constants below
// match the reference exactly.
package montecarlo

import (
	"math"

	"github.com/pennylab/penny/rng"
)

const (
	// MaxN bounds simulated flow length: N ranges over [1, MaxN).
	MaxN = 400
	// MaxDups bounds the adversarial duplicate count D, ranging over
	// [2, MaxDups). Set comfortably above any D actually evaluated: the
	// reference truncates results for D close to MaxDups.
	MaxDups = 50

	// DropFrac is the per-packet probability of a genuine drop.
	DropFrac = 0.05
	// ProbLegitSrc is the prior probability that a legitimate source
	// retransmits a dropped packet (so 1-ProbLegitSrc is the miss rate H1
	// is built from).
	ProbLegitSrc = 0.95
	// MaxDupThresh is the duplicate-rate threshold above which a run is
	// tallied as "duplicates-exceeded" rather than run through the
	// closed-loop/non-bidirectional test.
	MaxDupThresh = 0.15
	// H1H2Ratio is the distance from 0 and 1 that P_closed must clear to
	// be treated as decided rather than undecided.
	H1H2Ratio = 0.01

	// DefaultRuns is the reference run count per (N, D) column.
	DefaultRuns = 1_000_000
)

// Tally counts how many simulated runs landed in each outcome bucket for one
// (N, D) pair.
type Tally struct {
	Total     int
	MaxDups   int
	Bidir     int
	NonBidir  int
	Undecided int
}

// Probabilities returns each outcome's empirical probability. All four are
// zero if no runs reached this (N, D) pair.
func (t Tally) Probabilities() (maxDups, bidir, nonBidir, undecided float64) {
	if t.Total == 0 {
		return 0, 0, 0, 0
	}
	total := float64(t.Total)
	return float64(t.MaxDups) / total, float64(t.Bidir) / total, float64(t.NonBidir) / total, float64(t.Undecided) / total
}

// Grid holds the tally for every (N, D) pair simulated so far, indexed
// [N][D].
type Grid struct {
	cells [MaxN][MaxDups]Tally
}

// NewGrid returns an empty Grid.
func NewGrid() *Grid {
	return &Grid{}
}

// At returns the tally accumulated for flow length n and duplicate count d.
// Out-of-range indices return a zero Tally.
func (g *Grid) At(n, d int) Tally {
	if n < 0 || n >= MaxN || d < 0 || d >= MaxDups {
		return Tally{}
	}
	return g.cells[n][d]
}

// Simulate runs the full (N, D) sweep: for every duplicate count D in
// [2, MaxDups), it runs `runs` independent Monte-Carlo trials, each
// replaying flow lengths N from 1 up to MaxN-1 against a fresh Bernoulli
// drop draw per packet.
func Simulate(source rng.Source, runs int) *Grid {
	g := NewGrid()
	for run := 0; run < runs; run++ {
		for d := 2; d < MaxDups; d++ {
			simulateColumn(source, d, g)
		}
	}
	return g
}

// SimulateColumn runs `runs` trials for a single duplicate count d, filling
// in every (N, d) cell the sweep touches. It is the efficient way to
// reproduce a single (N, D) data point (e.g. the N=200, D=5 parity check)
// without sweeping every D.
func SimulateColumn(source rng.Source, d, runs int) *Grid {
	g := NewGrid()
	for run := 0; run < runs; run++ {
		simulateColumn(source, d, g)
	}
	return g
}

// simulateColumn replays one trial for duplicate count d across every flow
// length N, tallying each N's outcome into g.
func simulateColumn(source rng.Source, d int, g *Grid) {
	dupCount, origDupCount, dropCount, correctCount := 0, 0, 0, 0

	for n := 1; n < MaxN; n++ {
		dropped := source.Bernoulli(DropFrac)
		duplicated := n <= d

		switch {
		case dropped && duplicated:
			// A genuine retransmission of a dropped payload.
			correctCount++
			dropCount++
			origDupCount++
		case dropped:
			dropCount++
		case duplicated:
			dupCount++
			origDupCount++
		}

		if n < d {
			continue
		}

		g.cells[n][origDupCount].Total++

		denom := n - dropCount
		if denom <= 0 {
			// Degenerate: every packet so far was dropped. Never divide;
			// tally as undecided rather than guess.
			g.cells[n][origDupCount].Undecided++
			continue
		}

		if float64(dupCount)/float64(denom) > MaxDupThresh {
			g.cells[n][origDupCount].MaxDups++
			continue
		}

		h1 := math.Pow(1-ProbLegitSrc, float64(dropCount-correctCount))
		var h2 float64
		if dupCount == 0 {
			h2 = math.Pow(1.0/float64(n), float64(correctCount))
		} else {
			h2 = math.Pow(float64(dupCount)/float64(n), float64(correctCount))
		}
		pBidir := h1 / (h1 + h2)

		switch {
		case pBidir > 1-H1H2Ratio:
			g.cells[n][origDupCount].Bidir++
		case pBidir < H1H2Ratio:
			g.cells[n][origDupCount].NonBidir++
		default:
			g.cells[n][origDupCount].Undecided++
		}
	}
}
