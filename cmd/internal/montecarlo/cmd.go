// Package montecarlo implements "penny montecarlo": run the theoretical
// validator over the (packets-seen, duplicates) grid and print the
// per-outcome probabilities, the way sim.cc's command-line driver writes a
// results file per drop fraction.
package montecarlo

import (
	"github.com/spf13/cobra"

	"github.com/pennylab/penny/montecarlo"
	"github.com/pennylab/penny/printer"
	"github.com/pennylab/penny/rng"
)

var (
	runsFlag     int
	seedFlag     int64
	reportNFlag  int
	reportDFlag  int
)

var Cmd = &cobra.Command{
	Use:          "montecarlo",
	Short:        "Run the Monte-Carlo validator and report outcome probabilities.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		source := rng.NewSeeded(seedFlag)
		grid := montecarlo.Simulate(source, runsFlag)

		if reportNFlag > 0 && reportDFlag > 0 {
			printCell(grid, reportNFlag, reportDFlag)
			return nil
		}

		for d := 2; d < montecarlo.MaxDups; d++ {
			printCell(grid, reportNOrDefault(), d)
		}
		return nil
	},
}

func reportNOrDefault() int {
	if reportNFlag > 0 {
		return reportNFlag
	}
	return 100
}

func printCell(grid *montecarlo.Grid, n, d int) {
	cell := grid.At(n, d)
	maxDups, bidir, nonBidir, undecided := cell.Probabilities()
	printer.Infof("n=%d d=%d: total=%d maxDupsExceeded=%.4f closedLoop=%.4f nonBidirectional=%.4f undecided=%.4f\n",
		n, d, cell.Total, maxDups, bidir, nonBidir, undecided)
	printer.Stdout.RawOutput()
}

func init() {
	Cmd.Flags().IntVar(&runsFlag, "runs", montecarlo.DefaultRuns, "Number of Monte-Carlo trials per duplicate-count column")
	Cmd.Flags().Int64Var(&seedFlag, "seed", 1, "Seed for the Monte-Carlo random source")
	Cmd.Flags().IntVar(&reportNFlag, "n", 0, "Report only this packets-seen value; 0 reports the default sweep")
	Cmd.Flags().IntVar(&reportDFlag, "d", 0, "Report only this duplicate count; 0 reports every column")
}
