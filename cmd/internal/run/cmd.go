// Package run implements "penny run": drive the aggregate detector off a
// live interface or an offline capture file until the capture ends, then
// export the verdict. Structurally this is the teacher's apidump capture
// loop (open a source, feed a Collector pipeline until the done channel
// closes, print a summary) repurposed for Penny's packet.Observed stream
// instead of HTTP witnesses.
package run

import (
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pennylab/penny/aggregator"
	"github.com/pennylab/penny/clock"
	"github.com/pennylab/penny/cmd/internal/cliflag"
	"github.com/pennylab/penny/cmd/internal/cmderr"
	"github.com/pennylab/penny/connlifecycle"
	"github.com/pennylab/penny/params"
	"github.com/pennylab/penny/pcapsource"
	"github.com/pennylab/penny/printer"
	"github.com/pennylab/penny/result"
	"github.com/pennylab/penny/rng"
	"github.com/pennylab/penny/trace"
)

var (
	interfaceFlag       string
	offlineFileFlag     string
	bpfFilterFlag       string
	seedFlag            int64
	sampleRateFlag      float64
	includePerFlowFlag  bool
	resultsDirFlag      string
	experimentNameFlag  string
	topologyIDFlag      string
	dropProbabilityFlag float64
	maxDuplicatesFlag   float64
	probNotObserveFlag  float64
	dropTimeoutFlag     float64
	minPacketDropsFlag  int
	minDroppablePktFlag int
	minClosedLoopFlag   int
	maxPacketDropsFlag  int
)

var Cmd = &cobra.Command{
	Use:          "run",
	Short:        "Classify live or captured traffic as closed-loop or spoofed.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if interfaceFlag == "" && offlineFileFlag == "" {
			return errors.New("must specify one of --interface or --offline")
		}
		if interfaceFlag != "" && offlineFileFlag != "" {
			return errors.New("cannot specify both --interface and --offline")
		}

		// Start from whatever a config file (or params' registered
		// defaults) supplies, then let any flag the caller actually set
		// on the command line win - the same precedence cmd/root.go's
		// viper wiring gives --debug.
		p, err := params.Load(viper.GetViper())
		if err != nil {
			return cmderr.RunErr{Err: err}
		}

		flags := cmd.Flags()
		if flags.Changed("drop-probability") {
			p.DropProbability = dropProbabilityFlag
		}
		if flags.Changed("max-duplicates") || flags.Changed("max-dup-rate") {
			p.MaxDuplicates = maxDuplicatesFlag
		}
		if flags.Changed("prob-not-observe-retransmission") {
			p.ProbabilityNotObserveRetransmission = probNotObserveFlag
		}
		if flags.Changed("drop-expiration-timeout") {
			p.PacketDropExpirationTimeout = dropTimeoutFlag
		}
		if flags.Changed("min-packet-drops") {
			p.MinPacketDrops = minPacketDropsFlag
		}
		if flags.Changed("min-droppable-pkts") {
			p.MinDroppablePkts = minDroppablePktFlag
		}
		if flags.Changed("min-closed-loop-flows") {
			p.MinClosedLoopFlows = minClosedLoopFlag
		}
		if flags.Changed("max-packet-drops") {
			p.MaxPacketDrops = maxPacketDropsFlag
		}

		if err := p.Validate(); err != nil {
			return cmderr.RunErr{Err: err}
		}

		if err := runDetection(p); err != nil {
			return cmderr.RunErr{Err: err}
		}
		return nil
	},
}

func runDetection(p params.Parameters) error {
	var src *pcapsource.Source
	var err error
	if interfaceFlag != "" {
		src, err = pcapsource.OpenLive(interfaceFlag, bpfFilterFlag)
	} else {
		src, err = pcapsource.OpenOffline(offlineFileFlag)
	}
	if err != nil {
		return err
	}
	defer src.Close()

	detector := aggregator.New(p, clock.NewReal(), rng.NewSeeded(seedFlag))
	detector.Enable()

	tracker := connlifecycle.NewTracker(detector, connlifecycle.DefaultInactivityTimeout, func(flowID string) {
		printer.Debugf("flow %s has gone idle\n", flowID)
	})

	var collector trace.Collector = &trace.DetectorCollector{
		Detector: detector,
		Tracker:  tracker,
		Dropper:  pcapsource.LoggingDropActuator{}.Drop,
	}
	collector = trace.NewSamplingCollector(sampleRateFlag, collector)
	defer collector.Close()

	done := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		close(done)
	}()

	for pkt := range src.Packets(done) {
		if err := collector.Process(pkt); err != nil {
			return err
		}
		if !detector.IsRunning() {
			break
		}
	}

	printer.Infof("aggregate outcome: %s\n", detector.AggrOutcome())
	printer.Infof("final outcome: %s\n", detector.FinalOutcome())

	exp := result.Build(detector, includePerFlowFlag)
	if resultsDirFlag != "" {
		result.Persist(resultsDirFlag, experimentNameFlag, topologyIDFlag, dropProbabilityFlag, int(seedFlag), exp)
	}
	return nil
}

func init() {
	Cmd.Flags().StringVar(&interfaceFlag, "interface", "", "Network interface to capture live traffic from")
	Cmd.Flags().StringVar(&offlineFileFlag, "offline", "", "Path to a pcap file to replay instead of capturing live")
	Cmd.Flags().StringVar(&bpfFilterFlag, "bpf", "tcp", "BPF filter applied to live capture")
	Cmd.Flags().Int64Var(&seedFlag, "seed", 1, "Seed for the pseudo-random drop/duplicate decisions")
	Cmd.Flags().Float64Var(&sampleRateFlag, "sample-rate", 1.0, "Fraction of flows to feed into the detector")
	Cmd.Flags().BoolVar(&includePerFlowFlag, "per-flow", false, "Include every tracked flow's current counters in the exported result")
	Cmd.Flags().StringVar(&resultsDirFlag, "results-dir", "", "Directory to persist the exported result under; skipped if empty")
	Cmd.Flags().StringVar(&experimentNameFlag, "experiment", "default", "Experiment subfolder under --results-dir")
	Cmd.Flags().StringVar(&topologyIDFlag, "topology-id", "penny", "Topology identifier used in the result file name")

	Cmd.Flags().Float64Var(&dropProbabilityFlag, "drop-probability", 0.05, "Per-packet probability of a deliberate drop")
	cliflag.RenameFloat64Flag(Cmd.Flags(), &maxDuplicatesFlag, "max-dup-rate", "max-duplicates", 0.15, "Duplicate-packet fraction above which a flow is never closed-loop")
	Cmd.Flags().Float64Var(&probNotObserveFlag, "prob-not-observe-retransmission", 0.05, "Assumed false-negative rate for observing a genuine retransmission")
	Cmd.Flags().Float64Var(&dropTimeoutFlag, "drop-expiration-timeout", 2.0, "Seconds to wait for a retransmission before declaring a drop expired")
	Cmd.Flags().IntVar(&minPacketDropsFlag, "min-packet-drops", 0, "Minimum packet drops before a flow can reach a verdict")
	Cmd.Flags().IntVar(&minDroppablePktFlag, "min-droppable-pkts", 0, "Droppable packets after which a flow stops dropping; also the minimum before a flow can reach a verdict")
	Cmd.Flags().IntVar(&minClosedLoopFlag, "min-closed-loop-flows", 0, "In individual-flow mode, the run is declared closed-loop once more than this many flows test closed-loop")
	Cmd.Flags().IntVar(&maxPacketDropsFlag, "max-packet-drops", 1000, "Maximum aggregate packet drops across the run")
}
