// Package params holds Penny's detection parameters: the configuration read
// once at startup and never mutated afterward (spec.md §3's lifecycle
// rule). Defaults are registered the way the teacher's trace package
// registers its own rate-limit constants in trace/rate_limit.go's init().
package params

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Viper keys, namespaced under "penny." the way the original JSON
// configuration nests everything under a top-level "penny" object
// (penny::setConfiguration in the original source).
const (
	KeyDropProbability                     = "penny.dropProbability"
	KeyMaxDuplicates                       = "penny.maxDuplicates"
	KeyProbabilityNotObserveRetransmission = "penny.probabilityNotObserveRetransmission"
	KeyPacketDropExpirationTimeout         = "penny.timeouts.dropExpiration"
	KeyMinPacketDrops                      = "penny.execution.minPacketDrops"
	KeyMinDroppablePkts                    = "penny.execution.minDroppablePkts"
	KeyMinClosedLoopFlows                  = "penny.execution.minClosedLoopFlows"
	KeyMaxPacketDrops                      = "penny.execution.maxPacketDrops"
)

func init() {
	viper.SetDefault(KeyDropProbability, 0.05)
	viper.SetDefault(KeyMaxDuplicates, 0.15)
	viper.SetDefault(KeyProbabilityNotObserveRetransmission, 0.05)
	viper.SetDefault(KeyPacketDropExpirationTimeout, 2.0)
	viper.SetDefault(KeyMinPacketDrops, 0)
	viper.SetDefault(KeyMinDroppablePkts, 0)
	viper.SetDefault(KeyMinClosedLoopFlows, 0)
	viper.SetDefault(KeyMaxPacketDrops, 1000)
}

// Parameters is the fixed set of values read once at configuration time and
// shared, read-only, by every FlowDetector and the AggregateDetector.
type Parameters struct {
	DropProbability                     float64 `mapstructure:"dropProbability"`
	MaxDuplicates                       float64 `mapstructure:"maxDuplicates"`
	ProbabilityNotObserveRetransmission float64 `mapstructure:"probabilityNotObserveRetransmission"`
	PacketDropExpirationTimeout         float64 `mapstructure:"packetDropExpirationTimeout"`
	MinPacketDrops                      int     `mapstructure:"minPacketDrops"`
	MinDroppablePkts                    int     `mapstructure:"minDroppablePkts"`
	MinClosedLoopFlows                  int     `mapstructure:"minClosedLoopFlows"`
	MaxPacketDrops                      int     `mapstructure:"maxPacketDrops"`
}

// Load reads detection parameters from v and validates them. A validation
// failure is a configuration error: fatal, and must stop the caller before
// detection begins (spec.md §7).
func Load(v *viper.Viper) (Parameters, error) {
	p := Parameters{
		DropProbability:                     v.GetFloat64(KeyDropProbability),
		MaxDuplicates:                       v.GetFloat64(KeyMaxDuplicates),
		ProbabilityNotObserveRetransmission: v.GetFloat64(KeyProbabilityNotObserveRetransmission),
		PacketDropExpirationTimeout:         v.GetFloat64(KeyPacketDropExpirationTimeout),
		MinPacketDrops:                      v.GetInt(KeyMinPacketDrops),
		MinDroppablePkts:                    v.GetInt(KeyMinDroppablePkts),
		MinClosedLoopFlows:                  v.GetInt(KeyMinClosedLoopFlows),
		MaxPacketDrops:                      v.GetInt(KeyMaxPacketDrops),
	}
	if err := p.Validate(); err != nil {
		return Parameters{}, errors.Wrap(err, "invalid penny configuration")
	}
	return p, nil
}

// Validate checks the configuration invariants the reference implementation
// assumes but never enforces explicitly.
func (p Parameters) Validate() error {
	if p.DropProbability < 0 || p.DropProbability > 1 {
		return errors.Errorf("dropProbability must be in [0, 1], got %v", p.DropProbability)
	}
	if p.MaxDuplicates < 0 {
		return errors.Errorf("maxDuplicates must be >= 0, got %v", p.MaxDuplicates)
	}
	if p.ProbabilityNotObserveRetransmission < 0 || p.ProbabilityNotObserveRetransmission > 1 {
		return errors.Errorf("probabilityNotObserveRetransmission must be in [0, 1], got %v", p.ProbabilityNotObserveRetransmission)
	}
	if p.PacketDropExpirationTimeout <= 0 {
		return errors.Errorf("packetDropExpirationTimeout must be > 0, got %v", p.PacketDropExpirationTimeout)
	}
	if p.MinPacketDrops < 0 || p.MinDroppablePkts < 0 || p.MinClosedLoopFlows < 0 {
		return errors.New("minPacketDrops, minDroppablePkts and minClosedLoopFlows must be >= 0")
	}
	if p.MaxPacketDrops <= 0 {
		return errors.Errorf("maxPacketDrops must be > 0, got %v", p.MaxPacketDrops)
	}
	return nil
}
