package trace

import "github.com/pennylab/penny/packet"

// Not to be confused with coffee collector.
type TeeCollector struct {
	Dst1 Collector
	Dst2 Collector
}

func (tc TeeCollector) Process(p packet.Observed) error {
	err1 := tc.Dst1.Process(p)
	err2 := tc.Dst2.Process(p)

	if err1 != nil {
		return err1
	}
	return err2
}

func (tc TeeCollector) Close() error {
	err1 := tc.Dst1.Close()
	err2 := tc.Dst2.Close()

	if err1 != nil {
		return err1
	}
	return err2
}
