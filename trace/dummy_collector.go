package trace

import "github.com/pennylab/penny/packet"

type dummyCollector struct{}

var _ Collector = (*dummyCollector)(nil)

func (*dummyCollector) Process(packet.Observed) error {
	return nil
}

func (*dummyCollector) Close() error {
	return nil
}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}
