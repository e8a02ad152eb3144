// Package synthetic builds deterministic, serialized-and-decoded packet
// traces for exercising the detection core in tests: in-order data flows,
// repeated data segments, and repeated zero-payload ACKs. The traces contain
// no retransmissions; a caller models a closed-loop source by re-feeding a
// dropped packet (see RetransmissionOf) and a spoofed one by not doing so.
//
// Ported from the teacher's pcap/packet_util.go gopacket layer builders:
// rather than hand-constructing packet.Observed values, each fixture is
// serialized through real Ethernet/IPv4/TCP layers and decoded back, so a
// trace exercises the same gopacket decode path a live capture would.
package synthetic

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"

	"github.com/pennylab/penny/packet"
)

// NewFlowID returns a fresh random flow identifier, for scenario tests and
// replay tooling that need to populate a background of distinct flows
// without hand-picking IDs.
func NewFlowID() string {
	return uuid.NewString()
}

var (
	srcMAC = net.HardwareAddr{0xFF, 0xAA, 0xFA, 0xAA, 0xFF, 0xAA}
	dstMAC = net.HardwareAddr{0xBD, 0xBD, 0xBD, 0xBD, 0xBD, 0xBD}

	defaultSrc = net.IPv4(10, 0, 0, 1)
	defaultDst = net.IPv4(10, 0, 0, 2)
)

func layersFor(srcPort, dstPort int, seq, ack uint32) (*layers.Ethernet, *layers.IPv4, *layers.TCP) {
	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeIPv4, SrcMAC: srcMAC, DstMAC: dstMAC}
	ip := &layers.IPv4{Protocol: layers.IPProtocolTCP, SrcIP: defaultSrc, DstIP: defaultDst}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), Seq: seq, Ack: ack}
	tcp.SetNetworkLayerForChecksum(ip)
	return eth, ip, tcp
}

func serialize(eth *layers.Ethernet, ip *layers.IPv4, tcp *layers.TCP, payload []byte) gopacket.Packet {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	_ = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload))
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

// BuildSYN serializes and decodes a bare SYN segment for seq.
func BuildSYN(seq uint32) gopacket.Packet {
	eth, ip, tcp := layersFor(49200, 443, seq, 0)
	tcp.SYN = true
	return serialize(eth, ip, tcp, nil)
}

// BuildData serializes and decodes a data segment carrying payload at seq.
func BuildData(seq uint32, payload []byte) gopacket.Packet {
	eth, ip, tcp := layersFor(49200, 443, seq, 0)
	return serialize(eth, ip, tcp, payload)
}

// Decode extracts the fields the detection core needs from a gopacket
// Packet built by this package, reporting false if it has no TCP layer.
func Decode(pkt gopacket.Packet, flowID string, isReal bool) (packet.Observed, bool) {
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return packet.Observed{}, false
	}
	tcp := tcpLayer.(*layers.TCP)

	return packet.Observed{
		Seq:         tcp.Seq,
		Ack:         tcp.Ack,
		PayloadSize: uint32(len(tcp.Payload)),
		FlowID:      flowID,
		SYN:         tcp.SYN,
		IsReal:      isReal,
	}, true
}

// ClosedLoopTrace returns count data packets of payloadSize bytes each on
// flowID, with sequence numbers advancing by payloadSize every time — a
// flow that never needs retransmitting on its own.
func ClosedLoopTrace(flowID string, count, payloadSize int) []packet.Observed {
	out := make([]packet.Observed, 0, count)
	var seq uint32
	for i := 0; i < count; i++ {
		pkt, ok := Decode(BuildData(seq, make([]byte, payloadSize)), flowID, true)
		if ok {
			out = append(out, pkt)
		}
		seq += uint32(payloadSize)
	}
	return out
}

// RetransmissionOf returns the same packet (seq/size unchanged, so the same
// packet ID) as if the source had retransmitted it after a drop.
func RetransmissionOf(pkt packet.Observed) packet.Observed {
	return pkt
}

// DuplicateDataTrace returns count identical copies of a data packet at seq
// carrying payload, simulating an adversary repeatedly resending the same
// byte range rather than producing a genuine retransmission.
func DuplicateDataTrace(flowID string, seq uint32, payload []byte, count int) []packet.Observed {
	out := make([]packet.Observed, 0, count)
	for i := 0; i < count; i++ {
		pkt, ok := Decode(BuildData(seq, payload), flowID, false)
		if ok {
			out = append(out, pkt)
		}
	}
	return out
}

// DuplicateAckTrace returns count zero-payload ACKs on flowID, the kind of
// traffic a spoofed flow sends instead of a genuine retransmission.
func DuplicateAckTrace(flowID string, count int, ackSeq uint32) []packet.Observed {
	out := make([]packet.Observed, 0, count)
	for i := 0; i < count; i++ {
		eth, ip, tcp := layersFor(49200, 443, ackSeq, ackSeq)
		tcp.ACK = true
		pkt, ok := Decode(serialize(eth, ip, tcp, nil), flowID, false)
		if ok {
			out = append(out, pkt)
		}
	}
	return out
}
