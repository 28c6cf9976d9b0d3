package txpipe

import "encoding/binary"
import "net"

import "github.com/google/gopacket"
import "github.com/google/gopacket/layers"

import "github.com/galette-os/galette/src/defs"

const udpHeaderLen = 8

// udpBuilder is the layer-4 PacketBuilder registered under
// IPPROTO_UDP, AF_INET's SOCK_DGRAM default. Its checksum covers the
// IPv4 pseudo-header plus the UDP header and payload, per the
// classical UDP-over-IPv4 checksum rule.
type udpBuilder struct {
	dst     net.IP
	dstPort uint16
}

func newUDPBuilder(desc SockDesc, sockaddr []byte) (PacketBuilder, defs.Err_t) {
	dst, port, err := decodeSockaddrIn(sockaddr)
	if err != 0 {
		return nil, err
	}
	return &udpBuilder{dst: dst, dstPort: port}, 0
}

func (u *udpBuilder) Prepend(bufs *BufList) defs.Err_t {
	length := uint16(udpHeaderLen + bufs.Len())
	hdr := &layers.UDP{
		SrcPort: layers.UDPPort(0),
		DstPort: layers.UDPPort(u.dstPort),
		Length:  length,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := hdr.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return -defs.EINVAL
	}
	raw := append([]byte{}, buf.Bytes()...)
	binary.BigEndian.PutUint16(raw[6:8], 0)

	pseudo := ipv4PseudoHeader(net.IPv4zero, u.dst, uint8(IPPROTO_UDP), int(length))
	full := append(pseudo, append(append([]byte{}, raw...), bufs.Bytes()...)...)
	sum := checksum(full)
	if sum == 0 {
		sum = 0xFFFF // UDP reserves an all-zero checksum to mean "none sent"
	}
	binary.BigEndian.PutUint16(raw[6:8], sum)
	bufs.PushFront(raw)
	return 0
}

// ipv4PseudoHeader builds the 12-byte pseudo-header UDP (and TCP)
// checksums fold in: source/dest address, zero, protocol, segment
// length.
func ipv4PseudoHeader(src, dst net.IP, proto uint8, segLen int) []byte {
	b := make([]byte, 12)
	copy(b[0:4], src.To4())
	copy(b[4:8], dst.To4())
	b[9] = proto
	binary.BigEndian.PutUint16(b[10:12], uint16(segLen))
	return b
}

// rawBuilder is the layer-4 PacketBuilder registered under
// IPPROTO_RAW: it passes the payload through untouched, for
// SOCK_RAW sockets that build their own layer-4 framing in userspace.
type rawBuilder struct{}

func newRawBuilder(desc SockDesc, sockaddr []byte) (PacketBuilder, defs.Err_t) {
	return rawBuilder{}, 0
}

func (rawBuilder) Prepend(bufs *BufList) defs.Err_t { return 0 }
