package txpipe

import "encoding/binary"
import "net"

import "github.com/google/gopacket"
import "github.com/google/gopacket/layers"

import "github.com/galette-os/galette/src/defs"

const ipv4HeaderLen = 20

// ipv4Builder is the AF_INET layer-3 PacketBuilder, wired into
// NewDefaultRegistry under AF_INET. Header assembly is delegated to
// gopacket/layers.IPv4's SerializeTo for field layout; the checksum
// itself is filled in separately by this package's own checksum
// (gopacket's ComputeChecksums path assumes a full SerializeLayers
// call across every layer at once, which this pipeline's one-layer-
// at-a-time Prepend doesn't give it).
type ipv4Builder struct {
	dst   net.IP
	proto layers.IPProtocol
}

func newIPv4Builder(desc SockDesc, sockaddr []byte) (PacketBuilder, defs.Err_t) {
	dst, _, err := decodeSockaddrIn(sockaddr)
	if err != 0 {
		return nil, err
	}
	return &ipv4Builder{dst: dst, proto: layers.IPProtocol(desc.Protocol)}, 0
}

// Prepend assembles an IPv4 header over whatever bufs already holds
// (the layer-4 header plus payload), per spec.md §4.6: version 4,
// IHL 5 (no options), total_length = hdr + payload, TTL 128, source
// 0.0.0.0 (this tree never tracks a bound local address), checksum
// per RFC 1071 over the header with the checksum field zeroed.
func (b *ipv4Builder) Prepend(bufs *BufList) defs.Err_t {
	hdr := &layers.IPv4{
		Version:  4,
		IHL:      5,
		Length:   uint16(ipv4HeaderLen + bufs.Len()),
		TTL:      128,
		Protocol: b.proto,
		SrcIP:    net.IPv4zero,
		DstIP:    b.dst,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := hdr.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return -defs.EINVAL
	}
	raw := append([]byte{}, buf.Bytes()...)
	binary.BigEndian.PutUint16(raw[10:12], 0)
	binary.BigEndian.PutUint16(raw[10:12], checksum(raw))
	bufs.PushFront(raw)
	return 0
}

// decodeSockaddrIn reads a BSD sockaddr_in blob: 2 bytes family, 2
// bytes port (network order), 4 bytes address.
func decodeSockaddrIn(sockaddr []byte) (net.IP, uint16, defs.Err_t) {
	if len(sockaddr) < 8 {
		return nil, 0, -defs.EINVAL
	}
	port := binary.BigEndian.Uint16(sockaddr[2:4])
	ip := net.IPv4(sockaddr[4], sockaddr[5], sockaddr[6], sockaddr[7])
	return ip, port, 0
}
