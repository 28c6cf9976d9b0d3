// Package txpipe assembles outbound socket packets as a chain of
// layer builders, generalizing circbuf.Circbuf_t's head/tail ring
// bookkeeping into an intrusive singly-linked list of header
// fragments accumulated from one end (push_front), per spec.md §4.6.
package txpipe

import "github.com/galette-os/galette/src/defs"

// SockDesc names the socket a pipeline is being built for. It is
// passed verbatim to both the domain and protocol constructors so
// each layer can see the whole picture (the AF_INET builder takes its
// header's protocol field from Protocol, for instance).
type SockDesc struct {
	Domain   int
	Type     int
	Protocol int
}

// PacketBuilder is one protocol layer. Prepend pushes that layer's
// header onto the front of bufs, seeing whatever inner layers (and
// the payload) already sit there.
type PacketBuilder interface {
	Prepend(bufs *BufList) defs.Err_t
}

// PacketBuilderCtor builds one PacketBuilder from a socket descriptor
// and the destination address blob the caller passed to connect/send.
// The same constructor type serves both the domains and protocols
// maps in a Registry.
type PacketBuilderCtor func(desc SockDesc, sockaddr []byte) (PacketBuilder, defs.Err_t)

// bufNode is one fragment in a BufList.
type bufNode struct {
	data []byte
	next *bufNode
}

// BufList is the intrusive singly-linked fragment list a pipeline
// builds up via PushFront, one push per layer, innermost (payload)
// pushed first.
type BufList struct {
	head  *bufNode
	total int
}

// PushFront adds data as the new first fragment.
func (b *BufList) PushFront(data []byte) {
	b.head = &bufNode{data: data, next: b.head}
	b.total += len(data)
}

// Len returns the combined length of every fragment currently in the
// list, the value a header layer needs to size its own length field.
func (b *BufList) Len() int { return b.total }

// Bytes flattens the list into one contiguous slice, head fragment
// first, the form the NIC transmit queue actually wants.
func (b *BufList) Bytes() []byte {
	out := make([]byte, 0, b.total)
	for n := b.head; n != nil; n = n.next {
		out = append(out, n.data...)
	}
	return out
}

// Stage is one link in the transmit pipeline: either a Wrap around an
// inner layer plus the rest of the chain, or a terminal Flush.
type Stage interface {
	Run(bufs *BufList) defs.Err_t
}

// Wrap prepends Layer's header then hands the list to Next, the
// recursive step spec.md §4.6 describes as "Wrap{Layer4,
// Wrap{Layer3, Flush}}".
type Wrap struct {
	Layer PacketBuilder
	Next  Stage
}

func (w *Wrap) Run(bufs *BufList) defs.Err_t {
	if err := w.Layer.Prepend(bufs); err != 0 {
		return err
	}
	return w.Next.Run(bufs)
}

// TxQueue is the NIC's transmit queue, the sink a built pipeline
// eventually hands its flattened frame to.
type TxQueue interface {
	Enqueue(frame []byte) defs.Err_t
}

// Flush is the pipeline's terminal stage.
type Flush struct {
	Queue TxQueue
}

func (f Flush) Run(bufs *BufList) defs.Err_t {
	return f.Queue.Enqueue(bufs.Bytes())
}

// Transmit runs a built Stage chain over payload, the entry point a
// socket's send path calls once Registry.Build has produced the
// chain for its (domain, type, protocol) triple.
func Transmit(stage Stage, payload []byte) defs.Err_t {
	bufs := &BufList{}
	bufs.PushFront(payload)
	return stage.Run(bufs)
}
