package txpipe

import "sync"

import "github.com/galette-os/galette/src/defs"

// AF_* domain ids and SOCK_* socket-type ids, named per spec.md §4.6's
// "AF_INET/AF_INET6" and the classical BSD socket constants every
// caller of Registry.Build supplies.
const (
	AF_INET  = 2
	AF_INET6 = 10
)

const (
	SOCK_STREAM = 1
	SOCK_DGRAM  = 2
	SOCK_RAW    = 3
)

// IPPROTO_* protocol ids, the proto_id space Registry.protocols is
// keyed by.
const (
	IPPROTO_UDP = 17
	IPPROTO_RAW = 255
)

type domainType struct {
	domain int
	typ    int
}

// Registry is the process-wide domain/protocol table spec.md §4.6
// describes: two constructor maps plus a (domain,type)->proto default
// table consulted when a caller passes protocol 0.
type Registry struct {
	mu        sync.Mutex
	domains   map[int]PacketBuilderCtor
	protocols map[int]PacketBuilderCtor
	defaults  map[domainType]int
}

// NewRegistry returns an empty registry; callers wire in domains and
// protocols via Register*.
func NewRegistry() *Registry {
	return &Registry{
		domains:   make(map[int]PacketBuilderCtor),
		protocols: make(map[int]PacketBuilderCtor),
		defaults:  make(map[domainType]int),
	}
}

// NewDefaultRegistry wires in the AF_INET domain and the UDP/raw
// protocols this tree implements, with UDP as AF_INET's SOCK_DGRAM
// default and raw passthrough as its SOCK_RAW default.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterDomain(AF_INET, newIPv4Builder)
	r.RegisterProtocol(IPPROTO_UDP, newUDPBuilder)
	r.RegisterProtocol(IPPROTO_RAW, newRawBuilder)
	r.SetDefault(AF_INET, SOCK_DGRAM, IPPROTO_UDP)
	r.SetDefault(AF_INET, SOCK_RAW, IPPROTO_RAW)
	return r
}

func (r *Registry) RegisterDomain(id int, ctor PacketBuilderCtor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[id] = ctor
}

func (r *Registry) RegisterProtocol(id int, ctor PacketBuilderCtor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocols[id] = ctor
}

func (r *Registry) SetDefault(domain, typ, proto int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[domainType{domain, typ}] = proto
}

// Build resolves desc against the registry and constructs the full
// transmit chain: layer-4 innermost, layer-3 wrapping it, Flush
// terminating into queue. Protocol 0 is resolved via defaults before
// either constructor runs, so both see the final protocol id.
func (r *Registry) Build(desc SockDesc, sockaddr []byte, queue TxQueue) (Stage, defs.Err_t) {
	r.mu.Lock()
	dctor, ok := r.domains[desc.Domain]
	r.mu.Unlock()
	if !ok {
		return nil, -defs.EAFNOSUPPORT
	}

	if desc.Protocol == 0 {
		r.mu.Lock()
		p, ok := r.defaults[domainType{desc.Domain, desc.Type}]
		r.mu.Unlock()
		if !ok {
			return nil, -defs.EPROTONOSUPPORT
		}
		desc.Protocol = p
	}

	r.mu.Lock()
	pctor, ok := r.protocols[desc.Protocol]
	r.mu.Unlock()
	if !ok {
		return nil, -defs.EPROTONOSUPPORT
	}

	l4, err := pctor(desc, sockaddr)
	if err != 0 {
		return nil, err
	}
	l3, err := dctor(desc, sockaddr)
	if err != 0 {
		return nil, err
	}
	return &Wrap{Layer: l4, Next: &Wrap{Layer: l3, Next: Flush{Queue: queue}}}, 0
}
