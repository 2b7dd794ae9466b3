// Package distribution maps a logical (offset, length) object I/O range
// onto an ordered sequence of per-server stripes (§4.5, C7): single-server,
// round-robin, and weighted round-robin policies. Grounded directly on
// spec §4.5's arithmetic; no distribution logic survived the
// original_source/ filter for this module, so the stripe boundary math
// below is derived straight from the spec text rather than a C source
// file.
package distribution

// Stripe is one contiguous fragment of a logical I/O range assigned to a
// single server.
type Stripe struct {
	Server     int
	LocalOff   uint64
	LocalLen   uint64
}

// Policy iterates the stripes covering a logical (offset, length) range,
// in ascending logical order, exactly once each.
type Policy interface {
	// Reset arms the iterator over [offset, offset+length).
	Reset(length, offset uint64)
	// Next returns the next stripe and true, or the zero Stripe and false
	// once the range is exhausted.
	Next() (Stripe, bool)
}

// SingleServer assigns the entire range to one fixed server.
type SingleServer struct {
	Server int

	offset, length uint64
	done           bool
}

func NewSingleServer(server int) *SingleServer { return &SingleServer{Server: server} }

func (p *SingleServer) Reset(length, offset uint64) {
	p.offset, p.length, p.done = offset, length, false
}

func (p *SingleServer) Next() (Stripe, bool) {
	if p.done || p.length == 0 {
		return Stripe{}, false
	}
	p.done = true
	return Stripe{Server: p.Server, LocalOff: p.offset, LocalLen: p.length}, true
}

// RoundRobin distributes bytes across ServerCount servers in fixed
// StripeSize chunks: the byte at logical offset o lives on server
// (o / StripeSize) mod ServerCount.
type RoundRobin struct {
	StripeSize  uint64
	ServerCount int

	cursor    uint64
	remaining uint64
}

func NewRoundRobin(stripeSize uint64, serverCount int) *RoundRobin {
	return &RoundRobin{StripeSize: stripeSize, ServerCount: serverCount}
}

func (p *RoundRobin) Reset(length, offset uint64) {
	p.cursor = offset
	p.remaining = length
}

func (p *RoundRobin) Next() (Stripe, bool) {
	if p.remaining == 0 {
		return Stripe{}, false
	}
	server := int((p.cursor / p.StripeSize) % uint64(p.ServerCount))
	localOff := p.cursor % p.StripeSize
	stripeEnd := ((p.cursor / p.StripeSize) + 1) * p.StripeSize
	localLen := stripeEnd - p.cursor
	if localLen > p.remaining {
		localLen = p.remaining
	}
	p.cursor += localLen
	p.remaining -= localLen
	return Stripe{Server: server, LocalOff: localOff, LocalLen: localLen}, true
}

// Weighted is like RoundRobin but with a per-server stripe-size vector;
// the cumulative sum of StripeSizes defines stripe boundaries modulo the
// vector's total length (the "cycle length").
type Weighted struct {
	StripeSizes []uint64

	cycleLen  uint64
	offsets   []uint64 // cumulative offset of each server's stripe within one cycle
	cursor    uint64
	remaining uint64
}

func NewWeighted(stripeSizes []uint64) *Weighted {
	w := &Weighted{StripeSizes: stripeSizes}
	w.offsets = make([]uint64, len(stripeSizes))
	var total uint64
	for i, s := range stripeSizes {
		w.offsets[i] = total
		total += s
	}
	w.cycleLen = total
	return w
}

func (p *Weighted) Reset(length, offset uint64) {
	p.cursor = offset
	p.remaining = length
}

// locate returns the server index for a position within one cycle and
// that position's offset within the server's stripe.
func (p *Weighted) locate(inCycle uint64) (server int, localOff uint64) {
	for i := len(p.offsets) - 1; i >= 0; i-- {
		if inCycle >= p.offsets[i] {
			return i, inCycle - p.offsets[i]
		}
	}
	return 0, inCycle
}

func (p *Weighted) Next() (Stripe, bool) {
	if p.remaining == 0 || p.cycleLen == 0 {
		return Stripe{}, false
	}
	cycle := p.cursor / p.cycleLen
	inCycle := p.cursor % p.cycleLen
	server, localOff := p.locate(inCycle)
	stripeSize := p.StripeSizes[server]
	stripeEnd := cycle*p.cycleLen + p.offsets[server] + stripeSize
	localLen := stripeEnd - p.cursor
	if localLen > p.remaining {
		localLen = p.remaining
	}
	p.cursor += localLen
	p.remaining -= localLen
	return Stripe{Server: server, LocalOff: localOff, LocalLen: localLen}, true
}
