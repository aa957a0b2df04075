package comm

import (
	"fmt"
	"sync"
)

type matchKey struct {
	src int
	tag uint64
}

type packet struct {
	data []byte
}

type pendingRecv struct {
	req *Request
	buf []byte // nil for Irecv, destination for IrecvInto
}

// mailbox matches arriving packets against posted receives. Per (src, tag)
// pair both sides are FIFO, which preserves the non-overtaking order the
// schedule build and the level loop rely on.
type mailbox struct {
	mu      sync.Mutex
	arrived map[matchKey][]packet
	waiting map[matchKey][]pendingRecv
	err     error
}

func newMailbox() *mailbox {
	return &mailbox{
		arrived: make(map[matchKey][]packet),
		waiting: make(map[matchKey][]pendingRecv),
	}
}

func settle(p pendingRecv, data []byte) {
	if p.buf == nil {
		p.req.complete(data, nil)
		return
	}
	if len(data) != len(p.buf) {
		p.req.complete(nil, fmt.Errorf("comm: message length %d does not match receive buffer %d", len(data), len(p.buf)))
		return
	}
	copy(p.buf, data)
	p.req.complete(p.buf, nil)
}

// deliver hands an arrived message to a posted receive, or queues it.
func (b *mailbox) deliver(src int, tag uint64, data []byte) {
	k := matchKey{src: src, tag: tag}
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return
	}
	if ws := b.waiting[k]; len(ws) > 0 {
		w := ws[0]
		b.waiting[k] = ws[1:]
		b.mu.Unlock()
		settle(w, data)
		return
	}
	b.arrived[k] = append(b.arrived[k], packet{data: data})
	b.mu.Unlock()
}

// post registers a receive, matching it immediately if the message already
// arrived.
func (b *mailbox) post(src int, tag uint64, buf []byte) *Request {
	r := newRequest()
	k := matchKey{src: src, tag: tag}
	b.mu.Lock()
	if b.err != nil {
		err := b.err
		b.mu.Unlock()
		r.complete(nil, err)
		return r
	}
	if ps := b.arrived[k]; len(ps) > 0 {
		p := ps[0]
		b.arrived[k] = ps[1:]
		b.mu.Unlock()
		settle(pendingRecv{req: r, buf: buf}, p.data)
		return r
	}
	b.waiting[k] = append(b.waiting[k], pendingRecv{req: r, buf: buf})
	b.mu.Unlock()
	return r
}

// fail poisons the mailbox: every pending and future receive completes with
// err. Used when the peer connection breaks mid-collective.
func (b *mailbox) fail(err error) {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return
	}
	b.err = err
	waiting := b.waiting
	b.waiting = make(map[matchKey][]pendingRecv)
	b.mu.Unlock()
	for _, ws := range waiting {
		for _, w := range ws {
			w.req.complete(nil, err)
		}
	}
}
