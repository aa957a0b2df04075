package comm

import (
	"fmt"
	"net"
	"sync"

	"github.com/distmesh/crystal/log"
)

type outMsg struct {
	tag  uint64
	data []byte
	req  *Request
}

// tcpSender is a simplex outgoing connection to one peer, written by a
// single goroutine so posted sends keep their order.
type tcpSender struct {
	dial  func() (net.Conn, error)
	queue chan outMsg
	err   error
	mu    sync.Mutex
}

func (s *tcpSender) run() {
	conn, err := s.dial()
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		for m := range s.queue {
			m.req.complete(nil, err)
		}
		return
	}
	defer conn.Close()
	for m := range s.queue {
		if err := writeMessage(conn, m.tag, m.data); err != nil {
			m.req.complete(nil, err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			continue
		}
		m.req.complete(nil, nil)
	}
}

// TCP is a Transport over loopback or cluster TCP, one framed simplex
// connection per peer in each direction.
type TCP struct {
	self  int
	addrs []string
	ln    net.Listener
	box   *mailbox

	mu      sync.Mutex
	senders map[int]*tcpSender
	closed  bool
}

// NewTCP wires rank self into a group whose members listen on addrs (index
// = rank). The listener must already be bound to addrs[self]; NewTCP
// starts its accept loop.
func NewTCP(self int, addrs []string, ln net.Listener) *TCP {
	t := &TCP{
		self:    self,
		addrs:   addrs,
		ln:      ln,
		box:     newMailbox(),
		senders: make(map[int]*tcpSender),
	}
	go t.acceptLoop()
	return t
}

func (t *TCP) Rank() int { return t.self }

func (t *TCP) Size() int { return len(t.addrs) }

func (t *TCP) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.box.fail(err)
			}
			return
		}
		go t.serve(conn)
	}
}

func (t *TCP) serve(conn net.Conn) {
	defer conn.Close()
	var ch connectionHeader
	if err := ch.ReadFrom(conn); err != nil {
		log.Warnf("dropping inbound connection: %v", err)
		return
	}
	src := int(ch.SrcRank)
	if src < 0 || src >= len(t.addrs) {
		log.Warnf("dropping inbound connection from unknown rank %d", src)
		return
	}
	for {
		tag, data, err := readMessage(conn)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.box.fail(fmt.Errorf("comm: connection from rank %d broke: %v", src, err))
			}
			return
		}
		t.box.deliver(src, tag, data)
	}
}

func (t *TCP) sender(dest int) *tcpSender {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.senders[dest]; ok {
		return s
	}
	addr := t.addrs[dest]
	self := t.self
	s := &tcpSender{
		dial: func() (net.Conn, error) {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return nil, err
			}
			h := connectionHeader{SrcRank: uint32(self)}
			if err := h.WriteTo(conn); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
		queue: make(chan outMsg, 64),
	}
	go s.run()
	t.senders[dest] = s
	return s
}

func (t *TCP) Isend(dest int, tag uint64, data []byte) *Request {
	r := newRequest()
	if dest < 0 || dest >= len(t.addrs) {
		r.complete(nil, fmt.Errorf("comm: invalid destination rank %d", dest))
		return r
	}
	if dest == t.self {
		bs := append([]byte(nil), data...)
		t.box.deliver(t.self, tag, bs)
		r.complete(nil, nil)
		return r
	}
	s := t.sender(dest)
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		r.complete(nil, err)
		return r
	}
	s.queue <- outMsg{tag: tag, data: data, req: r}
	return r
}

func (t *TCP) Irecv(src int, tag uint64) *Request {
	return t.box.post(src, tag, nil)
}

func (t *TCP) IrecvInto(src int, tag uint64, buf []byte) *Request {
	if buf == nil {
		buf = []byte{}
	}
	return t.box.post(src, tag, buf)
}

func (t *TCP) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	senders := t.senders
	t.senders = make(map[int]*tcpSender)
	t.mu.Unlock()
	for _, s := range senders {
		close(s.queue)
	}
	return t.ln.Close()
}
