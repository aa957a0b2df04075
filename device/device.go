// Package device models the execution-context layer the exchange stages
// through: device memory blocks, in-order asynchronous streams, and
// host<->device copies enqueued on a stream. The backing store is host
// memory, but every ordering and completion rule matches a real device
// runtime, so the staging discipline of the exchange is exercised for
// real.
package device

import "sync"

// Memory is a block of device-resident storage.
type Memory struct {
	data []byte
}

func (m *Memory) Size() int {
	if m == nil {
		return 0
	}
	return len(m.data)
}

// Bytes exposes the raw storage for transports that can move device memory
// directly and for kernels dispatched on a stream.
func (m *Memory) Bytes() []byte {
	return m.data
}

// CopyTo enqueues an asynchronous device-to-host copy of n bytes on s.
func (m *Memory) CopyTo(dst []byte, n int, s *Stream) {
	s.Do(func() {
		copy(dst[:n], m.data[:n])
	})
}

// CopyFrom enqueues an asynchronous host-to-device copy of n bytes on s.
func (m *Memory) CopyFrom(src []byte, n int, s *Stream) {
	s.Do(func() {
		copy(m.data[:n], src[:n])
	})
}

// Stream executes enqueued operations one at a time, in order.
type Stream struct {
	mu     sync.Mutex
	cv     *sync.Cond
	queue  []func()
	busy   bool
	closed bool
}

func newStream() *Stream {
	s := &Stream{}
	s.cv = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *Stream) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cv.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		f := s.queue[0]
		s.queue = s.queue[1:]
		s.busy = true
		s.mu.Unlock()

		f()

		s.mu.Lock()
		s.busy = false
		s.cv.Broadcast()
		s.mu.Unlock()
	}
}

// Do enqueues f without waiting for it to run.
func (s *Stream) Do(f func()) {
	s.mu.Lock()
	s.queue = append(s.queue, f)
	s.cv.Broadcast()
	s.mu.Unlock()
}

// Sync blocks until every operation enqueued so far has finished.
func (s *Stream) Sync() {
	s.mu.Lock()
	for len(s.queue) > 0 || s.busy {
		s.cv.Wait()
	}
	s.mu.Unlock()
}

func (s *Stream) close() {
	s.mu.Lock()
	s.closed = true
	s.cv.Broadcast()
	s.mu.Unlock()
}

// Device owns a set of streams and tracks the current one, the way a
// device runtime scopes kernel launches and async copies to an active
// execution context.
type Device struct {
	mu      sync.Mutex
	current *Stream
	streams []*Stream
}

func New() *Device {
	d := &Device{}
	d.current = d.CreateStream()
	return d
}

func (d *Device) CreateStream() *Stream {
	s := newStream()
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s
}

// Stream returns the current execution context.
func (d *Device) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Device) SetStream(s *Stream) {
	d.mu.Lock()
	d.current = s
	d.mu.Unlock()
}

// Malloc allocates a device memory block of n bytes.
func (d *Device) Malloc(n int) *Memory {
	return &Memory{data: make([]byte, n)}
}

// Finish blocks until the current stream drains.
func (d *Device) Finish() {
	d.Stream().Sync()
}

// Close stops all stream workers. Pending operations still run.
func (d *Device) Close() {
	d.mu.Lock()
	streams := d.streams
	d.streams = nil
	d.mu.Unlock()
	for _, s := range streams {
		s.close()
	}
}
