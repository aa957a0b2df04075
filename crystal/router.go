// Package crystal reconciles values replicated across partition boundaries
// of a distributed mesh. A Router folds the process set in half, round by
// round, so a full broadcast or reduction over every shared degree of
// freedom costs ceil(log2(NP)) message exchanges instead of an all-to-all.
package crystal

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/distmesh/crystal/base"
	"github.com/distmesh/crystal/comm"
	"github.com/distmesh/crystal/device"
	"github.com/distmesh/crystal/plan"
)

// rankBits is the part of the tag space reserved for the sender rank; the
// rest namespaces the router so several can share a transport.
const rankBits = 20

// Config carries the optional pieces of a Router.
type Config struct {
	// Name namespaces this router's message tags on the transport.
	Name string
	// Device holds the halo values when the caller computes on a device.
	Device *device.Device
	// DeviceAware marks the transport able to move device memory
	// directly; otherwise exchanges stage through host buffers.
	DeviceAware bool
}

// Router executes the staged exchange over schedules built once per
// topology. Buffers are grown to the widest request seen and reused; only
// one exchange may be in flight on a Router at a time.
type Router struct {
	comm    comm.Transport
	rank    int
	size    int
	tagBase uint64

	dev         *device.Device
	dataStream  *device.Stream
	deviceAware bool

	nhaloP int
	nhalo  int

	fwd      []plan.Level
	trans    []plan.Level
	nsendMax int
	nrecvMax int

	// scratch, sized in bytes per halo row and never shrunk
	rowBytes int
	sendBuf  []byte
	buf      [2][]byte
	haloBuf  []byte
	recvBuf  []byte
	bufID    int

	oSendBuf *device.Memory
	oBuf     [2]*device.Memory
	oHaloBuf *device.Memory
	oRecvBuf *device.Memory
}

// New builds the communication schedules for this rank's boundary and
// allocates first scratch buffers. Every rank of the transport group must
// call New collectively with the same name. shared lists one descriptor
// per (local row, remote replica) edge; nhaloP counts the owned halo rows,
// nhalo all local halo rows.
func New(tp comm.Transport, shared []plan.Node, nhaloP, nhalo int, cfg Config) (*Router, error) {
	if tp.Size() > 1<<rankBits {
		return nil, fmt.Errorf("crystal: group size %d exceeds tag space", tp.Size())
	}
	r := &Router{
		comm:    tp,
		rank:    tp.Rank(),
		size:    tp.Size(),
		tagBase: xxhash.Sum64String("crystal/"+cfg.Name) &^ (1<<rankBits - 1),
		nhaloP:  nhaloP,
		nhalo:   nhalo,
	}
	if cfg.Device != nil {
		r.dev = cfg.Device
		r.dataStream = cfg.Device.CreateStream()
		r.deviceAware = cfg.DeviceAware
	}
	s, err := plan.Build(tp, r.tag, shared, nhaloP, nhalo)
	if err != nil {
		return nil, err
	}
	r.fwd, r.trans = s.Forward, s.Transposed
	r.nsendMax, r.nrecvMax = s.SendMax, s.RecvMax

	r.allocBuffer(base.F64.Size())
	return r, nil
}

func (r *Router) tag(from int) uint64 {
	return r.tagBase | uint64(from)
}

// NumLevels returns the number of fold rounds this rank participates in.
func (r *Router) NumLevels() int {
	return len(r.trans)
}

// Nhalo returns the count of local halo rows, NhaloOwned the owned subset.
func (r *Router) Nhalo() int      { return r.nhalo }
func (r *Router) NhaloOwned() int { return r.nhaloP }

// allocBuffer grows the scratch buffers to rowBytes per halo row. Existing
// contents are dropped; callers load the halo buffer after sizing it.
func (r *Router) allocBuffer(rowBytes int) {
	if rowBytes <= r.rowBytes {
		return
	}
	r.sendBuf = make([]byte, r.nsendMax*rowBytes)
	r.buf[0] = make([]byte, r.nrecvMax*rowBytes)
	r.buf[1] = make([]byte, r.nrecvMax*rowBytes)
	r.haloBuf, r.recvBuf = r.buf[0], r.buf[1]
	r.bufID = 0
	if r.dev != nil {
		r.oSendBuf = r.dev.Malloc(r.nsendMax * rowBytes)
		r.oBuf[0] = r.dev.Malloc(r.nrecvMax * rowBytes)
		r.oBuf[1] = r.dev.Malloc(r.nrecvMax * rowBytes)
		r.oHaloBuf, r.oRecvBuf = r.oBuf[0], r.oBuf[1]
	}
	r.rowBytes = rowBytes
}

func (r *Router) checkArgs(k int, t base.DataType) error {
	if k <= 0 {
		return fmt.Errorf("crystal: invalid field width %d", k)
	}
	if t.Size() == 0 {
		return fmt.Errorf("crystal: unknown element type %d", int(t))
	}
	return nil
}

// HostHalo sizes the scratch for k entries of t per row and returns the
// host halo buffer as a vector of nhalo rows. The view is invalidated by
// the next exchange: fetch it again after Finish to read results.
func (r *Router) HostHalo(k int, t base.DataType) *base.Vector {
	r.allocBuffer(k * t.Size())
	return &base.Vector{
		Data:  r.haloBuf[:r.nhalo*k*t.Size()],
		Count: r.nhalo * k,
		Type:  t,
	}
}

// DeviceHalo is HostHalo for the device-resident halo buffer.
func (r *Router) DeviceHalo(k int, t base.DataType) *device.Memory {
	r.allocBuffer(k * t.Size())
	return r.oHaloBuf
}
