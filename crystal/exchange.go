package crystal

import (
	"github.com/distmesh/crystal/base"
	"github.com/distmesh/crystal/comm"
	"github.com/distmesh/crystal/gather"
	"github.com/distmesh/crystal/log"
	"github.com/distmesh/crystal/plan"
)

// Start begins an exchange of k entries of t per halo row. When the halo
// lives on a device and the transport cannot move device memory, the halo
// buffer is copied to host staging asynchronously on the router's data
// stream, leaving the caller's stream free for unrelated work. host forces
// host buffers regardless of transport capability. Start and Finish must
// be called in pairs with identical arguments.
func (r *Router) Start(k int, t base.DataType, op base.OP, dir base.Direction, host bool) error {
	if err := r.checkArgs(k, t); err != nil {
		return err
	}
	r.allocBuffer(k * t.Size())

	n := r.nhalo
	if dir == base.Forward {
		n = r.nhaloP
	}
	if n == 0 || r.dev == nil || r.deviceAware || host {
		return nil
	}
	cur := r.dev.Stream()
	r.dev.SetStream(r.dataStream)
	defer r.dev.SetStream(cur)
	r.oHaloBuf.CopyTo(r.haloBuf, n*k*t.Size(), r.dataStream)
	return nil
}

// Finish drives the planned levels in order and blocks until the
// reconciled values are in place: in every owned and replicated row for
// the forward direction, in the owned rows for the transposed one. A
// transport failure mid-collective is fatal; a partially completed
// collective cannot be recovered.
func (r *Router) Finish(k int, t base.DataType, op base.OP, dir base.Direction, host bool) error {
	if err := r.checkArgs(k, t); err != nil {
		return err
	}
	r.allocBuffer(k * t.Size())
	nbytes := k * t.Size()

	staged := r.dev != nil && !r.deviceAware && !host
	devPath := r.dev != nil && r.deviceAware && !host
	if r.dev != nil {
		cur := r.dev.Stream()
		r.dev.SetStream(r.dataStream)
		defer r.dev.SetStream(cur)
	}

	n := r.nhalo
	if dir == base.Forward {
		n = r.nhaloP
	}
	if n > 0 && staged {
		// the staging copy issued by Start must have landed
		r.dataStream.Sync()
	}

	levels := r.trans
	if dir == base.Forward {
		levels = r.fwd
	}
	for l := range levels {
		lv := &levels[l]
		r.runLevel(lv, l, k, t, op, devPath)
	}

	n = r.nhaloP
	if dir == base.Forward {
		n = r.nhalo
	}
	if n > 0 && staged {
		r.oHaloBuf.CopyFrom(r.haloBuf, n*nbytes, r.dataStream)
		r.dataStream.Sync()
	}
	if devPath {
		r.dataStream.Sync()
	}
	return nil
}

func (r *Router) runLevel(lv *plan.Level, l, k int, t base.DataType, op base.OP, devPath bool) {
	nbytes := k * t.Size()
	haloPtr, sendPtr := r.haloBuf, r.sendBuf
	if devPath {
		haloPtr, sendPtr = r.oHaloBuf.Bytes(), r.oSendBuf.Bytes()
	}

	// receives land past the active halo rows of the pre-rotation buffer
	recvAt := lv.RecvOffset * nbytes
	var reqs []*comm.Request
	if lv.Nmsg > 0 {
		reqs = append(reqs, r.comm.IrecvInto(lv.Partner, r.tag(lv.Partner),
			haloPtr[recvAt:recvAt+lv.Nrecv0*nbytes]))
	}
	if lv.Nmsg == 2 {
		at := recvAt + lv.Nrecv0*nbytes
		reqs = append(reqs, r.comm.IrecvInto(r.rank-1, r.tag(r.rank-1),
			haloPtr[at:at+lv.Nrecv1*nbytes]))
	}

	if nsend := lv.Nsend(); nsend > 0 {
		if devPath {
			ids := lv.SendIDs
			r.dataStream.Do(func() {
				gather.Extract(nsend, k, t, ids, haloPtr, sendPtr)
			})
			// extraction must land before the transport reads sendPtr
			r.dataStream.Sync()
		} else {
			gather.Extract(nsend, k, t, lv.SendIDs, haloPtr, sendPtr)
		}
	}
	reqs = append(reqs, r.comm.Isend(lv.Partner, r.tag(r.rank), sendPtr[:lv.Nsend()*nbytes]))

	if err := comm.WaitAll(reqs...); err != nil {
		log.Exitf("crystal: rank %d: exchange failed at level %d: %v", r.rank, l, err)
	}

	// rotate: the buffer just received into becomes the reduce source
	r.recvBuf, r.haloBuf = r.buf[r.bufID], r.buf[(r.bufID+1)%2]
	if r.dev != nil {
		r.oRecvBuf, r.oHaloBuf = r.oBuf[r.bufID], r.oBuf[(r.bufID+1)%2]
	}
	r.bufID = (r.bufID + 1) % 2

	if devPath {
		dst, src := r.oHaloBuf, r.oRecvBuf
		r.dataStream.Do(func() {
			lv.Op.Reduce(dst.Bytes(), src.Bytes(), k, t, op)
		})
	} else {
		lv.Op.Reduce(r.haloBuf, r.recvBuf, k, t, op)
	}
}
