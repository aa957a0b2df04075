package plan

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/distmesh/crystal/comm"
	"github.com/distmesh/crystal/log"
)

var endian = binary.LittleEndian

// buildComm wraps the transport for the build-time exchanges of one rank.
// Message tags carry the sender rank inside the router's tag namespace.
type buildComm struct {
	tp   comm.Transport
	tag  func(from int) uint64
	rank int
}

// exchangeCount sends value to the fold partner and collects the matching
// counts from up to two senders.
func (c buildComm) exchangeCount(f foldStep, value int) (recv0, recv1 int, err error) {
	var bs [4]byte
	endian.PutUint32(bs[:], uint32(value))
	reqs := []*comm.Request{c.tp.Isend(f.partner, c.tag(c.rank), bs[:])}
	var r0, r1 *comm.Request
	if f.nmsg > 0 {
		r0 = c.tp.Irecv(f.partner, c.tag(f.partner))
		reqs = append(reqs, r0)
	}
	if f.nmsg == 2 {
		r1 = c.tp.Irecv(f.rHalf-1, c.tag(f.rHalf-1))
		reqs = append(reqs, r1)
	}
	if err := comm.WaitAll(reqs...); err != nil {
		return 0, 0, err
	}
	if r0 != nil {
		data, _ := r0.Wait()
		recv0 = int(endian.Uint32(data))
	}
	if r1 != nil {
		data, _ := r1.Wait()
		recv1 = int(endian.Uint32(data))
	}
	return recv0, recv1, nil
}

// exchangeNodes hands the no-longer-local half of the descriptor list to
// the partner and appends the received descriptors to keep.
func (c buildComm) exchangeNodes(f foldStep, send, keep []Node, nrecv0, nrecv1 int) ([]Node, error) {
	payload, err := cbor.Marshal(send)
	if err != nil {
		return nil, err
	}
	reqs := []*comm.Request{c.tp.Isend(f.partner, c.tag(c.rank), payload)}
	var r0, r1 *comm.Request
	if f.nmsg > 0 {
		r0 = c.tp.Irecv(f.partner, c.tag(f.partner))
		reqs = append(reqs, r0)
	}
	if f.nmsg == 2 {
		r1 = c.tp.Irecv(f.rHalf-1, c.tag(f.rHalf-1))
		reqs = append(reqs, r1)
	}
	if err := comm.WaitAll(reqs...); err != nil {
		return nil, err
	}
	appendRecv := func(nodes []Node, r *comm.Request, want int, from int) ([]Node, error) {
		if r == nil {
			return nodes, nil
		}
		data, _ := r.Wait()
		var got []Node
		if err := cbor.Unmarshal(data, &got); err != nil {
			return nil, fmt.Errorf("plan: bad node list from rank %d: %v", from, err)
		}
		if len(got) != want {
			return nil, fmt.Errorf("plan: truncated node list from rank %d: got %d, want %d", from, len(got), want)
		}
		return append(nodes, got...), nil
	}
	if keep, err = appendRecv(keep, r0, nrecv0, f.partner); err != nil {
		return nil, err
	}
	if keep, err = appendRecv(keep, r1, nrecv1, f.rHalf-1); err != nil {
		return nil, err
	}
	return keep, nil
}

// Build constructs the forward and transposed level schedules for this
// rank's partition boundary. shared lists one descriptor per (local row,
// remote replica) edge; nhaloP counts the owned rows, nhalo all local halo
// rows. Every rank of the transport group must call Build collectively
// with the same tag namespace.
func Build(tp comm.Transport, tag func(from int) uint64, shared []Node, nhaloP, nhalo int) (*Schedules, error) {
	rank, size := tp.Rank(), tp.Size()
	if err := validateShared(shared, nhaloP, nhalo, size); err != nil {
		return nil, err
	}
	c := buildComm{tp: tp, tag: tag, rank: rank}

	// Setup is easier with local copies of the rows we hold alongside the
	// remote-replica descriptors.
	nodes := make([]Node, nhalo, nhalo+len(shared))
	for n := 0; n < nhalo; n++ {
		sign := int32(2)
		if n >= nhaloP {
			sign = -2
		}
		nodes[n] = Node{NewID: int32(n), Sign: sign, Rank: int32(rank)}
	}
	for _, sn := range shared {
		if nodes[sn.NewID].BaseID == 0 {
			if int(sn.NewID) < nhaloP {
				nodes[sn.NewID].BaseID = abs64(sn.BaseID)
			} else {
				nodes[sn.NewID].BaseID = -abs64(sn.BaseID)
			}
		}
	}
	for _, sn := range shared {
		nd := sn
		// The descriptor travels with the validity of this rank's copy.
		nd.BaseID = nodes[sn.NewID].BaseID
		nd.Sign = nodes[sn.NewID].Sign
		nodes = append(nodes, nd)
	}
	sortByNewID(nodes)

	s := &Schedules{
		Forward:    make([]Level, 0, LevelCount(size)),
		Transposed: make([]Level, 0, LevelCount(size)),
		RecvMax:    nhalo,
	}
	nhaloExtN, nhaloExtT := nhalo, nhalo

	np, offset := size, 0
	for np > 1 {
		f := newFoldStep(np, offset, rank)
		lvN := Level{Partner: f.partner, Nmsg: f.nmsg}
		lvT := Level{Partner: f.partner, Nmsg: f.nmsg}

		// Hand off the half of the descriptors whose destination leaves
		// this side of the fold.
		nlo := 0
		for _, nd := range nodes {
			if int(nd.Rank) < f.rHalf {
				nlo++
			}
		}
		nsend := nlo
		if f.isLo {
			nsend = len(nodes) - nlo
		}
		nrecv0, nrecv1, err := c.exchangeCount(f, nsend)
		if err != nil {
			return nil, err
		}

		keep := make([]Node, 0, len(nodes)-nsend+nrecv0+nrecv1)
		sendNodes := make([]Node, 0, nsend)
		for _, nd := range nodes {
			if (int(nd.Rank) < f.rHalf) == f.isLo {
				keep = append(keep, nd)
			} else {
				sendNodes = append(sendNodes, nd)
			}
		}
		offsetIdx := len(keep)

		// One value per degree of freedom crosses the wire, however many
		// replica descriptors go with it.
		for n := range sendNodes {
			if n == 0 || abs64(sendNodes[n].BaseID) != abs64(sendNodes[n-1].BaseID) {
				if sendNodes[n].Sign > 0 {
					lvN.SendIDs = append(lvN.SendIDs, sendNodes[n].NewID)
				}
				lvT.SendIDs = append(lvT.SendIDs, sendNodes[n].NewID)
			}
			sendNodes[n].NewID = -1
		}

		recvT0, recvT1, err := c.exchangeCount(f, lvT.Nsend())
		if err != nil {
			return nil, err
		}
		lvT.Nrecv0, lvT.Nrecv1 = recvT0, recvT1
		lvT.RecvOffset = nhaloExtT

		recvN0, recvN1, err := c.exchangeCount(f, lvN.Nsend())
		if err != nil {
			return nil, err
		}
		lvN.Nrecv0, lvN.Nrecv1 = recvN0, recvN1
		lvN.RecvOffset = nhaloExtN

		if ext := lvT.RecvOffset + recvT0 + recvT1; ext > s.RecvMax {
			s.RecvMax = ext
		}

		nodes, err = c.exchangeNodes(f, sendNodes, keep, nrecv0, nrecv1)
		if err != nil {
			return nil, err
		}

		// Group replicas by degree of freedom and renumber the extended
		// halo: groups already resident keep their row, new arrivals get
		// compact rows above nhalo, owner-visible ones first.
		for n := range nodes {
			nodes[n].LocalID = int32(n)
		}
		sortByBaseID(nodes)

		nExtN, nExtT := 0, 0
		forEachGroup(nodes, func(start, end int) {
			id := int(nodes[start].NewID)
			if id >= nhalo || id == -1 {
				for i := start; i < end; i++ {
					if nodes[i].Sign > 0 {
						nExtN++
						break
					}
				}
				nExtT++
			}
		})

		indexMap := make([]int32, nExtT)
		nextN := nhalo
		nextT := nhalo + nExtN
		forEachGroup(nodes, func(start, end int) {
			id := int(nodes[start].NewID)
			if id >= nhalo || id == -1 {
				positive := false
				for i := start; i < end; i++ {
					if nodes[i].Sign > 0 {
						positive = true
						break
					}
				}
				if positive {
					id = nextN
					nextN++
				} else {
					id = nextT
					nextT++
				}
				indexMap[id-nhalo] = nodes[start].NewID
			}
			for i := start; i < end; i++ {
				nodes[i].NewID = int32(id)
			}
		})
		newExtN, newExtT := nextN, nextT

		permuteByLocalID(nodes)

		buildLevelOperators(nodes, indexMap, offsetIdx, nrecv0,
			nhalo, nhaloP, newExtN, newExtT, &lvN, &lvT, np == size)

		sortByNewID(nodes)
		PropagateSign(nodes)

		nhaloExtN, nhaloExtT = newExtN, newExtT
		np, offset = f.shrink()

		s.Forward = append(s.Forward, lvN)
		s.Transposed = append(s.Transposed, lvT)
	}

	for i := range s.Transposed {
		if n := s.Transposed[i].Nsend(); n > s.SendMax {
			s.SendMax = n
		}
	}
	log.Debugf("built crystal schedule: rank %d/%d, %d levels, send max %d rows, halo max %d rows",
		rank, size, len(s.Transposed), s.SendMax, s.RecvMax)
	return s, nil
}
