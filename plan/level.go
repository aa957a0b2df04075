package plan

import "github.com/distmesh/crystal/gather"

// Level is one fold round of a built schedule. SendIDs index the halo
// buffer rows extracted into the send buffer; received rows land at
// RecvOffset in the inactive halo buffer; Op reduces the pre-round halo
// content plus the received rows into the post-round halo layout.
type Level struct {
	Partner int
	Nmsg    int

	SendIDs []int32

	Nrecv0     int
	Nrecv1     int
	RecvOffset int

	Op *gather.Operator
}

// Nsend returns the number of rows this level extracts and sends.
func (l *Level) Nsend() int {
	return len(l.SendIDs)
}

// Schedules holds the two level sequences of one topology plus the scratch
// ceilings needed to size exchange buffers. The transposed sequence
// dominates both ceilings.
type Schedules struct {
	Forward    []Level
	Transposed []Level

	// SendMax is the widest per-level send footprint, in rows.
	SendMax int
	// RecvMax is the widest cumulative halo footprint, in rows.
	RecvMax int
}

// NumLevels returns the number of rounds the local rank participates in.
func (s *Schedules) NumLevels() int {
	return len(s.Transposed)
}
