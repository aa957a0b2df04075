package plan

// foldStep is one round of the recursive hypercube fold over the rank
// window [offset, offset+np). Ranks below the pivot rHalf form the lo half
// and pair with their mirror in the hi half. When np is odd the boundary
// rank rHalf-1 has no mirror: it joins the lo half and hands its hi data to
// rank rHalf, which therefore takes two messages that round.
type foldStep struct {
	np     int
	offset int
	rHalf  int
	isLo   bool

	partner int
	nmsg    int
}

func newFoldStep(np, offset, rank int) foldStep {
	f := foldStep{np: np, offset: offset}
	npHalf := (np + 1) / 2
	f.rHalf = npHalf + offset
	f.isLo = rank < f.rHalf

	f.partner = Partner(np, offset, rank)
	f.nmsg = 1
	if f.partner == rank {
		f.partner = f.rHalf
		f.nmsg = 0
	}
	if np%2 == 1 && rank == f.rHalf {
		f.nmsg = 2
	}
	return f
}

// shrink folds the window in half around the local rank.
func (f foldStep) shrink() (np, offset int) {
	npHalf := (f.np + 1) / 2
	if f.isLo {
		return npHalf, f.offset
	}
	return f.np - npHalf, f.rHalf
}

// Partner returns the mirror partner of rank within [offset, offset+np).
func Partner(np, offset, rank int) int {
	return np - 1 - (rank - offset) + offset
}

// LevelCount returns ceil(log2(np)), the number of fold rounds needed to
// shrink a window of np ranks to one. Rank 0 of any group builds exactly
// this many levels.
func LevelCount(np int) int {
	n := 0
	for np > 1 {
		np = (np + 1) / 2
		n++
	}
	return n
}
