package plan

import "github.com/distmesh/crystal/gather"

// buildLevelOperators assembles the two sparse reduction operators of one
// fold round. nodes must be back in pre-sort order: kept descriptors in
// [0, offsetIdx), then the first message's nrecv0 descriptors, then the
// second message's. Columns [0, nhalo) of the source are the surviving
// halo rows, columns from RecvOffset the values received this round, in
// arrival order deduplicated per degree of freedom.
func buildLevelOperators(nodes []Node, indexMap []int32, offsetIdx, nrecv0, nhalo, nhaloP, rowsN, rowsT int, lvN, lvT *Level, firstRound bool) {
	opN := &gather.Operator{Nrows: rowsN, Ncols: lvN.RecvOffset + lvN.Nrecv0 + lvN.Nrecv1}
	opT := &gather.Operator{Nrows: rowsT, Ncols: lvT.RecvOffset + lvT.Nrecv0 + lvT.Nrecv1}

	rowN := make([]int32, rowsN+1)
	rowT := make([]int32, rowsT+1)

	// Existing halo rows carry their value forward. In the forward
	// direction only the owned rows hold data before the first round.
	identN := nhalo
	if firstRound {
		identN = nhaloP
	}
	for n := 0; n < nhalo; n++ {
		rowT[n+1]++
	}
	for n := 0; n < identN; n++ {
		rowN[n+1]++
	}

	head := func(n, segStart int) bool {
		return n == segStart || abs64(nodes[n].BaseID) != abs64(nodes[n-1].BaseID)
	}

	// Count: kept descriptors feed extended rows from their old position,
	// received descriptors feed their row from the receive region.
	for n := 0; n < offsetIdx; n++ {
		if head(n, 0) {
			id := int(nodes[n].NewID)
			if id >= nhalo {
				if nodes[n].Sign > 0 {
					rowN[id+1]++
				}
				rowT[id+1]++
			}
		}
	}
	for n := offsetIdx; n < offsetIdx+nrecv0; n++ {
		if head(n, offsetIdx) {
			id := int(nodes[n].NewID)
			if nodes[n].Sign > 0 {
				rowN[id+1]++
			}
			rowT[id+1]++
		}
	}
	for n := offsetIdx + nrecv0; n < len(nodes); n++ {
		if head(n, offsetIdx+nrecv0) {
			id := int(nodes[n].NewID)
			if nodes[n].Sign > 0 {
				rowN[id+1]++
			}
			rowT[id+1]++
		}
	}

	for i := 0; i < rowsN; i++ {
		rowN[i+1] += rowN[i]
	}
	for i := 0; i < rowsT; i++ {
		rowT[i+1] += rowT[i]
	}

	colN := make([]int32, rowN[rowsN])
	colT := make([]int32, rowT[rowsT])
	curN := append([]int32(nil), rowN...)
	curT := append([]int32(nil), rowT...)

	for n := 0; n < nhalo; n++ {
		colT[curT[n]] = int32(n)
		curT[n]++
	}
	for n := 0; n < identN; n++ {
		colN[curN[n]] = int32(n)
		curN[n]++
	}

	for n := 0; n < offsetIdx; n++ {
		if head(n, 0) {
			id := int(nodes[n].NewID)
			if id >= nhalo {
				if nodes[n].Sign > 0 {
					colN[curN[id]] = indexMap[id-nhalo]
					curN[id]++
				}
				colT[curT[id]] = indexMap[id-nhalo]
				curT[id]++
			}
		}
	}

	cN := int32(lvN.RecvOffset)
	cT := int32(lvT.RecvOffset)
	for n := offsetIdx; n < offsetIdx+nrecv0; n++ {
		if head(n, offsetIdx) {
			id := int(nodes[n].NewID)
			if nodes[n].Sign > 0 {
				colN[curN[id]] = cN
				curN[id]++
				cN++
			}
			colT[curT[id]] = cT
			curT[id]++
			cT++
		}
	}
	for n := offsetIdx + nrecv0; n < len(nodes); n++ {
		if head(n, offsetIdx+nrecv0) {
			id := int(nodes[n].NewID)
			if nodes[n].Sign > 0 {
				colN[curN[id]] = cN
				curN[id]++
				cN++
			}
			colT[curT[id]] = cT
			curT[id]++
			cT++
		}
	}

	opN.RowStarts, opN.ColIds = rowN, colN
	opT.RowStarts, opT.ColIds = rowT, colT
	lvN.Op, lvT.Op = opN, opT
}
