// Package plan builds crystal-router communication schedules: an ordered
// list of fold levels, each with partner ranks, send index lists, receive
// extents and an embedded sparse reduction operator, for both exchange
// directions.
package plan

import (
	"fmt"
	"sort"
)

// Node describes one replica of a shared boundary degree of freedom.
// Every replica of the same physical value shares abs(BaseID). The sign
// records whether the value held at this replica's rank is owner-valid; it
// flips positive as the owner value spreads through the fold.
type Node struct {
	NewID   int32 `cbor:"1,keyasint"`
	BaseID  int64 `cbor:"2,keyasint"`
	Sign    int32 `cbor:"3,keyasint"`
	Rank    int32 `cbor:"4,keyasint"`
	LocalID int32 `cbor:"5,keyasint"`
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func sortByNewID(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].NewID < nodes[j].NewID
	})
}

// sortByBaseID groups replicas of one degree of freedom together, largest
// NewID first so a group's head carries the position of its current halo
// entry (freshly arrived replicas sort last with NewID -1).
func sortByBaseID(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := abs64(nodes[i].BaseID), abs64(nodes[j].BaseID)
		if a != b {
			return a < b
		}
		return nodes[i].NewID > nodes[j].NewID
	})
}

// permuteByLocalID restores the ordering recorded in LocalID.
func permuteByLocalID(nodes []Node) {
	out := make([]Node, len(nodes))
	for _, nd := range nodes {
		out[nd.LocalID] = nd
	}
	copy(nodes, out)
}

// forEachGroup calls fn with the half-open range of every run of nodes
// sharing abs(BaseID). Nodes must already be grouped.
func forEachGroup(nodes []Node, fn func(start, end int)) {
	start := 0
	for n := range nodes {
		if n == len(nodes)-1 || abs64(nodes[n].BaseID) != abs64(nodes[n+1].BaseID) {
			fn(start, n+1)
			start = n + 1
		}
	}
}

// PropagateSign flips every replica of a group positive as soon as any
// member is positive, so ownership survives no matter which replica stays
// local. Running it again on a resolved group changes nothing.
func PropagateSign(nodes []Node) {
	forEachGroup(nodes, func(start, end int) {
		for i := start; i < end; i++ {
			if s := nodes[i].Sign; s > 0 {
				for j := start; j < end; j++ {
					nodes[j].Sign = s
				}
				break
			}
		}
	})
}

// validateShared rejects descriptor lists that cannot form a consistent
// schedule before any communication happens.
func validateShared(shared []Node, nhaloP, nhalo, size int) error {
	if nhaloP < 0 || nhalo < nhaloP {
		return fmt.Errorf("plan: invalid halo row counts: owned %d, total %d", nhaloP, nhalo)
	}
	baseOf := make(map[int32]int64, nhalo)
	for i, sn := range shared {
		if sn.NewID < 0 || int(sn.NewID) >= nhalo {
			return fmt.Errorf("plan: shared node %d: local id %d out of range [0,%d)", i, sn.NewID, nhalo)
		}
		if sn.BaseID == 0 {
			return fmt.Errorf("plan: shared node %d: missing group id", i)
		}
		if sn.Rank < 0 || int(sn.Rank) >= size {
			return fmt.Errorf("plan: shared node %d: remote rank %d out of range [0,%d)", i, sn.Rank, size)
		}
		owned := int(sn.NewID) < nhaloP
		if owned != (sn.BaseID > 0) {
			return fmt.Errorf("plan: shared node %d: group id sign disagrees with ownership of row %d", i, sn.NewID)
		}
		if prev, ok := baseOf[sn.NewID]; ok {
			if prev != abs64(sn.BaseID) {
				return fmt.Errorf("plan: shared node %d: row %d maps to group ids %d and %d", i, sn.NewID, prev, abs64(sn.BaseID))
			}
		} else {
			baseOf[sn.NewID] = abs64(sn.BaseID)
		}
	}
	if size > 1 {
		for n := 0; n < nhalo; n++ {
			if _, ok := baseOf[int32(n)]; !ok {
				return fmt.Errorf("plan: halo row %d has no shared entries", n)
			}
		}
	}
	return nil
}
