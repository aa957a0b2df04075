package plan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distmesh/crystal/comm"
)

func rankTag(from int) uint64 { return uint64(from) }

// buildGroup runs Build collectively on an in-process group and returns the
// per-rank schedules.
func buildGroup(t *testing.T, np int, shared func(rank int) ([]Node, int, int)) []*Schedules {
	ts := comm.NewLocalGroup(np)
	out := make([]*Schedules, np)
	errs := make([]error, np)
	var wg sync.WaitGroup
	for r := 0; r < np; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			sh, nhaloP, nhalo := shared(r)
			out[r], errs[r] = Build(ts[r], rankTag, sh, nhaloP, nhalo)
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
	return out
}

func TestBuildSingleRank(t *testing.T) {
	s := buildGroup(t, 1, func(int) ([]Node, int, int) {
		return nil, 2, 2
	})[0]
	assert.Equal(t, 0, s.NumLevels())
	assert.Equal(t, 0, s.SendMax)
	assert.Equal(t, 2, s.RecvMax)
}

func TestBuildPairSchedule(t *testing.T) {
	// one value shared by both ranks, owned by rank 0
	out := buildGroup(t, 2, func(rank int) ([]Node, int, int) {
		if rank == 0 {
			return []Node{{NewID: 0, BaseID: 7, Rank: 1}}, 1, 1
		}
		return []Node{{NewID: 0, BaseID: -7, Rank: 0}}, 0, 1
	})

	for rank, s := range out {
		require.Equal(t, 1, s.NumLevels(), "rank %d", rank)
		lvN, lvT := s.Forward[0], s.Transposed[0]
		assert.Equal(t, 1-rank, lvN.Partner)
		assert.Equal(t, 1, lvN.Nmsg)
		assert.Equal(t, 1, lvT.Nsend(), "rank %d sends its copy", rank)
		assert.Equal(t, 1, lvT.Nrecv0)
		assert.Equal(t, 1, lvT.RecvOffset)
		assert.Equal(t, 2, lvT.Op.Ncols)
		assert.Equal(t, 1, lvT.Op.Nrows)
	}

	// only the owner's copy travels forward
	assert.Equal(t, 1, out[0].Forward[0].Nsend())
	assert.Equal(t, 0, out[0].Forward[0].Nrecv0)
	assert.Equal(t, 0, out[1].Forward[0].Nsend())
	assert.Equal(t, 1, out[1].Forward[0].Nrecv0)
}

func TestBuildOddGroupShape(t *testing.T) {
	// one value replicated on all three ranks, owned by rank 0
	peers := func(rank int) []Node {
		var sh []Node
		for p := 0; p < 3; p++ {
			if p == rank {
				continue
			}
			b := int64(7)
			if rank != 0 {
				b = -7
			}
			sh = append(sh, Node{NewID: 0, BaseID: b, Rank: int32(p)})
		}
		return sh
	}
	out := buildGroup(t, 3, func(rank int) ([]Node, int, int) {
		if rank == 0 {
			return peers(0), 1, 1
		}
		return peers(rank), 0, 1
	})

	// rank 0 folds every round; the hi half collapses to a single rank
	// after one
	assert.Equal(t, LevelCount(3), out[0].NumLevels())
	assert.Equal(t, 2, out[1].NumLevels())
	assert.Equal(t, 1, out[2].NumLevels())

	// middle rank only sends in the odd round; the pivot takes two messages
	assert.Equal(t, 2, out[1].Transposed[0].Partner)
	assert.Equal(t, 0, out[1].Transposed[0].Nmsg)
	assert.Equal(t, 0, out[2].Transposed[0].Partner)
	assert.Equal(t, 2, out[2].Transposed[0].Nmsg)

	for rank, s := range out {
		for l := range s.Transposed {
			for _, lv := range []Level{s.Forward[l], s.Transposed[l]} {
				require.NotNil(t, lv.Op, "rank %d level %d", rank, l)
				assert.Equal(t, lv.RecvOffset+lv.Nrecv0+lv.Nrecv1, lv.Op.Ncols)
				assert.GreaterOrEqual(t, s.RecvMax, lv.Op.Nrows)
			}
			assert.GreaterOrEqual(t, s.SendMax, s.Transposed[l].Nsend())
		}
	}
}

func TestBuildRejectsBadDescriptors(t *testing.T) {
	ts := comm.NewLocalGroup(1)
	_, err := Build(ts[0], rankTag, []Node{{NewID: 5, BaseID: 1, Rank: 0}}, 1, 1)
	assert.Error(t, err)
}
