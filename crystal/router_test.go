package crystal

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distmesh/crystal/base"
	"github.com/distmesh/crystal/comm"
	"github.com/distmesh/crystal/plan"
)

// dof is one shared degree of freedom of a test mesh: a global id, the
// owning rank and every rank holding a copy.
type dof struct {
	base  int64
	owner int
	ranks []int
}

type mesh []dof

func (m mesh) at(rank int) []dof {
	var owned, other []dof
	for _, d := range m {
		held := false
		for _, r := range d.ranks {
			if r == rank {
				held = true
			}
		}
		if !held {
			continue
		}
		if d.owner == rank {
			owned = append(owned, d)
		} else {
			other = append(other, d)
		}
	}
	return append(owned, other...)
}

// layout derives one rank's descriptor list and halo row counts.
func (m mesh) layout(rank int) (shared []plan.Node, nhaloP, nhalo int) {
	local := m.at(rank)
	for row, d := range local {
		if d.owner == rank {
			nhaloP++
		}
		b := d.base
		if d.owner != rank {
			b = -b
		}
		for _, p := range d.ranks {
			if p == rank {
				continue
			}
			shared = append(shared, plan.Node{NewID: int32(row), BaseID: b, Rank: int32(p)})
		}
	}
	return shared, nhaloP, len(local)
}

func runRanks(np int, fn func(rank int, tr comm.Transport)) {
	ts := comm.NewLocalGroup(np)
	var wg sync.WaitGroup
	for r := 0; r < np; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			fn(r, ts[r])
		}(r)
	}
	wg.Wait()
}

// val is the initial entry each replica contributes, chosen exact in
// float64 so sums compare with ==.
func val(rank int, base int64, j int) float64 {
	return float64(100*(rank+1)) + float64(base) + float64(j)*0.25
}

func (m mesh) reduced(d dof, op base.OP, j int) float64 {
	acc := val(d.ranks[0], d.base, j)
	for _, r := range d.ranks[1:] {
		acc = base.Apply(op, acc, val(r, d.base, j))
	}
	return acc
}

func exchange(t *testing.T, r *Router, k int, op base.OP, dir base.Direction) {
	assert.NoError(t, r.Start(k, base.F64, op, dir, true))
	assert.NoError(t, r.Finish(k, base.F64, op, dir, true))
}

func TestSingleRankIsIdentity(t *testing.T) {
	ts := comm.NewLocalGroup(1)
	r, err := New(ts[0], nil, 2, 2, Config{Name: "solo"})
	require.NoError(t, err)
	assert.Equal(t, 0, r.NumLevels())

	h := r.HostHalo(1, base.F64)
	h.AsF64()[0], h.AsF64()[1] = 3.5, -1.5
	exchange(t, r, 1, base.SUM, base.Transposed)
	got := r.HostHalo(1, base.F64).AsF64()
	assert.Equal(t, []float64{3.5, -1.5}, got)
}

func TestThreeRankTransposedSum(t *testing.T) {
	m := mesh{{base: 7, owner: 0, ranks: []int{0, 1, 2}}}
	runRanks(3, func(rank int, tr comm.Transport) {
		shared, nhaloP, nhalo := m.layout(rank)
		r, err := New(tr, shared, nhaloP, nhalo, Config{Name: "t3"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}
		r.HostHalo(1, base.F64).AsF64()[0] = val(rank, 7, 0)
		exchange(t, r, 1, base.SUM, base.Transposed)
		if rank == 0 {
			got := r.HostHalo(1, base.F64).AsF64()[0]
			assert.Equal(t, m.reduced(m[0], base.SUM, 0), got)
		}
	})
}

func TestThreeRankForwardBroadcast(t *testing.T) {
	m := mesh{{base: 7, owner: 0, ranks: []int{0, 1, 2}}}
	runRanks(3, func(rank int, tr comm.Transport) {
		shared, nhaloP, nhalo := m.layout(rank)
		r, err := New(tr, shared, nhaloP, nhalo, Config{Name: "f3"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}
		h := r.HostHalo(1, base.F64).AsF64()
		// replica rows hold junk on entry; only owned rows are read
		h[0] = 999
		if rank == 0 {
			h[0] = 5.25
		}
		exchange(t, r, 1, base.SUM, base.Forward)
		got := r.HostHalo(1, base.F64).AsF64()[0]
		assert.Equal(t, 5.25, got, "rank %d", rank)
	})
}

func fourRankMesh() mesh {
	return mesh{
		{base: 11, owner: 0, ranks: []int{0, 3}},
		{base: 22, owner: 1, ranks: []int{1, 2}},
		{base: 33, owner: 2, ranks: []int{0, 1, 2, 3}},
		{base: 44, owner: 3, ranks: []int{2, 3}},
	}
}

func TestFourRankRoundTrip(t *testing.T) {
	m := fourRankMesh()
	const k = 3
	runRanks(4, func(rank int, tr comm.Transport) {
		shared, nhaloP, nhalo := m.layout(rank)
		r, err := New(tr, shared, nhaloP, nhalo, Config{Name: "rt4"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}
		assert.Equal(t, 2, r.NumLevels(), "rank %d", rank)

		h := r.HostHalo(k, base.F64).AsF64()
		for row, d := range m.at(rank) {
			for j := 0; j < k; j++ {
				h[row*k+j] = val(rank, d.base, j)
			}
		}
		exchange(t, r, k, base.SUM, base.Transposed)

		h = r.HostHalo(k, base.F64).AsF64()
		for row, d := range m.at(rank) {
			if d.owner != rank {
				continue
			}
			for j := 0; j < k; j++ {
				assert.Equal(t, m.reduced(d, base.SUM, j), h[row*k+j],
					"rank %d row %d entry %d", rank, row, j)
			}
		}

		// scatter the reduced totals back out to every replica
		exchange(t, r, k, base.SUM, base.Forward)
		h = r.HostHalo(k, base.F64).AsF64()
		for row, d := range m.at(rank) {
			for j := 0; j < k; j++ {
				assert.Equal(t, m.reduced(d, base.SUM, j), h[row*k+j],
					"rank %d row %d entry %d", rank, row, j)
			}
		}
	})
}

func TestForwardThenTransposed(t *testing.T) {
	// broadcasting owner values out and reducing straight back has a
	// closed form: add returns owner*replicas, max returns the owner value
	m := fourRankMesh()
	replicas := func(d dof) int { return len(d.ranks) }
	runRanks(4, func(rank int, tr comm.Transport) {
		shared, nhaloP, nhalo := m.layout(rank)
		r, err := New(tr, shared, nhaloP, nhalo, Config{Name: "fwdtr"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}

		load := func() {
			h := r.HostHalo(1, base.F64).AsF64()
			for row, d := range m.at(rank) {
				h[row] = 999
				if d.owner == rank {
					h[row] = val(rank, d.base, 0)
				}
			}
		}

		load()
		exchange(t, r, 1, base.SUM, base.Forward)
		exchange(t, r, 1, base.SUM, base.Transposed)
		h := r.HostHalo(1, base.F64).AsF64()
		for row, d := range m.at(rank) {
			if d.owner != rank {
				continue
			}
			want := val(rank, d.base, 0) * float64(replicas(d))
			assert.Equal(t, want, h[row], "SUM rank %d row %d", rank, row)
		}

		load()
		exchange(t, r, 1, base.MAX, base.Forward)
		exchange(t, r, 1, base.MAX, base.Transposed)
		h = r.HostHalo(1, base.F64).AsF64()
		for row, d := range m.at(rank) {
			if d.owner != rank {
				continue
			}
			assert.Equal(t, val(rank, d.base, 0), h[row], "MAX rank %d row %d", rank, row)
		}
	})
}

func TestFourRankTransposedMin(t *testing.T) {
	m := fourRankMesh()
	runRanks(4, func(rank int, tr comm.Transport) {
		shared, nhaloP, nhalo := m.layout(rank)
		r, err := New(tr, shared, nhaloP, nhalo, Config{Name: "min4"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}
		h := r.HostHalo(1, base.F64).AsF64()
		for row, d := range m.at(rank) {
			h[row] = val(rank, d.base, 0)
		}
		exchange(t, r, 1, base.MIN, base.Transposed)
		h = r.HostHalo(1, base.F64).AsF64()
		for row, d := range m.at(rank) {
			if d.owner == rank {
				assert.Equal(t, m.reduced(d, base.MIN, 0), h[row], "rank %d row %d", rank, row)
			}
		}
	})
}

func TestBufferGrowthAndReuse(t *testing.T) {
	m := mesh{{base: 7, owner: 0, ranks: []int{0, 1, 2}}}
	runRanks(3, func(rank int, tr comm.Transport) {
		shared, nhaloP, nhalo := m.layout(rank)
		r, err := New(tr, shared, nhaloP, nhalo, Config{Name: "grow"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}
		for _, k := range []int{1, 8, 1} {
			h := r.HostHalo(k, base.F64).AsF64()
			for j := 0; j < k; j++ {
				h[j] = val(rank, 7, j)
			}
			exchange(t, r, k, base.SUM, base.Transposed)
			if rank == 0 {
				h = r.HostHalo(k, base.F64).AsF64()
				for j := 0; j < k; j++ {
					assert.Equal(t, m.reduced(m[0], base.SUM, j), h[j], "k=%d entry %d", k, j)
				}
			}
		}
	})
}

func TestIntegerExchange(t *testing.T) {
	m := mesh{{base: 3, owner: 1, ranks: []int{0, 1}}}
	runRanks(2, func(rank int, tr comm.Transport) {
		shared, nhaloP, nhalo := m.layout(rank)
		r, err := New(tr, shared, nhaloP, nhalo, Config{Name: "u32"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}
		h := r.HostHalo(1, base.U32)
		h.AsU32()[0] = uint32(10 + rank)
		assert.NoError(t, r.Start(1, base.U32, base.MAX, base.Transposed, true))
		assert.NoError(t, r.Finish(1, base.U32, base.MAX, base.Transposed, true))
		if rank == 1 {
			assert.Equal(t, uint32(11), r.HostHalo(1, base.U32).AsU32()[0])
		}
	})
}

func TestTwoRoutersShareTransport(t *testing.T) {
	m := mesh{{base: 7, owner: 0, ranks: []int{0, 1}}}
	runRanks(2, func(rank int, tr comm.Transport) {
		shared, nhaloP, nhalo := m.layout(rank)
		a, err := New(tr, shared, nhaloP, nhalo, Config{Name: "pressure"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}
		b, err := New(tr, shared, nhaloP, nhalo, Config{Name: "velocity"})
		if !assert.NoError(t, err, "rank %d", rank) {
			return
		}
		a.HostHalo(1, base.F64).AsF64()[0] = float64(rank + 1)
		b.HostHalo(1, base.F64).AsF64()[0] = float64(10 * (rank + 1))
		exchange(t, a, 1, base.SUM, base.Transposed)
		exchange(t, b, 1, base.SUM, base.Transposed)
		if rank == 0 {
			assert.Equal(t, 3.0, a.HostHalo(1, base.F64).AsF64()[0])
			assert.Equal(t, 30.0, b.HostHalo(1, base.F64).AsF64()[0])
		}
	})
}

func TestExchangeOverTCP(t *testing.T) {
	const np = 2
	lns := make([]net.Listener, np)
	addrs := make([]string, np)
	for i := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns[i] = ln
		addrs[i] = ln.Addr().String()
	}

	m := mesh{{base: 7, owner: 0, ranks: []int{0, 1}}}
	var wg sync.WaitGroup
	for rank := 0; rank < np; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			tr := comm.NewTCP(rank, addrs, lns[rank])
			defer tr.Close()
			shared, nhaloP, nhalo := m.layout(rank)
			r, err := New(tr, shared, nhaloP, nhalo, Config{Name: "tcp"})
			if !assert.NoError(t, err, "rank %d", rank) {
				return
			}
			r.HostHalo(1, base.F64).AsF64()[0] = val(rank, 7, 0)
			exchange(t, r, 1, base.SUM, base.Transposed)
			exchange(t, r, 1, base.SUM, base.Forward)
			got := r.HostHalo(1, base.F64).AsF64()[0]
			assert.Equal(t, m.reduced(m[0], base.SUM, 0), got, "rank %d", rank)
		}(rank)
	}
	wg.Wait()
}

func TestArgumentChecks(t *testing.T) {
	ts := comm.NewLocalGroup(1)
	r, err := New(ts[0], nil, 1, 1, Config{Name: "args"})
	require.NoError(t, err)
	assert.Error(t, r.Start(0, base.F64, base.SUM, base.Transposed, true))
	assert.Error(t, r.Finish(-1, base.F64, base.SUM, base.Transposed, true))
	assert.Error(t, r.Start(1, base.DataType(99), base.SUM, base.Transposed, true))
}
