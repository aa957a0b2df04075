package base

// Direction selects the role of a shared-node exchange. Forward broadcasts
// owner values out to every replica; Transposed reduces all replicas back
// into the owner. Both run over the same schedule topology.
type Direction int

const (
	Forward Direction = iota
	Transposed
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "transposed"
}
