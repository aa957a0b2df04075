// Package comm provides the point-to-point transport consumed by the
// crystal router: non-blocking sends and receives keyed by (peer, tag),
// completed by blocking waits. Messages between one (src, dst, tag) triple
// are delivered in the order they were posted.
package comm

// Transport is one endpoint of a fixed group of cooperating processes,
// with ranks 0 <= rank < Size().
type Transport interface {
	Rank() int
	Size() int

	// Isend posts a non-blocking send of data to dest. The buffer must not
	// be modified until the request completes. Zero-length messages are
	// legal and still perform a rendezvous with the matching receive.
	Isend(dest int, tag uint64, data []byte) *Request

	// Irecv posts a non-blocking receive from src, accepting any message
	// length. The received payload is returned by Request.Wait.
	Irecv(src int, tag uint64) *Request

	// IrecvInto posts a non-blocking receive from src directly into buf.
	// The sender's message length must equal len(buf); a truncated or
	// oversized message fails the request.
	IrecvInto(src int, tag uint64, buf []byte) *Request

	Close() error
}

// Request is the handle of one posted send or receive.
type Request struct {
	done chan struct{}
	data []byte
	err  error
}

func newRequest() *Request {
	return &Request{done: make(chan struct{})}
}

func (r *Request) complete(data []byte, err error) {
	r.data = data
	r.err = err
	close(r.done)
}

// Wait blocks until the operation completes. For receives, the returned
// slice holds the payload.
func (r *Request) Wait() ([]byte, error) {
	<-r.done
	return r.data, r.err
}

// WaitAll blocks until every request completes and returns the first error
// observed.
func WaitAll(reqs ...*Request) error {
	var first error
	for _, r := range reqs {
		if r == nil {
			continue
		}
		if _, err := r.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
