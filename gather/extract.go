package gather

import "github.com/distmesh/crystal/base"

// Extract copies rows ids[0..n) of src into the first n dense rows of dst,
// k entries of t per row. This is the host side of the send-buffer assembly
// kernel; on a device it runs as a stream operation over the same buffers.
func Extract(n, k int, t base.DataType, ids []int32, src, dst []byte) {
	s := k * t.Size()
	for i := 0; i < n; i++ {
		at := int(ids[i]) * s
		copy(dst[i*s:(i+1)*s], src[at:at+s])
	}
}
