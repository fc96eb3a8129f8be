package packet

import "sync"

// bufPool recycles scratch buffers used when framing outbound
// packets, generalizing the teacher's fixed-size BytePool to the
// variable frame sizes Blaze packets actually have.
var bufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}
