package util

import "sync"

// ChunkSize is the size of a single socket read.  Frames larger than
// this are assembled from several chunks.
const ChunkSize = 4 * 1024

// BufPool provides reusable read chunks for the frame reader, so a
// long-lived session does not allocate one per socket read.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ChunkSize)
		return &buf
	},
}

// GetBuf retrieves a chunk from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a chunk to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
