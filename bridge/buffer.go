package bridge

import "sync"

const (
	// Pool limits to prevent memory bloat
	bufPoolMaxCap  = 1 << 20
	bufPoolInitCap = 512
)

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, bufPoolInitCap)
		return &buf
	},
}

func getBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

func putBuf(buf *[]byte) {
	if buf == nil || cap(*buf) > bufPoolMaxCap {
		return // reject oversized
	}
	*buf = (*buf)[:0]
	bufPool.Put(buf)
}

// Buffer is a caller-owned response. The caller must Release it exactly once
// when done; the bytes are recycled afterwards. Releasing nil or an already
// released Buffer is a no-op. A Buffer is not safe for concurrent use.
type Buffer struct {
	buf *[]byte
}

func newBuffer(s string) *Buffer {
	buf := getBuf()
	*buf = append(*buf, s...)
	return &Buffer{buf: buf}
}

// Bytes returns the buffer contents. The slice is only valid until Release.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.buf == nil {
		return nil
	}
	return *b.buf
}

// String returns a copy of the buffer contents.
func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Len returns the number of bytes held.
func (b *Buffer) Len() int {
	return len(b.Bytes())
}

// Release returns the memory to the pool.
func (b *Buffer) Release() {
	if b == nil || b.buf == nil {
		return
	}
	putBuf(b.buf)
	b.buf = nil
}

// FreeString releases a Buffer returned by ProcessRequest. Nil is a no-op.
func FreeString(b *Buffer) {
	b.Release()
}
